package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/router"
	"github.com/2389/coven-chat/internal/store"
)

// inboundEnvelope is the named-event shape every client->server frame
// carries on the real-time connection.
type inboundEnvelope struct {
	Event string `json:"event"`
	Data json.RawMessage `json:"data"`
}

type chatSendPayload struct {
	ConversationID string `json:"conversationId"`
	Text string `json:"text"`
	ClientTempID string `json:"clientTempId,omitempty"`
	AgentKey string `json:"agentKey,omitempty"`
	Attachment *store.Attachment `json:"attachment,omitempty"`
}

type chatMarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}

type userTypingPayload struct {
	ConversationID string `json:"conversationId"`
	Typing bool `json:"typing"`
}

type agentPanelPayload struct {
	AgentKey string `json:"agentKey"`
}

// handleWebSocket upgrades the connection and authenticates it from a
// token query parameter, since the browser WebSocket API cannot attach
// an Authorization header to the upgrade request. Once attached, it runs
// a reader loop dispatching named client events and a writer loop
// draining the presence connection's outbound event queue, returning
// when either side closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := s.Verifier.Verify(token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}
	exists, err := s.Store.UserExists(r.Context(), userID)
	if err != nil || !exists {
		http.Error(w, "unknown user", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	conn := s.Presence.Attach(userID)
	defer s.Presence.Detach(conn)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.wsWriteLoop(ctx, c, conn)
	s.wsReadLoop(ctx, c, conn, userID)

	_ = c.Close(websocket.StatusNormalClosure, "done")
}

func (s *Server) wsWriteLoop(ctx context.Context, c *websocket.Conn, conn *presence.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-conn.Events:
			if !ok {
				return
			}
			if err := c.Write(ctx, websocket.MessageText, event.Payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsReadLoop(ctx context.Context, c *websocket.Conn, conn *presence.Connection, userID string) {
	authCtx := &auth.AuthContext{UserID: userID}
	ctx = auth.WithAuth(ctx, authCtx)

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.Logger.Warn("discarding malformed websocket frame", "user_id", userID, "err", err)
			continue
		}
		s.dispatchInboundEvent(ctx, conn, userID, env)
	}
}

func (s *Server) dispatchInboundEvent(ctx context.Context, conn *presence.Connection, userID string, env inboundEnvelope) {
	switch env.Event {
	case "chat:send":
		var p chatSendPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		s.Presence.JoinConversation(conn, p.ConversationID)
		s.Router.HandleInbound(ctx, router.InboundInput{
			ConversationID: p.ConversationID,
			AuthorUserID: userID,
			Text: p.Text,
			Kind: store.MessageKindText,
			ClientTempID: p.ClientTempID,
			PanelAgentKey: p.AgentKey,
			Attachment: p.Attachment,
		})

	case "chat:mark-read":
		var p chatMarkReadPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		ids, err := s.Store.MarkConversationRead(ctx, p.ConversationID, userID, time.Now())
		if err != nil {
			s.Logger.Warn("marking conversation read over websocket failed", "conversation_id", p.ConversationID, "err", err)
			return
		}
		for _, messageID := range ids {
			s.Presence.BroadcastDelivery(ctx, p.ConversationID, deliveryEvent(messageID, store.DeliveryRead))
		}

	case "user:typing":
		var p userTypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == "" {
			return
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return
		}
		s.Presence.BroadcastPresence(ctx, userID, presence.Event{Name: "user:typing", Payload: payload})

	case "agent:open":
		var p agentPanelPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.AgentKey == "" {
			return
		}
		s.Presence.JoinAgentPanel(conn, p.AgentKey)

	case "agent:close":
		var p agentPanelPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.AgentKey == "" {
			return
		}
		s.Presence.Leave(conn, presence.AgentPanelRoom(userID, p.AgentKey))

	default:
		s.Logger.Debug("ignoring unknown websocket event", "event", env.Event, "user_id", userID)
	}
}
