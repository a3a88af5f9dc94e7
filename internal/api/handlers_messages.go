package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/store"
)

// limitParam parses a bounded "limit" query parameter, clamping to
// [1, max] and defaulting when absent or malformed.
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func toMessageView(m store.Message) messageView {
	v := messageView{
		ID: m.ID,
		Author: m.Author,
		ConversationID: m.ConversationID,
		Timestamp: m.Timestamp,
		Kind: m.Kind,
		Text: m.Text,
		DeliveryStatus: m.DeliveryStatus,
		AgentKey: m.AgentKey,
	}
	if m.Attachment != nil {
		v.Attachment = &attachmentView{
			Bucket: m.Attachment.Bucket,
			ObjectKey: m.Attachment.ObjectKey,
			OriginalFilename: m.Attachment.OriginalFilename,
			MimeType: m.Attachment.MimeType,
		}
	}
	return v
}

func (s *Server) handleGlobalMessages(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 200)
	msgs, err := s.Store.GetGlobalRecentMessages(r.Context(), limit)
	if err != nil {
		s.Logger.Error("listing global recent messages failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageView(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	peers, err := s.Store.RecentPerPeer(r.Context(), authCtx.UserID)
	if err != nil {
		s.Logger.Error("listing contacts failed", "user_id", authCtx.UserID, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]contactView, len(peers))
	for i, p := range peers {
		out[i] = contactView{PeerUserID: p.PeerUserID, LastMessage: toMessageView(p.LastMessage), UnreadCount: p.UnreadCount}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContactMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	contactID := r.PathValue("id")
	if contactID == "" {
		writeError(w, errInvalid("contact id is required"))
		return
	}
	conversationID := store.CanonicalConversationID(authCtx.UserID, contactID)
	limit := limitParam(r, 50, 200)
	before := r.URL.Query().Get("before")

	msgs, err := s.Store.GetConversationMessages(r.Context(), conversationID, before, limit)
	if err != nil {
		s.Logger.Error("listing conversation messages failed", "conversation_id", conversationID, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageView(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	contactID := r.PathValue("id")
	if contactID == "" {
		writeError(w, errInvalid("contact id is required"))
		return
	}

	var req markReadRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	asOf := time.Now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	conversationID := store.CanonicalConversationID(authCtx.UserID, contactID)
	ids, err := s.Store.MarkConversationRead(r.Context(), conversationID, authCtx.UserID, asOf)
	if err != nil {
		s.Logger.Error("marking conversation read failed", "conversation_id", conversationID, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	for _, messageID := range ids {
		s.Presence.BroadcastDelivery(r.Context(), conversationID, deliveryEvent(messageID, store.DeliveryRead))
	}
	writeJSON(w, http.StatusOK, map[string]int{"markedCount": len(ids)})
}

func deliveryEvent(messageID, status string) presence.Event {
	payload, _ := json.Marshal(map[string]string{"messageId": messageID, "status": status})
	return presence.Event{Name: "chat:delivery", Payload: payload}
}

// messageEvent builds the chat:new-message event payload for a persisted
// message, the same wire shape the Router's own broadcast uses.
func messageEvent(m *store.Message) presence.Event {
	payload, _ := json.Marshal(toMessageView(*m))
	return presence.Event{Name: "chat:new-message", Payload: payload}
}
