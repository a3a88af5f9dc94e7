// Package presence implements the Presence & Subscription Registry:
// it tracks live real-time connections, their authenticated identity, which
// conversations they are viewing, and which agent panels they have open,
// and routes outbound events to the right set of connections.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each connection. A slow
// or stalled connection drops events past this depth rather than blocking
// the broadcaster.
const subscriberBufferSize = 64

// Event is an outbound real-time event addressed to one or more rooms.
// Payload is pre-serialized by the caller (the Router / HTTP layer owns
// the named event shapes; the registry only routes bytes.
type Event struct {
	Name string
	Payload []byte
}

// Room keys. A conversation room is keyed by conversation id directly. A
// user's private room and an agent-panel room are built with these
// helpers so callers never hand-roll the key format.
func UserRoom(userID string) string { return "user:" + userID }

func AgentPanelRoom(userID, agentKey string) string {
	return "agent-panel:" + userID + ":" + agentKey
}

func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Connection is one live real-time subscriber.
type Connection struct {
	ID string
	UserID string
	Events chan Event

	mu sync.Mutex
	rooms map[string]struct{}
}

func (c *Connection) roomList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Backend is the optional cross-process broadcast path. A nil Backend keeps broadcasts in-process.
type Backend interface {
	Publish(ctx context.Context, room string, event Event) error
}

// Registry implements attach/join/leave/detach and broadcast_*.
type Registry struct {
	mu sync.RWMutex
	connections map[string]*Connection // connID -> connection
	rooms map[string]map[string]*Connection // room -> connID -> connection

	backend Backend
	logger *slog.Logger
}

// SetBackend attaches a cross-process backend after construction, needed
// because an AMQPBackend's own constructor takes the Registry it relays
// into.
func (r *Registry) SetBackend(backend Backend) {
	r.backend = backend
}

// New creates a Registry. backend may be nil for single-process deployment.
func New(backend Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connections: make(map[string]*Connection),
		rooms: make(map[string]map[string]*Connection),
		backend: backend,
		logger: logger.With("component", "presence"),
	}
}

// Attach registers a new connection for an already-authenticated user and
// places it in its private user room. The credential itself is verified
// upstream (internal/auth); attach only needs the resolved user id.
func (r *Registry) Attach(userID string) *Connection {
	conn := &Connection{
		ID: uuid.NewString(),
		UserID: userID,
		Events: make(chan Event, subscriberBufferSize),
		rooms: make(map[string]struct{}),
	}

	r.mu.Lock()
	r.connections[conn.ID] = conn
	r.mu.Unlock()

	r.Join(conn, UserRoom(userID))
	r.logger.Debug("connection attached", "conn_id", conn.ID, "user_id", userID)
	return conn
}

// Join places a connection into a room. Idempotent.
func (r *Registry) Join(conn *Connection, room string) {
	conn.mu.Lock()
	if _, already := conn.rooms[room]; already {
		conn.mu.Unlock()
		return
	}
	conn.rooms[room] = struct{}{}
	conn.mu.Unlock()

	r.mu.Lock()
	if _, ok := r.rooms[room]; !ok {
		r.rooms[room] = make(map[string]*Connection)
	}
	r.rooms[room][conn.ID] = conn
	r.mu.Unlock()
}

// JoinConversation attaches conn to the room for a single conversation.
func (r *Registry) JoinConversation(conn *Connection, conversationID string) {
	r.Join(conn, ConversationRoom(conversationID))
}

// JoinAgentPanel attaches conn to the per-user, per-agent panel room.
func (r *Registry) JoinAgentPanel(conn *Connection, agentKey string) {
	r.Join(conn, AgentPanelRoom(conn.UserID, agentKey))
}

// Leave removes a connection from a single room.
func (r *Registry) Leave(conn *Connection, room string) {
	conn.mu.Lock()
	delete(conn.rooms, room)
	conn.mu.Unlock()

	r.mu.Lock()
	if subs, ok := r.rooms[room]; ok {
		delete(subs, conn.ID)
		if len(subs) == 0 {
			delete(r.rooms, room)
		}
	}
	r.mu.Unlock()
}

// Detach releases every room the connection held and removes it from the
// registry. Other connections of the same user are unaffected.
func (r *Registry) Detach(conn *Connection) {
	for _, room := range conn.roomList() {
		r.Leave(conn, room)
	}

	r.mu.Lock()
	delete(r.connections, conn.ID)
	r.mu.Unlock()

	close(conn.Events)
	r.logger.Debug("connection detached", "conn_id", conn.ID, "user_id", conn.UserID)
}

// broadcastLocal delivers event to every connection in room except the one
// named by excludeConnID (if non-empty), dropping it for any connection
// whose buffer is full rather than blocking.
func (r *Registry) broadcastLocal(room string, event Event, excludeConnID string) {
	r.mu.RLock()
	subs, ok := r.rooms[room]
	if !ok || len(subs) == 0 {
		r.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(subs))
	for id, conn := range subs {
		if excludeConnID != "" && id == excludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Events <- event:
		default:
			r.logger.Debug("dropped event for slow connection", "room", room, "conn_id", conn.ID, "event", event.Name)
		}
	}
}

// publish delivers the event. With no cross-process backend, delivery is
// local only. With a backend, the event is handed to it instead of being
// delivered directly: the backend's own subscriber loop calls
// broadcastLocal when the event comes back off the exchange, which is
// what gives every replica (including this one) exactly one local
// delivery.
func (r *Registry) publish(ctx context.Context, room string, event Event, excludeConnID string) {
	if r.backend == nil {
		r.broadcastLocal(room, event, excludeConnID)
		return
	}
	if err := r.backend.Publish(ctx, room, event); err != nil {
		r.logger.Warn("cross-process publish failed, falling back to local delivery", "room", room, "err", err)
		r.broadcastLocal(room, event, excludeConnID)
	}
}

// BroadcastMessage delivers a persisted message to its conversation room
// and the author's private room (so other devices see the server-assigned
// id/timestamp), or, if the message carries an agentKey, to the
// (user, agentKey) agent-panel room instead of the conversation room.
func (r *Registry) BroadcastMessage(ctx context.Context, conversationID, authorUserID, agentKey string, event Event) {
	if agentKey != "" {
		r.publish(ctx, AgentPanelRoom(authorUserID, agentKey), event, "")
	} else {
		r.publish(ctx, ConversationRoom(conversationID), event, "")
	}
	r.publish(ctx, UserRoom(authorUserID), event, "")
}

// BroadcastPresence delivers a typing/online/offline event to the user's
// private room. Typing events are transient and MUST NOT be persisted
// — callers simply never write them to the store.
func (r *Registry) BroadcastPresence(ctx context.Context, userID string, event Event) {
	r.publish(ctx, UserRoom(userID), event, "")
}

// BroadcastDelivery mirrors a delivery-status transition to every subscriber of
// a conversation.
func (r *Registry) BroadcastDelivery(ctx context.Context, conversationID string, event Event) {
	r.publish(ctx, ConversationRoom(conversationID), event, "")
}

// ConnectionCount reports the number of live connections, for diagnostics.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// ErrUnknownRoom names a room with no connections in it. Nothing in this
// package returns it: the broadcast helpers above skip such rooms.
var ErrUnknownRoom = fmt.Errorf("presence: unknown room")
