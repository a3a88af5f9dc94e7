// Store interface and data types for coven-chat persistence.
// Defines the record kinds in the logical persisted-state layout (users,
// messages, handovers, calendar commitments, custom-agent definitions) and
// the Store interface used by every other component.

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// CanonicalConversationID builds the "idA:idB" conversation id for a pair
// of identities, ordering them lexicographically so callers on either side
// of a 1:1 conversation always land on the same id regardless of who
// initiated it.
func CanonicalConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// OtherParty returns the identity on the other side of a canonical
// conversation id from userID's perspective, or "" if userID is not one of
// the two parties.
func OtherParty(conversationID, userID string) string {
	parts := strings.SplitN(conversationID, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	if parts[0] == userID {
		return parts[1]
	}
	if parts[1] == userID {
		return parts[0]
	}
	return ""
}

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned on a failed compare-and-swap: a handover accept
// race, an already-consumed upload, or a duplicate calendar commitment.
var ErrConflict = errors.New("conflict")

// ErrInvalid is returned when a write would violate an invariant.
var ErrInvalid = errors.New("invalid")

// User is an Identity: a stable opaque id, a display name, a
// lower-cased unique email, and a password verifier. External contacts
// (WhatsApp/Instagram/Facebook peers materialized on first inbound) are
// Users too, distinguished by a non-empty Channel/ChannelNativeID pair.
type User struct {
	ID string
	DisplayName string
	Email string
	PasswordHash string
	Channel string // empty for first-party users; "whatsapp_cloud", "whatsapp_device", "instagram", "messenger" for external contacts
	ChannelNativeID string
	CreatedAt time.Time
}

// IsExternalContact reports whether this User represents a peer reached
// through an outbound channel adapter rather than a first-party account.
func (u *User) IsExternalContact() bool {
	return u.Channel != ""
}

// Message kinds.
const (
	MessageKindText = "text"
	MessageKindImage = "image"
	MessageKindAudio = "audio"
	MessageKindFile = "file"
)

// Delivery status, monotone: pending < sent < delivered < read.
const (
	DeliveryPending = "pending"
	DeliverySent = "sent"
	DeliveryDelivered = "delivered"
	DeliveryRead = "read"
)

var deliveryRank = map[string]int{
	DeliveryPending: 0,
	DeliverySent: 1,
	DeliveryDelivered: 2,
	DeliveryRead: 3,
}

// DeliveryAdvances reports whether to is a strictly later state than from
// under that ordering. Used to implement "a downgrade is a no-op."
func DeliveryAdvances(from, to string) bool {
	return deliveryRank[to] > deliveryRank[from]
}

// Attachment is the optional attachment reference on a Message.
type Attachment struct {
	Bucket string
	ObjectKey string
	OriginalFilename string
	MimeType string
}

// Message is a single message within a conversation.
type Message struct {
	ID string
	Author string // user id
	ConversationID string
	Timestamp time.Time
	Kind string
	Text string
	Attachment *Attachment
	DeliveryStatus string
	AgentKey string // optional: author or intended recipient agent
	ContactID string // optional: conversation this belongs to when produced inside an agent panel
	ClientTempID string // optional: idempotency token for client-originated sends
	TranscriptionOf string // optional: id of the audio message this text is a transcription of
}

// HandoverReason enumerates trigger reasons.
const (
	HandoverReasonExplicitRequest = "explicit_request"
	HandoverReasonLowConfidence = "low_confidence"
	HandoverReasonComplaint = "complaint"
	HandoverReasonComplexQuery = "complex_query"
	HandoverReasonEscalation = "escalation"
	HandoverReasonTechnicalIssue = "technical_problem"
	HandoverReasonOutOfHours = "out_of_hours"
)

// HandoverStatus enumerates the lifecycle.
const (
	HandoverStatusPending = "pending"
	HandoverStatusAccepted = "accepted"
	HandoverStatusInProgress = "in_progress"
	HandoverStatusResolved = "resolved"
	HandoverStatusCancelled = "cancelled"
)

// CustomerSnapshot is the customer identity snapshot carried on a
// HandoverTicket: name, email, phone as known at trigger time.
type CustomerSnapshot struct {
	Name string
	Email string
	Phone string
}

// ConversationSnapshot is the conversation context carried on a
// HandoverTicket: the last N messages, extracted entities, and the last
// detected intent, frozen at trigger time.
type ConversationSnapshot struct {
	RecentMessages []Message
	Entities map[string]string
	LastIntent string
}

// HandoverTicket is a queue entry requesting human attention.
type HandoverTicket struct {
	ID string
	ConversationID string
	Customer CustomerSnapshot
	TriggerReason string
	Priority int
	Status string
	CreatedAt time.Time
	AcceptedAt *time.Time
	ResolvedAt *time.Time
	AssignedAgent string // human user id
	ConversationContext ConversationSnapshot
	ResolutionNotes string
	Tags []string
}

// CalendarCommitment status.
const (
	CalendarStatusProposed = "proposed"
	CalendarStatusConfirmed = "confirmed"
	CalendarStatusCancelled = "cancelled"
)

// CalendarCommitment is the external calendar side effect produced by the
// Scheduling Sub-Protocol.
type CalendarCommitment struct {
	ID string
	ProviderEventID string
	ConversationID string
	AgentKey string
	CustomerEmail string
	Start time.Time
	End time.Time
	MeetingURL string
	CalendarURL string
	Status string
	Attendees []string
	Notes string
	DedupKey string
	CreatedAt time.Time
}

// CustomAgent is a tenant-defined agent definition: prompt and credential handle loaded from the store at call
// time, as opposed to a built-in's hard-coded prompt.
type CustomAgent struct {
	Key string
	DisplayName string
	Emoji string
	SystemPrompt string
	AllowedTools []string
	CredentialHandle string // opaque to the core; only the LLM adapter resolves it
	ProviderAccountLabel string
	AutoCommit bool // scheduling: auto_commit vs require_operator_ok, per (tenant, agent)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingUpload is the ephemeral record backing the Upload Broker's
// grant/confirm protocol.
type PendingUpload struct {
	ObjectKey string
	ExpectedMimeType string
	ExpectedMaxSize int64
	IssuerUserID string
	IssuedAt time.Time
	ExpiresAt time.Time
	Consumed bool
}

// InteractionLog records one classify-or-respond cycle for observability
// and offline comparison of NLU strategies. Supplements the Router's
// primary persistence and is not load-bearing for any core invariant.
type InteractionLog struct {
	ID string
	ConversationID string
	Direction string // "inbound" or "outbound"
	AgentKey string
	Intent string
	Confidence float64
	Method string // "rule" or "model"
	CreatedAt time.Time
}

// RecentPeerSummary is one row of the contact list view.
type RecentPeerSummary struct {
	PeerUserID string
	LastMessage Message
	UnreadCount int
}

// HandoverFilter narrows ListHandoverTickets.
type HandoverFilter struct {
	Status string // empty = any
	Priority int // 0 = any
	Limit int
}

// CalendarFilter narrows ListCalendarCommitments.
type CalendarFilter struct {
	ConversationID string // empty = any
	AgentKey string // empty = any
	Status string // empty = any
	Limit int
}

// Store is the persistence boundary for every other component. All
// methods are safe for concurrent use; within a single conversation,
// AppendMessage order equals timestamp order.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByChannelIdentity(ctx context.Context, channel, nativeID string) (*User, error)
	UserExists(ctx context.Context, id string) (bool, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessageByClientTempID(ctx context.Context, conversationID, clientTempID string) (*Message, error)
	GetConversationMessages(ctx context.Context, conversationID string, before string, limit int) ([]Message, error)
	TransitionMessageStatus(ctx context.Context, messageID, newStatus string) error
	MarkConversationRead(ctx context.Context, conversationID, readerUserID string, asOf time.Time) ([]string, error)
	RecentPerPeer(ctx context.Context, userID string) ([]RecentPeerSummary, error)
	GetGlobalRecentMessages(ctx context.Context, limit int) ([]Message, error)

	// Handover Queue
	CreateHandoverTicket(ctx context.Context, ticket *HandoverTicket) error
	GetHandoverTicket(ctx context.Context, id string) (*HandoverTicket, error)
	GetOpenHandoverTicketForConversation(ctx context.Context, conversationID string) (*HandoverTicket, error)
	ListHandoverTickets(ctx context.Context, filter HandoverFilter) ([]HandoverTicket, error)
	AcceptHandoverTicket(ctx context.Context, id, humanUserID string, now time.Time) error
	TransitionHandoverStatus(ctx context.Context, id, newStatus string, now time.Time) error
	ResolveHandoverTicket(ctx context.Context, id, resolutionNotes string, now time.Time) error

	// Scheduling Sub-Protocol
	CreateCalendarCommitment(ctx context.Context, commitment *CalendarCommitment) error
	GetCalendarCommitment(ctx context.Context, id string) (*CalendarCommitment, error)
	GetCalendarCommitmentByDedupKey(ctx context.Context, dedupKey string) (*CalendarCommitment, error)
	ListCalendarCommitments(ctx context.Context, filter CalendarFilter) ([]CalendarCommitment, error)
	UpdateCalendarCommitmentStatus(ctx context.Context, id, status string) error

	// Custom Agents
	CreateCustomAgent(ctx context.Context, agent *CustomAgent) error
	GetCustomAgent(ctx context.Context, key string) (*CustomAgent, error)
	ListCustomAgents(ctx context.Context) ([]CustomAgent, error)
	DeleteCustomAgent(ctx context.Context, key string) error

	// Upload Broker
	CreatePendingUpload(ctx context.Context, upload *PendingUpload) error
	GetPendingUpload(ctx context.Context, objectKey string) (*PendingUpload, error)
	ConsumePendingUpload(ctx context.Context, objectKey string) error

	// Interaction log
	AppendInteractionLog(ctx context.Context, entry *InteractionLog) error
	ListInteractionLog(ctx context.Context, conversationID string, limit int) ([]InteractionLog, error)

	// Close releases any resources held by the store.
	Close() error
}
