// Package handover implements the handover queue: reliable
// escalation of conversations to humans, priority-ordered, with a
// pending → accepted → in_progress → resolved/cancelled lifecycle whose
// accept transition is a compare-and-swap against a SQL UPDATE ... WHERE
// status = 'pending' guard in internal/store.
package handover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

// ErrConflict mirrors store.ErrConflict for callers that only import this
// package (accept race, cancel of a ticket that is no longer pending).
var ErrConflict = store.ErrConflict

// Priority bands.
const (
	PriorityLow = 1
	PriorityMedium = 2
	PriorityHigh = 3
	PriorityUrgent = 4
)

var reasonPriority = map[string]int{
	store.HandoverReasonComplaint: PriorityUrgent,
	store.HandoverReasonEscalation: PriorityUrgent,
	store.HandoverReasonExplicitRequest: PriorityHigh,
	store.HandoverReasonComplexQuery: PriorityMedium,
	store.HandoverReasonTechnicalIssue: PriorityMedium,
	store.HandoverReasonLowConfidence: PriorityMedium,
	store.HandoverReasonOutOfHours: PriorityLow,
}

// Trigger describes one fired reason, ready to be folded into a priority
// via Priority(reasons...).
type Trigger struct {
	Reason string
}

// Priority applies the max-over-reasons calculus: the ticket's priority is
// the highest band among its trigger reasons, not the first reason seen.
func Priority(reasons...string) int {
	best := PriorityLow
	for _, r := range reasons {
		if p, ok := reasonPriority[r]; ok && p > best {
			best = p
		}
	}
	return best
}

// customerAcks gives each trigger reason a short, stable acknowledgement
// the bot emits once before handing off.
var customerAcks = map[string]string{
	store.HandoverReasonExplicitRequest: "Of course — connecting you to a person now. One moment, please.",
	store.HandoverReasonLowConfidence: "I want to make sure you get the right help, so I'm connecting you to a person.",
	store.HandoverReasonComplaint: "I'm sorry about that. I'm connecting you to a person right away.",
	store.HandoverReasonComplexQuery: "That deserves a closer look — connecting you to a specialist now.",
	store.HandoverReasonEscalation: "Escalating this to a supervisor now. One moment, please.",
	store.HandoverReasonTechnicalIssue: "Connecting you to our technical support team now.",
	store.HandoverReasonOutOfHours: "We're outside business hours right now, but I've logged your request and someone will follow up.",
}

// CustomerAcknowledgement returns the fixed acknowledgement text for
// reason, defaulting to a generic handoff message.
func CustomerAcknowledgement(reason string) string {
	if msg, ok := customerAcks[reason]; ok {
		return msg
	}
	return "Connecting you to a person. One moment, please."
}

// lowConfidenceStreak tracks "two consecutive low-confidence classifications
// in the same conversation" in memory, since it is a short-lived
// per-conversation counter rather than durable state. The streak resets on
// any classification at or above the floor.
type lowConfidenceStreak struct {
	mu sync.Mutex
	streaks map[string]int
}

func newLowConfidenceStreak() *lowConfidenceStreak {
	return &lowConfidenceStreak{streaks: make(map[string]int)}
}

// Observe records one classification's confidence for conversationID and
// reports whether this observation is the SECOND consecutive low-confidence
// result.
func (l *lowConfidenceStreak) Observe(conversationID string, confidence, floor float64) (triggersNow bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if confidence >= floor {
		l.streaks[conversationID] = 0
		return false
	}
	l.streaks[conversationID]++
	if l.streaks[conversationID] == 2 {
		return true
	}
	return false
}

// Reset clears a conversation's streak, e.g. once a ticket opens or
// resolves, so a fresh pair of low-confidence messages is required again.
func (l *lowConfidenceStreak) Reset(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.streaks, conversationID)
}

// Queue implements trigger evaluation, CAS accept, and lifecycle
// transitions over the store's HandoverTicket record kind.
type Queue struct {
	store store.Store
	streaks *lowConfidenceStreak
	logger *slog.Logger

	confidenceFloor float64
	outOfHoursForbidsBotOnly bool
	onCallStartHour int
	onCallEndHour int
	timeZone *time.Location
}

// Config configures out-of-hours policy and the low-confidence floor.
type Config struct {
	ConfidenceFloor float64
	OutOfHoursForbidsBotOnly bool
	OnCallStartHour int
	OnCallEndHour int
	TimeZone string
}

// New constructs a Queue.
func New(cfg Config, st store.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.5
	}
	return &Queue{
		store: st,
		streaks: newLowConfidenceStreak(),
		logger: logger.With("component", "handover"),
		confidenceFloor: cfg.ConfidenceFloor,
		outOfHoursForbidsBotOnly: cfg.OutOfHoursForbidsBotOnly,
		onCallStartHour: cfg.OnCallStartHour,
		onCallEndHour: cfg.OnCallEndHour,
		timeZone: loc,
	}
}

// EvaluateInput carries everything the Router has on hand after
// classifying an inbound message.
type EvaluateInput struct {
	ConversationID string
	Intent string
	Confidence float64
	IsComplaint bool
	AgentCannotHelp bool
	CustomerSnapshot store.CustomerSnapshot
	ConversationSnapshot store.ConversationSnapshot
}

// Evaluate checks every entry trigger and returns the reasons that fired,
// in no particular order; callers pass the result to Priority(...) and,
// if non-empty, to Open(...).
func (q *Queue) Evaluate(in EvaluateInput) []string {
	var reasons []string

	if in.Intent == "request_human" {
		reasons = append(reasons, store.HandoverReasonExplicitRequest)
	}
	if in.IsComplaint || in.Intent == "complaint" {
		reasons = append(reasons, store.HandoverReasonComplaint)
	}
	if in.AgentCannotHelp {
		reasons = append(reasons, store.HandoverReasonComplexQuery)
	}
	if q.streaks.Observe(in.ConversationID, in.Confidence, q.confidenceFloor) {
		reasons = append(reasons, store.HandoverReasonLowConfidence)
	}
	if q.outOfHoursForbidsBotOnly && q.isOutOfHours(time.Now()) {
		reasons = append(reasons, store.HandoverReasonOutOfHours)
	}

	return reasons
}

func (q *Queue) isOutOfHours(now time.Time) bool {
	local := now.In(q.timeZone)
	hour := local.Hour()
	if q.onCallStartHour == q.onCallEndHour {
		return false // on-call window not configured: never out-of-hours
	}
	if q.onCallStartHour < q.onCallEndHour {
		return hour < q.onCallStartHour || hour >= q.onCallEndHour
	}
	// wraps past midnight
	return hour < q.onCallStartHour && hour >= q.onCallEndHour
}

// Open appends a HandoverTicket with priority derived from reasons
// and resets the low-confidence streak so a resolved/cancelled
// ticket starts fresh.
func (q *Queue) Open(ctx context.Context, conversationID string, reasons []string, customer store.CustomerSnapshot, snapshot store.ConversationSnapshot) (*store.HandoverTicket, error) {
	if len(reasons) == 0 {
		return nil, fmt.Errorf("handover: Open called with no trigger reasons")
	}
	ticket := &store.HandoverTicket{
		ID: newTicketID(),
		ConversationID: conversationID,
		Customer: customer,
		TriggerReason: reasons[0],
		Priority: Priority(reasons...),
		Status: store.HandoverStatusPending,
		CreatedAt: time.Now(),
		ConversationContext: snapshot,
	}
	if err := q.store.CreateHandoverTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("handover: creating ticket: %w", err)
	}
	q.streaks.Reset(conversationID)
	q.logger.Info("handover ticket opened", "ticket_id", ticket.ID, "conversation_id", conversationID, "reason", ticket.TriggerReason, "priority", ticket.Priority)
	return ticket, nil
}

// OpenTicketFor returns the open (pending or accepted) ticket for a
// conversation, if any. The Router uses this to decide whether to
// suppress agent dispatch entirely.
func (q *Queue) OpenTicketFor(ctx context.Context, conversationID string) (*store.HandoverTicket, error) {
	ticket, err := q.store.GetOpenHandoverTicketForConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("handover: looking up open ticket: %w", err)
	}
	return ticket, nil
}

// Accept is the compare-and-swap transition pending→accepted. A
// second caller racing on the same ticket sees ErrConflict.
func (q *Queue) Accept(ctx context.Context, ticketID, humanUserID string) error {
	if err := q.store.AcceptHandoverTicket(ctx, ticketID, humanUserID, time.Now()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("handover: accepting ticket: %w", err)
	}
	q.logger.Info("handover ticket accepted", "ticket_id", ticketID, "human_user_id", humanUserID)
	return nil
}

// TransitionInProgress moves an accepted ticket to in_progress.
func (q *Queue) TransitionInProgress(ctx context.Context, ticketID string) error {
	if err := q.store.TransitionHandoverStatus(ctx, ticketID, store.HandoverStatusInProgress, time.Now()); err != nil {
		return fmt.Errorf("handover: transitioning to in_progress: %w", err)
	}
	return nil
}

// Resolve appends a resolution note and transitions to resolved.
// After resolution, new inbound messages in the conversation re-enter
// normal Router logic — the Router checks OpenTicketFor, not this
// package, for that gating.
func (q *Queue) Resolve(ctx context.Context, ticketID, resolutionNotes string) error {
	if err := q.store.ResolveHandoverTicket(ctx, ticketID, resolutionNotes, time.Now()); err != nil {
		return fmt.Errorf("handover: resolving ticket: %w", err)
	}
	q.logger.Info("handover ticket resolved", "ticket_id", ticketID)
	return nil
}

// Cancel transitions a pending ticket to cancelled. TransitionHandoverStatus itself has no
// CAS guard, so the pending check happens here.
func (q *Queue) Cancel(ctx context.Context, ticketID string) error {
	current, err := q.store.GetHandoverTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("handover: looking up ticket to cancel: %w", err)
	}
	if current.Status != store.HandoverStatusPending {
		return ErrConflict
	}
	if err := q.store.TransitionHandoverStatus(ctx, ticketID, store.HandoverStatusCancelled, time.Now()); err != nil {
		return fmt.Errorf("handover: cancelling ticket: %w", err)
	}
	return nil
}

// List proxies to the store for the operator-facing list/filter surface.
func (q *Queue) List(ctx context.Context, filter store.HandoverFilter) ([]store.HandoverTicket, error) {
	return q.store.ListHandoverTickets(ctx, filter)
}

// Get proxies to the store for a single ticket lookup.
func (q *Queue) Get(ctx context.Context, id string) (*store.HandoverTicket, error) {
	return q.store.GetHandoverTicket(ctx, id)
}

// Summary is the aggregate shape for GET /handovers/stats/summary.
type Summary struct {
	PendingCount int
	AcceptedCount int
	InProgressCount int
	AvgAcceptSLA time.Duration
	AvgResolveSLA time.Duration
}

// Stats computes the operator-facing SLA summary.
func (q *Queue) Stats(ctx context.Context) (Summary, error) {
	all, err := q.store.ListHandoverTickets(ctx, store.HandoverFilter{Limit: 10000})
	if err != nil {
		return Summary{}, fmt.Errorf("handover: listing tickets for stats: %w", err)
	}

	var summary Summary
	var acceptSum, resolveSum time.Duration
	var acceptN, resolveN int

	for _, t := range all {
		switch t.Status {
		case store.HandoverStatusPending:
			summary.PendingCount++
		case store.HandoverStatusAccepted:
			summary.AcceptedCount++
		case store.HandoverStatusInProgress:
			summary.InProgressCount++
		}
		if t.AcceptedAt != nil {
			acceptSum += t.AcceptedAt.Sub(t.CreatedAt)
			acceptN++
		}
		if t.ResolvedAt != nil && t.AcceptedAt != nil {
			resolveSum += t.ResolvedAt.Sub(*t.AcceptedAt)
			resolveN++
		}
	}
	if acceptN > 0 {
		summary.AvgAcceptSLA = acceptSum / time.Duration(acceptN)
	}
	if resolveN > 0 {
		summary.AvgResolveSLA = resolveSum / time.Duration(resolveN)
	}
	return summary, nil
}

func newTicketID() string {
	return uuid.NewString()
}
