// Package scheduling implements the scheduling sub-protocol: the
// multi-turn state machine that turns a scheduling intent into a calendar
// commitment with exactly-once external effect.
//
// The idempotency-key shape is a durable CalendarCommitment row keyed by
// dedup key rather than an in-memory approval ledger, so a crash between
// "about to commit" and "confirmed" can recover by querying the provider
// for an event matching that key before retrying.
package scheduling

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/store"
)

// State is one node of the per-conversation state machine.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingIdentity State = "awaiting_identity"
	StateAwaitingSlot     State = "awaiting_slot"
	StateConfirming       State = "confirming"
	StateCommitting       State = "committing"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// ErrInvalidSlot is returned when a slot-picker callback names a slot
// outside the working-hours window or in the past.
var ErrInvalidSlot = errors.New("scheduling: invalid slot")

// ErrProviderUnavailable wraps a deadline-bounded calendar provider
// failure.
var ErrProviderUnavailable = errors.New("scheduling: calendar provider unavailable")

// Attempt is the in-memory state of one scheduling attempt for a single
// conversation. A new scheduling intent always starts a fresh Attempt.
type Attempt struct {
	ConversationID  string
	AgentKey        string
	State           State
	CustomerEmail   string
	CustomerPhone   string
	ProposedStart   time.Time
	DurationMinutes int
	AutoCommit      bool
}

// SlotPickerSignal is the payload for the `agent:show-slot-picker` event,
// emitted on entering AwaitingSlot.
type SlotPickerSignal struct {
	AgentKey               string
	CustomerEmail          string
	CustomerPhone          string
	WorkingDays            []time.Weekday
	WorkingHourStart       int
	WorkingHourEnd         int
	DefaultDurationMinutes int
}

// Slot is one free interval returned by Availability.
type Slot struct {
	Start time.Time
	End   time.Time
}

// BusyInterval is one occupied interval on the external calendar.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// CalendarProvider is the external collaborator's contract.
type CalendarProvider interface {
	// BusyIntervals returns occupied intervals on date.
	BusyIntervals(ctx context.Context, date time.Time) ([]BusyInterval, error)
	// CreateEvent commits a meeting, returning the provider-native event id
	// and both a meeting URL and a calendar URL. dedupKey, when the
	// provider supports idempotency keys, is passed through so retries of
	// the same commit never create a second event.
	CreateEvent(ctx context.Context, dedupKey string, start, end time.Time, customerEmail string, attendees []string, notes string) (providerEventID, meetingURL, calendarURL string, err error)
	// FindEventByDedupKey looks up a previously-committed event by dedup
	// key, used by crash recovery.
	FindEventByDedupKey(ctx context.Context, dedupKey string) (providerEventID, meetingURL, calendarURL string, found bool, err error)
}

// Config configures working hours/days and the commit deadline.
type Config struct {
	WorkingDays       []time.Weekday
	WorkingHourStart  int
	WorkingHourEnd    int
	SlotDuration      time.Duration
	TimeZone          string
	AutoCommitDefault bool
	CommitDeadline    time.Duration
}

// Machine drives the Scheduling Sub-Protocol for every conversation,
// backed by store.Store for the dedup-keyed CalendarCommitment row written
// after the provider call and CalendarProvider for the external side effect.
type Machine struct {
	cfg      Config
	store    store.Store
	provider CalendarProvider
	loc      *time.Location
	logger   *slog.Logger
}

// New constructs a Machine.
func New(cfg Config, st store.Store, provider CalendarProvider, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.WorkingDays) == 0 {
		cfg.WorkingDays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}
	if cfg.WorkingHourEnd == 0 {
		cfg.WorkingHourStart, cfg.WorkingHourEnd = 9, 18
	}
	if cfg.SlotDuration <= 0 {
		cfg.SlotDuration = 60 * time.Minute
	}
	if cfg.CommitDeadline <= 0 {
		cfg.CommitDeadline = 10 * time.Second
	}
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return &Machine{cfg: cfg, store: st, provider: provider, loc: loc, logger: logger.With("component", "scheduling")}
}

// isWorkingDay reports whether day is one of the configured working days.
func (m *Machine) isWorkingDay(day time.Weekday) bool {
	for _, d := range m.cfg.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

// Availability partitions the working-hours window on date into fixed-
// duration slots and subtracts the provider's busy intervals. Weekends
// and past instants are pruned.
func (m *Machine) Availability(ctx context.Context, date time.Time) ([]Slot, error) {
	date = date.In(m.loc)
	if !m.isWorkingDay(date.Weekday()) {
		return nil, nil
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), m.cfg.WorkingHourStart, 0, 0, 0, m.loc)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), m.cfg.WorkingHourEnd, 0, 0, 0, m.loc)

	busy, err := m.provider.BusyIntervals(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	now := time.Now()
	var slots []Slot
	for start := dayStart; start.Add(m.cfg.SlotDuration).Compare(dayEnd) <= 0; start = start.Add(m.cfg.SlotDuration) {
		end := start.Add(m.cfg.SlotDuration)
		if start.Before(now) {
			continue
		}
		if overlapsAny(start, end, busy) {
			continue
		}
		slots = append(slots, Slot{Start: start, End: end})
	}
	return slots, nil
}

func overlapsAny(start, end time.Time, busy []BusyInterval) bool {
	for _, b := range busy {
		if start.Before(b.End) && end.After(b.Start) {
			return true
		}
	}
	return false
}

// ShowSlotPicker builds the `agent:show-slot-picker` payload.
func (m *Machine) ShowSlotPicker(agentKey, customerEmail, customerPhone string) SlotPickerSignal {
	return SlotPickerSignal{
		AgentKey:               agentKey,
		CustomerEmail:          customerEmail,
		CustomerPhone:          customerPhone,
		WorkingDays:            m.cfg.WorkingDays,
		WorkingHourStart:       m.cfg.WorkingHourStart,
		WorkingHourEnd:         m.cfg.WorkingHourEnd,
		DefaultDurationMinutes: int(m.cfg.SlotDuration / time.Minute),
	}
}

// ValidateSlotCallback rejects a slot-picker callback whose date is in the
// past or outside working hours.
func (m *Machine) ValidateSlotCallback(start time.Time) error {
	if start.Before(time.Now()) {
		return ErrInvalidSlot
	}
	local := start.In(m.loc)
	if !m.isWorkingDay(local.Weekday()) {
		return ErrInvalidSlot
	}
	if local.Hour() < m.cfg.WorkingHourStart || local.Hour() >= m.cfg.WorkingHourEnd {
		return ErrInvalidSlot
	}
	return nil
}

// DedupKey derives the commit idempotency token from (conversation id,
// proposed start, customer email).
func DedupKey(conversationID string, start time.Time, customerEmail string) string {
	h := sha256.Sum256([]byte(conversationID + "|" + start.UTC().Format(time.RFC3339) + "|" + customerEmail))
	return hex.EncodeToString(h[:])
}

// CommitResult carries the outcome of a successful Commit.
type CommitResult struct {
	Commitment *store.CalendarCommitment
}

// Commit performs the Committing step: exactly one attempt to insert into
// the external calendar, with crash-safe recovery via dedup key.
//
// No row is written before the external call. A crash between "about to
// commit" and "confirmed" is recovered on the next attempt with the same
// dedup key: first by looking up an already-persisted CalendarCommitment
// for that key, then — if the local write never landed — by asking the
// provider itself whether an event for that key already exists before
// falling through to a fresh CreateEvent call.
func (m *Machine) Commit(ctx context.Context, attempt Attempt, attendees []string, notes string) (*CommitResult, error) {
	dedupKey := DedupKey(attempt.ConversationID, attempt.ProposedStart, attempt.CustomerEmail)

	// A prior attempt may already have committed under this exact dedup
	// key (a retried customer message, or recovery after a crash).
	if existing, err := m.store.GetCalendarCommitmentByDedupKey(ctx, dedupKey); err == nil {
		m.logger.Info("scheduling commit deduped against existing commitment", "dedup_key", dedupKey, "commitment_id", existing.ID)
		return &CommitResult{Commitment: existing}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("scheduling: checking dedup key: %w", err)
	}

	end := attempt.ProposedStart.Add(time.Duration(attempt.DurationMinutes) * time.Minute)

	// Recovery path: the provider itself may already have the event even
	// though no local row exists (crash between the provider call
	// succeeding and CreateCalendarCommitment persisting).
	if providerEventID, meetingURL, calendarURL, found, err := m.provider.FindEventByDedupKey(ctx, dedupKey); err == nil && found {
		commitment := &store.CalendarCommitment{
			ID:              uuid.NewString(),
			ProviderEventID: providerEventID,
			ConversationID:  attempt.ConversationID,
			AgentKey:        attempt.AgentKey,
			CustomerEmail:   attempt.CustomerEmail,
			Start:           attempt.ProposedStart,
			End:             end,
			MeetingURL:      meetingURL,
			CalendarURL:     calendarURL,
			Status:          store.CalendarStatusConfirmed,
			Attendees:       attendees,
			Notes:           notes,
			DedupKey:        dedupKey,
			CreatedAt:       time.Now(),
		}
		if err := m.store.CreateCalendarCommitment(ctx, commitment); err != nil && !errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("scheduling: recording recovered commitment: %w", err)
		}
		return &CommitResult{Commitment: commitment}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CommitDeadline)
	defer cancel()

	providerEventID, meetingURL, calendarURL, err := m.provider.CreateEvent(callCtx, dedupKey, attempt.ProposedStart, end, attempt.CustomerEmail, attendees, notes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	commitment := &store.CalendarCommitment{
		ID:              uuid.NewString(),
		ProviderEventID: providerEventID,
		ConversationID:  attempt.ConversationID,
		AgentKey:        attempt.AgentKey,
		CustomerEmail:   attempt.CustomerEmail,
		Start:           attempt.ProposedStart,
		End:             end,
		MeetingURL:      meetingURL,
		CalendarURL:     calendarURL,
		Status:          store.CalendarStatusConfirmed,
		Attendees:       attendees,
		Notes:           notes,
		DedupKey:        dedupKey,
		CreatedAt:       time.Now(),
	}
	if err := m.store.CreateCalendarCommitment(ctx, commitment); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another goroutine/retry won the race; return its row.
			existing, getErr := m.store.GetCalendarCommitmentByDedupKey(ctx, dedupKey)
			if getErr != nil {
				return nil, fmt.Errorf("scheduling: resolving commitment race: %w", getErr)
			}
			return &CommitResult{Commitment: existing}, nil
		}
		return nil, fmt.Errorf("scheduling: recording commitment: %w", err)
	}

	m.logger.Info("scheduling commit confirmed", "commitment_id", commitment.ID, "conversation_id", attempt.ConversationID)
	return &CommitResult{Commitment: commitment}, nil
}

// AutoCommitFor resolves the per-(tenant, agent) auto_commit setting, with agentAutoCommit overriding the tenant-wide
// default when set on a CustomAgent.
func (m *Machine) AutoCommitFor(agentAutoCommit *bool) bool {
	if agentAutoCommit != nil {
		return *agentAutoCommit
	}
	return m.cfg.AutoCommitDefault
}
