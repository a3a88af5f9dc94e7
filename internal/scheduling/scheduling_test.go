package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func nextWeekday(from time.Time, day time.Weekday) time.Time {
	for from.Weekday() != day {
		from = from.AddDate(0, 0, 1)
	}
	return from
}

func TestAvailability_ExcludesBusySlot(t *testing.T) {
	provider := NewLocalProvider("")
	m := New(Config{WorkingHourStart: 9, WorkingHourEnd: 12, SlotDuration: time.Hour}, newTestStore(t), provider, nil)

	day := nextWeekday(time.Now().AddDate(0, 0, 2), time.Monday)
	busyStart := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, time.UTC)
	provider.SeedBusy(day, BusyInterval{Start: busyStart, End: busyStart.Add(time.Hour)})

	slots, err := m.Availability(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	for _, s := range slots {
		assert.NotEqual(t, 10, s.Start.Hour())
	}
}

func TestAvailability_SkipsNonWorkingDay(t *testing.T) {
	provider := NewLocalProvider("")
	m := New(Config{WorkingDays: []time.Weekday{time.Monday}}, newTestStore(t), provider, nil)

	sunday := nextWeekday(time.Now().AddDate(0, 0, 2), time.Sunday)
	slots, err := m.Availability(context.Background(), sunday)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestDedupKey_Deterministic(t *testing.T) {
	start := time.Now().Add(48 * time.Hour)
	a := DedupKey("conv-1", start, "a@example.com")
	b := DedupKey("conv-1", start, "a@example.com")
	c := DedupKey("conv-1", start, "b@example.com")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCommit_IsIdempotentUnderRetry(t *testing.T) {
	st := newTestStore(t)
	provider := NewLocalProvider("")
	m := New(Config{CommitDeadline: time.Second}, st, provider, nil)

	attempt := Attempt{
		ConversationID:  "conv-1",
		AgentKey:        "sdr",
		CustomerEmail:   "lead@example.com",
		ProposedStart:   time.Now().Add(72 * time.Hour),
		DurationMinutes: 30,
	}

	first, err := m.Commit(context.Background(), attempt, []string{"lead@example.com"}, "intro call")
	require.NoError(t, err)
	require.NotNil(t, first.Commitment)

	second, err := m.Commit(context.Background(), attempt, []string{"lead@example.com"}, "intro call")
	require.NoError(t, err)
	assert.Equal(t, first.Commitment.ID, second.Commitment.ID)
	assert.Equal(t, first.Commitment.ProviderEventID, second.Commitment.ProviderEventID)
}

func TestCommit_RecoversFromProviderEventWithoutLocalRow(t *testing.T) {
	st := newTestStore(t)
	provider := NewLocalProvider("")
	m := New(Config{CommitDeadline: time.Second}, st, provider, nil)

	attempt := Attempt{
		ConversationID:  "conv-2",
		CustomerEmail:   "lead2@example.com",
		ProposedStart:   time.Now().Add(96 * time.Hour),
		DurationMinutes: 30,
	}
	dedupKey := DedupKey(attempt.ConversationID, attempt.ProposedStart, attempt.CustomerEmail)

	// Simulate the provider having already committed the event (crash
	// happened after the external call, before CreateCalendarCommitment).
	_, _, _, err := provider.CreateEvent(context.Background(), dedupKey, attempt.ProposedStart, attempt.ProposedStart.Add(30*time.Minute), attempt.CustomerEmail, nil, "")
	require.NoError(t, err)

	result, err := m.Commit(context.Background(), attempt, nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Commitment.ProviderEventID)

	stored, err := st.GetCalendarCommitmentByDedupKey(context.Background(), dedupKey)
	require.NoError(t, err)
	assert.Equal(t, store.CalendarStatusConfirmed, stored.Status)
}

func TestValidateSlotCallback_RejectsPastAndOutOfHours(t *testing.T) {
	provider := NewLocalProvider("")
	m := New(Config{WorkingHourStart: 9, WorkingHourEnd: 17, TimeZone: "UTC"}, newTestStore(t), provider, nil)

	assert.ErrorIs(t, m.ValidateSlotCallback(time.Now().Add(-time.Hour)), ErrInvalidSlot)

	day := nextWeekday(time.Now().AddDate(0, 0, 2), time.Monday)
	lateNight := time.Date(day.Year(), day.Month(), day.Day(), 23, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, m.ValidateSlotCallback(lateNight), ErrInvalidSlot)

	goodSlot := time.Date(day.Year(), day.Month(), day.Day(), 10, 0, 0, 0, time.UTC)
	assert.NoError(t, m.ValidateSlotCallback(goodSlot))
}

func TestAutoCommitFor_AgentOverridesTenantDefault(t *testing.T) {
	m := New(Config{AutoCommitDefault: false}, newTestStore(t), NewLocalProvider(""), nil)
	yes := true
	assert.True(t, m.AutoCommitFor(&yes))
	assert.False(t, m.AutoCommitFor(nil))
}
