package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalProvider is an in-memory CalendarProvider used by tests and by
// deployments that have not wired a real calendar integration.
type LocalProvider struct {
	mu sync.Mutex
	busy map[string][]BusyInterval // keyed by date (YYYY-MM-DD)
	eventsByKey map[string]localEvent
	baseURL string
}

type localEvent struct {
	providerEventID string
	meetingURL string
	calendarURL string
}

// NewLocalProvider constructs an empty LocalProvider. baseURL, if set, is
// used to build deterministic meeting/calendar links; it defaults to a
// placeholder scheme.
func NewLocalProvider(baseURL string) *LocalProvider {
	if baseURL == "" {
		baseURL = "https://meet.local"
	}
	return &LocalProvider{
		busy: make(map[string][]BusyInterval),
		eventsByKey: make(map[string]localEvent),
		baseURL: baseURL,
	}
}

// SeedBusy marks an interval as occupied, for tests that need to exercise
// slot filtering.
func (p *LocalProvider) SeedBusy(date time.Time, interval BusyInterval) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := dateKey(date)
	p.busy[key] = append(p.busy[key], interval)
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func (p *LocalProvider) BusyIntervals(_ context.Context, date time.Time) ([]BusyInterval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BusyInterval(nil), p.busy[dateKey(date)]...), nil
}

func (p *LocalProvider) CreateEvent(_ context.Context, dedupKey string, start, end time.Time, customerEmail string, attendees []string, notes string) (string, string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.eventsByKey[dedupKey]; ok {
		return existing.providerEventID, existing.meetingURL, existing.calendarURL, nil
	}

	id := uuid.NewString()
	ev := localEvent{
		providerEventID: id,
		meetingURL: fmt.Sprintf("%s/room/%s", p.baseURL, id),
		calendarURL: fmt.Sprintf("%s/event/%s", p.baseURL, id),
	}
	p.eventsByKey[dedupKey] = ev
	p.busy[dateKey(start)] = append(p.busy[dateKey(start)], BusyInterval{Start: start, End: end})
	return ev.providerEventID, ev.meetingURL, ev.calendarURL, nil
}

func (p *LocalProvider) FindEventByDedupKey(_ context.Context, dedupKey string) (string, string, string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.eventsByKey[dedupKey]
	if !ok {
		return "", "", "", false, nil
	}
	return ev.providerEventID, ev.meetingURL, ev.calendarURL, true, nil
}
