package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/scheduling"
	"github.com/2389/coven-chat/internal/store"
)

func toCalendarEventView(c store.CalendarCommitment) calendarEventView {
	return calendarEventView{
		ID: c.ID,
		ConversationID: c.ConversationID,
		AgentKey: c.AgentKey,
		CustomerEmail: c.CustomerEmail,
		Start: c.Start,
		End: c.End,
		MeetingURL: c.MeetingURL,
		CalendarURL: c.CalendarURL,
		Status: c.Status,
		Attendees: c.Attendees,
		Notes: c.Notes,
	}
}

// handleCalendarAuthStatus reports whether a calendar provider is
// configured. coven-chat's default deployment uses the built-in
// scheduling.LocalProvider, which needs no external authorization, so
// this always reports connected once the Machine is wired.
func (s *Server) handleCalendarAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"connected": s.Scheduling != nil})
}

func (s *Server) handleCreateCalendarEvent(w http.ResponseWriter, r *http.Request) {
	var req calendarEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.ConversationID == "" || req.CustomerEmail == "" || req.Start.IsZero() {
		writeError(w, errInvalid("conversationId, customerEmail, and start are required"))
		return
	}
	duration := req.DurationMinutes
	if duration <= 0 {
		duration = 30
	}

	if err := s.Scheduling.ValidateSlotCallback(req.Start); err != nil {
		writeError(w, errInvalid("requested slot is not available"))
		return
	}

	attempt := scheduling.Attempt{
		ConversationID: req.ConversationID,
		AgentKey: req.AgentKey,
		CustomerEmail: req.CustomerEmail,
		ProposedStart: req.Start,
		DurationMinutes: duration,
	}
	result, err := s.Scheduling.Commit(r.Context(), attempt, req.Attendees, req.Notes)
	if err != nil {
		if errors.Is(err, scheduling.ErrProviderUnavailable) {
			writeError(w, errUnavailable("calendar provider is temporarily unavailable"))
			return
		}
		s.Logger.Error("creating calendar event failed", "conversation_id", req.ConversationID, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, toCalendarEventView(*result.Commitment))
}

func (s *Server) handleListCalendarEvents(w http.ResponseWriter, r *http.Request) {
	filter := store.CalendarFilter{
		ConversationID: r.URL.Query().Get("conversationId"),
		AgentKey: r.URL.Query().Get("agentKey"),
		Status: r.URL.Query().Get("status"),
		Limit: limitParam(r, 50, 500),
	}
	events, err := s.Store.ListCalendarCommitments(r.Context(), filter)
	if err != nil {
		s.Logger.Error("listing calendar events failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]calendarEventView, len(events))
	for i, e := range events {
		out[i] = toCalendarEventView(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateCalendarEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Status == "" {
		writeError(w, errInvalid("status is required"))
		return
	}
	if err := s.Store.UpdateCalendarCommitmentStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errNotFound("no calendar event with this id"))
			return
		}
		s.Logger.Error("updating calendar event failed", "id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	event, err := s.Store.GetCalendarCommitment(r.Context(), id)
	if err != nil {
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toCalendarEventView(*event))
}

func (s *Server) handleDeleteCalendarEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.UpdateCalendarCommitmentStatus(r.Context(), id, store.CalendarStatusCancelled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errNotFound("no calendar event with this id"))
			return
		}
		s.Logger.Error("cancelling calendar event failed", "id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalendarAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		writeError(w, errInvalid("date must be formatted YYYY-MM-DD"))
		return
	}
	slots, err := s.Scheduling.Availability(r.Context(), date)
	if err != nil {
		if errors.Is(err, scheduling.ErrProviderUnavailable) {
			writeError(w, errUnavailable("calendar provider is temporarily unavailable"))
			return
		}
		s.Logger.Error("computing availability failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toSlotViews(slots))
}

// handleAvailableSlots is the customer-facing twin of availability and
// returns the same slots for the date query parameter. It does not read
// duration_minutes: every slot has the scheduler's configured duration.
func (s *Server) handleAvailableSlots(w http.ResponseWriter, r *http.Request) {
	date, err := parseDateParam(r, "date")
	if err != nil {
		writeError(w, errInvalid("date must be formatted YYYY-MM-DD"))
		return
	}
	slots, err := s.Scheduling.Availability(r.Context(), date)
	if err != nil {
		if errors.Is(err, scheduling.ErrProviderUnavailable) {
			writeError(w, errUnavailable("calendar provider is temporarily unavailable"))
			return
		}
		s.Logger.Error("computing available slots failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toSlotViews(slots))
}

func toSlotViews(slots []scheduling.Slot) []slotView {
	out := make([]slotView, len(slots))
	for i, sl := range slots {
		out[i] = slotView{Start: sl.Start, End: sl.End}
	}
	return out
}

func parseDateParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Now(), nil
	}
	return time.Parse("2006-01-02", raw)
}
