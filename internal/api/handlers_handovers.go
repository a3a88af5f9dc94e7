package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/handover"
	"github.com/2389/coven-chat/internal/store"
)

func toHandoverView(t store.HandoverTicket) handoverView {
	v := handoverView{
		ID: t.ID,
		ConversationID: t.ConversationID,
		Customer: customerView{Name: t.Customer.Name, Email: t.Customer.Email, Phone: t.Customer.Phone},
		TriggerReason: t.TriggerReason,
		Priority: t.Priority,
		Status: t.Status,
		CreatedAt: t.CreatedAt,
		AcceptedAt: t.AcceptedAt,
		ResolvedAt: t.ResolvedAt,
		AssignedAgent: t.AssignedAgent,
		Tags: t.Tags,
	}
	if html, err := handover.RenderResolutionNotesHTML(t.ResolutionNotes); err == nil {
		v.ResolutionNotesHTML = html
	}
	return v
}

func (s *Server) handleOpenHandover(w http.ResponseWriter, r *http.Request) {
	var req handoverOpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.ConversationID == "" || len(req.Reasons) == 0 {
		writeError(w, errInvalid("conversationId and at least one reason are required"))
		return
	}

	ticket, err := s.Handover.Open(r.Context(), req.ConversationID, req.Reasons, store.CustomerSnapshot{}, store.ConversationSnapshot{})
	if err != nil {
		s.Logger.Error("opening handover ticket failed", "conversation_id", req.ConversationID, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, toHandoverView(*ticket))
}

func (s *Server) handleListHandovers(w http.ResponseWriter, r *http.Request) {
	filter := store.HandoverFilter{
		Status: r.URL.Query().Get("status"),
		Limit: limitParam(r, 50, 500),
	}
	if raw := r.URL.Query().Get("priority"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			filter.Priority = p
		}
	}

	tickets, err := s.Handover.List(r.Context(), filter)
	if err != nil {
		s.Logger.Error("listing handover tickets failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]handoverView, len(tickets))
	for i, t := range tickets {
		out[i] = toHandoverView(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAcceptHandover(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	id := r.PathValue("id")
	if err := s.Handover.Accept(r.Context(), id, authCtx.UserID); err != nil {
		if errors.Is(err, handover.ErrConflict) {
			writeError(w, errConflict("this ticket was already accepted by another operator"))
			return
		}
		s.Logger.Error("accepting handover ticket failed", "ticket_id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	ticket, err := s.Handover.Get(r.Context(), id)
	if err != nil {
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toHandoverView(*ticket))
}

func (s *Server) handleHandoverInProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Handover.TransitionInProgress(r.Context(), id); err != nil {
		s.Logger.Error("transitioning handover to in_progress failed", "ticket_id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	ticket, err := s.Handover.Get(r.Context(), id)
	if err != nil {
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toHandoverView(*ticket))
}

func (s *Server) handleResolveHandover(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveHandoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if err := s.Handover.Resolve(r.Context(), id, req.ResolutionNotes); err != nil {
		s.Logger.Error("resolving handover ticket failed", "ticket_id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	ticket, err := s.Handover.Get(r.Context(), id)
	if err != nil {
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, toHandoverView(*ticket))
}

func (s *Server) handleCancelHandover(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Handover.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, handover.ErrConflict) {
			writeError(w, errConflict("only a pending ticket can be cancelled"))
			return
		}
		s.Logger.Error("cancelling handover ticket failed", "ticket_id", id, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHandoverStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Handover.Stats(r.Context())
	if err != nil {
		s.Logger.Error("computing handover stats failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	total := summary.PendingCount + summary.AcceptedCount + summary.InProgressCount
	writeJSON(w, http.StatusOK, handoverStatsResponse{
		Total: total,
		Pending: summary.PendingCount,
		Accepted: summary.AcceptedCount,
		InProgress: summary.InProgressCount,
		AvgResolutionMinutes: summary.AvgResolveSLA.Minutes(),
	})
}
