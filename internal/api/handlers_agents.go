package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/store"
)

func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	agentKey := r.PathValue("key")
	if agentKey == "" {
		writeError(w, errInvalid("agent key is required"))
		return
	}
	contactID := r.URL.Query().Get("contactId")
	if contactID == "" {
		writeError(w, errInvalid("contactId is required"))
		return
	}
	limit := limitParam(r, 50, 200)

	conversationID := store.CanonicalConversationID(authCtx.UserID, contactID)
	msgs, err := s.Store.GetConversationMessages(r.Context(), conversationID, "", limit)
	if err != nil {
		s.Logger.Error("listing agent panel messages failed", "agent_key", agentKey, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		if m.AgentKey != agentKey {
			continue
		}
		out = append(out, toMessageView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func toCustomBotView(a store.CustomAgent) customBotView {
	return customBotView{
		Key: a.Key,
		DisplayName: a.DisplayName,
		Emoji: a.Emoji,
		SystemPrompt: a.SystemPrompt,
		AllowedTools: a.AllowedTools,
		ProviderAccountLabel: a.ProviderAccountLabel,
		AutoCommit: a.AutoCommit,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (s *Server) handleCreateCustomBot(w http.ResponseWriter, r *http.Request) {
	var req customBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Key == "" || req.DisplayName == "" || req.SystemPrompt == "" {
		writeError(w, errInvalid("key, displayName, and systemPrompt are required"))
		return
	}

	if _, err := s.Store.GetCustomAgent(r.Context(), req.Key); err == nil {
		writeError(w, errConflict("a custom agent with this key already exists"))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.Logger.Error("checking existing custom agent failed", "key", req.Key, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	now := time.Now()
	record := &store.CustomAgent{
		Key: req.Key,
		DisplayName: req.DisplayName,
		Emoji: req.Emoji,
		SystemPrompt: req.SystemPrompt,
		AllowedTools: req.AllowedTools,
		CredentialHandle: req.CredentialHandle,
		ProviderAccountLabel: req.ProviderAccountLabel,
		AutoCommit: req.AutoCommit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateCustomAgent(r.Context(), record); err != nil {
		s.Logger.Error("creating custom agent failed", "key", req.Key, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusCreated, toCustomBotView(*record))
}

func (s *Server) handleListCustomBots(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Store.ListCustomAgents(r.Context())
	if err != nil {
		s.Logger.Error("listing custom agents failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	out := make([]customBotView, len(agents))
	for i, a := range agents {
		out[i] = toCustomBotView(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteCustomBot(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, errInvalid("agent key is required"))
		return
	}
	if err := s.Store.DeleteCustomAgent(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errNotFound("no custom agent with this key"))
			return
		}
		s.Logger.Error("deleting custom agent failed", "key", key, "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
