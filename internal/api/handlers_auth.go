package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/store"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeError(w, errInvalid("displayName, email, and password are required"))
		return
	}

	if _, err := s.Store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, errConflict("an account with this email already exists"))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.Logger.Error("register: looking up email failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.Logger.Error("register: hashing password failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	user := &store.User{
		ID: uuid.NewString(),
		DisplayName: req.DisplayName,
		Email: req.Email,
		PasswordHash: hash,
		CreatedAt: time.Now(),
	}
	if err := s.Store.CreateUser(r.Context(), user); err != nil {
		s.Logger.Error("register: creating user failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	s.issueCredential(w, user.ID)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}

	user, err := s.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, errAuthRequired("invalid email or password"))
			return
		}
		s.Logger.Error("login: looking up user failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}

	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, errAuthRequired("invalid email or password"))
		return
	}

	s.issueCredential(w, user.ID)
}

func (s *Server) issueCredential(w http.ResponseWriter, userID string) {
	token, err := s.Verifier.Generate(userID, s.TokenTTL)
	if err != nil {
		s.Logger.Error("issuing credential failed", "err", err)
		writeError(w, errInternal("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, credentialResponse{Token: token, UserID: userID, ExpiresAt: time.Now().Add(s.TokenTTL)})
}
