package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/upload"
)

func (s *Server) handleUploadGrant(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	var req uploadGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}

	result, err := s.Uploads.Grant(r.Context(), req.Filename, req.MimeType, req.Size, authCtx.UserID)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrMimeTypeNotAllowed):
			writeError(w, errInvalid("mime type not allowed"))
		case errors.Is(err, upload.ErrDeclaredSizeTooLarge):
			writeError(w, errInvalid("declared size exceeds the allowed maximum"))
		default:
			s.Logger.Error("upload grant failed", "err", err)
			writeError(w, errInternal("internal error"))
		}
		return
	}

	writeJSON(w, http.StatusOK, uploadGrantResponse{Key: result.ObjectKey, PutURL: result.WriteURL})
}

func (s *Server) handleUploadConfirm(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	var req uploadConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Key == "" || req.ConversationContext == "" {
		writeError(w, errInvalid("key and conversationContext are required"))
		return
	}

	conversationID := store.CanonicalConversationID(authCtx.UserID, req.ConversationContext)
	result, err := s.Uploads.Confirm(r.Context(), upload.ConfirmInput{
		ObjectKey: req.Key,
		Filename: req.Filename,
		MimeType: req.MimeType,
		AuthorUserID: authCtx.UserID,
		ConversationID: conversationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrAlreadyConsumed):
			writeError(w, errConflict("this upload credential has already been used"))
		case errors.Is(err, store.ErrNotFound):
			writeError(w, errNotFound("no pending upload for this key"))
		default:
			s.Logger.Error("upload confirm failed", "err", err)
			writeError(w, errInternal("internal error"))
		}
		return
	}

	s.Presence.BroadcastMessage(r.Context(), conversationID, result.Message.Author, result.Message.AgentKey, messageEvent(result.Message))
	writeJSON(w, http.StatusOK, map[string]any{"message": toMessageView(*result.Message), "readUrl": result.ReadURL})
}
