// HTTP middleware for bearer-credential authentication on API endpoints.
// Extracts the token from the Authorization header and attaches the
// authenticated user to the request context.

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// UserExistsChecker is the minimal store dependency the middleware needs:
// confirming the user named by a verified token still exists.
type UserExistsChecker interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// HTTPAuthMiddleware extracts and validates a bearer credential, confirms
// the named user still exists, and attaches an AuthContext to the request.
// Every real-time connection and request carries this credential.
func HTTPAuthMiddleware(users UserExistsChecker, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, status, reason := authenticate(r, users, verifier)
			if reason != "" {
				logAuthFailure(logger, reason, r)
				writeAuthError(w, status, reason)
				return
			}
			authCtx := &AuthContext{UserID: userID}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attempts bearer-credential auth but allows the
// request through unauthenticated on any failure.
func OptionalAuthMiddleware(users UserExistsChecker, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, _, reason := authenticate(r, users, verifier)
			if reason == "" {
				r = r.WithContext(WithAuth(r.Context(), &AuthContext{UserID: userID}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, users UserExistsChecker, verifier TokenVerifier) (userID string, status int, reason string) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return "", http.StatusUnauthorized, "token_extraction_failed"
	}

	userID, err := verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrExpiredToken) {
			return "", http.StatusUnauthorized, "token_expired"
		}
		return "", http.StatusUnauthorized, "token_verification_failed"
	}

	exists, err := users.UserExists(r.Context(), userID)
	if err != nil || !exists {
		return "", http.StatusUnauthorized, "user_not_found"
	}

	return userID, 0, ""
}

func logAuthFailure(logger *slog.Logger, reason string, r *http.Request) {
	if logger == nil {
		return
	}
	logger.Warn("http auth failure", slog.String("reason", reason), slog.String("path", r.URL.Path))
}
