// Package api wires every core component behind the HTTP and real-time
// surfaces coven-chat exposes to clients: first-party web, the operator
// console, and the inbound channel webhooks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/channel"
	"github.com/2389/coven-chat/internal/handover"
	"github.com/2389/coven-chat/internal/nlu"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/router"
	"github.com/2389/coven-chat/internal/scheduling"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/upload"
)

// Server holds every shared dependency as an explicit field, built once at
// startup and passed down through every handler. Nothing here is reached
// through a package-level singleton.
type Server struct {
	Store store.Store
	Presence *presence.Registry
	Router *router.Router
	Handover *handover.Queue
	Scheduling *scheduling.Machine
	Agents *agent.Registry
	Uploads *upload.Broker
	Channels *channel.Registry
	Classifier nlu.Classifier
	Verifier *auth.JWTVerifier
	Objects http.Handler

	// WebhookVerifyTokens holds the per-channel shared secret Meta's GET
	// handshake presents as hub.verify_token when a webhook subscription
	// is first configured.
	WebhookVerifyTokens map[channel.Kind]string

	TokenTTL time.Duration
	Logger *slog.Logger

	httpServer *http.Server
}

// Config bounds server-level knobs that do not belong to any one
// dependency: the listen address and the auth token lifetime.
type Config struct {
	HTTPAddr string
	TokenTTL time.Duration
}

// New constructs a Server and its routing table. Every handler closes over
// srv rather than a package-level variable.
func New(cfg Config, deps Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	deps.TokenTTL = cfg.TokenTTL
	deps.Logger = logger.With("component", "api")

	mux := deps.routes()
	deps.httpServer = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &deps
}

// routes builds the full HTTP routing table, wrapping authenticated routes
// in auth.HTTPAuthMiddleware.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	authed := auth.HTTPAuthMiddleware(s.Store, s.Verifier, s.Logger)

	// Health/readiness: unauthenticated, for load balancers and operators.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	// Auth.
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	// Real-time event surface. Browsers cannot set an Authorization header
	// on the WebSocket upgrade request, so this route authenticates from
	// a token query parameter itself rather than through authed.
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Messages/contacts.
	mux.Handle("GET /messages", authed(http.HandlerFunc(s.handleGlobalMessages)))
	mux.Handle("GET /contacts/", authed(http.HandlerFunc(s.handleListContacts)))
	mux.Handle("GET /contacts/{id}/messages", authed(http.HandlerFunc(s.handleContactMessages)))
	mux.Handle("PUT /contacts/{id}/read", authed(http.HandlerFunc(s.handleMarkRead)))

	// Uploads.
	mux.Handle("POST /uploads/grant", authed(http.HandlerFunc(s.handleUploadGrant)))
	mux.Handle("POST /uploads/confirm", authed(http.HandlerFunc(s.handleUploadConfirm)))

	// Agent panels / custom bots.
	mux.Handle("GET /agents/{key}/messages", authed(http.HandlerFunc(s.handleAgentMessages)))
	mux.Handle("POST /custom-bots", authed(http.HandlerFunc(s.handleCreateCustomBot)))
	mux.Handle("GET /custom-bots", authed(http.HandlerFunc(s.handleListCustomBots)))
	mux.Handle("DELETE /custom-bots/{key}", authed(http.HandlerFunc(s.handleDeleteCustomBot)))

	// NLU.
	mux.Handle("POST /nlu/analyze", authed(http.HandlerFunc(s.handleNLUAnalyze)))

	// Handovers.
	mux.Handle("POST /handovers/", authed(http.HandlerFunc(s.handleOpenHandover)))
	mux.Handle("GET /handovers/", authed(http.HandlerFunc(s.handleListHandovers)))
	mux.Handle("PUT /handovers/{id}/accept", authed(http.HandlerFunc(s.handleAcceptHandover)))
	mux.Handle("PUT /handovers/{id}/in-progress", authed(http.HandlerFunc(s.handleHandoverInProgress)))
	mux.Handle("PUT /handovers/{id}/resolve", authed(http.HandlerFunc(s.handleResolveHandover)))
	mux.Handle("DELETE /handovers/{id}", authed(http.HandlerFunc(s.handleCancelHandover)))
	mux.Handle("GET /handovers/stats/summary", authed(http.HandlerFunc(s.handleHandoverStats)))

	// Calendar / scheduling.
	mux.Handle("GET /calendar/auth-status", authed(http.HandlerFunc(s.handleCalendarAuthStatus)))
	mux.Handle("POST /calendar/events", authed(http.HandlerFunc(s.handleCreateCalendarEvent)))
	mux.Handle("GET /calendar/events", authed(http.HandlerFunc(s.handleListCalendarEvents)))
	mux.Handle("PUT /calendar/events/{id}", authed(http.HandlerFunc(s.handleUpdateCalendarEvent)))
	mux.Handle("DELETE /calendar/events/{id}", authed(http.HandlerFunc(s.handleDeleteCalendarEvent)))
	mux.Handle("GET /calendar/availability", authed(http.HandlerFunc(s.handleCalendarAvailability)))
	mux.Handle("GET /calendar/available-slots", authed(http.HandlerFunc(s.handleAvailableSlots)))

	// Omnichannel send + inbound webhooks. Webhooks authenticate via
	// per-provider signature verification, not bearer credentials.
	mux.Handle("POST /omni/send", authed(http.HandlerFunc(s.handleOmniSend)))
	mux.HandleFunc("POST /webhooks/whatsapp-cloud", s.handleWebhook(channel.KindWhatsAppCloud))
	mux.HandleFunc("GET /webhooks/whatsapp-cloud", s.handleWebhookVerification(channel.KindWhatsAppCloud))
	mux.HandleFunc("POST /webhooks/instagram", s.handleWebhook(channel.KindInstagram))
	mux.HandleFunc("GET /webhooks/instagram", s.handleWebhookVerification(channel.KindInstagram))
	mux.HandleFunc("POST /webhooks/messenger", s.handleWebhook(channel.KindFacebookMessenger))
	mux.HandleFunc("GET /webhooks/messenger", s.handleWebhookVerification(channel.KindFacebookMessenger))

	// Device-session WhatsApp variant: session lifecycle endpoints.
	mux.Handle("POST /whatsapp-device/sessions/start", authed(http.HandlerFunc(s.handleDeviceSessionStart)))
	mux.Handle("GET /whatsapp-device/sessions/qr", authed(http.HandlerFunc(s.handleDeviceSessionQR)))

	// Uploaded media, served back through the local object store's
	// presigned-URL handler when no external blob store is configured.
	if s.Objects != nil {
		mux.Handle("GET /objects/", s.Objects)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Store.GetGlobalRecentMessages(r.Context(), 1); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// drains in-flight requests before returning.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully drains in-flight HTTP requests.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.Logger.Info("shutting down http server")
	return s.httpServer.Shutdown(shutdownCtx)
}
