package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/channel"
	"github.com/2389/coven-chat/internal/router"
	"github.com/2389/coven-chat/internal/store"
)

func (s *Server) handleOmniSend(w http.ResponseWriter, r *http.Request) {
	var req omniSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalid("malformed request body"))
		return
	}
	if req.Channel == "" || req.Recipient == "" {
		writeError(w, errInvalid("channel and recipient are required"))
		return
	}

	providerMessageID, err := s.Channels.Send(r.Context(), channel.Kind(req.Channel), channel.OutboundMessage{
		RecipientNativeID: req.Recipient,
		Text: req.Text,
		SessionID: req.Session,
	})
	if err != nil {
		if errors.Is(err, channel.ErrUnknownChannel) {
			writeError(w, errInvalid("unknown channel"))
			return
		}
		writeError(w, errUnavailable("the channel provider is temporarily unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, omniSendResponse{ProviderMessageID: providerMessageID})
}

// handleWebhook returns a handler bound to one channel Kind: verifies the
// provider's signature, normalizes the payload, deduplicates by provider
// message id, and materializes each inbound message as a conversation
// between the external contact and coven-chat's default inbox user before
// handing it to the Router.
func (s *Server) handleWebhook(kind channel.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, errInvalid("could not read request body"))
			return
		}

		sigHeader := r.Header.Get("X-Hub-Signature-256")
		if err := s.Channels.VerifyWebhook(kind, sigHeader, body); err != nil {
			s.Logger.Warn("webhook signature verification failed", "channel", kind, "err", err)
			writeError(w, errForbidden("webhook signature verification failed"))
			return
		}

		msgs, err := channel.ParseMetaWebhook(kind, body)
		if err != nil {
			s.Logger.Warn("webhook payload parsing failed", "channel", kind, "err", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		for _, in := range msgs {
			s.ingestInbound(r.Context(), kind, in)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleWebhookVerification returns a handler answering Meta's GET
// challenge used when a webhook subscription is first configured: it
// echoes hub.challenge back only if hub.verify_token matches the secret
// configured for kind.
func (s *Server) handleWebhookVerification(kind channel.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := s.WebhookVerifyTokens[kind]
		got := r.URL.Query().Get("hub.verify_token")
		if want == "" || got != want {
			writeError(w, errForbidden("verify token mismatch"))
			return
		}
		w.Write([]byte(r.URL.Query().Get("hub.challenge")))
	}
}

func (s *Server) ingestInbound(ctx context.Context, kind channel.Kind, in channel.InboundMessage) {
	if s.Channels.IsDuplicate(kind, in.ProviderNativeID) {
		return
	}

	contact, err := s.Store.GetUserByChannelIdentity(ctx, string(kind), in.ContactNativeID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Logger.Error("looking up channel contact failed", "channel", kind, "err", err)
			return
		}
		contact = &store.User{
			ID: uuid.NewString(),
			DisplayName: in.ContactDisplayName,
			Channel: string(kind),
			ChannelNativeID: in.ContactNativeID,
			CreatedAt: time.Now(),
		}
		if err := s.Store.CreateUser(ctx, contact); err != nil {
			s.Logger.Error("materializing channel contact failed", "channel", kind, "err", err)
			return
		}
	}

	s.Router.HandleInbound(ctx, router.InboundInput{
		ConversationID: store.CanonicalConversationID(s.inboxUserID(), contact.ID),
		AuthorUserID: contact.ID,
		Text: in.Text,
		Kind: in.Kind,
		SourceChannel: kind,
		ChannelRecipientID: in.ContactNativeID,
	})
}

// inboxUserID names the first-party side of every externally-originated
// conversation. coven-chat runs a single shared inbox rather than
// per-agent mailboxes, matching the built-in specialists' shared pool.
func (s *Server) inboxUserID() string {
	return "inbox"
}

func (s *Server) handleDeviceSessionStart(w http.ResponseWriter, r *http.Request) {
	p, err := s.Channels.Provider(channel.KindWhatsAppDeviceSess)
	if err != nil {
		writeError(w, errNotFound("the device-session whatsapp channel is not configured"))
		return
	}
	dp, ok := p.(*channel.DeviceSessionProvider)
	if !ok {
		writeError(w, errNotFound("the device-session whatsapp channel is not configured"))
		return
	}
	status, err := dp.Status(r.Context())
	if err != nil {
		writeError(w, errUnavailable("device-session provider is temporarily unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeviceSessionQR(w http.ResponseWriter, r *http.Request) {
	p, err := s.Channels.Provider(channel.KindWhatsAppDeviceSess)
	if err != nil {
		writeError(w, errNotFound("the device-session whatsapp channel is not configured"))
		return
	}
	dp, ok := p.(*channel.DeviceSessionProvider)
	if !ok {
		writeError(w, errNotFound("the device-session whatsapp channel is not configured"))
		return
	}
	qr, err := dp.QR(r.Context())
	if err != nil {
		writeError(w, errUnavailable("device-session provider is temporarily unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, qr)
}
