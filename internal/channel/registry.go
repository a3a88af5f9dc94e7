package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/dedupe"
)

// ErrUnknownChannel is returned when no Provider is registered for a Kind.
var ErrUnknownChannel = errors.New("channel: unknown provider")

// Registry holds every configured Provider and the inbound dedup cache
// shared across them.
type Registry struct {
	providers map[Kind]Provider
	verifiers map[Kind]WebhookVerifier
	seen *dedupe.Cache
	logger *slog.Logger
}

// New constructs an empty Registry. seen is the shared dedup cache; pass
// one sized for the expected webhook volume (internal/upload.Broker builds
// its own cache from its credential TTL with a fixed 10,000 entries).
func New(seen *dedupe.Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		providers: make(map[Kind]Provider),
		verifiers: make(map[Kind]WebhookVerifier),
		seen: seen,
		logger: logger.With("component", "channel"),
	}
}

// Register adds a provider and its webhook verifier (verifier may be nil
// for providers with no webhook surface, e.g. a future first-party-only
// deployment).
func (r *Registry) Register(p Provider, verifier WebhookVerifier) {
	r.providers[p.Kind()] = p
	if verifier != nil {
		r.verifiers[p.Kind()] = verifier
	}
}

// Provider looks up the adapter for kind.
func (r *Registry) Provider(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, kind)
	}
	return p, nil
}

// VerifyWebhook validates an inbound webhook's signature for kind, if a
// verifier is registered. Providers with no verifier (used in tests, or
// deployments that terminate TLS and auth at a trusted gateway) always
// pass.
func (r *Registry) VerifyWebhook(kind Kind, signatureHeader string, body []byte) error {
	v, ok := r.verifiers[kind]
	if !ok {
		return nil
	}
	return v.Verify(signatureHeader, body, time.Now())
}

// IsDuplicate reports whether providerNativeID has already been accepted
// for kind, marking it seen as a side effect on first sight.
func (r *Registry) IsDuplicate(kind Kind, providerNativeID string) bool {
	if r.seen == nil || providerNativeID == "" {
		return false
	}
	return r.seen.CheckAndMark(string(kind) + ":" + providerNativeID)
}

// Send dispatches an outbound message through the channel adapter for
// kind. Failure here never blocks persistence — the caller is responsible for stalling delivery status, not
// this method.
func (r *Registry) Send(ctx context.Context, kind Kind, msg OutboundMessage) (string, error) {
	p, err := r.Provider(kind)
	if err != nil {
		return "", err
	}
	providerMessageID, err := p.Send(ctx, msg)
	if err != nil {
		r.logger.Warn("channel send failed", "channel", kind, "recipient", msg.RecipientNativeID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return providerMessageID, nil
}
