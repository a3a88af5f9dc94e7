// Package channel defines the outbound channel adapter contracts:
// each provider exposes Send and an inbound normalization path that turns
// a provider-native payload into an InboundMessage the Router can persist
// without knowing which transport it arrived on.
package channel

import (
	"context"
	"errors"
	"time"
)

// Kind identifies a channel provider.
type Kind string

const (
	KindWhatsAppCloud Kind = "whatsapp_cloud"
	KindWhatsAppDeviceSess Kind = "whatsapp_device"
	KindInstagram Kind = "instagram"
	KindFacebookMessenger Kind = "messenger"
)

// ErrSendFailed wraps a deadline-bounded provider send failure.
var ErrSendFailed = errors.New("channel: send failed")

// ErrUnverifiedWebhook is returned when inbound webhook signature
// verification fails.
var ErrUnverifiedWebhook = errors.New("channel: unverified webhook")

// InboundMessage is the normalized shape every provider's webhook handler
// produces, independent of the provider's wire format.
type InboundMessage struct {
	Channel Kind
	ProviderNativeID string // the provider's message id, used for dedup
	ContactNativeID string // the provider's native contact/sender id
	ContactDisplayName string
	Kind string // store.MessageKindText/Image/Audio/File
	Text string
	MediaURL string // present for image/audio/file kinds
	MimeType string
	AtProvider time.Time
}

// OutboundMessage is what the Router hands a Provider to dispatch.
type OutboundMessage struct {
	RecipientNativeID string
	Text string
	MediaURL string
	MimeType string
	SessionID string // device-session WhatsApp variant only
}

// Provider is the contract every channel adapter implements: identify its
// own kind and send a message, returning the provider-native message id.
type Provider interface {
	Kind() Kind
	Send(ctx context.Context, msg OutboundMessage) (providerMessageID string, err error)
}

// WebhookVerifier validates an inbound webhook's signature against a
// provider-specific secret before the payload is trusted.
type WebhookVerifier interface {
	Verify(signatureHeader string, body []byte, now time.Time) error
}
