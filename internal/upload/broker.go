// Package upload implements the Upload Broker: safe, time-bounded,
// size- and type-checked attachment ingestion. The object store itself is
// an external collaborator; this package only issues and
// validates credentials against it and materializes the resulting
// attachment as a Message via internal/store.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/store"
)

// ErrMimeTypeNotAllowed is returned by Grant when mimeType is outside the
// configured allowlist.
var ErrMimeTypeNotAllowed = errors.New("upload: mime type not allowed")

// ErrDeclaredSizeTooLarge is returned by Grant when declaredSize exceeds
// the configured maximum.
var ErrDeclaredSizeTooLarge = errors.New("upload: declared size exceeds maximum")

// ErrAlreadyConsumed is returned by Confirm for a duplicate confirm on an
// already-consumed key.
var ErrAlreadyConsumed = errors.New("upload: already consumed")

// ObjectStore is the external object-store collaborator's contract: the
// core never proxies bytes, it only issues presigned URLs against it.
type ObjectStore interface {
	PresignWrite(ctx context.Context, objectKey, mimeType string, expiry time.Duration) (url string, err error)
	PresignRead(ctx context.Context, objectKey string, expiry time.Duration) (url string, err error)
}

// Transcriber is the external transcription collaborator's contract.
// Transcription failures are swallowed by the Broker rather than
// failing the upload they're attached to.
type Transcriber interface {
	Transcribe(ctx context.Context, objectKey, mimeType string) (text string, err error)
}

// GrantResult is returned to the client in response to grant(...).
type GrantResult struct {
	ObjectKey string
	WriteURL string
	ExpiresAt time.Time
}

// Broker implements the grant/confirm protocol.
type Broker struct {
	store store.Store
	objects ObjectStore
	transcriber Transcriber
	dedupe *dedupe.Cache
	allowedMime map[string]struct{}
	maxSizeBytes int64
	credentialTTL time.Duration
	logger *slog.Logger
}

// Config configures a Broker.
type Config struct {
	AllowedMimeTypes []string
	MaxSizeBytes int64
	CredentialTTL time.Duration // New replaces values <= 0 or above 10 minutes with 10 minutes
}

// New constructs a Broker. transcriber may be nil to disable async
// transcription entirely.
func New(cfg Config, st store.Store, objects ObjectStore, transcriber Transcriber, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CredentialTTL <= 0 || cfg.CredentialTTL > 10*time.Minute {
		cfg.CredentialTTL = 10 * time.Minute
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMimeTypes))
	for _, m := range cfg.AllowedMimeTypes {
		allowed[m] = struct{}{}
	}
	return &Broker{
		store: st,
		objects: objects,
		transcriber: transcriber,
		dedupe: dedupe.New(cfg.CredentialTTL, 10000),
		allowedMime: allowed,
		maxSizeBytes: cfg.MaxSizeBytes,
		credentialTTL: cfg.CredentialTTL,
		logger: logger.With("component", "upload"),
	}
}

// Close releases the broker's dedup cache background goroutine.
func (b *Broker) Close() { b.dedupe.Close() }

// Grant validates the request, issues an object key and PendingUpload
// record, and returns a short-lived write credential.
func (b *Broker) Grant(ctx context.Context, filename, mimeType string, declaredSize int64, issuerUserID string) (*GrantResult, error) {
	if _, ok := b.allowedMime[mimeType]; !ok {
		return nil, ErrMimeTypeNotAllowed
	}
	if declaredSize > b.maxSizeBytes {
		return nil, ErrDeclaredSizeTooLarge
	}

	key := objectKey(filename, mimeType)
	now := time.Now()
	expiresAt := now.Add(b.credentialTTL)

	if err := b.store.CreatePendingUpload(ctx, &store.PendingUpload{
		ObjectKey: key,
		ExpectedMimeType: mimeType,
		ExpectedMaxSize: declaredSize,
		IssuerUserID: issuerUserID,
		IssuedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("recording pending upload: %w", err)
	}

	writeURL, err := b.objects.PresignWrite(ctx, key, mimeType, b.credentialTTL)
	if err != nil {
		return nil, fmt.Errorf("presigning write url: %w", err)
	}

	return &GrantResult{ObjectKey: key, WriteURL: writeURL, ExpiresAt: expiresAt}, nil
}

// ConfirmInput carries the confirm(...) request parameters.
type ConfirmInput struct {
	ObjectKey string
	Filename string
	MimeType string
	AuthorUserID string
	ConversationID string
	AgentKey string
}

// ConfirmResult carries the materialized message and a short-lived read
// credential for immediate display.
type ConfirmResult struct {
	Message *store.Message
	ReadURL string
}

// Confirm is the commit point: looks up the PendingUpload, consumes it via
// a compare-and-swap, and appends the attachment Message. A duplicate
// confirm on an already-consumed key fails ErrAlreadyConsumed and produces
// no second Message.
func (b *Broker) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	// Fast local rejection of an obviously-in-flight duplicate before
	// touching the database; the store's CAS remains the source of truth.
	if b.dedupe.CheckAndMark(in.ObjectKey) {
		return nil, ErrAlreadyConsumed
	}

	pending, err := b.store.GetPendingUpload(ctx, in.ObjectKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("looking up pending upload: %w", err)
	}
	if pending.Consumed {
		return nil, ErrAlreadyConsumed
	}
	if time.Now().After(pending.ExpiresAt) {
		return nil, store.ErrNotFound
	}

	if err := b.store.ConsumePendingUpload(ctx, in.ObjectKey); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyConsumed
		}
		return nil, fmt.Errorf("consuming pending upload: %w", err)
	}

	kind := kindFromMime(in.MimeType)
	msg := &store.Message{
		ID: newMessageID(),
		Author: in.AuthorUserID,
		ConversationID: in.ConversationID,
		Timestamp: time.Now(),
		Kind: kind,
		DeliveryStatus: store.DeliverySent,
		AgentKey: in.AgentKey,
		Attachment: &store.Attachment{
			ObjectKey: in.ObjectKey,
			OriginalFilename: in.Filename,
			MimeType: in.MimeType,
		},
	}
	stored, err := b.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("appending attachment message: %w", err)
	}

	readURL, err := b.objects.PresignRead(ctx, in.ObjectKey, 10*time.Minute)
	if err != nil {
		b.logger.Warn("presigning read url failed", "object_key", in.ObjectKey, "err", err)
	}

	if kind == store.MessageKindAudio && b.transcriber != nil {
		go b.transcribeAsync(context.WithoutCancel(ctx), stored)
	}

	return &ConfirmResult{Message: stored, ReadURL: readURL}, nil
}

// transcribeAsync appends a best-effort transcription as a follow-up text
// message. Failure is silent; the original audio message is unaffected.
func (b *Broker) transcribeAsync(ctx context.Context, audioMsg *store.Message) {
	text, err := b.transcriber.Transcribe(ctx, audioMsg.Attachment.ObjectKey, audioMsg.Attachment.MimeType)
	if err != nil {
		b.logger.Warn("transcription failed", "message_id", audioMsg.ID, "err", err)
		return
	}
	if text == "" {
		return
	}
	_, err = b.store.AppendMessage(ctx, &store.Message{
		ID: newMessageID(),
		Author: audioMsg.Author,
		ConversationID: audioMsg.ConversationID,
		Timestamp: time.Now(),
		Kind: store.MessageKindText,
		Text: text,
		DeliveryStatus: store.DeliverySent,
		AgentKey: audioMsg.AgentKey,
		TranscriptionOf: audioMsg.ID,
	})
	if err != nil {
		b.logger.Warn("appending transcription message failed", "message_id", audioMsg.ID, "err", err)
	}
}

func kindFromMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return store.MessageKindImage
	case strings.HasPrefix(mimeType, "audio/"):
		return store.MessageKindAudio
	default:
		return store.MessageKindFile
	}
}

func objectKey(filename, mimeType string) string {
	now := time.Now().UTC()
	ext := path.Ext(filename)
	if ext == "" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("messages/%04d/%02d/%02d/%s%s", now.Year(), now.Month(), now.Day(), randomToken(), ext)
}

func randomToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func newMessageID() string {
	return randomToken()
}
