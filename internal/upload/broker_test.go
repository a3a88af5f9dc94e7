package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

type fakeObjectStore struct{}

func (fakeObjectStore) PresignWrite(ctx context.Context, key, mimeType string, expiry time.Duration) (string, error) {
	return "https://objects.invalid/write/" + key, nil
}

func (fakeObjectStore) PresignRead(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.invalid/read/" + key, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, objectKey, mimeType string) (string, error) {
	return f.text, f.err
}

func newTestBroker(t *testing.T) (*Broker, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := New(Config{
		AllowedMimeTypes: []string{"image/png", "audio/mpeg"},
		MaxSizeBytes:     2 << 20,
		CredentialTTL:    5 * time.Minute,
	}, st, fakeObjectStore{}, nil, nil)
	t.Cleanup(b.Close)
	return b, st
}

func TestGrant_RejectsDisallowedMimeType(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Grant(context.Background(), "x.exe", "application/x-msdownload", 100, "user-1")
	require.ErrorIs(t, err, ErrMimeTypeNotAllowed)
}

func TestGrant_RejectsOversizedDeclaration(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Grant(context.Background(), "x.png", "image/png", 10<<20, "user-1")
	require.ErrorIs(t, err, ErrDeclaredSizeTooLarge)
}

func TestGrant_AcceptsExactlyMaxSize(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Grant(context.Background(), "x.png", "image/png", 2<<20, "user-1")
	require.NoError(t, err)
}

func TestConfirm_MaterializesMessage(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx := context.Background()

	grant, err := b.Grant(ctx, "x.png", "image/png", 1024, "user-1")
	require.NoError(t, err)

	result, err := b.Confirm(ctx, ConfirmInput{
		ObjectKey:      grant.ObjectKey,
		Filename:       "x.png",
		MimeType:       "image/png",
		AuthorUserID:   "user-1",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	require.Equal(t, store.MessageKindImage, result.Message.Kind)
	require.NotEmpty(t, result.ReadURL)
}

func TestConfirm_DuplicateFailsAlreadyConsumed(t *testing.T) {
	b, st := newTestBroker(t)
	ctx := context.Background()

	grant, err := b.Grant(ctx, "x.png", "image/png", 1024, "user-1")
	require.NoError(t, err)

	in := ConfirmInput{
		ObjectKey:      grant.ObjectKey,
		Filename:       "x.png",
		MimeType:       "image/png",
		AuthorUserID:   "user-1",
		ConversationID: "conv-1",
	}
	_, err = b.Confirm(ctx, in)
	require.NoError(t, err)

	_, err = b.Confirm(ctx, in)
	require.ErrorIs(t, err, ErrAlreadyConsumed)

	msgs, err := st.GetConversationMessages(ctx, "conv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "exactly one Message must exist after a duplicate confirm")
}

func TestConfirm_UnknownKeyFailsNotFound(t *testing.T) {
	b, _ := newTestBroker(t)
	_, err := b.Confirm(context.Background(), ConfirmInput{ObjectKey: "ghost-key", MimeType: "image/png"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirm_AudioSchedulesTranscription(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := New(Config{
		AllowedMimeTypes: []string{"audio/mpeg"},
		MaxSizeBytes:     2 << 20,
	}, st, fakeObjectStore{}, fakeTranscriber{text: "hello there"}, nil)
	t.Cleanup(b.Close)

	ctx := context.Background()
	grant, err := b.Grant(ctx, "voice.mp3", "audio/mpeg", 1024, "user-1")
	require.NoError(t, err)

	_, err = b.Confirm(ctx, ConfirmInput{
		ObjectKey:      grant.ObjectKey,
		Filename:       "voice.mp3",
		MimeType:       "audio/mpeg",
		AuthorUserID:   "user-1",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs, err := st.GetConversationMessages(ctx, "conv-1", "", 10)
		return err == nil && len(msgs) == 2
	}, time.Second, 10*time.Millisecond, "transcription message should appear asynchronously")
}
