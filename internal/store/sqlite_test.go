package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *SQLiteStore, email string) *User {
	t.Helper()
	u := &User{
		ID:          uuid.NewString(),
		DisplayName: "Test User",
		Email:       email,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestCreateUser_GetByID(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "Alice@Example.com")

	got, err := s.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email) // lower-cased per §3
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetUserByChannelIdentity(t *testing.T) {
	s := newTestStore(t)
	u := &User{
		ID:              uuid.NewString(),
		DisplayName:     "WhatsApp Contact",
		Email:           "wa-" + uuid.NewString() + "@external.invalid",
		Channel:         "whatsapp_cloud",
		ChannelNativeID: "5511999998888",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.True(t, u.IsExternalContact())

	got, err := s.GetUserByChannelIdentity(context.Background(), "whatsapp_cloud", "5511999998888")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
}

func TestAppendMessage_TextRequiresNonEmptyText(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "a@example.com")

	_, err := s.AppendMessage(context.Background(), &Message{
		ID:             uuid.NewString(),
		Author:         u.ID,
		ConversationID: "conv-1",
		Timestamp:      time.Now(),
		Kind:           MessageKindText,
		Text:           "",
	})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestAppendMessage_AttachmentRequiresReference(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "a@example.com")

	_, err := s.AppendMessage(context.Background(), &Message{
		ID:             uuid.NewString(),
		Author:         u.ID,
		ConversationID: "conv-1",
		Timestamp:      time.Now(),
		Kind:           MessageKindImage,
	})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestAppendMessage_ClientTempIDIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "a@example.com")
	ctx := context.Background()

	msg := &Message{
		ID:             uuid.NewString(),
		Author:         u.ID,
		ConversationID: "conv-1",
		Timestamp:      time.Now(),
		Kind:           MessageKindText,
		Text:           "hi",
		ClientTempID:   "temp-1",
	}
	first, err := s.AppendMessage(ctx, msg)
	require.NoError(t, err)

	retry := &Message{
		ID:             uuid.NewString(), // client retries with a fresh local id attempt but same tempId
		Author:         u.ID,
		ConversationID: "conv-1",
		Timestamp:      time.Now(),
		Kind:           MessageKindText,
		Text:           "hi",
		ClientTempID:   "temp-1",
	}
	second, err := s.AppendMessage(ctx, retry)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "retried send with same tempId must not duplicate persistence")

	all, err := s.GetConversationMessages(ctx, "conv-1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetConversationMessages_Pagination(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "a@example.com")
	ctx := context.Background()

	base := time.Now()
	var ids []string
	for i := 0; i < 5; i++ {
		msg := &Message{
			ID:             uuid.NewString(),
			Author:         u.ID,
			ConversationID: "conv-1",
			Timestamp:      base.Add(time.Duration(i) * time.Second),
			Kind:           MessageKindText,
			Text:           "message",
		}
		stored, err := s.AppendMessage(ctx, msg)
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	page1, err := s.GetConversationMessages(ctx, "conv-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, ids[4], page1[0].ID) // most recent first
	require.Equal(t, ids[3], page1[1].ID)

	page2, err := s.GetConversationMessages(ctx, "conv-1", page1[len(page1)-1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, ids[2], page2[0].ID)
	require.Equal(t, ids[1], page2[1].ID)
}

func TestTransitionMessageStatus_DowngradeIsNoOp(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s, "a@example.com")
	ctx := context.Background()

	stored, err := s.AppendMessage(ctx, &Message{
		ID:             uuid.NewString(),
		Author:         u.ID,
		ConversationID: "conv-1",
		Timestamp:      time.Now(),
		Kind:           MessageKindText,
		Text:           "hi",
		DeliveryStatus: DeliverySent,
	})
	require.NoError(t, err)

	require.NoError(t, s.TransitionMessageStatus(ctx, stored.ID, DeliveryDelivered))
	require.NoError(t, s.TransitionMessageStatus(ctx, stored.ID, DeliverySent)) // downgrade, no-op

	msgs, err := s.GetConversationMessages(ctx, "conv-1", "", 1)
	require.NoError(t, err)
	require.Equal(t, DeliveryDelivered, msgs[0].DeliveryStatus)
}

func TestTransitionMessageStatus_MissingMessageIsSilentNoOp(t *testing.T) {
	s := newTestStore(t)
	err := s.TransitionMessageStatus(context.Background(), "ghost-message", DeliveryRead)
	require.NoError(t, err)
}

func TestMarkConversationRead_Idempotent(t *testing.T) {
	s := newTestStore(t)
	alice := newTestUser(t, s, "alice@example.com")
	bob := newTestUser(t, s, "bob@example.com")
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, &Message{
		ID: uuid.NewString(), Author: bob.ID, ConversationID: "conv-1",
		Timestamp: time.Now(), Kind: MessageKindText, Text: "hi", DeliveryStatus: DeliverySent,
	})
	require.NoError(t, err)

	asOf := time.Now()
	advanced, err := s.MarkConversationRead(ctx, "conv-1", alice.ID, asOf)
	require.NoError(t, err)
	require.Len(t, advanced, 1)

	advancedAgain, err := s.MarkConversationRead(ctx, "conv-1", alice.ID, asOf)
	require.NoError(t, err)
	require.Empty(t, advancedAgain, "second call with same asOf must be a no-op")
}

func TestRecentPerPeer(t *testing.T) {
	s := newTestStore(t)
	alice := newTestUser(t, s, "alice@example.com")
	bob := newTestUser(t, s, "bob@example.com")
	ctx := context.Background()

	convID := alice.ID + ":" + bob.ID
	_, err := s.AppendMessage(ctx, &Message{
		ID: uuid.NewString(), Author: bob.ID, ConversationID: convID,
		Timestamp: time.Now(), Kind: MessageKindText, Text: "hello", DeliveryStatus: DeliverySent,
	})
	require.NoError(t, err)

	summaries, err := s.RecentPerPeer(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, bob.ID, summaries[0].PeerUserID)
	require.Equal(t, 1, summaries[0].UnreadCount)
	require.Equal(t, "hello", summaries[0].LastMessage.Text)
}

func TestHandoverTicket_AcceptIsCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket := &HandoverTicket{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		TriggerReason:  HandoverReasonComplaint,
		Priority:       4,
		Status:         HandoverStatusPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.CreateHandoverTicket(ctx, ticket))

	require.NoError(t, s.AcceptHandoverTicket(ctx, ticket.ID, "operator-a", time.Now()))

	err := s.AcceptHandoverTicket(ctx, ticket.ID, "operator-b", time.Now())
	require.ErrorIs(t, err, ErrConflict)

	got, err := s.GetHandoverTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, "operator-a", got.AssignedAgent)
	require.Equal(t, HandoverStatusAccepted, got.Status)
}

func TestGetOpenHandoverTicketForConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ticket := &HandoverTicket{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		TriggerReason:  HandoverReasonExplicitRequest,
		Priority:       3,
		Status:         HandoverStatusPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, s.CreateHandoverTicket(ctx, ticket))

	open, err := s.GetOpenHandoverTicketForConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, ticket.ID, open.ID)

	require.NoError(t, s.ResolveHandoverTicket(ctx, ticket.ID, "handled", time.Now()))

	_, err = s.GetOpenHandoverTicketForConversation(ctx, "conv-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCalendarCommitment_DedupKeyPreventsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	commitment := &CalendarCommitment{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		AgentKey:       "sdr",
		CustomerEmail:  "x@y.com",
		Start:          time.Now(),
		End:             time.Now().Add(time.Hour),
		Status:          CalendarStatusConfirmed,
		DedupKey:        "conv-1|2025-12-01T14:00:00Z|x@y.com",
		CreatedAt:       time.Now(),
	}
	require.NoError(t, s.CreateCalendarCommitment(ctx, commitment))

	duplicate := *commitment
	duplicate.ID = uuid.NewString()
	err := s.CreateCalendarCommitment(ctx, &duplicate)
	require.ErrorIs(t, err, ErrConflict)

	got, err := s.GetCalendarCommitmentByDedupKey(ctx, commitment.DedupKey)
	require.NoError(t, err)
	require.Equal(t, commitment.ID, got.ID)
}

func TestCustomAgent_CreateGetListDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &CustomAgent{
		Key:          "legal-bot",
		DisplayName:  "Legal Bot",
		SystemPrompt: "You are a legal specialist.",
		AllowedTools: []string{"fetch_availability"},
		AutoCommit:   true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateCustomAgent(ctx, agent))

	got, err := s.GetCustomAgent(ctx, "legal-bot")
	require.NoError(t, err)
	require.Equal(t, []string{"fetch_availability"}, got.AllowedTools)
	require.True(t, got.AutoCommit)

	all, err := s.ListCustomAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, s.DeleteCustomAgent(ctx, "legal-bot"))
	_, err = s.GetCustomAgent(ctx, "legal-bot")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPendingUpload_ConsumeIsCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	upload := &PendingUpload{
		ObjectKey:        "messages/2025/12/01/abcd.png",
		ExpectedMimeType: "image/png",
		ExpectedMaxSize:  1 << 20,
		IssuerUserID:     "user-1",
		IssuedAt:         time.Now(),
		ExpiresAt:        time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, s.CreatePendingUpload(ctx, upload))

	require.NoError(t, s.ConsumePendingUpload(ctx, upload.ObjectKey))

	err := s.ConsumePendingUpload(ctx, upload.ObjectKey)
	require.ErrorIs(t, err, ErrConflict)
}

func TestPendingUpload_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.ConsumePendingUpload(context.Background(), "ghost-key")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInteractionLog_AppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendInteractionLog(ctx, &InteractionLog{
		ID:             uuid.NewString(),
		ConversationID: "conv-1",
		Direction:      "inbound",
		Intent:         "scheduling",
		Confidence:     0.87,
		Method:         "model",
		CreatedAt:      time.Now(),
	}))

	entries, err := s.ListInteractionLog(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "model", entries[0].Method)
}
