package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/handover"
	"github.com/2389/coven-chat/internal/nlu"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/scheduling"
	"github.com/2389/coven-chat/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// fakeLLM is a deterministic test double keyed by the last user message,
// mirroring internal/agent's own test double since it is unexported.
type fakeLLM struct {
	replies map[string]agent.Reply
}

func (f *fakeLLM) Respond(_ context.Context, _ string, _ []agent.HistoryMessage, userMessage string, _ agent.Toolbelt, _ string, _ int) (agent.Reply, error) {
	if r, ok := f.replies[userMessage]; ok {
		return r, nil
	}
	return agent.Reply{Text: "how can I help?"}, nil
}

type fixedClassifier struct {
	out nlu.Classification
	err error
}

func (f fixedClassifier) Classify(context.Context, string) (nlu.Classification, error) {
	return f.out, f.err
}

func newTestRouter(t *testing.T, st store.Store, llm agent.LLM, classifier nlu.Classifier) *Router {
	t.Helper()
	pres := presence.New(nil, nil)
	agents := agent.New(agent.Config{}, nil, llm, nil)
	ho := handover.New(handover.Config{}, st, nil)
	provider := scheduling.NewLocalProvider("http://localhost")
	sched := scheduling.New(scheduling.Config{}, st, provider, nil)
	return New(Config{HistoryWindow: 10}, st, pres, classifier, agents, ho, sched, nil, nil)
}

func waitForMessage(t *testing.T, st store.Store, conversationID string, n int) []store.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := st.GetConversationMessages(context.Background(), conversationID, "", 20)
		require.NoError(t, err)
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages on %s", n, conversationID)
	return nil
}

func TestHandleInbound_PersistsAndRepliesFromConcierge(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentGreeting, Confidence: 0.9}})

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "hello there",
		Kind:           store.MessageKindText,
	})

	msgs := waitForMessage(t, st, "alice:bob", 2)
	// Newest first: [agent reply, original inbound].
	assert.Equal(t, "agent:"+agent.KeyConcierge, msgs[0].Author)
	assert.Equal(t, "how can I help?", msgs[0].Text)
	assert.Equal(t, "alice", msgs[1].Author)
	assert.Equal(t, store.DeliverySent, msgs[1].DeliveryStatus)
}

func TestHandleInbound_ExplicitMentionBypassesClassifier(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{replies: map[string]agent.Reply{
		"need a contract reviewed": {Text: "send it over"},
	}}, fixedClassifier{err: assertError{}})

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "@legal need a contract reviewed",
		Kind:           store.MessageKindText,
	})

	msgs := waitForMessage(t, st, "alice:bob", 2)
	assert.Equal(t, "agent:"+agent.KeyLegal, msgs[0].Author)
	assert.Equal(t, "send it over", msgs[0].Text)
}

type assertError struct{}

func (assertError) Error() string { return "classifier unavailable" }

func TestHandleInbound_OpenTicketSuppressesDispatch(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentGreeting, Confidence: 0.9}})

	_, err := rt.handover.Open(context.Background(), "alice:bob", []string{store.HandoverReasonExplicitRequest}, store.CustomerSnapshot{}, store.ConversationSnapshot{})
	require.NoError(t, err)

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "still need help",
		Kind:           store.MessageKindText,
	})

	// Only the original inbound message is persisted; no agent reply.
	time.Sleep(50 * time.Millisecond)
	msgs, err := st.GetConversationMessages(context.Background(), "alice:bob", "", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alice", msgs[0].Author)
}

func TestHandleInbound_TicketCommandOpensHandoverAndReplies(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentGreeting, Confidence: 0.9}})

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "/ticket",
		Kind:           store.MessageKindText,
	})

	msgs := waitForMessage(t, st, "alice:bob", 2)
	assert.Equal(t, "system", msgs[0].Author)
	assert.Contains(t, msgs[0].Text, "Ticket opened")

	open, err := rt.handover.OpenTicketFor(context.Background(), "alice:bob")
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestHandleInbound_ResolveCommandWithNoOpenTicket(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentGreeting, Confidence: 0.9}})

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "/resolve all good",
		Kind:           store.MessageKindText,
	})

	msgs := waitForMessage(t, st, "alice:bob", 2)
	assert.Equal(t, "system", msgs[0].Author)
	assert.Contains(t, msgs[0].Text, "no open ticket")
}

func TestHandleInbound_LowConfidenceTriggersHandoverOnSecondStrike(t *testing.T) {
	st := newTestStore(t)
	classifier := &sequencedClassifier{outs: []nlu.Classification{
		{Intent: nlu.IntentGreeting, Confidence: 0.2},
		{Intent: nlu.IntentGreeting, Confidence: 0.2},
	}}
	rt := newTestRouter(t, st, &fakeLLM{}, classifier)
	rt.handover = handover.New(handover.Config{ConfidenceFloor: 0.5}, st, nil)

	rt.HandleInbound(context.Background(), InboundInput{ConversationID: "alice:bob", AuthorUserID: "alice", Text: "uh", Kind: store.MessageKindText})
	waitForMessage(t, st, "alice:bob", 1)

	rt.HandleInbound(context.Background(), InboundInput{ConversationID: "alice:bob", AuthorUserID: "alice", Text: "uh again", Kind: store.MessageKindText})
	msgs := waitForMessage(t, st, "alice:bob", 3)

	assert.Equal(t, "system", msgs[0].Author)
	open, err := rt.handover.OpenTicketFor(context.Background(), "alice:bob")
	require.NoError(t, err)
	assert.NotNil(t, open)
}

type sequencedClassifier struct {
	outs []nlu.Classification
	i    int
}

func (s *sequencedClassifier) Classify(context.Context, string) (nlu.Classification, error) {
	out := s.outs[s.i]
	if s.i < len(s.outs)-1 {
		s.i++
	}
	return out, nil
}

func TestHandleInbound_ScheduleToolCallCommitsMeeting(t *testing.T) {
	st := newTestStore(t)
	start := time.Now().UTC().Add(48 * time.Hour)
	for start.Weekday() == time.Saturday || start.Weekday() == time.Sunday {
		start = start.Add(24 * time.Hour)
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), 11, 0, 0, 0, time.UTC)

	llm := &fakeLLM{replies: map[string]agent.Reply{
		"book it": {
			Text: "Booking that now.",
			ToolCall: &agent.ToolCall{
				Name: agent.ToolScheduleMeeting,
				Arguments: map[string]any{
					"customer_email": "customer@example.com",
					"start":          start.Format(time.RFC3339),
				},
			},
		},
	}}
	rt := newTestRouter(t, st, llm, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentScheduling, Confidence: 0.9}})

	rt.HandleInbound(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		AuthorUserID:   "alice",
		Text:           "book it",
		Kind:           store.MessageKindText,
	})

	msgs := waitForMessage(t, st, "alice:bob", 3)
	assert.Contains(t, msgs[0].Text, "booked")
	assert.Equal(t, "agent:"+agent.KeySDR, msgs[1].Author)
}

func TestResolveAddressee_PanelContextTierWinsOverClassifier(t *testing.T) {
	st := newTestStore(t)
	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{out: nlu.Classification{Intent: nlu.IntentLegal, Confidence: 0.9}})

	_, key := rt.resolveAddressee(context.Background(), InboundInput{
		ConversationID: "alice:bob",
		Text:           "plain text",
		PanelAgentKey:  agent.KeySDR,
	})
	assert.Equal(t, agent.KeySDR, key)
}

func TestCustomerSnapshot_ResolvesExternalContactSide(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	err := st.CreateUser(ctx, &store.User{ID: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
	err = st.CreateUser(ctx, &store.User{ID: "wa:5511999999999", DisplayName: "Ana", Email: "ana@example.com", Channel: "whatsapp_cloud", ChannelNativeID: "5511999999999"})
	require.NoError(t, err)

	rt := newTestRouter(t, st, &fakeLLM{}, fixedClassifier{})
	snap := rt.customerSnapshot(ctx, "alice:wa:5511999999999")
	assert.Equal(t, "Ana", snap.Name)
	assert.Equal(t, "ana@example.com", snap.Email)
}
