package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/agent"
	"github.com/2389/coven-chat/internal/channel"
	"github.com/2389/coven-chat/internal/handover"
	"github.com/2389/coven-chat/internal/nlu"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/scheduling"
	"github.com/2389/coven-chat/internal/store"
)

// intentAgent maps an NLU taxonomy label to the built-in specialist that
// owns it.
// Unmapped intents fall through to the concierge default.
var intentAgent = map[string]string{
	nlu.IntentScheduling:       agent.KeySDR,
	nlu.IntentPurchase:         agent.KeySDR,
	nlu.IntentLegal:            agent.KeyLegal,
	nlu.IntentTechnicalSupport: agent.KeyConcierge,
	nlu.IntentCancellation:     agent.KeyCommercial,
}

// Config bounds the Router's own behavior: how much history an agent call
// sees.
type Config struct {
	HistoryWindow int
}

// InboundInput is everything the real-time/HTTP ingress layer gathers
// before handing a message to the Router.
type InboundInput struct {
	ConversationID string
	AuthorUserID   string
	Text           string
	Kind           string
	Attachment     *store.Attachment
	ClientTempID   string
	// PanelAgentKey is set when the client sent this from within an open
	// agent panel.
	PanelAgentKey string
	// SourceChannel and ChannelRecipientID are set when this conversation
	// originated from an external channel adapter.
	SourceChannel      channel.Kind
	ChannelRecipientID string
}

// Router is the central decision function.
type Router struct {
	store      store.Store
	presence   *presence.Registry
	classifier nlu.Classifier
	agents     *agent.Registry
	handover   *handover.Queue
	scheduling *scheduling.Machine
	channels   *channel.Registry
	dispatcher *Dispatcher

	historyWindow int
	logger        *slog.Logger
}

// New constructs a Router.
func New(cfg Config, st store.Store, pres *presence.Registry, classifier nlu.Classifier, agents *agent.Registry, ho *handover.Queue, sched *scheduling.Machine, channels *channel.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	return &Router{
		store: st,
		presence: pres,
		classifier: classifier,
		agents: agents,
		handover: ho,
		scheduling: sched,
		channels: channels,
		dispatcher: NewDispatcher(logger),
		historyWindow: cfg.HistoryWindow,
		logger: logger.With("component", "router"),
	}
}

// HandleInbound enqueues in onto its conversation's serialized worker
// and returns immediately; the caller observes the
// result through persisted messages and presence broadcasts, not a
// return value, matching the fire-and-persist shape the real-time
// ingress path needs.
func (rt *Router) HandleInbound(ctx context.Context, in InboundInput) {
	rt.dispatcher.Enqueue(in.ConversationID, func() {
		workCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		rt.handle(workCtx, in)
	})
}

func (rt *Router) handle(ctx context.Context, in InboundInput) {
	// 1. Persist (pending -> sent).
	msg := &store.Message{
		ID: uuid.NewString(),
		Author: in.AuthorUserID,
		ConversationID: in.ConversationID,
		Timestamp: time.Now(),
		Kind: in.Kind,
		Text: in.Text,
		Attachment: in.Attachment,
		DeliveryStatus: store.DeliveryPending,
		ClientTempID: in.ClientTempID,
	}
	saved, err := rt.store.AppendMessage(ctx, msg)
	if err != nil {
		rt.logger.Error("persisting inbound message failed", "conversation_id", in.ConversationID, "err", err)
		return
	}
	if err := rt.store.TransitionMessageStatus(ctx, saved.ID, store.DeliverySent); err != nil {
		rt.logger.Warn("advancing inbound message to sent failed", "message_id", saved.ID, "err", err)
	} else {
		saved.DeliveryStatus = store.DeliverySent
	}

	// 2. Fan out.
	rt.broadcastMessage(ctx, saved)

	// 3. Open-handover gate: no dispatch while a ticket is pending, accepted or in progress.
	openTicket, err := rt.handover.OpenTicketFor(ctx, in.ConversationID)
	if err != nil {
		rt.logger.Error("checking open handover ticket failed", "conversation_id", in.ConversationID, "err", err)
		return
	}
	if openTicket != nil {
		return
	}

	// Command layer: a leading "/" short-circuits straight to handover
	// operations, bypassing agent dispatch entirely.
	if cmdName, cmdArgs, ok := parseCommand(in.Text); ok {
		if result, handled := rt.runCommand(ctx, in.ConversationID, in.AuthorUserID, cmdName, cmdArgs); handled {
			rt.replyAsSystem(ctx, in.ConversationID, result.replyText)
			return
		}
	}

	// 4. Resolve addressee.
	classification, addressee := rt.resolveAddressee(ctx, in)

	// 5. Evaluate handover triggers.
	evalIn := handover.EvaluateInput{
		ConversationID: in.ConversationID,
		Confidence: 1,
	}
	if classification != nil {
		evalIn.Intent = classification.Intent
		evalIn.Confidence = classification.Confidence
	}
	if reasons := rt.handover.Evaluate(evalIn); len(reasons) > 0 {
		customer := rt.customerSnapshot(ctx, in.ConversationID)
		snapshot := rt.conversationSnapshot(ctx, in.ConversationID)
		ticket, err := rt.handover.Open(ctx, in.ConversationID, reasons, customer, snapshot)
		if err != nil {
			rt.logger.Error("opening handover ticket failed", "conversation_id", in.ConversationID, "err", err)
			return
		}
		rt.replyAsSystem(ctx, in.ConversationID, handover.CustomerAcknowledgement(ticket.TriggerReason))
		return
	}

	if addressee == "" {
		return
	}

	// 6. Invoke the agent.
	a, err := rt.agents.Get(ctx, addressee)
	if err != nil {
		if !errors.Is(err, agent.ErrAgentNotFound) {
			rt.logger.Error("resolving agent failed", "agent_key", addressee, "err", err)
		}
		return
	}

	history := rt.recentHistory(ctx, in.ConversationID)
	userText := in.Text
	if key, rest := explicitMention(in.Text); key == addressee {
		userText = rest
	}
	reply := rt.agents.Respond(ctx, a, history, userText)
	rt.logInteraction(ctx, in.ConversationID, a.Key(), classification)

	var replyMsg *store.Message
	if reply.Text != "" {
		replyMsg = rt.appendAgentMessage(ctx, in.ConversationID, a.Key(), reply.Text)
	}

	// 7. Tool call -> scheduling sub-protocol.
	if reply.ToolCall != nil && reply.ToolCall.Name == agent.ToolScheduleMeeting {
		rt.handleScheduleToolCall(ctx, in.ConversationID, a, reply.ToolCall)
	}

	// 8. Channel dispatch for externally-originated conversations.
	if replyMsg != nil && in.SourceChannel != "" {
		rt.dispatchToChannel(ctx, in, replyMsg)
	}
}

// resolveAddressee implements three-tier addressee resolution: explicit
// @mention, then an open agent panel, then NLU-based intent routing.
func (rt *Router) resolveAddressee(ctx context.Context, in InboundInput) (*nlu.Classification, string) {
	if key, text := explicitMention(in.Text); key != "" {
		if rt.agents.Exists(ctx, key) {
			return nil, key
		}
		// An unregistered @key is plain text, not a dispatch.
		in.Text = text
	}

	if in.PanelAgentKey != "" && rt.agents.Exists(ctx, in.PanelAgentKey) {
		return nil, in.PanelAgentKey
	}

	classification, err := rt.classifier.Classify(ctx, in.Text)
	if err != nil {
		rt.logger.Warn("nlu classification failed, defaulting to concierge", "conversation_id", in.ConversationID, "err", err)
		return nil, agent.KeyConcierge
	}
	if key, ok := intentAgent[classification.Intent]; ok {
		return &classification, key
	}
	return &classification, agent.KeyConcierge
}

// explicitMention extracts a leading "@agentKey" token. It returns the key and the message with the mention stripped, or
// "" if the message carries no leading mention.
func explicitMention(text string) (key, rest string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "@") {
		return "", text
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", text
	}
	candidate := strings.TrimPrefix(fields[0], "@")
	if candidate == "" {
		return "", text
	}
	return candidate, strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))
}

// recentHistory loads the last K messages (oldest first) as agent.HistoryMessage.
func (rt *Router) recentHistory(ctx context.Context, conversationID string) []agent.HistoryMessage {
	msgs, err := rt.store.GetConversationMessages(ctx, conversationID, "", rt.historyWindow)
	if err != nil {
		rt.logger.Warn("loading conversation history failed", "conversation_id", conversationID, "err", err)
		return nil
	}
	out := make([]agent.HistoryMessage, len(msgs))
	for i, m := range msgs {
		author := m.Author
		if m.AgentKey != "" {
			author = "agent:" + m.AgentKey
		}
		out[len(msgs)-1-i] = agent.HistoryMessage{Author: author, Text: m.Text, Timestamp: m.Timestamp}
	}
	return out
}

// logInteraction records one classify-and-dispatch cycle to the interaction
// log for offline NLU comparison. Best-effort: a logging failure never
// fails the agent dispatch it describes.
func (rt *Router) logInteraction(ctx context.Context, conversationID, agentKey string, classification *nlu.Classification) {
	entry := &store.InteractionLog{
		ID: uuid.NewString(),
		ConversationID: conversationID,
		Direction: "outbound",
		AgentKey: agentKey,
		CreatedAt: time.Now(),
	}
	if classification != nil {
		entry.Intent = classification.Intent
		entry.Confidence = classification.Confidence
		entry.Method = classification.Method
	}
	if err := rt.store.AppendInteractionLog(ctx, entry); err != nil {
		rt.logger.Warn("appending interaction log failed", "conversation_id", conversationID, "err", err)
	}
}

func (rt *Router) appendAgentMessage(ctx context.Context, conversationID, agentKey, text string) *store.Message {
	msg := &store.Message{
		ID: uuid.NewString(),
		Author: "agent:" + agentKey,
		ConversationID: conversationID,
		Timestamp: time.Now(),
		Kind: store.MessageKindText,
		Text: text,
		DeliveryStatus: store.DeliverySent,
		AgentKey: agentKey,
	}
	saved, err := rt.store.AppendMessage(ctx, msg)
	if err != nil {
		rt.logger.Error("persisting agent reply failed", "conversation_id", conversationID, "agent_key", agentKey, "err", err)
		return nil
	}
	rt.broadcastMessage(ctx, saved)
	return saved
}

// replyAsSystem posts a bot-authored message with no specific agent key,
// used for command replies and handover acknowledgements.
func (rt *Router) replyAsSystem(ctx context.Context, conversationID, text string) {
	msg := &store.Message{
		ID: uuid.NewString(),
		Author: "system",
		ConversationID: conversationID,
		Timestamp: time.Now(),
		Kind: store.MessageKindText,
		Text: text,
		DeliveryStatus: store.DeliverySent,
	}
	saved, err := rt.store.AppendMessage(ctx, msg)
	if err != nil {
		rt.logger.Error("persisting system reply failed", "conversation_id", conversationID, "err", err)
		return
	}
	rt.broadcastMessage(ctx, saved)
}

// handleScheduleToolCall drives the state machine's Committing step
// from an agent's schedule_meeting tool call.
func (rt *Router) handleScheduleToolCall(ctx context.Context, conversationID string, a agent.Agent, call *agent.ToolCall) {
	email, _ := call.Arguments["customer_email"].(string)
	startStr, _ := call.Arguments["start"].(string)
	if email == "" || startStr == "" {
		return
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		rt.logger.Warn("schedule_meeting tool call carried unparseable start", "conversation_id", conversationID, "start", startStr)
		return
	}
	if err := rt.scheduling.ValidateSlotCallback(start); err != nil {
		rt.appendAgentMessage(ctx, conversationID, a.Key(), "That time doesn't look available anymore — could you pick another slot?")
		return
	}

	duration := 30
	if d, ok := call.Arguments["duration_minutes"].(float64); ok && d > 0 {
		duration = int(d)
	}

	attempt := scheduling.Attempt{
		ConversationID: conversationID,
		AgentKey: a.Key(),
		CustomerEmail: email,
		ProposedStart: start,
		DurationMinutes: duration,
	}

	result, err := rt.scheduling.Commit(ctx, attempt, []string{email}, "")
	if err != nil {
		rt.logger.Warn("scheduling commit failed", "conversation_id", conversationID, "err", err)
		rt.appendAgentMessage(ctx, conversationID, a.Key(), "I couldn't lock in that time just now — please try again in a moment.")
		return
	}

	rt.appendAgentMessage(ctx, conversationID, a.Key(), fmt.Sprintf(
		"You're booked for %s. Meeting link: %s\nCalendar invite: %s",
		result.Commitment.Start.Format(time.RFC1123), result.Commitment.MeetingURL, result.Commitment.CalendarURL,
	))
}

// dispatchToChannel sends an externally-originated conversation's agent
// reply back out through the originating channel adapter. Failure is
// logged; delivery status simply never advances past sent.
func (rt *Router) dispatchToChannel(ctx context.Context, in InboundInput, replyMsg *store.Message) {
	if rt.channels == nil {
		return
	}
	_, err := rt.channels.Send(ctx, in.SourceChannel, channel.OutboundMessage{
		RecipientNativeID: in.ChannelRecipientID,
		Text: replyMsg.Text,
	})
	if err != nil {
		rt.logger.Warn("channel dispatch failed, delivery stalled at sent", "conversation_id", in.ConversationID, "channel", in.SourceChannel, "err", err)
	}
}

// wireMessage is the chat:new-message event shape the real-time clients
// expect: camelCase, optional fields omitted rather than sent null.
type wireMessage struct {
	ID string `json:"id"`
	Author string `json:"author"`
	ConversationID string `json:"conversationId"`
	Timestamp time.Time `json:"timestamp"`
	Status string `json:"status"`
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	Attachment *store.Attachment `json:"attachment,omitempty"`
	AgentKey string `json:"agentKey,omitempty"`
}

func (rt *Router) broadcastMessage(ctx context.Context, msg *store.Message) {
	payload, err := json.Marshal(wireMessage{
		ID: msg.ID,
		Author: msg.Author,
		ConversationID: msg.ConversationID,
		Timestamp: msg.Timestamp,
		Status: msg.DeliveryStatus,
		Kind: msg.Kind,
		Text: msg.Text,
		Attachment: msg.Attachment,
		AgentKey: msg.AgentKey,
	})
	if err != nil {
		rt.logger.Error("marshaling message broadcast payload failed", "message_id", msg.ID, "err", err)
		return
	}
	rt.presence.BroadcastMessage(ctx, msg.ConversationID, msg.Author, msg.AgentKey, presence.Event{Name: "chat:new-message", Payload: payload})
}

// customerSnapshot resolves the external-contact side of conversationID
// (a canonicalized "idA:idB" pair, see store.CanonicalConversationID) and
// returns its details. A first-party-to-first-party conversation has no
// single "customer" and yields a zero snapshot.
func (rt *Router) customerSnapshot(ctx context.Context, conversationID string) store.CustomerSnapshot {
	parts := strings.SplitN(conversationID, ":", 2)
	if len(parts) != 2 {
		return store.CustomerSnapshot{}
	}
	for _, id := range parts {
		user, err := rt.store.GetUser(ctx, id)
		if err != nil {
			continue
		}
		if user.IsExternalContact() {
			return store.CustomerSnapshot{Name: user.DisplayName, Email: user.Email, Phone: user.ChannelNativeID}
		}
	}
	return store.CustomerSnapshot{}
}

func (rt *Router) conversationSnapshot(ctx context.Context, conversationID string) store.ConversationSnapshot {
	msgs, err := rt.store.GetConversationMessages(ctx, conversationID, "", 10)
	if err != nil {
		return store.ConversationSnapshot{}
	}
	// Reverse into chronological order for the frozen snapshot.
	recent := make([]store.Message, len(msgs))
	for i, m := range msgs {
		recent[len(msgs)-1-i] = m
	}
	return store.ConversationSnapshot{RecentMessages: recent}
}
