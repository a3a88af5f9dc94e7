package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/coven-chat/internal/store"
)

// commandResult is the outcome of a recognized slash command: a reply
// message to persist and broadcast, with no agent dispatch.
type commandResult struct {
	replyText string
}

// parseCommand splits a leading "/name args..." prefix off text. ok is
// false for anything that isn't a slash command, including a bare "/" with
// no name, so the Router falls through to normal addressee resolution.
func parseCommand(text string) (name string, args []string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// runCommand executes a recognized slash command via a name->handler
// dispatch table, checked as a second explicit-prefix tier ahead of
// agent dispatch in the Router's addressee resolution.
func (rt *Router) runCommand(ctx context.Context, conversationID, actorUserID, name string, args []string) (commandResult, bool) {
	switch name {
	case "ticket":
		return rt.cmdTicket(ctx, conversationID, args)
	case "resolve":
		return rt.cmdResolve(ctx, conversationID, actorUserID, args)
	case "help":
		return commandResult{replyText: "Available commands: /ticket, /resolve <notes>"}, true
	default:
		return commandResult{}, false
	}
}

func (rt *Router) cmdTicket(ctx context.Context, conversationID string, args []string) (commandResult, bool) {
	if existing, err := rt.handover.OpenTicketFor(ctx, conversationID); err == nil && existing != nil {
		return commandResult{replyText: "There's already an open ticket for this conversation."}, true
	}

	reason := store.HandoverReasonExplicitRequest
	customer := rt.customerSnapshot(ctx, conversationID)
	snapshot := rt.conversationSnapshot(ctx, conversationID)

	ticket, err := rt.handover.Open(ctx, conversationID, []string{reason}, customer, snapshot)
	if err != nil {
		rt.logger.Warn("command /ticket failed", "conversation_id", conversationID, "err", err)
		return commandResult{replyText: "Couldn't open a ticket right now — please try again."}, true
	}
	return commandResult{replyText: fmt.Sprintf("Ticket opened (priority %d). A human will pick this up shortly.", ticket.Priority)}, true
}

func (rt *Router) cmdResolve(ctx context.Context, conversationID, actorUserID string, args []string) (commandResult, bool) {
	ticket, err := rt.handover.OpenTicketFor(ctx, conversationID)
	if err != nil || ticket == nil {
		return commandResult{replyText: "There's no open ticket for this conversation."}, true
	}

	notes := strings.Join(args, " ")
	if notes == "" {
		notes = "resolved via /resolve"
	}
	if err := rt.handover.Resolve(ctx, ticket.ID, notes); err != nil {
		rt.logger.Warn("command /resolve failed", "conversation_id", conversationID, "ticket_id", ticket.ID, "err", err)
		return commandResult{replyText: "Couldn't resolve the ticket right now — please try again."}, true
	}
	return commandResult{replyText: "Ticket resolved. Normal agent routing is back on for this conversation."}, true
}
