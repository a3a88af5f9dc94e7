// Package agent implements the agent registry: the callable set of
// agents (built-in specialists and tenant-defined custom agents), each
// addressed by a short key and invoked through a single Respond dispatch.
//
// An Agent is a sum type: exactly one of {BuiltIn, Custom}, distinguished
// by Category, and Respond pattern-matches on it. Adding an agent means
// adding a row to the built-in table or a CustomAgent store record, never
// a new Go type.
package agent

import (
	"context"
	"time"
)

// Category distinguishes a built-in from a tenant-defined agent.
const (
	CategoryBuiltIn = "built-in"
	CategoryCustom = "custom"
)

// Built-in agent keys: at least a scheduling/sales specialist (SDR), plus
// legal, medical, psychological, and commercial specialists, and a
// concierge default for anything that doesn't match the others.
const (
	KeySDR = "sdr"
	KeyLegal = "legal"
	KeyMedical = "medical"
	KeyPsychological = "psychological"
	KeyCommercial = "commercial"
	KeyConcierge = "concierge"
)

// Tool names an agent may be allowed to call.
const (
	ToolScheduleMeeting = "schedule_meeting"
	ToolFetchAvailability = "fetch_availability"
)

// ToolDefinition advertises one callable tool to the LLM adapter: name,
// description, and a JSON-schema string for its input shape.
type ToolDefinition struct {
	Name string
	Description string
	InputSchemaJSON string
}

// Toolbelt is the fixed set of tools one invocation may call, resolved
// from an agent's AllowedTools against the global tool catalog.
type Toolbelt []ToolDefinition

// HistoryMessage is one message of the last-K conversation window handed
// to Respond.
type HistoryMessage struct {
	Author string // user id, or "agent:<key>" for a prior agent reply
	Text string
	Timestamp time.Time
}

// ToolCall is a structured tool invocation an agent's reply may carry
// instead of (or in addition to) text → agentReply).
type ToolCall struct {
	Name string
	Arguments map[string]any
}

// Reply is the result of one Respond call: either a text message, a tool
// call, or both (a short acknowledgement alongside the tool call).
type Reply struct {
	Text string
	ToolCall *ToolCall
	Fallback bool // true if this is the deadline/error apology, never a real LLM reply
}

// BuiltIn is the configuration for a hard-coded specialist.
type BuiltIn struct {
	Key string
	DisplayName string
	Emoji string
	SystemPrompt string
	AllowedTools []string
}

// Custom is a tenant-defined agent: prompt and credential loaded from the
// store at call time. CredentialHandle is opaque to the core; only
// the LLM adapter resolves it against a provider account.
type Custom struct {
	Key string
	DisplayName string
	Emoji string
	SystemPrompt string
	AllowedTools []string
	CredentialHandle string
	AutoCommit bool
}

// Agent is the sum type {BuiltIn(kind,config), Custom(prompt,credential,
// tools)}. Exactly one of BuiltIn/Custom is non-nil; Respond
// pattern-matches on Category to decide which.
type Agent struct {
	Category string
	BuiltIn *BuiltIn
	Custom *Custom
}

// Key, DisplayName, Emoji, and AllowedTools read through to whichever
// variant is populated, so callers never need to branch themselves.
func (a Agent) Key() string {
	if a.BuiltIn != nil {
		return a.BuiltIn.Key
	}
	return a.Custom.Key
}

func (a Agent) DisplayName() string {
	if a.BuiltIn != nil {
		return a.BuiltIn.DisplayName
	}
	return a.Custom.DisplayName
}

func (a Agent) Emoji() string {
	if a.BuiltIn != nil {
		return a.BuiltIn.Emoji
	}
	return a.Custom.Emoji
}

func (a Agent) SystemPrompt() string {
	if a.BuiltIn != nil {
		return a.BuiltIn.SystemPrompt
	}
	return a.Custom.SystemPrompt
}

func (a Agent) AllowedTools() []string {
	if a.BuiltIn != nil {
		return a.BuiltIn.AllowedTools
	}
	return a.Custom.AllowedTools
}

// LLM is the adapter interface through which both built-in and custom
// agents reach an external chat-completion provider. The registry never
// sees a provider credential directly for custom agents — it hands the
// opaque CredentialHandle to the adapter, which is the only component
// that resolves it.
type LLM interface {
	Respond(ctx context.Context, systemPrompt string, history []HistoryMessage, userMessage string, tools Toolbelt, credentialHandle string, maxOutputTokens int) (Reply, error)
}

// fallbackApology is returned whenever an agent call exceeds its deadline
// or the LLM adapter errors; the core never leaks a provider error to the
// customer.
const fallbackApology = "Sorry, I'm having trouble responding right now — could you try again in a moment?"
