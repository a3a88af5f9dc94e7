// Registry enumerates the callable set of agents and performs bounded
// invocation: each call is given a budget (max output tokens, wall-clock
// deadline); on deadline/error the agent produces a fallback textual
// apology rather than propagating the failure to the caller.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/store"
)

// ErrAgentNotFound is returned when no built-in or custom agent is
// registered under the requested key.
var ErrAgentNotFound = errors.New("agent: not found")

// ErrAgentAlreadyRegistered names a key collision between two agents.
// Nothing in this package returns it: RegisterBuiltIn replaces an
// existing built-in registered under the same key.
var ErrAgentAlreadyRegistered = errors.New("agent: already registered")

// CustomAgentStore is the minimal store dependency the registry needs to
// resolve a custom agent's prompt/credential at call time.
type CustomAgentStore interface {
	GetCustomAgent(ctx context.Context, key string) (*store.CustomAgent, error)
	ListCustomAgents(ctx context.Context) ([]store.CustomAgent, error)
}

// ToolCatalog resolves tool names to their JSON-schema definitions.
var ToolCatalog = map[string]ToolDefinition{
	ToolScheduleMeeting: {
		Name: ToolScheduleMeeting,
		Description: "Book a confirmed meeting slot with the customer.",
		InputSchemaJSON: `{"type":"object","properties":{"customer_email":{"type":"string"},` +
			`"start":{"type":"string","format":"date-time"},"duration_minutes":{"type":"integer"}},` +
			`"required":["customer_email","start"]}`,
	},
	ToolFetchAvailability: {
		Name: ToolFetchAvailability,
		Description: "List free meeting slots on a given date.",
		InputSchemaJSON: `{"type":"object","properties":{"date":{"type":"string","format":"date"}},` +
			`"required":["date"]}`,
	},
}

// Registry holds the built-in agent set and resolves custom agents from
// the store. It holds no live connections: every agent value is either a
// fixed BuiltIn config or loaded fresh from CustomAgentStore per call.
type Registry struct {
	mu sync.RWMutex
	builtIns map[string]BuiltIn
	custom CustomAgentStore
	llm LLM

	maxOutputTokens int
	replyDeadline time.Duration
	logger *slog.Logger
}

// Config bounds every agent invocation.
type Config struct {
	MaxOutputTokens int
	ReplyDeadline time.Duration
}

// New constructs a Registry seeded with DefaultBuiltIns.
func New(cfg Config, custom CustomAgentStore, llm LLM, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	builtIns := make(map[string]BuiltIn)
	for _, b := range DefaultBuiltIns() {
		builtIns[b.Key] = b
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	if cfg.ReplyDeadline <= 0 {
		cfg.ReplyDeadline = 20 * time.Second
	}
	return &Registry{
		builtIns: builtIns,
		custom: custom,
		llm: llm,
		maxOutputTokens: cfg.MaxOutputTokens,
		replyDeadline: cfg.ReplyDeadline,
		logger: logger.With("component", "agent"),
	}
}

// RegisterBuiltIn adds or replaces a built-in agent (used by tests and by
// tenants that override a default specialist's prompt).
func (r *Registry) RegisterBuiltIn(b BuiltIn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtIns[b.Key] = b
}

// Get resolves key to an Agent, checking built-ins first and falling back
// to the custom-agent store.
func (r *Registry) Get(ctx context.Context, key string) (Agent, error) {
	r.mu.RLock()
	b, ok := r.builtIns[key]
	r.mu.RUnlock()
	if ok {
		return Agent{Category: CategoryBuiltIn, BuiltIn: &b}, nil
	}

	if r.custom == nil {
		return Agent{}, ErrAgentNotFound
	}
	ca, err := r.custom.GetCustomAgent(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, fmt.Errorf("agent: loading custom agent %q: %w", key, err)
	}
	return Agent{Category: CategoryCustom, Custom: &Custom{
		Key: ca.Key,
		DisplayName: ca.DisplayName,
		Emoji: ca.Emoji,
		SystemPrompt: ca.SystemPrompt,
		AllowedTools: ca.AllowedTools,
		CredentialHandle: ca.CredentialHandle,
		AutoCommit: ca.AutoCommit,
	}}, nil
}

// Exists is a cheap registration check for the Router's mention-addressing
// path.
func (r *Registry) Exists(ctx context.Context, key string) bool {
	_, err := r.Get(ctx, key)
	return err == nil
}

// ListBuiltIns returns the built-in agent set, for admin/listing surfaces.
func (r *Registry) ListBuiltIns() []BuiltIn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BuiltIn, 0, len(r.builtIns))
	for _, b := range r.builtIns {
		out = append(out, b)
	}
	return out
}

// toolbelt resolves an agent's AllowedTools against the global catalog,
// silently dropping any name the catalog does not recognize.
func toolbelt(names []string) Toolbelt {
	out := make(Toolbelt, 0, len(names))
	for _, n := range names {
		if def, ok := ToolCatalog[n]; ok {
			out = append(out, def)
		}
	}
	return out
}

// Respond invokes an agent bounded by its deadline. On deadline or LLM
// error, it returns the fallback apology rather than propagating the
// provider error to the caller.
func (r *Registry) Respond(ctx context.Context, a Agent, history []HistoryMessage, userMessage string) Reply {
	callCtx, cancel := context.WithTimeout(ctx, r.replyDeadline)
	defer cancel()

	credentialHandle := ""
	if a.Custom != nil {
		credentialHandle = a.Custom.CredentialHandle
	}

	reply, err := r.llm.Respond(callCtx, a.SystemPrompt(), history, userMessage, toolbelt(a.AllowedTools()), credentialHandle, r.maxOutputTokens)
	if err != nil {
		r.logger.Warn("agent respond failed, returning fallback apology", "agent_key", a.Key(), "err", err)
		return Reply{Text: fallbackApology, Fallback: true}
	}
	return reply
}
