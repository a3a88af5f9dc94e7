package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

type fakeCustomStore struct {
	agents map[string]*store.CustomAgent
}

func (f *fakeCustomStore) GetCustomAgent(_ context.Context, key string) (*store.CustomAgent, error) {
	a, ok := f.agents[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeCustomStore) ListCustomAgents(_ context.Context) ([]store.CustomAgent, error) {
	out := make([]store.CustomAgent, 0, len(f.agents))
	for _, a := range f.agents {
		out = append(out, *a)
	}
	return out, nil
}

func TestRegistry_GetBuiltIn(t *testing.T) {
	r := New(Config{}, nil, &fakeLLM{}, nil)
	a, err := r.Get(context.Background(), KeySDR)
	require.NoError(t, err)
	assert.Equal(t, CategoryBuiltIn, a.Category)
	assert.Equal(t, KeySDR, a.Key())
	assert.Contains(t, a.AllowedTools(), ToolScheduleMeeting)
}

func TestRegistry_GetCustomAgent(t *testing.T) {
	custom := &fakeCustomStore{agents: map[string]*store.CustomAgent{
		"acme-helper": {Key: "acme-helper", DisplayName: "Acme Helper", SystemPrompt: "be helpful", CredentialHandle: "cred-1"},
	}}
	r := New(Config{}, custom, &fakeLLM{}, nil)

	a, err := r.Get(context.Background(), "acme-helper")
	require.NoError(t, err)
	assert.Equal(t, CategoryCustom, a.Category)
	assert.Equal(t, "cred-1", a.Custom.CredentialHandle)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := New(Config{}, &fakeCustomStore{agents: map[string]*store.CustomAgent{}}, &fakeLLM{}, nil)
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegistry_Exists(t *testing.T) {
	r := New(Config{}, &fakeCustomStore{agents: map[string]*store.CustomAgent{}}, &fakeLLM{}, nil)
	assert.True(t, r.Exists(context.Background(), KeyConcierge))
	assert.False(t, r.Exists(context.Background(), "@not-a-key"))
}

func TestRegistry_Respond_FallbackOnError(t *testing.T) {
	r := New(Config{ReplyDeadline: time.Second}, nil, &fakeLLM{err: errors.New("provider exploded")}, nil)
	a, err := r.Get(context.Background(), KeyConcierge)
	require.NoError(t, err)

	reply := r.Respond(context.Background(), a, nil, "hello")
	assert.True(t, reply.Fallback)
	assert.NotContains(t, reply.Text, "provider exploded") // §7: never leak provider error
}

func TestRegistry_Respond_Success(t *testing.T) {
	llm := &fakeLLM{replies: map[string]Reply{"hi": {Text: "hello there"}}}
	r := New(Config{}, nil, llm, nil)
	a, err := r.Get(context.Background(), KeyConcierge)
	require.NoError(t, err)

	reply := r.Respond(context.Background(), a, nil, "hi")
	assert.Equal(t, "hello there", reply.Text)
	assert.False(t, reply.Fallback)
	assert.Equal(t, 1, llm.calls)
}

func TestRegistry_RegisterBuiltIn_Override(t *testing.T) {
	r := New(Config{}, nil, &fakeLLM{}, nil)
	r.RegisterBuiltIn(BuiltIn{Key: KeySDR, DisplayName: "Custom SDR", SystemPrompt: "overridden"})

	a, err := r.Get(context.Background(), KeySDR)
	require.NoError(t, err)
	assert.Equal(t, "Custom SDR", a.DisplayName())
}
