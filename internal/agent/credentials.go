package agent

import (
	"fmt"
	"os"
)

func lookupEnv(name string) (string, bool) { return os.LookupEnv(name) }

// EnvCredentialResolver resolves a CredentialHandle by treating it as an
// environment variable name: a custom agent's CredentialHandle column
// holds e.g. "LEGAL_BOT_ANTHROPIC_KEY", never the key itself, keeping the
// real secret out of the store entirely.
type EnvCredentialResolver struct {
	lookup func(name string) (string, bool)
}

// NewEnvCredentialResolver builds a resolver reading from the process
// environment.
func NewEnvCredentialResolver() *EnvCredentialResolver {
	return &EnvCredentialResolver{lookup: lookupEnv}
}

// Resolve returns the value of the environment variable named by handle.
func (r *EnvCredentialResolver) Resolve(handle string) (string, error) {
	val, ok := r.lookup(handle)
	if !ok || val == "" {
		return "", fmt.Errorf("agent: credential handle %q is not set in the environment", handle)
	}
	return val, nil
}
