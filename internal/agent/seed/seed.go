// Package seed loads tenant-defined custom-agent prompt bundles from disk
// at startup. Each bundle is a TOML file describing one custom agent's
// display name, system prompt, allowed tools, and credential handle.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/coven-chat/internal/store"
)

// Bundle is the on-disk shape of one custom agent prompt bundle.
type Bundle struct {
	Key string `toml:"key"`
	DisplayName string `toml:"display_name"`
	Emoji string `toml:"emoji"`
	SystemPrompt string `toml:"system_prompt"`
	AllowedTools []string `toml:"allowed_tools"`
	CredentialHandle string `toml:"credential_handle"`
	ProviderAccountLabel string `toml:"provider_account_label"`
	AutoCommit bool `toml:"auto_commit"`
}

// Validate checks that the bundle carries the fields a CustomAgent record
// requires.
func (b Bundle) Validate() error {
	if b.Key == "" {
		return fmt.Errorf("seed bundle: key is required")
	}
	if b.DisplayName == "" {
		return fmt.Errorf("seed bundle %q: display_name is required", b.Key)
	}
	if b.SystemPrompt == "" {
		return fmt.Errorf("seed bundle %q: system_prompt is required", b.Key)
	}
	return nil
}

// LoadDir reads every *.toml file directly under dir and decodes it into a
// Bundle. Files that fail to parse or validate abort the whole load: a
// malformed bundle should fail startup loudly rather than silently seed a
// broken agent.
func LoadDir(dir string) ([]Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading seed bundle dir %q: %w", dir, err)
	}

	var bundles []Bundle
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		var b Bundle
		if _, err := toml.DecodeFile(path, &b); err != nil {
			return nil, fmt.Errorf("parsing seed bundle %q: %w", path, err)
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// CustomAgentStore is the subset of store.Store the seeder needs; takes an
// interface rather than store.Store directly so it can be tested without a
// real database.
type CustomAgentStore interface {
	GetCustomAgent(ctx context.Context, key string) (*store.CustomAgent, error)
	CreateCustomAgent(ctx context.Context, agent *store.CustomAgent) error
}

// Apply upserts-by-absence every bundle into st: a bundle whose key already
// has a CustomAgent record is left alone, so operator edits made through
// the custom-bots API after the initial seed are never clobbered by a
// restart.
func Apply(ctx context.Context, st CustomAgentStore, bundles []Bundle) (created int, err error) {
	for _, b := range bundles {
		_, err := st.GetCustomAgent(ctx, b.Key)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, fmt.Errorf("checking existing custom agent %q: %w", b.Key, err)
		}
		now := time.Now()
		if err := st.CreateCustomAgent(ctx, &store.CustomAgent{
			Key: b.Key,
			DisplayName: b.DisplayName,
			Emoji: b.Emoji,
			SystemPrompt: b.SystemPrompt,
			AllowedTools: b.AllowedTools,
			CredentialHandle: b.CredentialHandle,
			ProviderAccountLabel: b.ProviderAccountLabel,
			AutoCommit: b.AutoCommit,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return created, fmt.Errorf("creating custom agent %q from seed bundle: %w", b.Key, err)
		}
		created++
	}
	return created, nil
}
