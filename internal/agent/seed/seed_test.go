package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/store"
)

func writeBundle(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir_ParsesBundles(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "legal.toml", `
key = "legal"
display_name = "Legal"
system_prompt = "You review contracts."
allowed_tools = ["schedule_meeting"]
`)
	writeBundle(t, dir, "ignored.txt", "not a bundle")

	bundles, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	require.Equal(t, "legal", bundles[0].Key)
	require.Equal(t, []string{"schedule_meeting"}, bundles[0].AllowedTools)
}

func TestLoadDir_RejectsMissingRequiredField(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "broken.toml", `
key = "broken"
`)
	_, err := LoadDir(dir)
	require.Error(t, err)
}

func TestApply_SkipsExistingAgents(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateCustomAgent(ctx, &store.CustomAgent{
		Key: "legal", DisplayName: "Legal (operator-edited)", SystemPrompt: "edited prompt",
	}))

	created, err := Apply(ctx, st, []Bundle{
		{Key: "legal", DisplayName: "Legal", SystemPrompt: "seed prompt"},
		{Key: "medical", DisplayName: "Medical", SystemPrompt: "seed prompt"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, created)

	legal, err := st.GetCustomAgent(ctx, "legal")
	require.NoError(t, err)
	require.Equal(t, "edited prompt", legal.SystemPrompt)

	medical, err := st.GetCustomAgent(ctx, "medical")
	require.NoError(t, err)
	require.Equal(t, "seed prompt", medical.SystemPrompt)
}
