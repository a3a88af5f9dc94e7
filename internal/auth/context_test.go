// Unit tests for authentication context propagation helpers.

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext_Present(t *testing.T) {
	expected := &AuthContext{UserID: "user-123"}

	ctx := WithAuth(context.Background(), expected)
	got := FromContext(ctx)

	require.NotNil(t, got)
	require.Equal(t, expected.UserID, got.UserID)
}

func TestFromContext_Missing(t *testing.T) {
	got := FromContext(context.Background())
	require.Nil(t, got)
}

func TestMustFromContext_Present(t *testing.T) {
	expected := &AuthContext{UserID: "user-123"}
	ctx := WithAuth(context.Background(), expected)

	require.NotPanics(t, func() {
		got := MustFromContext(ctx)
		require.Equal(t, expected.UserID, got.UserID)
	})
}

func TestMustFromContext_Missing(t *testing.T) {
	require.Panics(t, func() {
		MustFromContext(context.Background())
	})
}
