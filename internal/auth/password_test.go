package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	err = VerifyPassword(hash, "correct-horse-battery-staple")
	require.NoError(t, err)
}

func TestVerifyPassword_Mismatch(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)

	err = VerifyPassword(hash, "wrong-password")
	require.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestHashPassword_DifferentHashesEachCall(t *testing.T) {
	hash1, err := HashPassword("same-password")
	require.NoError(t, err)
	hash2, err := HashPassword("same-password")
	require.NoError(t, err)

	require.NotEqual(t, hash1, hash2)
}
