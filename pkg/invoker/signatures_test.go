package invoker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectAuthFailure(t *testing.T) {
	require.True(t, detectAuthFailure([]byte("Error: Invalid API key provided")))
	require.True(t, detectAuthFailure([]byte("please run `claude login` to authenticate")))
	require.False(t, detectAuthFailure([]byte("build succeeded")))
}

func TestDetectRateLimit(t *testing.T) {
	sig, resumeAt, ok := detectRateLimit([]byte("Rate limited, resets at 2026-08-01T00:00:00Z, try later"))
	require.True(t, ok)
	require.NotEmpty(t, sig)
	require.Equal(t, 2026, resumeAt.Year())
}

func TestDetectRateLimit_NoSignature(t *testing.T) {
	_, _, ok := detectRateLimit([]byte("all good"))
	require.False(t, ok)
}
