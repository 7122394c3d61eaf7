package agentd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesAndCapsWithoutJitter(t *testing.T) {
	b := DefaultBackoff()

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		4 * time.Second,
		4 * time.Second,
	}
	require.Equal(t, want, got)
}

func TestBackoffResetReturnsToInitial(t *testing.T) {
	b := DefaultBackoff()
	b.Next()
	b.Next()
	b.Reset()
	require.Equal(t, 500*time.Millisecond, b.Next())
}
