package agentd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateStateGeneratesIdentityOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	s1, err := LoadOrCreateState(dir)
	require.NoError(t, err)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", s1.ID.String())
	require.FileExists(t, filepath.Join(dir, "state.json"))

	s2, err := LoadOrCreateState(dir)
	require.NoError(t, err)
	require.Equal(t, s1.ID, s2.ID, "identity must survive across loads")
}
