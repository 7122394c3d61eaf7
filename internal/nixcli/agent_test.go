package nixcli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSystemConfigurationRequiresMarkerFile(t *testing.T) {
	dir := t.TempDir()
	require.False(t, IsSystemConfiguration(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, nixosVersionMarker), []byte("24.05"), 0o644))
	require.True(t, IsSystemConfiguration(dir))
}

func TestActivateRejectsNonSystemStorePath(t *testing.T) {
	dir := t.TempDir()
	err := Activate(t.Context(), dir)
	require.Error(t, err)
}
