package resolvconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFiltersLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")

	content := "nameserver 127.0.0.1\nnameserver 8.8.8.8\n# comment\nnameserver localhost\nnameserver 1.1.1.1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	resolvers, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8", "1.1.1.1"}, resolvers)
}

func TestReadMissingFile(t *testing.T) {
	resolvers, err := Read(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, resolvers)
}
