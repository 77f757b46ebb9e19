package executor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPolicyMissingFile(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "commands.yaml"))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Empty(t, p.Names())
}

func TestLoadPolicyValidYAML(t *testing.T) {
	const content = `
commands:
  - name: claude
    description: Claude Code CLI
  - name: git
    description: Version control
  - name: ""
    description: ignored
`
	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "git"}, p.Names())
}

func TestLoadPolicyInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands: [unclosed"), 0600))

	p, err := LoadPolicy(path)
	assert.Error(t, err)
	assert.Nil(t, p)
}
