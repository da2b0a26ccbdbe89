// -- cmd/root_test.go --
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()

	want := map[string]bool{"watch": false, "tryon": false, "avatar": false, "history": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "missing subcommand %q", name)
	}
}

func TestRootCommandHelp(t *testing.T) {
	resetViper(t)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "virtual clothing try-on")
}

func TestInitializeConfigReadsFile(t *testing.T) {
	resetViper(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0o644))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, initializeConfig())
	assert.Equal(t, "debug", viper.GetString("logger.level"))
	// Defaults still cover keys the file does not set.
	assert.Equal(t, "memory", viper.GetString("store.type"))
}

func TestInitializeConfigEnvOverride(t *testing.T) {
	resetViper(t)
	cfgFile = ""

	t.Setenv("FITCHECK_LOGGER_LEVEL", "warn")
	require.NoError(t, initializeConfig())
	assert.Equal(t, "warn", viper.GetString("logger.level"))
}

func TestInitializeConfigMissingFileTolerated(t *testing.T) {
	resetViper(t)
	cfgFile = ""

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	require.NoError(t, initializeConfig())
	assert.Equal(t, "info", viper.GetString("logger.level"))
}
