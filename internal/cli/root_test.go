package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "wofi", cmd.Use)

	commands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		commands[sub.Name()] = true
	}
	for _, name := range []string{
		"migrate", "ingest", "sync", "backfill", "replay", "retry", "enqueue",
		"worker", "query", "mint", "keygen", "sign", "test",
	} {
		assert.True(t, commands[name], "missing command %q", name)
	}
}

func TestRootCommandGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	flags := cmd.PersistentFlags()

	verbose := flags.Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := flags.Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	for _, name := range []string{"db", "config", "log-json", "allow-unsigned"} {
		assert.NotNil(t, flags.Lookup(name), "missing flag --%s", name)
	}
}

func TestRootCommandInvalidFormat(t *testing.T) {
	isolateEnv(t)

	_, err := runCLI(t, "migrate", "--db", tempDB(t), "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestRootCommandInvalidConfig(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "wofi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch_size: 0\n"), 0o644))

	_, err := runCLI(t, "migrate", "--db", tempDB(t), "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "batch_size must be positive")
}

func TestRootOptionsConfigFlagOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "from-env.db")

	opts := &RootOptions{}
	cfg, err := opts.Config()
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DatabaseURL)
	assert.False(t, cfg.AllowUnsigned)

	opts.Database = "from-flag.db"
	opts.AllowUnsigned = true
	opts.LogJSON = true
	cfg, err = opts.Config()
	require.NoError(t, err)
	assert.Equal(t, "from-flag.db", cfg.DatabaseURL)
	assert.True(t, cfg.AllowUnsigned)
	assert.True(t, cfg.LogJSON)
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	newLogger(buf, false, true).Info("ingested", "content_id", "sha256:abc")
	assert.Contains(t, buf.String(), `"msg":"ingested"`)
	assert.Contains(t, buf.String(), `"content_id":"sha256:abc"`)

	buf.Reset()
	newLogger(buf, false, false).Debug("hidden")
	assert.Empty(t, buf.String())

	newLogger(buf, true, false).Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestMigrateCommand(t *testing.T) {
	isolateEnv(t)
	db := tempDB(t)

	out, err := runCLI(t, "migrate", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schema up to date (sqlite")

	// Migrating again is a no-op.
	out, err = runCLI(t, "migrate", "--db", db, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.Contains(t, out, `"dialect":"sqlite"`)
}
