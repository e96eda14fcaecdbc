package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bertona88/wofi/internal/kernel"
)

// isolateEnv clears every setting a developer shell might carry so
// commands run against defaults plus the flags a test passes.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "WOFI_DATABASE_URL", "WOFI_CONFIG",
		"WOFI_INDEXER_ALLOW_UNSIGNED", "WOFI_STORE_ALLOW_UNSIGNED", "WOFI_INDEXER_BATCH_SIZE",
		"WOFI_METRICS_ADDR", "WOFI_LOG_JSON", "WOFI_LEDGER_CACHE", "WOFI_STORE_BACKEND",
		"WOFI_OPENAI_API_KEY", "OPENAI_API_KEY", "WOFI_EMBEDDING_DIMENSIONS",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("WOFI_DEVSTORE_DIR", filepath.Join(t.TempDir(), "objects"))
}

// tempDB returns a SQLite path in a fresh temp directory.
func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "wofi.db")
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeObjects writes the canonical JSON array of objects to a temp file.
func writeObjects(t *testing.T, objects ...map[string]any) string {
	t.Helper()
	items := make([]any, len(objects))
	for i, obj := range objects {
		items[i] = obj
	}
	data, err := kernel.Canonicalize(items)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "objects.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// writeObject writes a single object in canonical form to a temp file.
func writeObject(t *testing.T, obj map[string]any) string {
	t.Helper()
	data, err := kernel.Canonicalize(obj)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "object.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// ingestFixtures ingests unsigned objects into db and fails the test on
// any error.
func ingestFixtures(t *testing.T, db string, objects ...map[string]any) {
	t.Helper()
	_, err := runCLI(t, "ingest", writeObjects(t, objects...), "--db", db, "--allow-unsigned")
	require.NoError(t, err)
}
