package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bertona88/wofi/internal/query"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/bertona88/wofi/internal/worker"
)

// keywordEmbedder maps text mentioning "kite" to the first axis and
// everything else to the second.
type keywordEmbedder struct {
	mu     sync.Mutex
	inputs []string
}

func (e *keywordEmbedder) Embed(_ context.Context, input, _ string, dimensions int) ([]float64, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, input)
	e.mu.Unlock()

	vector := make([]float64, dimensions)
	if strings.Contains(strings.ToLower(input), "kite") {
		vector[0] = 1
	} else {
		vector[1] = 1
	}
	return vector, nil
}

func runWorker(t *testing.T, db string, embedder worker.Embedder, handler worker.DecompositionHandler, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := newWorkerCommand(&WorkerOptions{
		RootOptions: &RootOptions{Format: "text", Database: db},
		Embedder:    embedder,
		Handler:     handler,
	})
	cmd.SetOut(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEmbeddingWorkerAndSearch(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WOFI_EMBEDDING_DIMENSIONS", "3")
	db := tempDB(t)

	kite := testutil.Idea("Kite turbine")
	still := testutil.Idea("Solar still")
	kiteID, stillID := testutil.ID(kite), testutil.ID(still)
	ingestFixtures(t, db, kite, still)

	out, err := runCLI(t, "enqueue", "embedding", kiteID, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "✓ embedding job queued for "+kiteID+"\n", out)

	out, err = runCLI(t, "enqueue", "embedding", kiteID, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "= embedding job already present for "+kiteID+"\n", out)

	out, err = runCLI(t, "enqueue", "embedding", stillID, "--db", db, "--format", "json")
	require.NoError(t, err)
	var enq struct {
		Status string               `json:"status"`
		Data   worker.EnqueueResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &enq))
	assert.True(t, enq.Data.Enqueued)
	assert.Equal(t, 3, enq.Data.Dimensions)
	assert.Equal(t, "text-embedding-3-large", enq.Data.Model)

	embedder := &keywordEmbedder{}
	out, err = runWorker(t, db, embedder, nil, "embeddings")
	require.NoError(t, err)
	assert.Equal(t, "embedding queue: 0 queued, 0 processing, 2 done, 0 failed\n", out)
	assert.Len(t, embedder.inputs, 2)

	out, err = runCLI(t, "query", "search", "--embedding", "[0.9, 0.1, 0]", "--db", db)
	require.NoError(t, err)
	var results []query.IdeaSearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, kiteID, results[0].ID)
	assert.Equal(t, stillID, results[1].ID)
	require.NotNil(t, results[0].Distance)
	require.NotNil(t, results[1].Distance)
	assert.Less(t, *results[0].Distance, *results[1].Distance)

	out, err = runCLI(t, "query", "search", "--embedding", "[0.9, 0.1, 0]", "--limit", "1", "--db", db)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 1)

	// A different model has no stored vectors.
	out, err = runCLI(t, "query", "search", "--embedding", "[0.9, 0.1, 0]", "--model", "other-model", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestSearchCommand_TextUsesEmbedder(t *testing.T) {
	isolateEnv(t)
	t.Setenv("WOFI_EMBEDDING_DIMENSIONS", "2")
	db := tempDB(t)

	kite := testutil.Idea("Kite turbine")
	ingestFixtures(t, db, kite)
	_, err := runCLI(t, "enqueue", "embedding", testutil.ID(kite), "--db", db)
	require.NoError(t, err)

	embedder := &keywordEmbedder{}
	_, err = runWorker(t, db, embedder, nil, "embeddings")
	require.NoError(t, err)

	out := &bytes.Buffer{}
	cmd := newQueryCommand(&QueryOptions{
		RootOptions: &RootOptions{Format: "json", Database: db},
		Embedder:    embedder,
	})
	cmd.SetOut(out)
	cmd.SetArgs([]string{"search", "--text", "flying kites"})
	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string                   `json:"status"`
		Data   []query.IdeaSearchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, testutil.ID(kite), resp.Data[0].ID)
	assert.Contains(t, embedder.inputs, "flying kites")
}

func TestEmbeddingWorker_RequiresAPIKey(t *testing.T) {
	isolateEnv(t)

	out, err := runWorker(t, tempDB(t), nil, nil, "embeddings")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "WOFI_OPENAI_API_KEY")
}

func TestEnqueueCommand_UnknownIdea(t *testing.T) {
	isolateEnv(t)
	missing := "sha256:" + strings.Repeat("b", 64)

	out, err := runCLI(t, "enqueue", "embedding", missing, "--db", tempDB(t), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestDecompositionWorker(t *testing.T) {
	isolateEnv(t)
	db := tempDB(t)

	idea := testutil.Idea("Kite turbine")
	profile := testutil.Profile("default")
	ideaID, profileID := testutil.ID(idea), testutil.ID(profile)
	ingestFixtures(t, db, idea, profile)

	_, err := runCLI(t, "enqueue", "decomposition", ideaID, "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile-id")

	out, err := runCLI(t, "enqueue", "decomposition", ideaID, "--profile-id", profileID, "--opts", "[1]", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "--opts must be a JSON object")

	out, err = runCLI(t, "enqueue", "decomposition", ideaID, "--profile-id", profileID, "--opts", `{"depth":2}`, "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "✓ decomposition job queued for "+ideaID+"\n", out)

	var handled []worker.DecompositionJob
	handler := worker.DecompositionHandlerFunc(func(_ context.Context, job worker.DecompositionJob) error {
		handled = append(handled, job)
		return nil
	})
	out, err = runWorker(t, db, nil, handler, "decomposition")
	require.NoError(t, err)
	assert.Equal(t, "decomposition queue: 0 queued, 0 processing, 1 done, 0 failed\n", out)
	require.Len(t, handled, 1)
	assert.Equal(t, ideaID, handled[0].IdeaID)
	assert.Equal(t, profileID, handled[0].ProfileID)

	// The finished job is not queued again without --force.
	out, err = runCLI(t, "enqueue", "decomposition", ideaID, "--profile-id", profileID, "--opts", `{"depth":2}`, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "= decomposition job already present")

	out, err = runCLI(t, "enqueue", "decomposition", ideaID, "--profile-id", profileID, "--opts", `{"depth":2}`, "--force", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ decomposition job queued")
}
