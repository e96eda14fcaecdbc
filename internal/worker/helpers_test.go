package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bertona88/wofi/internal/ingest"
	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	store *store.Store
	clock *testutil.DeterministicClock
}

func newEnv(t *testing.T) env {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultStart)
	return env{store: testutil.OpenStore(t, clock), clock: clock}
}

func (e env) opts(extra ...Option) []Option {
	return append([]Option{WithLogger(quietLogger()), WithClock(e.clock.Now)}, extra...)
}

// addIdea ingests an idea and returns its content id.
func (e env) addIdea(t *testing.T, obj kernel.Object) string {
	t.Helper()
	ing := ingest.New(e.store, ingest.WithAllowUnsigned(true), ingest.WithLogger(quietLogger()))
	res, err := ing.Ingest(context.Background(), ingest.Input{CanonicalJSON: obj})
	require.NoError(t, err)
	require.Equal(t, ingest.StatusOK, res.Status)
	return res.ContentID
}

type jobRow struct {
	Status    string
	Attempts  int
	LastError string
	InputHash string
	ClaimedBy string
}

func loadJob(t *testing.T, st *store.Store, table string, id int64) jobRow {
	t.Helper()
	var row jobRow
	var lastError, claimedBy string
	require.NoError(t, st.QueryRow(context.Background(),
		`SELECT status, attempts, COALESCE(last_error, ''), input_hash, COALESCE(claimed_by, '') FROM `+table+` WHERE id = ?`, id,
	).Scan(&row.Status, &row.Attempts, &lastError, &row.InputHash, &claimedBy))
	row.LastError = lastError
	row.ClaimedBy = claimedBy
	return row
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	n, err := store.CountRows(context.Background(), st, table)
	require.NoError(t, err)
	return n
}
