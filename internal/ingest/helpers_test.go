package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestIngester returns an ingester accepting unsigned objects over a
// fresh store sharing one deterministic clock.
func newTestIngester(t *testing.T, opts ...Option) (*Ingester, *store.Store) {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultStart)
	st := testutil.OpenStore(t, clock)
	base := []Option{WithAllowUnsigned(true), WithLogger(quietLogger()), WithClock(clock.Now)}
	return New(st, append(base, opts...)...), st
}

func mustIngest(t *testing.T, ing *Ingester, obj kernel.Object) Result {
	t.Helper()
	res, err := ing.Ingest(context.Background(), Input{CanonicalJSON: obj})
	require.NoError(t, err)
	return res
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	n, err := store.CountRows(context.Background(), st, table)
	require.NoError(t, err)
	return n
}

func countWhere(t *testing.T, st *store.Store, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, st.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}
