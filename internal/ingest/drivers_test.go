package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/ledger"
	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedger serves transactions per type with cursors "<type>#<n>".
type fakeLedger struct {
	txs  map[string][]ledger.Transaction
	data map[string][]byte
	ids  map[string]string
	seq  int

	listCalls int
	failData  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		txs:  make(map[string][]ledger.Transaction),
		data: make(map[string][]byte),
		ids:  make(map[string]string),
	}
}

// add publishes obj and returns its transaction id.
func (f *fakeLedger) add(obj kernel.Object) string {
	f.seq++
	txID := fmt.Sprintf("tx-%d", f.seq)
	wofiType, _ := obj.StringField("type")
	f.publish(wofiType, txID, []byte(testutil.Canonical(obj)))
	f.ids[testutil.ID(obj)] = txID
	return txID
}

func (f *fakeLedger) publish(wofiType, txID string, payload []byte) {
	cursor := wofiType + "#" + strconv.Itoa(len(f.txs[wofiType])+1)
	f.txs[wofiType] = append(f.txs[wofiType], ledger.Transaction{ID: txID, Cursor: cursor})
	if payload != nil {
		f.data[txID] = payload
	}
}

func (f *fakeLedger) ListTransactions(_ context.Context, wofiType, after string, first int) ([]ledger.Transaction, error) {
	f.listCalls++
	all := f.txs[wofiType]
	start := 0
	for i, tx := range all {
		if tx.Cursor == after {
			start = i + 1
		}
	}
	end := min(start+first, len(all))
	return all[start:end], nil
}

func (f *fakeLedger) GetTransactionData(_ context.Context, txID string) ([]byte, error) {
	if f.failData != nil {
		return nil, f.failData
	}
	data, ok := f.data[txID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return data, nil
}

func (f *fakeLedger) LookupTxIDByContentID(_ context.Context, contentID string) (string, error) {
	txID, ok := f.ids[contentID]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return txID, nil
}

func TestSyncOutbox(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	idea := testutil.Idea("Idea A")
	construction := testutil.Construction("compose", testutil.ID(idea))

	constructionID, err := ing.EnqueueOutbox(ctx, "", construction, "tx-c")
	require.NoError(t, err)
	assert.Equal(t, testutil.ID(construction), constructionID)
	_, err = ing.EnqueueOutbox(ctx, "", testutil.Canonical(idea), "")
	require.NoError(t, err)

	stats, err := ing.SyncOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Processed: 2, Ingested: 1, Deferred: 1, Retried: 1, Batches: 1}, stats)

	entry, err := store.GetOutbox(ctx, st, constructionID)
	require.NoError(t, err)
	assert.Equal(t, store.OutboxDeferred, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Empty(t, entry.LastError)

	// The retry sweep already expanded the construction.
	assert.Equal(t, 1, countRows(t, st, "constructions"))
	raw, err := store.GetObject(ctx, st, constructionID)
	require.NoError(t, err)
	assert.Equal(t, "tx-c", raw.TxID)

	stats, err = ing.SyncOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Ingested)
	entry, err = store.GetOutbox(ctx, st, constructionID)
	require.NoError(t, err)
	assert.Equal(t, store.OutboxIngested, entry.Status)
	assert.Equal(t, 2, entry.Attempts)

	stats, err = ing.SyncOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)
}

func TestSyncOutboxRecordsFailures(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	broken := testutil.Idea("broken")
	delete(broken, "title")

	id, err := ing.EnqueueOutbox(ctx, "", broken, "")
	require.NoError(t, err)
	require.NoError(t, store.EnqueueOutbox(ctx, st, "sha256:garbage", "{not json", "", st.Now()))

	stats, err := ing.SyncOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)

	entry, err := store.GetOutbox(ctx, st, id)
	require.NoError(t, err)
	assert.Equal(t, store.OutboxFailed, entry.Status)
	assert.Contains(t, entry.LastError, "SCHEMA_INVALID")

	garbage, err := store.GetOutbox(ctx, st, "sha256:garbage")
	require.NoError(t, err)
	assert.Equal(t, store.OutboxFailed, garbage.Status)
	assert.Contains(t, garbage.LastError, "Invalid JSON")
}

func TestDrainOutbox(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	ideaA := testutil.Idea("A")
	ideaB := testutil.Idea("B")
	construction := testutil.Construction("compose", testutil.ID(ideaA), testutil.ID(ideaB))

	for _, obj := range []kernel.Object{construction, ideaA, ideaB} {
		_, err := ing.EnqueueOutbox(ctx, "", obj, "")
		require.NoError(t, err)
	}

	stats, err := ing.DrainOutbox(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Ingested)
	assert.Equal(t, 0, countWhere(t, st, `SELECT COUNT(*) FROM outbox WHERE status IS NULL OR status <> 'ingested'`))
	assert.Equal(t, 1, countRows(t, st, "constructions"))
	assert.Equal(t, 0, countRows(t, st, "ingest_deferred"))
}

func TestBackfill(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	src := newFakeLedger()

	ideaA := testutil.Idea("A")
	ideaB := testutil.Idea("B")
	construction := testutil.Construction("compose", testutil.ID(ideaA))
	// Published out of dependency order; backfill walks types in order.
	src.add(construction)
	src.add(testutil.Edge(kernel.RelOutputOf, kernel.KindConstruction, testutil.ID(construction), kernel.KindIdea, testutil.ID(ideaB)))
	src.add(ideaA)
	src.add(ideaB)

	stats, err := ing.Backfill(ctx, src, BackfillOptions{BatchSize: 1})
	require.NoError(t, err)
	require.Len(t, stats, len(DefaultBackfillTypes))

	byType := make(map[string]BackfillStats)
	for _, s := range stats {
		byType[s.WofiType] = s
	}
	assert.Equal(t, 2, byType[string(kernel.TypeIdea)].Ingested)
	assert.Equal(t, 2, byType[string(kernel.TypeIdea)].Pages)
	assert.Equal(t, 1, byType[string(kernel.TypeConstruction)].Ingested)
	assert.Equal(t, 1, byType[string(kernel.TypeEdge)].Ingested)
	assert.Equal(t, 1, countRows(t, st, "construction_outputs"))

	cursor, ok, err := store.GetCheckpoint(ctx, st, DefaultBackfillSource, string(kernel.TypeIdea))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "wofi.idea.v1#2", cursor)

	raw, err := store.GetObject(ctx, st, testutil.ID(ideaA))
	require.NoError(t, err)
	assert.Equal(t, src.ids[testutil.ID(ideaA)], raw.TxID)

	// A second run resumes from the checkpoints and finds nothing new.
	stats, err = ing.Backfill(ctx, src, BackfillOptions{BatchSize: 1})
	require.NoError(t, err)
	for _, s := range stats {
		assert.Zero(t, s.Pages, s.WofiType)
	}
}

func TestBackfillSkipsAndAdvances(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	src := newFakeLedger()

	old := testutil.Idea("old")
	recent := testutil.Idea("recent")
	recent["created_at"] = "2025-06-01T00:00:00.000Z"
	src.add(old)
	src.publish(string(kernel.TypeIdea), "tx-missing", nil)
	src.publish(string(kernel.TypeIdea), "tx-garbage", []byte("not json"))
	src.add(recent)

	stats, err := ing.Backfill(ctx, src, BackfillOptions{
		Source:    "test",
		Types:     []string{string(kernel.TypeIdea)},
		From:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		BatchSize: 10,
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, BackfillStats{
		WofiType: string(kernel.TypeIdea),
		Pages:    1,
		Ingested: 1,
		Skipped:  3,
		Cursor:   "wofi.idea.v1#4",
	}, stats[0])
	assert.Equal(t, 1, countRows(t, st, "ideas"))

	cursor, ok, err := store.GetCheckpoint(ctx, st, "test", string(kernel.TypeIdea))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "wofi.idea.v1#4", cursor)
}

func TestBackfillStopsOnFetchError(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	src := newFakeLedger()
	src.add(testutil.Idea("A"))
	src.failData = errors.New("gateway unavailable")

	_, err := ing.Backfill(ctx, src, BackfillOptions{Types: []string{string(kernel.TypeIdea)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")

	_, ok, err := store.GetCheckpoint(ctx, st, DefaultBackfillSource, string(kernel.TypeIdea))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreatedSince(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		createdAt any
		from      time.Time
		want      bool
	}{
		{"no bound", nil, time.Time{}, true},
		{"after", "2024-07-01T00:00:00.000Z", from, true},
		{"equal", "2024-06-01T00:00:00.000Z", from, true},
		{"before", "2024-05-31T23:59:59.999Z", from, false},
		{"missing", nil, from, false},
		{"unparseable", "yesterday", from, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := kernel.Object{}
			if tt.createdAt != nil {
				obj["created_at"] = tt.createdAt
			}
			assert.Equal(t, tt.want, createdSince(obj, tt.from))
		})
	}
}

func TestReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("from local store", func(t *testing.T) {
		clock := testutil.NewDeterministicClock(testutil.DefaultStart)
		st := testutil.OpenStore(t, clock)
		strict := New(st, WithLogger(quietLogger()), WithClock(clock.Now))
		lenient := New(st, WithAllowUnsigned(true), WithLogger(quietLogger()), WithClock(clock.Now))
		idea := testutil.Idea("A")

		require.Equal(t, StatusFailed, mustIngest(t, strict, idea).Status)
		res, err := lenient.Replay(ctx, testutil.ID(idea), nil, false)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, res.Status)
		assert.Equal(t, 1, countRows(t, st, "ideas"))
	})

	t.Run("from ledger", func(t *testing.T) {
		ing, st := newTestIngester(t)
		src := newFakeLedger()
		idea := testutil.Idea("A")
		txID := src.add(idea)

		res, err := ing.Replay(ctx, testutil.ID(idea), src, false)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, res.Status)

		raw, err := store.GetObject(ctx, st, testutil.ID(idea))
		require.NoError(t, err)
		assert.Equal(t, txID, raw.TxID)
	})

	t.Run("prefer ledger", func(t *testing.T) {
		ing, _ := newTestIngester(t)
		idea := testutil.Idea("A")
		mustIngest(t, ing, idea)

		_, err := ing.Replay(ctx, testutil.ID(idea), newFakeLedger(), true)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not found", func(t *testing.T) {
		ing, _ := newTestIngester(t)
		id := testutil.ID(testutil.Idea("nowhere"))

		_, err := ing.Replay(ctx, id, nil, false)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = ing.Replay(ctx, id, newFakeLedger(), false)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ledger payload missing", func(t *testing.T) {
		ing, _ := newTestIngester(t)
		src := newFakeLedger()
		id := testutil.ID(testutil.Idea("lost"))
		src.ids[id] = "tx-lost"

		_, err := ing.Replay(ctx, id, src, false)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
