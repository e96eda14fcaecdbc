package query

import (
	"context"
	"io"
	"log/slog"
	"strings"
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

// graph ingests objects by alias and remembers their content ids.
type graph struct {
	t      *testing.T
	store  *store.Store
	ing    *ingest.Ingester
	engine *Engine
	ids    map[string]string
	kinds  map[string]kernel.Kind
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	clock := testutil.NewDeterministicClock(testutil.DefaultStart)
	st := testutil.OpenStore(t, clock)
	return &graph{
		t:      t,
		store:  st,
		ing:    ingest.New(st, ingest.WithAllowUnsigned(true), ingest.WithLogger(quietLogger()), ingest.WithClock(clock.Now)),
		engine: New(st, WithLogger(quietLogger())),
		ids:    make(map[string]string),
		kinds:  make(map[string]kernel.Kind),
	}
}

// add ingests obj under alias and requires it to expand.
func (g *graph) add(alias string, obj kernel.Object) string {
	g.t.Helper()
	res, err := g.ing.Ingest(context.Background(), ingest.Input{CanonicalJSON: obj})
	require.NoError(g.t, err)
	require.Equal(g.t, ingest.StatusOK, res.Status, "%s: %s", alias, res.Error)
	g.ids[alias] = res.ContentID
	if kind, ok := kernel.KindOf(kernel.Type(res.WofiType)); ok {
		g.kinds[alias] = kind
	}
	return res.ContentID
}

func (g *graph) id(alias string) string {
	g.t.Helper()
	id, ok := g.ids[alias]
	require.True(g.t, ok, "unknown alias %s", alias)
	return id
}

func (g *graph) edge(alias string, rel kernel.Relation, from, to string) string {
	g.t.Helper()
	return g.add(alias, testutil.Edge(rel, g.kinds[from], g.id(from), g.kinds[to], g.id(to)))
}

// alias replaces every content id in s with its alias in angle brackets.
func (g *graph) alias(s string) string {
	pairs := make([]string, 0, 2*len(g.ids))
	for name, id := range g.ids {
		pairs = append(pairs, id, "<"+name+">")
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// construction builds a construction over the ideas named by aliases.
func (g *graph) construction(operator string, aliases ...string) kernel.Object {
	g.t.Helper()
	ids := make([]string, 0, len(aliases))
	for _, a := range aliases {
		ids = append(ids, g.id(a))
	}
	return testutil.Construction(operator, ids...)
}

const zeros64 = "0000000000000000000000000000000000000000000000000000000000000000"

func ideaAt(title, createdAt string) kernel.Object {
	obj := testutil.Idea(title)
	obj["created_at"] = createdAt
	return obj
}

// lineageGraph builds
//
//	A -input-> K1 -output-> B -input-> K2 -output-> D
//	                               C -input-> K2
//
// with C and D created after everything else, C first.
func lineageGraph(t *testing.T) *graph {
	g := newGraph(t)
	g.add("A", testutil.Idea("Idea A"))
	g.add("B", testutil.Idea("Idea B"))
	g.add("C", ideaAt("Idea C", "2024-01-02T00:00:00.000Z"))
	g.add("D", ideaAt("Idea D", "2024-01-03T00:00:00.000Z"))
	g.add("K1", g.construction("compose", "A"))
	g.add("K2", g.construction("refine", "B", "C"))
	g.edge("K1->B", kernel.RelOutputOf, "K1", "B")
	g.edge("K2->D", kernel.RelOutputOf, "K2", "D")
	return g
}
