package query

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructionScenario(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	a := testutil.Idea("Idea A")
	a["kind"] = "concept"
	g.add("A", a)
	g.add("B", testutil.Idea("Idea B"))
	construction := testutil.Construction("compose", g.id("A"))
	construction["inputs"] = []any{map[string]any{"idea_id": g.id("A")}}
	g.add("K", construction)
	g.edge("K->B", kernel.RelOutputOf, "K", "B")
	g.edge("A->K", kernel.RelInputOf, "A", "K")

	rec, err := g.engine.Construction(ctx, g.id("K"))
	require.NoError(t, err)
	assert.Equal(t, NodeConstruction, rec.Type)
	assert.Equal(t, "compose", rec.Operator)
	assert.Equal(t, []ConstructionInput{{IdeaID: g.id("A"), Ordinal: 0}}, rec.Inputs)
	require.NotNil(t, rec.Output)
	assert.Equal(t, g.id("B"), rec.Output.IdeaID)
	assert.Nil(t, rec.ProfileID)
	assert.JSONEq(t, "null", string(mustJSON(t, rec.ParamsJSON)))
}

func TestConstructionWithoutOutput(t *testing.T) {
	g := newGraph(t)
	g.add("A", testutil.Idea("Idea A"))
	g.add("B", testutil.Idea("Idea B"))
	g.add("K", g.construction("bundle", "A", "B"))

	rec, err := g.engine.Construction(context.Background(), g.id("K"))
	require.NoError(t, err)
	assert.Nil(t, rec.Output)
	require.Len(t, rec.Inputs, 2)
	assert.Equal(t, g.id("A"), rec.Inputs[0].IdeaID)
	assert.Equal(t, 1, rec.Inputs[1].Ordinal)
	require.NotNil(t, rec.Inputs[1].Role)
	assert.Equal(t, "modifier", *rec.Inputs[1].Role)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"output":null`)
}

func TestIdea(t *testing.T) {
	g := newGraph(t)
	g.add("A", testutil.Idea("Idea A"))

	rec, err := g.engine.Idea(context.Background(), g.id("A"))
	require.NoError(t, err)
	assert.Equal(t, NodeIdea, rec.Type)
	assert.Equal(t, "Idea A", rec.Title)
	assert.Equal(t, "concept", rec.Kind)
	require.NotNil(t, rec.Summary)
	assert.Equal(t, "Summary of Idea A", *rec.Summary)
	assert.JSONEq(t, `["test"]`, string(rec.Tags))
	require.NotNil(t, rec.CreatedAt)
	assert.Equal(t, testutil.CreatedAt, *rec.CreatedAt)
	assert.Nil(t, rec.AuthorPubkey)
}

func TestClaimBundle(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.add("X", testutil.Idea("Target"))
	c1 := testutil.Claim("First claim")
	g.add("C1", c1)
	c2 := testutil.Claim("Second claim")
	c2["created_at"] = "2024-01-02T00:00:00.000Z"
	g.add("C2", c2)
	g.add("E1", testutil.Evidence("https://example.com/1"))
	g.add("E2", testutil.Evidence("https://example.com/2"))
	g.add("Other", testutil.Claim("Unrelated claim"))

	g.edge("C1 about", kernel.RelAbout, "C1", "X")
	g.edge("C2 about", kernel.RelAbout, "C2", "X")
	g.edge("E1 supports", kernel.RelSupports, "E1", "C1")
	g.edge("E2 refutes", kernel.RelRefutes, "E2", "C1")

	for _, targetType := range []TargetType{"", TargetIdea} {
		t.Run("target type "+string(targetType), func(t *testing.T) {
			bundle, err := g.engine.ClaimBundle(ctx, g.id("X"), targetType)
			require.NoError(t, err)
			assert.Equal(t, ClaimTarget{Type: TargetIdea, ID: g.id("X")}, bundle.Target)

			require.Len(t, bundle.Claims, 2)
			first, second := bundle.Claims[0], bundle.Claims[1]
			assert.Equal(t, g.id("C1"), first.ID)
			assert.Equal(t, "First claim", first.ClaimText)
			require.Len(t, first.Evidence, 2)

			stances := map[string]string{}
			for _, ev := range first.Evidence {
				require.NotNil(t, ev.Stance)
				stances[g.alias(ev.ID)] = *ev.Stance
			}
			assert.Equal(t, map[string]string{"<E1>": "supports", "<E2>": "refutes"}, stances)

			assert.Equal(t, g.id("C2"), second.ID)
			assert.NotNil(t, second.Evidence)
			assert.Empty(t, second.Evidence)
		})
	}

	t.Run("empty evidence renders as a list", func(t *testing.T) {
		bundle, err := g.engine.ClaimBundle(ctx, g.id("X"), "")
		require.NoError(t, err)
		data, err := json.Marshal(bundle.Claims[1])
		require.NoError(t, err)
		assert.Contains(t, string(data), `"evidence":[]`)
	})
}

func TestClaimBundleImplementation(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.add("X", testutil.Idea("Target"))
	g.add("I", testutil.Implementation(g.id("X")))
	g.add("C", testutil.Claim("Runs fast"))
	g.edge("C about", kernel.RelAbout, "C", "I")

	bundle, err := g.engine.ClaimBundle(ctx, g.id("I"), "")
	require.NoError(t, err)
	assert.Equal(t, TargetImplementation, bundle.Target.Type)
	require.Len(t, bundle.Claims, 1)
	assert.Equal(t, g.id("C"), bundle.Claims[0].ID)

	// The idea itself has no claims.
	bundle, err = g.engine.ClaimBundle(ctx, g.id("X"), TargetIdea)
	require.NoError(t, err)
	assert.Empty(t, bundle.Claims)

	_, err = g.engine.ClaimBundle(ctx, g.id("X"), TargetImplementation)
	assert.True(t, IsNotFound(err), "got %v", err)

	_, err = g.engine.ClaimBundle(ctx, g.id("X"), "claim")
	assert.True(t, IsInvalidArgument(err), "got %v", err)

	_, err = g.engine.ClaimBundle(ctx, g.id("C"), "")
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestSubmissions(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	g.add("X", testutil.Idea("From chat"))
	g.add("S1", testutil.Submission("first message"))
	late := testutil.Submission("second message")
	late["created_at"] = "2024-01-05T00:00:00.000Z"
	g.add("S2", late)
	g.add("C", testutil.Claim("Derived claim"))

	g.edge("S2 as X", kernel.RelSubmittedAs, "S2", "X")
	g.edge("S1 as X", kernel.RelSubmittedAs, "S1", "X")
	g.edge("X from S1", kernel.RelDerivedFrom, "X", "S1")
	g.edge("C from S1", kernel.RelDerivedFrom, "C", "S1")

	t.Run("submission", func(t *testing.T) {
		rec, err := g.engine.Submission(ctx, g.id("S1"))
		require.NoError(t, err)
		assert.Equal(t, "submission", rec.Type)
		assert.Equal(t, "inline_utf8", rec.PayloadKind)
		assert.Equal(t, "first message", rec.PayloadValue)
		assert.Equal(t, "text/plain", rec.MimeType)
		assert.JSONEq(t, `{"conversation_id":"conv-1"}`, string(rec.ContextJSON))
	})

	t.Run("idea submissions oldest first", func(t *testing.T) {
		recs, err := g.engine.IdeaSubmissions(ctx, g.id("X"))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, g.id("S1"), recs[0].ID)
		assert.Equal(t, g.id("S2"), recs[1].ID)
	})

	t.Run("derived from", func(t *testing.T) {
		recs, err := g.engine.DerivedFrom(ctx, g.id("S1"))
		require.NoError(t, err)
		require.Len(t, recs, 2)
		types := []string{recs[0].WofiType, recs[1].WofiType}
		assert.ElementsMatch(t, []string{string(kernel.TypeIdea), string(kernel.TypeClaim)}, types)

		recs, err = g.engine.DerivedFrom(ctx, g.id("S2"))
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)
	})

	t.Run("no submissions", func(t *testing.T) {
		g.add("Y", testutil.Idea("Quiet"))
		recs, err := g.engine.IdeaSubmissions(ctx, g.id("Y"))
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestLookupsNotFound(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()
	missing := "sha256:" + zeros64

	_, err := g.engine.Idea(ctx, missing)
	assert.True(t, IsNotFound(err))
	_, err = g.engine.Construction(ctx, missing)
	assert.True(t, IsNotFound(err))
	_, err = g.engine.Submission(ctx, missing)
	assert.True(t, IsNotFound(err))
	_, err = g.engine.IdeaSubmissions(ctx, missing)
	assert.True(t, IsNotFound(err))
	_, err = g.engine.DerivedFrom(ctx, missing)
	assert.True(t, IsNotFound(err))
	_, err = g.engine.ClaimBundle(ctx, missing, "")
	assert.True(t, IsNotFound(err))

	var qe *Error
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "target not found: "+missing, qe.Message)
}

func addEmbedding(t *testing.T, g *graph, alias, model string, vector []float64) {
	t.Helper()
	data, err := json.Marshal(vector)
	require.NoError(t, err)
	_, err = g.store.Exec(context.Background(), `
		INSERT INTO idea_embeddings (idea_id, model, dimensions, input_hash, embedding)
		VALUES (?, ?, ?, ?, ?)
	`, g.id(alias), model, len(vector), "hash-"+alias, string(data))
	require.NoError(t, err)
}

func TestSearchIdeasByEmbedding(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	for _, name := range []string{"X", "Y", "Z", "Zero", "Other"} {
		g.add(name, testutil.Idea("Idea "+name))
	}
	addEmbedding(t, g, "X", DefaultSearchModel, []float64{1, 0, 0})
	addEmbedding(t, g, "Y", DefaultSearchModel, []float64{0, 1, 0})
	addEmbedding(t, g, "Z", DefaultSearchModel, []float64{1, 1, 0})
	addEmbedding(t, g, "Zero", DefaultSearchModel, []float64{0, 0, 0})
	addEmbedding(t, g, "Other", "small-model", []float64{1, 0, 0})

	results, err := g.engine.SearchIdeasByEmbedding(ctx, []float64{2, 0, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 4)

	got := make([]string, 0, len(results))
	for _, r := range results {
		got = append(got, g.alias(r.ID))
	}
	assert.Equal(t, []string{"<X>", "<Z>", "<Y>", "<Zero>"}, got)

	require.NotNil(t, results[0].Distance)
	assert.InDelta(t, 0, *results[0].Distance, 1e-9)
	assert.InDelta(t, 1, *results[0].Score, 1e-9)
	assert.InDelta(t, 1-1/math.Sqrt2, *results[1].Distance, 1e-9)
	assert.InDelta(t, 1, *results[2].Distance, 1e-9)
	assert.Nil(t, results[3].Distance)
	assert.Nil(t, results[3].Score)
	assert.Equal(t, "Idea X", results[0].Title)

	limited, err := g.engine.SearchIdeasByEmbedding(ctx, []float64{0, 1, 0}, SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, g.id("Y"), limited[0].ID)

	other, err := g.engine.SearchIdeasByEmbedding(ctx, []float64{1, 0, 0}, SearchOptions{Model: "small-model", Dimensions: 3})
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, g.id("Other"), other[0].ID)
}

func TestSearchIdeasByEmbeddingErrors(t *testing.T) {
	g := newGraph(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		vector  []float64
		opts    SearchOptions
		message string
	}{
		{"empty", nil, SearchOptions{}, "embedding must be a non-empty array"},
		{"nan", []float64{1, math.NaN()}, SearchOptions{}, "embedding contains non-finite values"},
		{"inf", []float64{math.Inf(1)}, SearchOptions{}, "embedding contains non-finite values"},
		{"dimensions", []float64{1, 2}, SearchOptions{Dimensions: 3}, "embedding length does not match dimensions"},
		{"limit", []float64{1}, SearchOptions{Limit: -1}, "limit must be a positive integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.engine.SearchIdeasByEmbedding(ctx, tt.vector, tt.opts)
			require.Error(t, err)
			var qe *Error
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, ErrCodeInvalidArgument, qe.Code)
			assert.Equal(t, tt.message, qe.Message)
		})
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
