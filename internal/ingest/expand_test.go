package ingest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructionDeferredThenRetried(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	idea := testutil.Idea("Idea A")
	ideaID := testutil.ID(idea)
	construction := testutil.Construction("compose", ideaID)

	res := mustIngest(t, ing, construction)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, ideaID, res.MissingRef)
	assert.Equal(t, "missing idea for construction input", res.Reason)
	assert.Equal(t, 0, countRows(t, st, "constructions"))

	d, err := store.GetDeferred(ctx, st, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, ideaID, d.MissingRef)
	assert.Equal(t, string(kernel.TypeConstruction), d.WofiType)

	// The raw row is recorded ok while expansion waits.
	raw, err := store.GetObject(ctx, st, res.ContentID)
	require.NoError(t, err)
	assert.Equal(t, store.ObjectStatusOK, raw.Status)

	require.Equal(t, StatusOK, mustIngest(t, ing, idea).Status)
	n, err := ing.RetryDeferred(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, countRows(t, st, "constructions"))
	assert.Equal(t, 1, countWhere(t, st,
		`SELECT COUNT(*) FROM construction_inputs WHERE construction_id = ? AND input_idea_id = ? AND ordinal = 0`,
		res.ContentID, ideaID))
	assert.Equal(t, 0, countRows(t, st, "ingest_deferred"))
}

func TestDeferralKeepsFirstSeenAndLatestRef(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	ideaA := testutil.Idea("A")
	ideaB := testutil.Idea("B")
	construction := testutil.Construction("bundle", testutil.ID(ideaA), testutil.ID(ideaB))

	first := mustIngest(t, ing, construction)
	require.Equal(t, testutil.ID(ideaA), first.MissingRef)
	before, err := store.GetDeferred(ctx, st, first.ContentID)
	require.NoError(t, err)

	require.Equal(t, StatusOK, mustIngest(t, ing, ideaA).Status)
	second := mustIngest(t, ing, construction)
	require.Equal(t, StatusDeferred, second.Status)
	assert.Equal(t, testutil.ID(ideaB), second.MissingRef)

	after, err := store.GetDeferred(ctx, st, first.ContentID)
	require.NoError(t, err)
	assert.Equal(t, testutil.ID(ideaB), after.MissingRef)
	assert.Equal(t, before.FirstSeenAt, after.FirstSeenAt)
	assert.Equal(t, 1, countRows(t, st, "ingest_deferred"))
}

func TestRetryDeferredLeavesUnresolved(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	missing := testutil.ID(testutil.Idea("never arrives"))

	mustIngest(t, ing, testutil.Construction("compose", missing))
	mustIngest(t, ing, testutil.Implementation(missing))

	n, err := ing.RetryDeferred(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, countRows(t, st, "ingest_deferred"))

	n, err = ing.RetryDeferred(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetryDeferredCancelled(t *testing.T) {
	ing, _ := newTestIngester(t)
	mustIngest(t, ing, testutil.Construction("compose", testutil.ID(testutil.Idea("x"))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ing.RetryDeferred(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImplementationDeferredOnIdea(t *testing.T) {
	ing, st := newTestIngester(t)
	idea := testutil.Idea("Idea A")
	impl := testutil.Implementation(testutil.ID(idea))

	res := mustIngest(t, ing, impl)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, "missing idea for implementation", res.Reason)

	mustIngest(t, ing, idea)
	_, err := ing.RetryDeferred(context.Background(), 0)
	require.NoError(t, err)

	var ideaID, metadata string
	require.NoError(t, st.QueryRow(context.Background(),
		`SELECT idea_id, metadata_json FROM implementations WHERE content_id = ?`, res.ContentID).Scan(&ideaID, &metadata))
	assert.Equal(t, testutil.ID(idea), ideaID)
	assert.JSONEq(t, `{"artifact":{"kind":"git","value":"https://example.com/repo"},"metadata":{"language":"go"}}`, metadata)
}

func TestTypedColumns(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()

	submission := mustIngest(t, ing, testutil.Submission("raw text"))
	var kind, value, mime, contextJSON string
	require.NoError(t, st.QueryRow(ctx,
		`SELECT payload_kind, payload_value, mime_type, context_json FROM submissions WHERE content_id = ?`,
		submission.ContentID).Scan(&kind, &value, &mime, &contextJSON))
	assert.Equal(t, "inline_utf8", kind)
	assert.Equal(t, "raw text", value)
	assert.Equal(t, "text/plain", mime)
	assert.JSONEq(t, `{"conversation_id":"conv-1"}`, contextJSON)

	idea := mustIngest(t, ing, testutil.Idea("Idea A"))
	var title, tags string
	require.NoError(t, st.QueryRow(ctx,
		`SELECT title, tags FROM ideas WHERE content_id = ?`, idea.ContentID).Scan(&title, &tags))
	assert.Equal(t, "Idea A", title)
	assert.JSONEq(t, `["test"]`, tags)

	claim := mustIngest(t, ing, testutil.Claim("It works"))
	var resolutionType, resolution string
	var aboutID sql.NullString
	require.NoError(t, st.QueryRow(ctx,
		`SELECT resolution_type, resolution_json, about_id FROM claims WHERE content_id = ?`,
		claim.ContentID).Scan(&resolutionType, &resolution, &aboutID))
	assert.Equal(t, "binary", resolutionType)
	assert.JSONEq(t, `{"criteria":"Reproduced independently"}`, resolution)
	assert.False(t, aboutID.Valid)

	profile := mustIngest(t, ing, testutil.Profile("default"))
	var weights string
	require.NoError(t, st.QueryRow(ctx,
		`SELECT weights_json FROM profiles WHERE content_id = ?`, profile.ContentID).Scan(&weights))
	assert.Contains(t, weights, `"name":"default"`)
	assert.Contains(t, weights, `"mint_new_idea":10`)
}

// graph ingests one object of every kind the edge tests need.
type graph struct {
	idea, otherIdea, construction, claim, evidence, implementation, submission string
}

func seedGraph(t *testing.T, ing *Ingester) graph {
	t.Helper()
	idea := testutil.Idea("Idea A")
	other := testutil.Idea("Idea B")
	objs := []kernel.Object{
		idea,
		other,
		testutil.Construction("compose", testutil.ID(idea)),
		testutil.Claim("It works"),
		testutil.Evidence("https://example.com/paper"),
		testutil.Implementation(testutil.ID(idea)),
		testutil.Submission("raw text"),
	}
	for _, obj := range objs {
		res := mustIngest(t, ing, obj)
		require.Equal(t, StatusOK, res.Status, res.Error)
	}
	return graph{
		idea:           testutil.ID(objs[0]),
		otherIdea:      testutil.ID(objs[1]),
		construction:   testutil.ID(objs[2]),
		claim:          testutil.ID(objs[3]),
		evidence:       testutil.ID(objs[4]),
		implementation: testutil.ID(objs[5]),
		submission:     testutil.ID(objs[6]),
	}
}

func TestEdgeEffects(t *testing.T) {
	ctx := context.Background()

	t.Run("OUTPUT_OF records construction output", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		res := mustIngest(t, ing, testutil.Edge(kernel.RelOutputOf, kernel.KindConstruction, g.construction, kernel.KindIdea, g.otherIdea))
		require.Equal(t, StatusOK, res.Status, res.Error)
		assert.Equal(t, 1, countWhere(t, st,
			`SELECT COUNT(*) FROM construction_outputs WHERE construction_id = ? AND output_idea_id = ?`,
			g.construction, g.otherIdea))
	})

	t.Run("ABOUT sets claim target once", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelAbout, kernel.KindClaim, g.claim, kernel.KindIdea, g.idea)).Status)
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelAbout, kernel.KindClaim, g.claim, kernel.KindImplementation, g.implementation)).Status)

		var aboutType, aboutID string
		require.NoError(t, st.QueryRow(ctx,
			`SELECT about_type, about_id FROM claims WHERE content_id = ?`, g.claim).Scan(&aboutType, &aboutID))
		assert.Equal(t, "idea", aboutType)
		assert.Equal(t, g.idea, aboutID)
	})

	t.Run("SUPPORTS links evidence", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelSupports, kernel.KindEvidence, g.evidence, kernel.KindClaim, g.claim)).Status)

		var claimID, stance string
		require.NoError(t, st.QueryRow(ctx,
			`SELECT claim_id, stance FROM evidence WHERE content_id = ?`, g.evidence).Scan(&claimID, &stance))
		assert.Equal(t, g.claim, claimID)
		assert.Equal(t, "supports", stance)

		// The same claim with the opposite stance relinks.
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelRefutes, kernel.KindEvidence, g.evidence, kernel.KindClaim, g.claim)).Status)
		require.NoError(t, st.QueryRow(ctx,
			`SELECT stance FROM evidence WHERE content_id = ?`, g.evidence).Scan(&stance))
		assert.Equal(t, "refutes", stance)
	})

	t.Run("evidence on a second claim fails and rolls back", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		otherClaim := mustIngest(t, ing, testutil.Claim("Something else"))
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelSupports, kernel.KindEvidence, g.evidence, kernel.KindClaim, g.claim)).Status)

		edge := testutil.Edge(kernel.RelRefutes, kernel.KindEvidence, g.evidence, kernel.KindClaim, otherClaim.ContentID)
		res := mustIngest(t, ing, edge)
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "Evidence already linked to a different claim", res.Error)

		// The edge insert was rolled back; the raw row carries the failure.
		assert.Equal(t, 0, countWhere(t, st, `SELECT COUNT(*) FROM edges WHERE content_id = ?`, res.ContentID))
		raw, err := store.GetObject(ctx, st, res.ContentID)
		require.NoError(t, err)
		assert.Equal(t, store.ObjectStatusFailed, raw.Status)
		assert.Equal(t, res.Error, raw.Error)

		var claimID string
		require.NoError(t, st.QueryRow(ctx,
			`SELECT claim_id FROM evidence WHERE content_id = ?`, g.evidence).Scan(&claimID))
		assert.Equal(t, g.claim, claimID)
	})

	t.Run("IMPLEMENTS must match implementation idea", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		require.Equal(t, StatusOK, mustIngest(t, ing,
			testutil.Edge(kernel.RelImplements, kernel.KindImplementation, g.implementation, kernel.KindIdea, g.idea)).Status)

		res := mustIngest(t, ing,
			testutil.Edge(kernel.RelImplements, kernel.KindImplementation, g.implementation, kernel.KindIdea, g.otherIdea))
		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, "IMPLEMENTS edge does not match implementation.idea_id", res.Error)
		assert.Equal(t, 1, countRows(t, st, "edges"))
	})

	t.Run("relations without effects insert the edge only", func(t *testing.T) {
		ing, st := newTestIngester(t)
		g := seedGraph(t, ing)
		for _, e := range []kernel.Object{
			testutil.Edge(kernel.RelInputOf, kernel.KindIdea, g.idea, kernel.KindConstruction, g.construction),
			testutil.Edge(kernel.RelSubmittedAs, kernel.KindSubmission, g.submission, kernel.KindIdea, g.idea),
			testutil.Edge(kernel.RelDerivedFrom, kernel.KindClaim, g.claim, kernel.KindSubmission, g.submission),
		} {
			res := mustIngest(t, ing, e)
			require.Equal(t, StatusOK, res.Status, res.Error)
		}
		assert.Equal(t, 3, countRows(t, st, "edges"))
		assert.Equal(t, 0, countRows(t, st, "construction_outputs"))
	})
}

func TestEdgeIllegalRelation(t *testing.T) {
	tests := []struct {
		name    string
		edge    func(g graph) kernel.Object
		message string
	}{
		{"INPUT_OF from claim", func(g graph) kernel.Object {
			return testutil.Edge(kernel.RelInputOf, kernel.KindClaim, g.claim, kernel.KindConstruction, g.construction)
		}, "INPUT_OF must be Idea -> Construction"},
		{"OUTPUT_OF to claim", func(g graph) kernel.Object {
			return testutil.Edge(kernel.RelOutputOf, kernel.KindConstruction, g.construction, kernel.KindClaim, g.claim)
		}, "OUTPUT_OF must be Construction -> Idea"},
		{"SUPPORTS from idea", func(g graph) kernel.Object {
			return testutil.Edge(kernel.RelSupports, kernel.KindIdea, g.idea, kernel.KindClaim, g.claim)
		}, "SUPPORTS must be Evidence -> Claim"},
		{"ABOUT to evidence", func(g graph) kernel.Object {
			return testutil.Edge(kernel.RelAbout, kernel.KindClaim, g.claim, kernel.KindEvidence, g.evidence)
		}, "ABOUT must be Claim -> Idea|Implementation"},
		{"DERIVED_FROM to idea", func(g graph) kernel.Object {
			return testutil.Edge(kernel.RelDerivedFrom, kernel.KindClaim, g.claim, kernel.KindIdea, g.idea)
		}, "DERIVED_FROM must target Submission"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, st := newTestIngester(t)
			g := seedGraph(t, ing)
			res := mustIngest(t, ing, tt.edge(g))
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, tt.message, res.Error)
			assert.Equal(t, 0, countRows(t, st, "edges"))
		})
	}
}

func TestEdgeDeferredOnMissingEndpoint(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()
	claim := testutil.Claim("It works")
	idea := testutil.Idea("Idea A")

	edge := testutil.Edge(kernel.RelAbout, kernel.KindClaim, testutil.ID(claim), kernel.KindIdea, testutil.ID(idea))
	res := mustIngest(t, ing, edge)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, testutil.ID(claim), res.MissingRef)
	assert.Equal(t, "missing from object for edge", res.Reason)

	mustIngest(t, ing, claim)
	res = mustIngest(t, ing, edge)
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, "missing to object for edge", res.Reason)

	mustIngest(t, ing, idea)
	_, err := ing.RetryDeferred(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, st, "edges"))
	assert.Equal(t, 0, countRows(t, st, "ingest_deferred"))
}

func TestEdgeToFailedObjectDefers(t *testing.T) {
	ing, _ := newTestIngester(t)
	claim := testutil.Claim("It works")
	broken := testutil.Idea("broken")
	delete(broken, "kind")
	failed := mustIngest(t, ing, broken)
	require.Equal(t, StatusFailed, failed.Status)
	mustIngest(t, ing, claim)

	res := mustIngest(t, ing, testutil.Edge(kernel.RelAbout, kernel.KindClaim, testutil.ID(claim), kernel.KindIdea, failed.ContentID))
	assert.Equal(t, StatusDeferred, res.Status)
	assert.Equal(t, failed.ContentID, res.MissingRef)
}

// Construction A -> construction -> B, with edges arriving after the
// objects they connect.
func TestConstructionLineageScenario(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()

	ideaA := testutil.Idea("Idea A")
	ideaB := testutil.Idea("Idea B")
	construction := testutil.Construction("compose", testutil.ID(ideaA))
	idA, idB, idC := testutil.ID(ideaA), testutil.ID(ideaB), testutil.ID(construction)

	for _, obj := range []kernel.Object{
		ideaA,
		ideaB,
		construction,
		testutil.Edge(kernel.RelOutputOf, kernel.KindConstruction, idC, kernel.KindIdea, idB),
		testutil.Edge(kernel.RelInputOf, kernel.KindIdea, idA, kernel.KindConstruction, idC),
	} {
		res := mustIngest(t, ing, obj)
		require.Equal(t, StatusOK, res.Status, res.Error)
	}

	rows, err := st.Query(ctx,
		`SELECT input_idea_id, ordinal FROM construction_inputs WHERE construction_id = ? ORDER BY ordinal`, idC)
	require.NoError(t, err)
	var inputs []string
	for rows.Next() {
		var id string
		var ordinal int
		require.NoError(t, rows.Scan(&id, &ordinal))
		assert.Equal(t, len(inputs), ordinal)
		inputs = append(inputs, id)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{idA}, inputs)

	var output string
	require.NoError(t, st.QueryRow(ctx,
		`SELECT output_idea_id FROM construction_outputs WHERE construction_id = ?`, idC).Scan(&output))
	assert.Equal(t, idB, output)
}
