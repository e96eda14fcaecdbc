package ingest

import (
	"context"
	"fmt"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
)

// expand writes obj into its typed table inside the expansion transaction.
// A deferral writes nothing; an error rolls the transaction back.
func expand(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	t, _ := obj.StringField("type")
	switch kernel.Type(t) {
	case kernel.TypeIdea:
		return expandIdea(ctx, q, obj)
	case kernel.TypeConstruction:
		return expandConstruction(ctx, q, obj)
	case kernel.TypeClaim:
		return expandClaim(ctx, q, obj)
	case kernel.TypeEvidence:
		return expandEvidence(ctx, q, obj)
	case kernel.TypeSubmission:
		return expandSubmission(ctx, q, obj)
	case kernel.TypeImplementation:
		return expandImplementation(ctx, q, obj)
	case kernel.TypeProfile:
		return expandProfile(ctx, q, obj)
	case kernel.TypeEdge:
		return expandEdge(ctx, q, obj)
	case kernel.TypeClaimMarket, kernel.TypeAttestation:
		// Reserved types live only in the raw table.
		return expanded, nil
	default:
		return expansion{}, failExpansion(fmt.Sprintf("no expansion for object type %q", t))
	}
}

func expandIdea(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO ideas (content_id, title, kind, summary, tags, created_at, author_pubkey)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		str(obj, "title"),
		str(obj, "kind"),
		str(obj, "summary"),
		jsonParam(obj["tags"]),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert idea: %w", err)
	}
	return expanded, nil
}

func expandConstruction(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	inputs, _ := obj["inputs"].([]any)

	for _, raw := range inputs {
		input, ok := kernel.AsObject(raw)
		if !ok {
			continue
		}
		ideaID, ok := input.StringField("idea_id")
		if !ok {
			continue
		}
		exists, err := store.HasTypedRow(ctx, q, string(kernel.TypeIdea), ideaID)
		if err != nil {
			return expansion{}, err
		}
		if !exists {
			return deferOn(ideaID, "missing idea for construction input"), nil
		}
	}

	_, err := q.Exec(ctx, `
		INSERT INTO constructions (content_id, operator, profile_id, params_json, constraints_json, created_at, author_pubkey)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		str(obj, "operator"),
		str(obj, "profile_id"),
		jsonParam(obj["params"]),
		jsonParam(obj["constraints"]),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert construction: %w", err)
	}

	for ordinal, raw := range inputs {
		input, ok := kernel.AsObject(raw)
		if !ok {
			continue
		}
		ideaID, ok := input.StringField("idea_id")
		if !ok {
			continue
		}
		_, err := q.Exec(ctx, `
			INSERT INTO construction_inputs (construction_id, input_idea_id, role, ordinal)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, obj.ContentID(), ideaID, str(input, "role"), ordinal)
		if err != nil {
			return expansion{}, fmt.Errorf("insert construction input %d: %w", ordinal, err)
		}
	}
	return expanded, nil
}

func expandClaim(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	// about_* is filled in later by ABOUT edges.
	_, err := q.Exec(ctx, `
		INSERT INTO claims (content_id, about_type, about_id, claim_text, resolution_type, resolution_json, created_at, author_pubkey)
		VALUES (?, NULL, NULL, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		str(obj, "claim_text"),
		str(obj, "claim_kind"),
		jsonParam(obj["resolution"]),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert claim: %w", err)
	}
	return expanded, nil
}

func expandEvidence(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	// claim_id and stance are filled in later by SUPPORTS/REFUTES edges.
	_, err := q.Exec(ctx, `
		INSERT INTO evidence (content_id, claim_id, stance, locator, excerpt_hash, created_at, author_pubkey)
		VALUES (?, NULL, NULL, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		str(obj, "locator"),
		str(obj, "hash"),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert evidence: %w", err)
	}
	return expanded, nil
}

func expandSubmission(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	payload, _ := obj.ObjectField("payload")
	_, err := q.Exec(ctx, `
		INSERT INTO submissions (content_id, payload_kind, payload_value, payload_hash, mime_type, context_json, created_at, author_pubkey)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		str(payload, "kind"),
		str(payload, "value"),
		str(obj, "payload_hash"),
		str(obj, "mime_type"),
		jsonParam(obj["context"]),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert submission: %w", err)
	}
	return expanded, nil
}

func expandImplementation(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	implements, _ := obj.ObjectField("implements")
	ideaID, ok := implements.StringField("idea_id")
	if !ok {
		return deferOn("unknown", "implementation missing idea_id"), nil
	}
	exists, err := store.HasTypedRow(ctx, q, string(kernel.TypeIdea), ideaID)
	if err != nil {
		return expansion{}, err
	}
	if !exists {
		return deferOn(ideaID, "missing idea for implementation"), nil
	}

	_, err = q.Exec(ctx, `
		INSERT INTO implementations (content_id, idea_id, metadata_json, created_at, author_pubkey)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		ideaID,
		jsonText(map[string]any{
			"metadata": obj["metadata"],
			"artifact": obj["artifact"],
		}),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert implementation: %w", err)
	}
	return expanded, nil
}

func expandProfile(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO profiles (content_id, weights_json, created_at, author_pubkey)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		obj.ContentID(),
		jsonText(map[string]any{
			"name":              obj["name"],
			"kernel_primitives": obj["kernel_primitives"],
			"operator_cost":     obj["operator_cost"],
			"cost_model":        obj["cost_model"],
			"metadata":          obj["metadata"],
		}),
		str(obj, "created_at"),
		author(obj),
	)
	if err != nil {
		return expansion{}, fmt.Errorf("insert profile: %w", err)
	}
	return expanded, nil
}

// str returns obj[key] as a string parameter, or nil for SQL NULL.
func str(obj kernel.Object, key string) any {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return nil
}

func author(obj kernel.Object) any {
	if pub := obj.AuthorPubkey(); pub != "" {
		return pub
	}
	return nil
}

// jsonParam encodes structured values as JSON text; nil stays NULL.
func jsonParam(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case string:
		return v
	}
	return jsonText(v)
}
