package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
)

// edgeEffect updates the table an edge relation denormalizes into. It runs
// after the edge row is inserted, in the same transaction.
type edgeEffect func(ctx context.Context, q store.Querier, fromID, toID string, toKind kernel.Kind) error

// edgeEffects lists every relation with a sideways mutation.
var edgeEffects = map[kernel.Relation]edgeEffect{
	kernel.RelOutputOf:   recordConstructionOutput,
	kernel.RelAbout:      linkClaimTarget,
	kernel.RelSupports:   linkEvidence("supports"),
	kernel.RelRefutes:    linkEvidence("refutes"),
	kernel.RelImplements: checkImplementationTarget,
}

func expandEdge(ctx context.Context, q store.Querier, obj kernel.Object) (expansion, error) {
	rel, _ := obj.StringField("rel")
	from, _ := obj.ObjectField("from")
	to, _ := obj.ObjectField("to")
	fromID, fromOK := from["id"].(string)
	toID, toOK := to["id"].(string)
	if !fromOK || !toOK {
		return deferOn("unknown", "edge missing endpoints"), nil
	}

	fromType, found, err := store.OKObjectType(ctx, q, fromID)
	if err != nil {
		return expansion{}, err
	}
	if !found {
		return deferOn(fromID, "missing from object for edge"), nil
	}
	toType, found, err := store.OKObjectType(ctx, q, toID)
	if err != nil {
		return expansion{}, err
	}
	if !found {
		return deferOn(toID, "missing to object for edge"), nil
	}

	fromKind, fromKnown := kernel.KindOf(kernel.Type(fromType))
	toKind, toKnown := kernel.KindOf(kernel.Type(toType))
	kindsKnown := fromKnown && toKnown
	if kindsKnown {
		if err := checkEdgeRelation(kernel.Relation(rel), fromKind, toKind); err != nil {
			return expansion{}, err
		}
	}

	if ok, err := typedRowPresent(ctx, q, fromType, fromID); err != nil {
		return expansion{}, err
	} else if !ok {
		return deferOn(fromID, "missing typed row for edge from"), nil
	}
	if ok, err := typedRowPresent(ctx, q, toType, toID); err != nil {
		return expansion{}, err
	} else if !ok {
		return deferOn(toID, "missing typed row for edge to"), nil
	}

	_, err = q.Exec(ctx, `
		INSERT INTO edges (content_id, rel, from_id, to_id, created_at, author_pubkey)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, obj.ContentID(), rel, fromID, toID, str(obj, "created_at"), author(obj))
	if err != nil {
		return expansion{}, fmt.Errorf("insert edge: %w", err)
	}

	if effect, ok := edgeEffects[kernel.Relation(rel)]; ok && kindsKnown {
		if err := effect(ctx, q, fromID, toID, toKind); err != nil {
			return expansion{}, err
		}
	}
	return expanded, nil
}

// typedRowPresent is true when wofiType has no typed table or the row exists.
func typedRowPresent(ctx context.Context, q store.Querier, wofiType, id string) (bool, error) {
	if _, ok := store.TypedTable(wofiType); !ok {
		return true, nil
	}
	return store.HasTypedRow(ctx, q, wofiType, id)
}

// checkEdgeRelation applies the relation legality table to the stored kinds
// of both endpoints.
func checkEdgeRelation(rel kernel.Relation, from, to kernel.Kind) error {
	switch rel {
	case kernel.RelInputOf:
		if from != kernel.KindIdea || to != kernel.KindConstruction {
			return failExpansion("INPUT_OF must be Idea -> Construction")
		}
	case kernel.RelOutputOf:
		if from != kernel.KindConstruction || to != kernel.KindIdea {
			return failExpansion("OUTPUT_OF must be Construction -> Idea")
		}
	case kernel.RelSupports, kernel.RelRefutes:
		if from != kernel.KindEvidence || to != kernel.KindClaim {
			return failExpansion(fmt.Sprintf("%s must be Evidence -> Claim", rel))
		}
	case kernel.RelAbout:
		if from != kernel.KindClaim || (to != kernel.KindIdea && to != kernel.KindImplementation) {
			return failExpansion("ABOUT must be Claim -> Idea|Implementation")
		}
	case kernel.RelImplements:
		if from != kernel.KindImplementation || to != kernel.KindIdea {
			return failExpansion("IMPLEMENTS must be Implementation -> Idea")
		}
	case kernel.RelSubmittedAs:
		if from != kernel.KindSubmission || to != kernel.KindIdea {
			return failExpansion("SUBMITTED_AS must be Submission -> Idea")
		}
	case kernel.RelDerivedFrom:
		if to != kernel.KindSubmission {
			return failExpansion("DERIVED_FROM must target Submission")
		}
		switch from {
		case kernel.KindIdea, kernel.KindClaim, kernel.KindConstruction, kernel.KindImplementation, kernel.KindEvidence:
		default:
			return failExpansion("DERIVED_FROM must originate from Idea|Claim|Construction|Implementation|Evidence")
		}
	}
	return nil
}

func recordConstructionOutput(ctx context.Context, q store.Querier, fromID, toID string, _ kernel.Kind) error {
	_, err := q.Exec(ctx, `
		INSERT INTO construction_outputs (construction_id, output_idea_id)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, fromID, toID)
	if err != nil {
		return fmt.Errorf("insert construction output: %w", err)
	}
	return nil
}

// linkClaimTarget sets claims.about_* unless the claim is already about
// something else; the first ABOUT edge wins.
func linkClaimTarget(ctx context.Context, q store.Querier, fromID, toID string, toKind kernel.Kind) error {
	_, err := q.Exec(ctx, `
		UPDATE claims
		SET about_type = ?, about_id = ?
		WHERE content_id = ? AND (about_id IS NULL OR about_id = ?)
	`, string(toKind), toID, fromID, toID)
	if err != nil {
		return fmt.Errorf("update claim about: %w", err)
	}
	return nil
}

// linkEvidence attaches evidence to a claim with a stance. Evidence already
// attached to a different claim is an error.
func linkEvidence(stance string) edgeEffect {
	return func(ctx context.Context, q store.Querier, fromID, toID string, _ kernel.Kind) error {
		var existing sql.NullString
		err := q.QueryRow(ctx, `SELECT claim_id FROM evidence WHERE content_id = ?`, fromID).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load evidence claim: %w", err)
		}
		if existing.Valid && existing.String != "" && existing.String != toID {
			return failExpansion("Evidence already linked to a different claim")
		}
		_, err = q.Exec(ctx, `
			UPDATE evidence
			SET claim_id = ?, stance = ?
			WHERE content_id = ?
		`, toID, stance, fromID)
		if err != nil {
			return fmt.Errorf("update evidence claim: %w", err)
		}
		return nil
	}
}

func checkImplementationTarget(ctx context.Context, q store.Querier, fromID, toID string, _ kernel.Kind) error {
	var ideaID string
	err := q.QueryRow(ctx, `SELECT idea_id FROM implementations WHERE content_id = ?`, fromID).Scan(&ideaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load implementation idea: %w", err)
	}
	if ideaID != toID {
		return failExpansion("IMPLEMENTS edge does not match implementation.idea_id")
	}
	return nil
}
