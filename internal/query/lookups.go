package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bertona88/wofi/internal/kernel"
)

// Idea returns the typed row of an idea.
func (e *Engine) Idea(ctx context.Context, id string) (IdeaRecord, error) {
	var (
		rec                     IdeaRecord
		summary, tags           sql.NullString
		createdAt, authorPubkey sql.NullString
	)
	err := e.db.QueryRow(ctx, `
		SELECT content_id, title, kind, summary, tags, created_at, author_pubkey
		FROM ideas WHERE content_id = ?
	`, id).Scan(&rec.ID, &rec.Title, &rec.Kind, &summary, &tags, &createdAt, &authorPubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return IdeaRecord{}, notFound("idea not found: " + id)
	}
	if err != nil {
		return IdeaRecord{}, fmt.Errorf("load idea: %w", err)
	}
	rec.Type = NodeIdea
	rec.Summary = nullable(summary)
	rec.Tags = rawJSON(tags)
	rec.CreatedAt = nullable(createdAt)
	rec.AuthorPubkey = nullable(authorPubkey)
	return rec, nil
}

// Construction returns a construction with its inputs in ordinal order and
// its output idea, if an OUTPUT_OF edge has been ingested.
func (e *Engine) Construction(ctx context.Context, id string) (ConstructionRecord, error) {
	var (
		rec                     ConstructionRecord
		profileID               sql.NullString
		params, constraints     sql.NullString
		createdAt, authorPubkey sql.NullString
	)
	err := e.db.QueryRow(ctx, `
		SELECT content_id, operator, profile_id, params_json, constraints_json, created_at, author_pubkey
		FROM constructions WHERE content_id = ?
	`, id).Scan(&rec.ID, &rec.Operator, &profileID, &params, &constraints, &createdAt, &authorPubkey)
	if errors.Is(err, sql.ErrNoRows) {
		return ConstructionRecord{}, notFound("construction not found: " + id)
	}
	if err != nil {
		return ConstructionRecord{}, fmt.Errorf("load construction: %w", err)
	}
	rec.Type = NodeConstruction
	rec.ProfileID = nullable(profileID)
	rec.ParamsJSON = rawJSON(params)
	rec.ConstraintsJSON = rawJSON(constraints)
	rec.CreatedAt = nullable(createdAt)
	rec.AuthorPubkey = nullable(authorPubkey)

	rows, err := e.db.Query(ctx, `
		SELECT input_idea_id, role, ordinal
		FROM construction_inputs
		WHERE construction_id = ?
		ORDER BY ordinal ASC
	`, id)
	if err != nil {
		return ConstructionRecord{}, fmt.Errorf("query construction inputs: %w", err)
	}
	defer rows.Close()

	rec.Inputs = []ConstructionInput{}
	for rows.Next() {
		var (
			in   ConstructionInput
			role sql.NullString
		)
		if err := rows.Scan(&in.IdeaID, &role, &in.Ordinal); err != nil {
			return ConstructionRecord{}, fmt.Errorf("scan construction input: %w", err)
		}
		in.Role = nullable(role)
		rec.Inputs = append(rec.Inputs, in)
	}
	if err := rows.Err(); err != nil {
		return ConstructionRecord{}, fmt.Errorf("iterate construction inputs: %w", err)
	}

	var outputID string
	err = e.db.QueryRow(ctx, `
		SELECT output_idea_id FROM construction_outputs
		WHERE construction_id = ?
		ORDER BY output_idea_id ASC
		LIMIT 1
	`, id).Scan(&outputID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ConstructionRecord{}, fmt.Errorf("load construction output: %w", err)
	default:
		rec.Output = &ConstructionOutput{IdeaID: outputID}
	}
	return rec, nil
}

const submissionColumns = `s.content_id, s.payload_kind, s.payload_value, s.payload_hash,
       s.mime_type, s.context_json, s.created_at, s.author_pubkey`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (SubmissionRecord, error) {
	var (
		rec                     SubmissionRecord
		contextJSON             sql.NullString
		createdAt, authorPubkey sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.PayloadKind, &rec.PayloadValue, &rec.PayloadHash,
		&rec.MimeType, &contextJSON, &createdAt, &authorPubkey); err != nil {
		return SubmissionRecord{}, err
	}
	rec.Type = string(kernel.KindSubmission)
	rec.ContextJSON = rawJSON(contextJSON)
	rec.CreatedAt = nullable(createdAt)
	rec.AuthorPubkey = nullable(authorPubkey)
	return rec, nil
}

// Submission returns the typed row of a submission.
func (e *Engine) Submission(ctx context.Context, id string) (SubmissionRecord, error) {
	row := e.db.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions s WHERE s.content_id = ?`, id)
	rec, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SubmissionRecord{}, notFound("submission not found: " + id)
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("load submission: %w", err)
	}
	return rec, nil
}

// IdeaSubmissions lists the submissions linked to an idea by SUBMITTED_AS
// edges, oldest first.
func (e *Engine) IdeaSubmissions(ctx context.Context, ideaID string) ([]SubmissionRecord, error) {
	if err := e.ensureExists(ctx, "ideas", "idea", ideaID); err != nil {
		return nil, err
	}

	rows, err := e.db.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions s
		WHERE EXISTS (
			SELECT 1 FROM edges e
			WHERE e.rel = ? AND e.to_id = ? AND e.from_id = s.content_id
		)
		ORDER BY COALESCE(s.created_at, '`+nullCreatedAt+`') ASC, s.content_id ASC
	`, string(kernel.RelSubmittedAs), ideaID)
	if err != nil {
		return nil, fmt.Errorf("query idea submissions: %w", err)
	}
	defer rows.Close()

	out := []SubmissionRecord{}
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idea submissions: %w", err)
	}
	return out, nil
}

// DerivedFrom lists the successfully ingested objects that point at a
// submission with DERIVED_FROM edges, oldest first.
func (e *Engine) DerivedFrom(ctx context.Context, submissionID string) ([]DerivedFromRecord, error) {
	if err := e.ensureExists(ctx, "submissions", "submission", submissionID); err != nil {
		return nil, err
	}

	rows, err := e.db.Query(ctx, `
		SELECT o.content_id, o.wofi_type, o.created_at, o.author_pubkey
		FROM objects o
		WHERE o.ingest_status = 'ok' AND EXISTS (
			SELECT 1 FROM edges e
			WHERE e.rel = ? AND e.to_id = ? AND e.from_id = o.content_id
		)
		ORDER BY COALESCE(o.created_at, '`+nullCreatedAt+`') ASC, o.content_id ASC
	`, string(kernel.RelDerivedFrom), submissionID)
	if err != nil {
		return nil, fmt.Errorf("query derived objects: %w", err)
	}
	defer rows.Close()

	out := []DerivedFromRecord{}
	for rows.Next() {
		var (
			rec                     DerivedFromRecord
			createdAt, authorPubkey sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.WofiType, &createdAt, &authorPubkey); err != nil {
			return nil, fmt.Errorf("scan derived object: %w", err)
		}
		rec.CreatedAt = nullable(createdAt)
		rec.AuthorPubkey = nullable(authorPubkey)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate derived objects: %w", err)
	}
	return out, nil
}
