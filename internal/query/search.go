package query

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// SearchIdeasByEmbedding ranks ideas by cosine distance between vector and
// their stored embeddings for the chosen model and dimensions, closest
// first. Ties and zero-norm vectors fall back to id order.
func (e *Engine) SearchIdeasByEmbedding(ctx context.Context, vector []float64, opts SearchOptions) ([]IdeaSearchResult, error) {
	limit, err := positiveLimit("limit", opts.Limit, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, invalidArgument("embedding must be a non-empty array", nil)
	}
	for _, v := range vector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalidArgument("embedding contains non-finite values", nil)
		}
	}
	model := cmp.Or(opts.Model, DefaultSearchModel)
	dimensions := cmp.Or(opts.Dimensions, len(vector))
	if len(vector) != dimensions {
		return nil, invalidArgument("embedding length does not match dimensions",
			map[string]any{"length": len(vector), "dimensions": dimensions})
	}

	rows, err := e.db.Query(ctx, `
		SELECT i.content_id, i.title, i.kind, i.summary, i.tags, i.created_at, i.author_pubkey, e.embedding
		FROM idea_embeddings e
		JOIN ideas i ON i.content_id = e.idea_id
		WHERE e.model = ? AND e.dimensions = ?
	`, model, dimensions)
	if err != nil {
		return nil, fmt.Errorf("query idea embeddings: %w", err)
	}
	defer rows.Close()

	results := []IdeaSearchResult{}
	for rows.Next() {
		var (
			res                     IdeaSearchResult
			summary, tags           sql.NullString
			createdAt, authorPubkey sql.NullString
			embedding               string
		)
		if err := rows.Scan(&res.ID, &res.Title, &res.Kind, &summary, &tags, &createdAt, &authorPubkey, &embedding); err != nil {
			return nil, fmt.Errorf("scan idea embedding: %w", err)
		}
		var stored []float64
		if err := json.Unmarshal([]byte(embedding), &stored); err != nil || len(stored) != dimensions {
			e.logger.Warn("skipping malformed embedding", "idea_id", res.ID, "model", model)
			continue
		}

		res.Type = NodeIdea
		res.Summary = nullable(summary)
		res.Tags = rawJSON(tags)
		res.CreatedAt = nullable(createdAt)
		res.AuthorPubkey = nullable(authorPubkey)
		if d, ok := cosineDistance(vector, stored); ok {
			score := 1 - d
			res.Distance = &d
			res.Score = &score
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idea embeddings: %w", err)
	}

	slices.SortFunc(results, compareSearchResults)
	if len(results) > limit {
		results = results[:limit]
	}
	e.logger.Debug("embedding search", "model", model, "dimensions", dimensions, "results", len(results))
	return results, nil
}

// cosineDistance is 1 - cos(a, b). It is undefined when either vector has
// zero norm.
func cosineDistance(a, b []float64) (float64, bool) {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}

func compareSearchResults(a, b IdeaSearchResult) int {
	switch {
	case a.Distance == nil && b.Distance != nil:
		return 1
	case a.Distance != nil && b.Distance == nil:
		return -1
	case a.Distance != nil && b.Distance != nil:
		if c := cmp.Compare(*a.Distance, *b.Distance); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.ID, b.ID)
}
