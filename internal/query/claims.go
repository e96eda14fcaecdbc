package query

import (
	"context"
	"database/sql"
	"fmt"
)

const claimBundleSQL = `
SELECT c.content_id, c.claim_text, c.created_at,
       e.content_id, e.stance, e.locator, e.created_at
FROM claims c
LEFT JOIN evidence e ON e.claim_id = c.content_id
WHERE c.about_type = ? AND c.about_id = ?
ORDER BY COALESCE(c.created_at, '` + nullCreatedAt + `') ASC, c.content_id ASC,
         COALESCE(e.created_at, '` + nullCreatedAt + `') ASC, e.content_id ASC
`

// ClaimBundle returns every claim about targetID with its evidence nested
// under it. An empty targetType resolves the target as an idea first and an
// implementation second.
func (e *Engine) ClaimBundle(ctx context.Context, targetID string, targetType TargetType) (ClaimBundle, error) {
	resolved, err := e.resolveClaimTarget(ctx, targetID, targetType)
	if err != nil {
		return ClaimBundle{}, err
	}

	rows, err := e.db.Query(ctx, claimBundleSQL, string(resolved), targetID)
	if err != nil {
		return ClaimBundle{}, fmt.Errorf("query claim bundle: %w", err)
	}
	defer rows.Close()

	bundle := ClaimBundle{
		Target: ClaimTarget{Type: resolved, ID: targetID},
		Claims: []ClaimRecord{},
	}
	index := make(map[string]int)
	for rows.Next() {
		var (
			claimID, claimText string
			claimCreated       sql.NullString
			evidenceID         sql.NullString
			stance, locator    sql.NullString
			evidenceCreated    sql.NullString
		)
		if err := rows.Scan(&claimID, &claimText, &claimCreated, &evidenceID, &stance, &locator, &evidenceCreated); err != nil {
			return ClaimBundle{}, fmt.Errorf("scan claim bundle: %w", err)
		}

		i, ok := index[claimID]
		if !ok {
			i = len(bundle.Claims)
			index[claimID] = i
			bundle.Claims = append(bundle.Claims, ClaimRecord{
				ID:        claimID,
				ClaimText: claimText,
				CreatedAt: nullable(claimCreated),
				Evidence:  []ClaimEvidence{},
			})
		}
		if evidenceID.Valid {
			bundle.Claims[i].Evidence = append(bundle.Claims[i].Evidence, ClaimEvidence{
				ID:        evidenceID.String,
				Stance:    nullable(stance),
				Locator:   locator.String,
				CreatedAt: nullable(evidenceCreated),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return ClaimBundle{}, fmt.Errorf("iterate claim bundle: %w", err)
	}

	e.logger.Debug("claim bundle", "target_id", targetID, "target_type", string(resolved), "claims", len(bundle.Claims))
	return bundle, nil
}

func (e *Engine) resolveClaimTarget(ctx context.Context, id string, targetType TargetType) (TargetType, error) {
	switch targetType {
	case TargetIdea:
		return targetType, e.ensureExists(ctx, "ideas", "idea", id)
	case TargetImplementation:
		return targetType, e.ensureExists(ctx, "implementations", "implementation", id)
	case "":
	default:
		return "", invalidArgument("target type must be idea or implementation", map[string]any{"target_type": string(targetType)})
	}

	if ok, err := e.rowExists(ctx, "ideas", id); err != nil {
		return "", err
	} else if ok {
		return TargetIdea, nil
	}
	if ok, err := e.rowExists(ctx, "implementations", id); err != nil {
		return "", err
	} else if ok {
		return TargetImplementation, nil
	}
	return "", notFound("target not found: " + id)
}
