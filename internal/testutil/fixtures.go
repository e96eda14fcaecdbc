package testutil

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/bertona88/wofi/internal/kernel"
)

// CreatedAt is the created_at stamped on every fixture.
const CreatedAt = "2024-01-01T00:00:00.000Z"

func base(t kernel.Type) kernel.Object {
	return kernel.Object{
		"type":           string(t),
		"schema_version": kernel.SchemaVersion1,
		"created_at":     CreatedAt,
	}
}

// Idea builds a schema-valid idea.
func Idea(title string) kernel.Object {
	obj := base(kernel.TypeIdea)
	obj["title"] = title
	obj["kind"] = "concept"
	obj["summary"] = "Summary of " + title
	obj["tags"] = []any{"test"}
	return obj
}

// Construction builds a construction whose inputs are the given ideas, in
// order.
func Construction(operator string, inputIDs ...string) kernel.Object {
	inputs := make([]any, 0, len(inputIDs))
	for i, id := range inputIDs {
		role := "base"
		if i > 0 {
			role = "modifier"
		}
		inputs = append(inputs, map[string]any{"idea_id": id, "role": role})
	}
	obj := base(kernel.TypeConstruction)
	obj["operator"] = operator
	obj["inputs"] = inputs
	return obj
}

// Claim builds a binary claim.
func Claim(text string) kernel.Object {
	obj := base(kernel.TypeClaim)
	obj["claim_text"] = text
	obj["claim_kind"] = "binary"
	obj["resolution"] = map[string]any{"criteria": "Reproduced independently"}
	return obj
}

// Evidence builds a url evidence object.
func Evidence(locator string) kernel.Object {
	obj := base(kernel.TypeEvidence)
	obj["kind"] = "url"
	obj["locator"] = locator
	return obj
}

// Submission builds an inline text submission. payload_hash is the content
// id form of the text's sha256.
func Submission(text string) kernel.Object {
	sum := sha256.Sum256([]byte(text))
	obj := base(kernel.TypeSubmission)
	obj["payload"] = map[string]any{"kind": "inline_utf8", "value": text}
	obj["payload_hash"] = kernel.ContentIDPrefix + hex.EncodeToString(sum[:])
	obj["mime_type"] = "text/plain"
	obj["context"] = map[string]any{"conversation_id": "conv-1"}
	return obj
}

// Implementation builds an implementation of ideaID.
func Implementation(ideaID string) kernel.Object {
	obj := base(kernel.TypeImplementation)
	obj["implements"] = map[string]any{"idea_id": ideaID}
	obj["artifact"] = map[string]any{"kind": "git", "value": "https://example.com/repo"}
	obj["metadata"] = map[string]any{"language": "go"}
	return obj
}

// Profile builds a cost profile.
func Profile(name string) kernel.Object {
	obj := base(kernel.TypeProfile)
	obj["name"] = name
	obj["operator_cost"] = map[string]any{
		"compose": 1, "specialize": 1, "generalize": 1, "analogize": 2, "bundle": 1, "refine": 0.5,
	}
	obj["cost_model"] = map[string]any{
		"ref_existing_idea": 1, "mint_new_idea": 10, "mint_new_construction": 5,
		"param_byte": 0.01, "residual_byte": 0.02,
	}
	return obj
}

// Edge builds an edge. Endpoint kinds are informational; ingestion resolves
// the stored types.
func Edge(rel kernel.Relation, fromKind kernel.Kind, fromID string, toKind kernel.Kind, toID string) kernel.Object {
	obj := base(kernel.TypeEdge)
	obj["rel"] = string(rel)
	obj["from"] = map[string]any{"kind": string(fromKind), "id": fromID}
	obj["to"] = map[string]any{"kind": string(toKind), "id": toID}
	return obj
}

// ID returns the content id of obj and panics if it cannot be computed.
func ID(obj kernel.Object) string {
	id, err := kernel.ContentID(obj)
	if err != nil {
		panic(err)
	}
	return id
}

// Canonical returns the canonical JSON text of obj with content_id set,
// the form objects are carried in by the outbox and the ledger.
func Canonical(obj kernel.Object) string {
	out := obj.Clone()
	out["content_id"] = ID(obj)
	b, err := kernel.Canonicalize(out)
	if err != nil {
		panic(err)
	}
	return string(b)
}
