package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCreatedAt = "2024-01-01T00:00:00.000Z"

func validObjects() map[string]Object {
	ideaID := ideaFixtureID
	return map[string]Object{
		"idea": ideaFixture(),
		"construction": {
			"type": "wofi.construction.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"operator": "compose",
			"inputs":   []any{map[string]any{"idea_id": ideaID, "role": "base"}},
			"params":   map[string]any{"weight": 0.5},
		},
		"claim": {
			"type": "wofi.claim.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"claim_text": "It works", "claim_kind": "binary",
			"resolution": map[string]any{"criteria": "Benchmarks pass"},
		},
		"evidence": {
			"type": "wofi.evidence.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"kind": "url", "locator": "https://example.com/paper",
		},
		"submission": {
			"type": "wofi.submission.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"payload":      map[string]any{"kind": "inline_utf8", "value": "raw text"},
			"payload_hash": ideaID,
			"mime_type":    "text/plain",
		},
		"implementation": {
			"type": "wofi.implementation.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"implements": map[string]any{"idea_id": ideaID},
			"artifact":   map[string]any{"kind": "git", "value": "https://example.com/repo"},
		},
		"profile": {
			"type": "wofi.profile.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"name": "default",
			"operator_cost": map[string]any{
				"compose": 1, "specialize": 1, "generalize": 1, "analogize": 2, "bundle": 1, "refine": 0.5,
			},
			"cost_model": map[string]any{
				"ref_existing_idea": 1, "mint_new_idea": 10, "mint_new_construction": 5,
				"param_byte": 0.01, "residual_byte": 0.02,
			},
		},
		"edge": {
			"type": "wofi.edge.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"rel":  "SUBMITTED_AS",
			"from": map[string]any{"kind": "submission", "id": ideaID},
			"to":   map[string]any{"kind": "idea", "id": ideaID},
		},
		"claim_market": {
			"type": "wofi.claim_market.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"claim_id": ideaID, "market_kind": "binary",
			"settlement": map[string]any{"oracle": map[string]any{"kind": "manual"}},
		},
		"attestation": {
			"type": "wofi.attestation.v1", "schema_version": "1.0", "created_at": testCreatedAt,
			"about":  map[string]any{"kind": "claim", "id": ideaID},
			"stance": "agree", "confidence": 0.8,
		},
	}
}

func TestValidateSchemaAcceptsEveryType(t *testing.T) {
	for name, obj := range validObjects() {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, ValidateSchema(obj))
		})
	}
}

func TestValidateSchemaAcceptsNullTransportFields(t *testing.T) {
	obj := ideaFixture()
	obj["content_id"] = nil
	obj["author"] = nil
	obj["signature"] = nil
	assert.NoError(t, ValidateSchema(obj))
}

func TestValidateSchemaDispatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		code    ErrorCode
		message string
	}{
		{"not an object", []any{1}, ErrCodeSchemaInvalid, "Kernel object must be an object"},
		{"missing type", Object{"schema_version": "1.0"}, ErrCodeSchemaInvalid, "Kernel object missing type"},
		{"non-string type", Object{"type": 7}, ErrCodeSchemaInvalid, "Kernel object missing type"},
		{"missing version", Object{"type": "wofi.idea.v1"}, ErrCodeSchemaInvalid, "Kernel object missing schema_version"},
		{"unknown type", Object{"type": "wofi.nope.v1", "schema_version": "1.0"}, ErrCodeUnknownObjectType, "Unknown kernel object type: wofi.nope.v1"},
		{"unknown version", Object{"type": "wofi.idea.v1", "schema_version": "9.9"}, ErrCodeUnknownSchemaVersion, "Unknown schema_version 9.9 for type wofi.idea.v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema(tt.input)
			require.Error(t, err)
			var ke *Error
			require.ErrorAs(t, err, &ke)
			assert.Equal(t, tt.code, ke.Code)
			assert.Equal(t, tt.message, ke.Message)
		})
	}
}

func TestValidateSchemaShapeViolations(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		mutate func(Object)
	}{
		{"extra property", "idea", func(o Object) { o["extra"] = "nope" }},
		{"missing required", "idea", func(o Object) { delete(o, "title") }},
		{"empty required string", "idea", func(o Object) { o["title"] = "" }},
		{"wrong primitive type", "idea", func(o Object) { o["title"] = 5 }},
		{"empty tag", "idea", func(o Object) { o["tags"] = []any{""} }},
		{"missing created_at", "idea", func(o Object) { delete(o, "created_at") }},
		{"bad content id", "idea", func(o Object) { o["content_id"] = "sha256:XYZ" }},
		{"bad author kind", "idea", func(o Object) { o["author"] = map[string]any{"kind": "did", "value": "x"} }},
		{"bad signature alg", "idea", func(o Object) { o["signature"] = map[string]any{"alg": "rsa", "value": "x"} }},
		{"operator enum", "construction", func(o Object) { o["operator"] = "smash" }},
		{"empty inputs", "construction", func(o Object) { o["inputs"] = []any{} }},
		{"input extra key", "construction", func(o Object) {
			o["inputs"] = []any{map[string]any{"idea_id": "x", "claim_id": "y"}}
		}},
		{"claim kind enum", "claim", func(o Object) { o["claim_kind"] = "maybe" }},
		{"resolution missing criteria", "claim", func(o Object) { o["resolution"] = map[string]any{} }},
		{"payload kind enum", "submission", func(o Object) {
			o["payload"] = map[string]any{"kind": "carrier_pigeon", "value": "x"}
		}},
		{"payload hash pattern", "submission", func(o Object) { o["payload_hash"] = "abc" }},
		{"edge rel enum", "edge", func(o Object) { o["rel"] = "LIKES" }},
		{"edge endpoint missing id", "edge", func(o Object) { o["to"] = map[string]any{"kind": "idea"} }},
		{"profile missing operator cost", "profile", func(o Object) {
			o["operator_cost"] = map[string]any{"compose": 1}
		}},
		{"profile cost not a number", "profile", func(o Object) {
			cm := o["cost_model"].(map[string]any)
			cm["param_byte"] = "cheap"
		}},
		{"confidence out of range", "attestation", func(o Object) { o["confidence"] = 1.5 }},
		{"implementation extra key", "implementation", func(o Object) {
			o["implements"] = map[string]any{"idea_id": "x", "other": "y"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj := validObjects()[tt.base]
			tt.mutate(obj)
			err := ValidateSchema(obj)
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeSchemaInvalid), "got %v", err)
		})
	}
}

func TestValidateSchemaMetadataIsOpen(t *testing.T) {
	obj := ideaFixture()
	obj["metadata"] = map[string]any{"anything": []any{1, "two"}, "nested": map[string]any{"x": true}}
	assert.NoError(t, ValidateSchema(obj))
}

func TestValidateSchemaErrorPath(t *testing.T) {
	obj := ideaFixture()
	obj["title"] = 5

	err := ValidateSchema(obj)
	var ke *Error
	require.ErrorAs(t, err, &ke)
	assert.True(t, strings.HasSuffix(ke.Path, "/title"), "path %q", ke.Path)
}
