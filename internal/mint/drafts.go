package mint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bertona88/wofi/internal/kernel"
)

// IdeaDraft is the input for MintIdea.
type IdeaDraft struct {
	Title     string         `json:"title" yaml:"title"`
	Kind      string         `json:"kind" yaml:"kind"`
	Summary   string         `json:"summary,omitempty" yaml:"summary"`
	Tags      []string       `json:"tags,omitempty" yaml:"tags"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata"`
	CreatedAt string         `json:"created_at,omitempty" yaml:"created_at"`
}

// SubmissionDraft is the input for MintSubmission. Text is stored inline.
type SubmissionDraft struct {
	Text      string            `json:"text" yaml:"text"`
	MimeType  string            `json:"mime_type,omitempty" yaml:"mime_type"`
	Context   map[string]string `json:"context,omitempty" yaml:"context"`
	CreatedAt string            `json:"created_at,omitempty" yaml:"created_at"`
}

// ConstructionInput is one idea fed into a construction.
type ConstructionInput struct {
	IdeaID string `json:"idea_id" yaml:"idea_id"`
	Role   string `json:"role,omitempty" yaml:"role"`
}

// ConstructionDraft is the input for MintConstruction.
type ConstructionDraft struct {
	Operator    string              `json:"operator" yaml:"operator"`
	Inputs      []ConstructionInput `json:"inputs" yaml:"inputs"`
	ProfileID   string              `json:"profile_id,omitempty" yaml:"profile_id"`
	Params      map[string]any      `json:"params,omitempty" yaml:"params"`
	Constraints map[string]any      `json:"constraints,omitempty" yaml:"constraints"`
	CreatedAt   string              `json:"created_at,omitempty" yaml:"created_at"`
}

func required(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", name)
	}
	return nil
}

func newObject(t kernel.Type, createdAt string) kernel.Object {
	return kernel.Object{
		"type":           string(t),
		"schema_version": kernel.SchemaVersion1,
		"created_at":     createdAt,
	}
}

// MintIdea builds an idea from d and mints it.
func (m *Minter) MintIdea(ctx context.Context, d IdeaDraft) (Result, error) {
	if err := required(d.Title, "title"); err != nil {
		return Result{}, err
	}
	if err := required(d.Kind, "kind"); err != nil {
		return Result{}, err
	}

	obj := newObject(kernel.TypeIdea, m.createdAt(d.CreatedAt))
	obj["title"] = d.Title
	obj["kind"] = d.Kind
	if strings.TrimSpace(d.Summary) != "" {
		obj["summary"] = d.Summary
	}
	if d.Tags != nil {
		tags := make([]any, len(d.Tags))
		for i, tag := range d.Tags {
			tags[i] = tag
		}
		obj["tags"] = tags
	}
	if len(d.Metadata) > 0 {
		obj["metadata"] = d.Metadata
	}
	return m.Mint(ctx, obj)
}

// MintSubmission builds an inline submission from d and mints it. The
// payload hash is the content id of the payload.
func (m *Minter) MintSubmission(ctx context.Context, d SubmissionDraft) (Result, error) {
	if err := required(d.Text, "text"); err != nil {
		return Result{}, err
	}

	payload := map[string]any{"kind": "inline_utf8", "value": d.Text}
	payloadHash, err := kernel.ContentID(payload)
	if err != nil {
		return Result{}, err
	}
	mimeType := d.MimeType
	if mimeType == "" {
		mimeType = "text/plain"
	}

	obj := newObject(kernel.TypeSubmission, m.createdAt(d.CreatedAt))
	obj["payload"] = payload
	obj["payload_hash"] = payloadHash
	obj["mime_type"] = mimeType
	if fields := compact(d.Context); len(fields) > 0 {
		obj["context"] = fields
	}
	return m.Mint(ctx, obj)
}

func compact(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// MintConstruction builds a construction from d and mints it. Every input
// idea must already be indexed.
func (m *Minter) MintConstruction(ctx context.Context, d ConstructionDraft) (Result, error) {
	if len(d.Inputs) == 0 {
		return Result{}, errors.New("inputs must be a non-empty list")
	}

	inputs := make([]any, 0, len(d.Inputs))
	for i, in := range d.Inputs {
		if err := required(in.IdeaID, fmt.Sprintf("inputs[%d].idea_id", i)); err != nil {
			return Result{}, err
		}
		if err := m.requireTyped(ctx, kernel.TypeIdea, kernel.KindIdea, in.IdeaID); err != nil {
			return Result{}, err
		}
		entry := map[string]any{"idea_id": in.IdeaID}
		if strings.TrimSpace(in.Role) != "" {
			entry["role"] = in.Role
		}
		inputs = append(inputs, entry)
	}

	obj := newObject(kernel.TypeConstruction, m.createdAt(d.CreatedAt))
	obj["operator"] = d.Operator
	obj["inputs"] = inputs
	if d.ProfileID != "" {
		obj["profile_id"] = d.ProfileID
	}
	if len(d.Params) > 0 {
		obj["params"] = d.Params
	}
	if len(d.Constraints) > 0 {
		obj["constraints"] = d.Constraints
	}
	return m.Mint(ctx, obj)
}
