package query

import "encoding/json"

// Direction selects which edges a traversal follows from each node.
// Out follows idea→construction inputs and construction→idea outputs;
// in walks them backwards.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Node and edge kinds of the lineage graph.
const (
	NodeIdea         = "idea"
	NodeConstruction = "construction"

	EdgeInput  = "input"
	EdgeOutput = "output"
)

// Defaults applied when options leave a field at its zero value.
const (
	DefaultNodeLimit   = 200
	DefaultEdgeLimit   = 400
	DefaultSearchLimit = 10
	DefaultSearchModel = "text-embedding-3-large"
)

// NeighborhoodOptions bounds a graph traversal. A zero limit selects the
// default; a negative one is rejected.
type NeighborhoodOptions struct {
	Depth     int
	Direction Direction
	NodeLimit int
	EdgeLimit int
	Cursor    string
}

// GraphNode is an idea or construction reached by a traversal.
type GraphNode struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Title     *string `json:"title,omitempty"`
	Operator  *string `json:"operator,omitempty"`
	CreatedAt *string `json:"created_at"`
}

// GraphEdge connects typed ids of the form "idea:<id>" and
// "construction:<id>". Input edges carry the input's role and ordinal.
type GraphEdge struct {
	Type    string  `json:"type"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Ordinal *int    `json:"ordinal"`
	Role    *string `json:"role"`
}

// GraphRoot identifies the idea a traversal started from.
type GraphRoot struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// GraphPage reports the limits in effect and the cursor for the next page.
type GraphPage struct {
	NextCursor *string `json:"next_cursor"`
	NodeLimit  int     `json:"node_limit"`
	EdgeLimit  int     `json:"edge_limit"`
}

// GraphResponse is one page of a neighborhood or lineage traversal.
type GraphResponse struct {
	Root  GraphRoot   `json:"root"`
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Page  GraphPage   `json:"page"`
}

// IdeaRecord is the typed row of an idea.
type IdeaRecord struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Kind         string          `json:"kind"`
	Summary      *string         `json:"summary"`
	Tags         json.RawMessage `json:"tags"`
	CreatedAt    *string         `json:"created_at"`
	AuthorPubkey *string         `json:"author_pubkey"`
}

// IdeaSearchResult is an idea ranked by embedding similarity. Distance is
// the cosine distance; Score is 1 - Distance. Both are null when either
// vector has zero norm.
type IdeaSearchResult struct {
	IdeaRecord
	Distance *float64 `json:"distance"`
	Score    *float64 `json:"score"`
}

// ConstructionInput is one ordered input of a construction.
type ConstructionInput struct {
	IdeaID  string  `json:"idea_id"`
	Role    *string `json:"role"`
	Ordinal int     `json:"ordinal"`
}

// ConstructionOutput names the idea a construction produced.
type ConstructionOutput struct {
	IdeaID string `json:"idea_id"`
}

// ConstructionRecord is a construction with its inputs and output.
type ConstructionRecord struct {
	Type            string              `json:"type"`
	ID              string              `json:"id"`
	Operator        string              `json:"operator"`
	ProfileID       *string             `json:"profile_id"`
	ParamsJSON      json.RawMessage     `json:"params_json"`
	ConstraintsJSON json.RawMessage     `json:"constraints_json"`
	CreatedAt       *string             `json:"created_at"`
	AuthorPubkey    *string             `json:"author_pubkey"`
	Inputs          []ConstructionInput `json:"inputs"`
	Output          *ConstructionOutput `json:"output"`
}

// TargetType is the kind of object a claim can be about.
type TargetType string

const (
	TargetIdea           TargetType = "idea"
	TargetImplementation TargetType = "implementation"
)

// ClaimEvidence is evidence attached to a claim.
type ClaimEvidence struct {
	ID        string  `json:"id"`
	Stance    *string `json:"stance"`
	Locator   string  `json:"locator"`
	CreatedAt *string `json:"created_at"`
}

// ClaimRecord is a claim with the evidence attached to it.
type ClaimRecord struct {
	ID        string          `json:"id"`
	ClaimText string          `json:"claim_text"`
	CreatedAt *string         `json:"created_at"`
	Evidence  []ClaimEvidence `json:"evidence"`
}

// ClaimTarget identifies the object a bundle was gathered for.
type ClaimTarget struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id"`
}

// ClaimBundle groups every claim about a target with its evidence.
type ClaimBundle struct {
	Target ClaimTarget   `json:"target"`
	Claims []ClaimRecord `json:"claims"`
}

// SubmissionRecord is the typed row of a submission.
type SubmissionRecord struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	PayloadKind  string          `json:"payload_kind"`
	PayloadValue string          `json:"payload_value"`
	PayloadHash  string          `json:"payload_hash"`
	MimeType     string          `json:"mime_type"`
	ContextJSON  json.RawMessage `json:"context_json"`
	CreatedAt    *string         `json:"created_at"`
	AuthorPubkey *string         `json:"author_pubkey"`
}

// DerivedFromRecord is an object derived from a submission.
type DerivedFromRecord struct {
	ID           string  `json:"id"`
	WofiType     string  `json:"wofi_type"`
	CreatedAt    *string `json:"created_at"`
	AuthorPubkey *string `json:"author_pubkey"`
}

// SearchOptions tunes SearchIdeasByEmbedding. Zero values select the
// defaults; Dimensions defaults to the vector length.
type SearchOptions struct {
	Limit      int
	Model      string
	Dimensions int
}
