package kernel

// Object is a decoded kernel object. Values follow encoding/json decoding
// conventions: map[string]any, []any, string, bool, nil, and json.Number
// (or float64) for numbers. Objects built in Go code may also carry int,
// int64, float64, []string and nested Object values.
type Object map[string]any

// Type is a kernel object type discriminator.
type Type string

const (
	TypeIdea           Type = "wofi.idea.v1"
	TypeConstruction   Type = "wofi.construction.v1"
	TypeClaim          Type = "wofi.claim.v1"
	TypeEvidence       Type = "wofi.evidence.v1"
	TypeSubmission     Type = "wofi.submission.v1"
	TypeImplementation Type = "wofi.implementation.v1"
	TypeProfile        Type = "wofi.profile.v1"
	TypeEdge           Type = "wofi.edge.v1"

	// Reserved types are validated and recorded raw but have no typed table.
	TypeClaimMarket Type = "wofi.claim_market.v1"
	TypeAttestation Type = "wofi.attestation.v1"
)

// SchemaVersion1 is the only schema version registered for every type.
const SchemaVersion1 = "1.0"

// Kind is the short endpoint kind used in edges ("idea", "claim", ...).
type Kind string

const (
	KindIdea           Kind = "idea"
	KindConstruction   Kind = "construction"
	KindClaim          Kind = "claim"
	KindEvidence       Kind = "evidence"
	KindSubmission     Kind = "submission"
	KindImplementation Kind = "implementation"
	KindProfile        Kind = "profile"
)

// KindOf maps a typed object type to its edge endpoint kind.
// Reserved and unknown types have no kind.
func KindOf(t Type) (Kind, bool) {
	switch t {
	case TypeIdea:
		return KindIdea, true
	case TypeConstruction:
		return KindConstruction, true
	case TypeClaim:
		return KindClaim, true
	case TypeEvidence:
		return KindEvidence, true
	case TypeSubmission:
		return KindSubmission, true
	case TypeImplementation:
		return KindImplementation, true
	case TypeProfile:
		return KindProfile, true
	}
	return "", false
}

// TypeOfKind is the inverse of KindOf.
func TypeOfKind(k Kind) (Type, bool) {
	switch k {
	case KindIdea:
		return TypeIdea, true
	case KindConstruction:
		return TypeConstruction, true
	case KindClaim:
		return TypeClaim, true
	case KindEvidence:
		return TypeEvidence, true
	case KindSubmission:
		return TypeSubmission, true
	case KindImplementation:
		return TypeImplementation, true
	case KindProfile:
		return TypeProfile, true
	}
	return "", false
}

// Relation is an edge rel value.
type Relation string

const (
	RelInputOf     Relation = "INPUT_OF"
	RelOutputOf    Relation = "OUTPUT_OF"
	RelImplements  Relation = "IMPLEMENTS"
	RelAbout       Relation = "ABOUT"
	RelSupports    Relation = "SUPPORTS"
	RelRefutes     Relation = "REFUTES"
	RelAttests     Relation = "ATTESTS"
	RelSubmittedAs Relation = "SUBMITTED_AS"
	RelDerivedFrom Relation = "DERIVED_FROM"
)

// Relations lists every known relation in declaration order.
var Relations = []Relation{
	RelInputOf,
	RelOutputOf,
	RelImplements,
	RelAbout,
	RelSupports,
	RelRefutes,
	RelAttests,
	RelSubmittedAs,
	RelDerivedFrom,
}

// IsRelation reports whether rel names one of the known relations.
func IsRelation(rel string) bool {
	for _, r := range Relations {
		if string(r) == rel {
			return true
		}
	}
	return false
}

// TypeOf returns the object's type discriminator.
// Fails with SCHEMA_INVALID when the value is not an object or has no type.
func TypeOf(v any) (Type, error) {
	obj, ok := asObject(v)
	if !ok {
		return "", newError(ErrCodeSchemaInvalid, "Kernel object must be an object")
	}
	t, ok := obj["type"].(string)
	if !ok || t == "" {
		return "", newError(ErrCodeSchemaInvalid, "Kernel object missing type")
	}
	return Type(t), nil
}

// StringField returns obj[key] when it is a non-empty string.
func (o Object) StringField(key string) (string, bool) {
	s, ok := o[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ObjectField returns obj[key] when it is a JSON object.
func (o Object) ObjectField(key string) (Object, bool) {
	return asObject(o[key])
}

// ContentID returns the declared content_id, if any.
func (o Object) ContentID() string {
	s, _ := o.StringField("content_id")
	return s
}

// AuthorPubkey returns author.value, if any.
func (o Object) AuthorPubkey() string {
	author, ok := o.ObjectField("author")
	if !ok {
		return ""
	}
	s, _ := author.StringField("value")
	return s
}

// Clone returns a shallow copy of the object.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func asObject(v any) (Object, bool) {
	switch m := v.(type) {
	case Object:
		return m, m != nil
	case map[string]any:
		return Object(m), m != nil
	}
	return nil, false
}
