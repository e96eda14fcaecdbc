package kernel

import (
	"fmt"
	"strings"
)

// EdgeRef is the minimal view of a stored edge used by invariant checks.
type EdgeRef struct {
	Rel  Relation
	ToID string
}

// ValidationContext supplies referential lookups for invariant checks.
// Either function may be nil; checks that need a missing lookup are skipped.
type ValidationContext struct {
	// ObjectTypeByID returns the type of a known object.
	ObjectTypeByID func(id string) (Type, bool)

	// EdgesByFromID returns the edges originating at id.
	EdgesByFromID func(id string) []EdgeRef
}

// forbiddenInputKeys are references a construction input must never carry;
// constructions compose ideas only.
var forbiddenInputKeys = []string{"claim_id", "evidence_id", "implementation_id", "construction_id"}

// ValidateInvariants enforces cross-field rules. With a nil context only the
// local rules run; with a context, edge endpoint types and implementation
// edges are checked against the lookups.
func ValidateInvariants(obj any, vctx *ValidationContext) error {
	t, err := TypeOf(obj)
	if err != nil {
		return err
	}
	o, _ := asObject(obj)

	switch t {
	case TypeConstruction:
		return validateConstructionInputs(o)
	case TypeEdge:
		if err := validateEdgeLocal(o); err != nil {
			return err
		}
		if vctx != nil {
			return validateEdgeReferential(o, vctx)
		}
	case TypeImplementation:
		if vctx != nil {
			return validateImplementationEdges(o, vctx)
		}
	}
	return nil
}

func invariantAt(message, path string) *Error {
	return newErrorAt(ErrCodeInvariantViolation, message, path)
}

func validateConstructionInputs(o Object) error {
	inputs, ok := o["inputs"].([]any)
	if !ok {
		return nil
	}
	for i, raw := range inputs {
		base := fmt.Sprintf("/inputs/%d", i)
		input, ok := asObject(raw)
		if !ok {
			return invariantAt("Construction input must be an object", base)
		}
		if _, ok := input.StringField("idea_id"); !ok {
			return invariantAt("Construction input must include idea_id", base+"/idea_id")
		}
		for _, key := range forbiddenInputKeys {
			if _, present := input[key]; present {
				return invariantAt("Construction inputs must not include "+key, base+"/"+key)
			}
		}
	}
	return nil
}

func validateEdgeLocal(o Object) error {
	rel, _ := o["rel"].(string)
	if !IsRelation(rel) {
		return invariantAt(fmt.Sprintf("Invalid edge rel: %v", o["rel"]), "/rel")
	}
	return nil
}

// relationRule names the endpoint types a relation may connect.
type relationRule struct {
	from []Type
	to   []Type
}

var relationRules = map[Relation]relationRule{
	RelInputOf:     {from: []Type{TypeIdea}, to: []Type{TypeConstruction}},
	RelOutputOf:    {from: []Type{TypeConstruction}, to: []Type{TypeIdea}},
	RelSupports:    {from: []Type{TypeEvidence}, to: []Type{TypeClaim}},
	RelRefutes:     {from: []Type{TypeEvidence}, to: []Type{TypeClaim}},
	RelAbout:       {from: []Type{TypeClaim}, to: []Type{TypeIdea, TypeImplementation}},
	RelImplements:  {from: []Type{TypeImplementation}, to: []Type{TypeIdea}},
	RelSubmittedAs: {from: []Type{TypeSubmission}, to: []Type{TypeIdea}},
	RelDerivedFrom: {
		from: []Type{TypeIdea, TypeClaim, TypeConstruction, TypeImplementation, TypeEvidence},
		to:   []Type{TypeSubmission},
	},
}

// CheckRelation reports whether rel may connect an object of type from to
// an object of type to. Relations without a rule (ATTESTS) accept any pair.
func CheckRelation(rel Relation, from, to Type) error {
	rule, ok := relationRules[rel]
	if !ok {
		return nil
	}
	// DERIVED_FROM reports its target first.
	if rel == RelDerivedFrom {
		if !containsType(rule.to, to) {
			return invariantAt(fmt.Sprintf("%s must target %s", rel, typeNames(rule.to)), "/to")
		}
		if !containsType(rule.from, from) {
			return invariantAt(fmt.Sprintf("%s must originate from %s", rel, typeNames(rule.from)), "/from")
		}
		return nil
	}
	if !containsType(rule.from, from) {
		return invariantAt(fmt.Sprintf("%s must originate from %s", rel, typeNames(rule.from)), "/from")
	}
	if !containsType(rule.to, to) {
		return invariantAt(fmt.Sprintf("%s must target %s", rel, typeNames(rule.to)), "/to")
	}
	return nil
}

func validateEdgeReferential(o Object, vctx *ValidationContext) error {
	if vctx.ObjectTypeByID == nil {
		return nil
	}
	from, _ := o.ObjectField("from")
	to, _ := o.ObjectField("to")
	fromID, _ := from.StringField("id")
	toID, _ := to.StringField("id")
	if fromID == "" || toID == "" {
		return nil
	}

	fromType, fromOK := vctx.ObjectTypeByID(fromID)
	toType, toOK := vctx.ObjectTypeByID(toID)
	if !fromOK || !toOK {
		e := invariantAt("Referential types missing for edge endpoints", "/rel")
		e.Details = map[string]string{"fromId": fromID, "toId": toID}
		return e
	}

	rel, _ := o.StringField("rel")
	return CheckRelation(Relation(rel), fromType, toType)
}

func validateImplementationEdges(o Object, vctx *ValidationContext) error {
	if vctx.EdgesByFromID == nil || vctx.ObjectTypeByID == nil {
		return nil
	}
	id := o.ContentID()
	if id == "" {
		return nil
	}

	var implements []EdgeRef
	for _, e := range vctx.EdgesByFromID(id) {
		if e.Rel == RelImplements {
			implements = append(implements, e)
		}
	}
	if len(implements) != 1 {
		return invariantAt("Implementation must have exactly one IMPLEMENTS edge", "")
	}
	if t, _ := vctx.ObjectTypeByID(implements[0].ToID); t != TypeIdea {
		return invariantAt("IMPLEMENTS edge must target Idea", "")
	}
	return nil
}

func containsType(types []Type, t Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// typeNames renders "Idea", "Idea or Implementation", or
// "Idea, Claim, ... or Evidence" for messages.
func typeNames(types []Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = displayName(t)
	}
	switch len(names) {
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
}

func displayName(t Type) string {
	switch t {
	case TypeIdea:
		return "Idea"
	case TypeConstruction:
		return "Construction"
	case TypeClaim:
		return "Claim"
	case TypeEvidence:
		return "Evidence"
	case TypeSubmission:
		return "Submission"
	case TypeImplementation:
		return "Implementation"
	case TypeProfile:
		return "Profile"
	}
	return string(t)
}
