package kernel

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

// schemaRegistry holds the compiled definitions. cue.Context is not safe
// for concurrent use, so every evaluation happens under mu.
type schemaRegistry struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas cue.Value
}

var (
	registryOnce sync.Once
	registry     *schemaRegistry
	registryErr  error
)

func loadRegistry() (*schemaRegistry, error) {
	registryOnce.Do(func() {
		ctx := cuecontext.New()
		root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := root.Err(); err != nil {
			registryErr = fmt.Errorf("compile kernel schemas: %w", err)
			return
		}
		registry = &schemaRegistry{
			ctx:     ctx,
			schemas: root.LookupPath(cue.MakePath(cue.Str("schemas"))),
		}
	})
	return registry, registryErr
}

// KnownTypes returns every registered type discriminator.
func KnownTypes() []Type {
	return []Type{
		TypeIdea,
		TypeConstruction,
		TypeClaim,
		TypeEvidence,
		TypeSubmission,
		TypeImplementation,
		TypeProfile,
		TypeEdge,
		TypeClaimMarket,
		TypeAttestation,
	}
}

// ValidateSchema resolves (type, schema_version) to its closed definition
// and checks obj against it. Extra properties, missing required fields,
// wrong primitive types, and enum violations all fail with SCHEMA_INVALID.
func ValidateSchema(obj any) error {
	t, err := TypeOf(obj)
	if err != nil {
		return err
	}
	o, _ := asObject(obj)

	version, ok := o["schema_version"].(string)
	if !ok || version == "" {
		return newError(ErrCodeSchemaInvalid, "Kernel object missing schema_version")
	}

	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	data, err := json.Marshal(o)
	if err != nil {
		return newError(ErrCodeSchemaInvalid, fmt.Sprintf("Kernel object is not valid JSON: %v", err))
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	typeSchemas := reg.schemas.LookupPath(cue.MakePath(cue.Str(string(t))))
	if !typeSchemas.Exists() {
		return newError(ErrCodeUnknownObjectType, fmt.Sprintf("Unknown kernel object type: %s", t))
	}
	schema := typeSchemas.LookupPath(cue.MakePath(cue.Str(version)))
	if !schema.Exists() {
		return newError(ErrCodeUnknownSchemaVersion, fmt.Sprintf("Unknown schema_version %s for type %s", version, t))
	}

	expr, err := cuejson.Extract("object", data)
	if err != nil {
		return newError(ErrCodeSchemaInvalid, fmt.Sprintf("Kernel object is not valid JSON: %v", err))
	}
	value := reg.ctx.BuildExpr(expr)
	if err := value.Err(); err != nil {
		return newError(ErrCodeSchemaInvalid, fmt.Sprintf("Kernel object is not valid JSON: %v", err))
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// schemaError converts the first CUE error into a kernel error carrying a
// JSON pointer to the offending field.
func schemaError(err error) *Error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return newError(ErrCodeSchemaInvalid, "Schema validation failed")
	}
	first := errs[0]

	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = "Schema validation failed"
	}

	path := first.Path()
	// Errors are reported relative to the registry root.
	if len(path) >= 3 && path[0] == "schemas" {
		path = path[3:]
	}
	pointer := ""
	if len(path) > 0 {
		parts := make([]string, len(path))
		for i, p := range path {
			parts[i] = strings.Trim(p, `"`)
		}
		pointer = "/" + strings.Join(parts, "/")
	}

	e := newErrorAt(ErrCodeSchemaInvalid, msg, pointer)
	details := make([]string, 0, len(errs))
	for _, ce := range errs {
		details = append(details, ce.Error())
	}
	e.Details = details
	return e
}
