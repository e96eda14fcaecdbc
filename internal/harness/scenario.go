package harness

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bertona88/wofi/internal/ingest"
)

// Scenario defines one ingestion scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// AllowUnsigned accepts objects without author and signature.
	AllowUnsigned bool `yaml:"allow_unsigned,omitempty"`

	// SigningSeed is the hex ed25519 seed used for objects with sign set.
	SigningSeed string `yaml:"signing_seed,omitempty"`

	// Objects declares the scenario's objects in reference order.
	Objects []ObjectDecl `yaml:"objects"`

	// Steps drive the objects through the pipeline.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final index.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ObjectDecl names an object. $alias strings inside Object refer to
// earlier declarations.
type ObjectDecl struct {
	Alias  string         `yaml:"alias"`
	Sign   bool           `yaml:"sign,omitempty"`
	Object map[string]any `yaml:"object"`
}

// Step is one pipeline operation.
type Step struct {
	// Op is one of ingest, enqueue, sync, drain, retry, replay.
	Op string `yaml:"op"`

	// Object is the alias the step acts on (ingest, enqueue, replay).
	Object string `yaml:"object,omitempty"`

	// Expect is the expected ingest status (ingest, replay).
	Expect string `yaml:"expect,omitempty"`

	// Limit is the batch size or sweep limit (sync, drain, retry).
	Limit int `yaml:"limit,omitempty"`

	// Count is the expected number of entries processed (sync, drain) or
	// objects re-ingested (retry).
	Count *int `yaml:"count,omitempty"`
}

// Assertion validates the final index.
type Assertion struct {
	// Type is row_count, deferred, or final_state.
	Type string `yaml:"type"`

	// Table is the table checked by row_count and final_state.
	Table string `yaml:"table,omitempty"`

	// Count is the expected row count (row_count).
	Count int `yaml:"count,omitempty"`

	// Object is the alias checked by deferred.
	Object string `yaml:"object,omitempty"`

	// Where filters the final_state row. All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds expected field values (final_state, subset match) or a
	// single boolean (deferred).
	Expect any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount   = "row_count"
	AssertDeferred   = "deferred"
	AssertFinalState = "final_state"
)

var validAlias = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and alias references.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	needsSeed := false
	declared := make(map[string]bool, len(s.Objects))
	for i, decl := range s.Objects {
		if !validAlias.MatchString(decl.Alias) {
			return fmt.Errorf("objects[%d]: alias %q must match %s", i, decl.Alias, validAlias.String())
		}
		if declared[decl.Alias] {
			return fmt.Errorf("objects[%d]: duplicate alias %q", i, decl.Alias)
		}
		if len(decl.Object) == 0 {
			return fmt.Errorf("objects[%d] (%s): object is required", i, decl.Alias)
		}
		declared[decl.Alias] = true
		needsSeed = needsSeed || decl.Sign
	}

	if needsSeed {
		seed, err := hex.DecodeString(s.SigningSeed)
		if err != nil || len(seed) != ed25519.SeedSize {
			return fmt.Errorf("signing_seed must be %d hex-encoded bytes", ed25519.SeedSize)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(step, declared); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, declared); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, declared map[string]bool) error {
	switch step.Op {
	case OpIngest, OpEnqueue, OpReplay:
		if !declared[step.Object] {
			return fmt.Errorf("%s: unknown object %q", step.Op, step.Object)
		}
		if step.Op != OpEnqueue && step.Expect != "" {
			switch ingest.Status(step.Expect) {
			case ingest.StatusOK, ingest.StatusDeferred, ingest.StatusFailed:
			default:
				return fmt.Errorf("%s: expect must be ok, deferred, or failed, got %q", step.Op, step.Expect)
			}
		}
	case OpSync, OpDrain, OpRetry:
		if step.Object != "" {
			return fmt.Errorf("%s does not take an object", step.Op)
		}
		if step.Limit < 0 {
			return fmt.Errorf("%s: limit must not be negative", step.Op)
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion, declared map[string]bool) error {
	switch a.Type {
	case AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("row_count requires table")
		}
	case AssertDeferred:
		if !declared[a.Object] {
			return fmt.Errorf("deferred: unknown object %q", a.Object)
		}
		if _, ok := a.Expect.(bool); !ok {
			return fmt.Errorf("deferred: expect must be true or false")
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("final_state requires table")
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("final_state requires where")
		}
		if _, ok := a.Expect.(map[string]any); !ok {
			return fmt.Errorf("final_state: expect must be a mapping")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
