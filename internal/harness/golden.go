package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/bertona88/wofi/internal/kernel"
)

// Snapshot is the part of a Result compared against golden files.
type Snapshot struct {
	ScenarioName string
	Aliases      []string
	Trace        []TraceEvent
	Tables       map[string]int
}

// NewSnapshot captures the golden-file view of a result.
func NewSnapshot(name string, result *Result) Snapshot {
	return Snapshot{
		ScenarioName: name,
		Aliases:      sortedAliases(result.Aliases),
		Trace:        result.Trace,
		Tables:       result.Tables,
	}
}

// toCanonicalMap converts the snapshot to the plain values kernel
// canonicalization accepts.
func (s Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"step": event.Step,
			"op":   event.Op,
		}
		if event.Object != "" {
			m["object"] = event.Object
		}
		if event.WofiType != "" {
			m["wofi_type"] = event.WofiType
		}
		if event.Status != "" {
			m["status"] = event.Status
		}
		if event.MissingRef != "" {
			m["missing_ref"] = event.MissingRef
		}
		if event.Reason != "" {
			m["reason"] = event.Reason
		}
		if event.Error != "" {
			m["error"] = event.Error
		}
		if event.Count != nil {
			m["count"] = *event.Count
		}
		if event.Stats != nil {
			stats := make(map[string]any, len(event.Stats))
			for k, v := range event.Stats {
				stats[k] = v
			}
			m["stats"] = stats
		}
		trace[i] = m
	}

	tables := make(map[string]any, len(s.Tables))
	for k, v := range s.Tables {
		tables[k] = v
	}
	aliases := make([]any, len(s.Aliases))
	for i, a := range s.Aliases {
		aliases[i] = a
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"aliases":       aliases,
		"trace":         trace,
		"tables":        tables,
	}
}

// Marshal renders the snapshot as indented canonical JSON with a trailing
// newline.
func (s Snapshot) Marshal() ([]byte, error) {
	canonical, err := kernel.Canonicalize(s.toCanonicalMap())
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, canonical, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/<scenario.Name>.golden. Expectation and assertion
// failures fail the test as well.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Errorf("%s: %s", scenario.Name, msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
