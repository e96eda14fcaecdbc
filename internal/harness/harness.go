package harness

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/bertona88/wofi/internal/ingest"
	"github.com/bertona88/wofi/internal/kernel"
	"github.com/bertona88/wofi/internal/store"
	"github.com/bertona88/wofi/internal/testutil"
)

// GraphTables are the tables whose final row counts a Result reports.
var GraphTables = []string{
	"objects",
	"ideas",
	"constructions",
	"construction_inputs",
	"construction_outputs",
	"claims",
	"evidence",
	"submissions",
	"implementations",
	"profiles",
	"edges",
	"ingest_deferred",
	"outbox",
}

// Harness executes one scenario against its own store.
type Harness struct {
	store    *store.Store
	ingester *ingest.Ingester

	objects map[string]kernel.Object
	aliases map[string]string
	masker  *strings.Replacer
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database driven by a
// deterministic clock, so traces are reproducible. Failed expectations and
// assertions are reported in the Result; the error is non-nil only when
// the scenario could not be executed.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	clock := testutil.NewDeterministicClock(testutil.DefaultStart)
	st, err := store.Open(ctx, ":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store: st,
		ingester: ingest.New(st,
			ingest.WithAllowUnsigned(scenario.AllowUnsigned),
			ingest.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			ingest.WithClock(clock.Now),
		),
		objects: make(map[string]kernel.Object, len(scenario.Objects)),
		aliases: make(map[string]string, len(scenario.Objects)),
	}

	if err := h.prepareObjects(scenario); err != nil {
		return nil, fmt.Errorf("failed to prepare objects: %w", err)
	}

	result := NewResult()
	for alias, id := range h.aliases {
		result.Aliases[alias] = id
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}

	for _, table := range GraphTables {
		n, err := store.CountRows(ctx, st, table)
		if err != nil {
			return nil, err
		}
		result.Tables[table] = n
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Aliases: h.aliases}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// prepareObjects resolves aliases, signs where asked, and computes every
// declared object's content id.
func (h *Harness) prepareObjects(scenario *Scenario) error {
	var seed []byte
	if scenario.SigningSeed != "" {
		var err error
		if seed, err = hex.DecodeString(scenario.SigningSeed); err != nil {
			return fmt.Errorf("signing_seed: %w", err)
		}
	}

	pairs := make([]string, 0, 2*len(scenario.Objects))
	for _, decl := range scenario.Objects {
		resolved, err := resolveAliases(decl.Object, h.aliases)
		if err != nil {
			return fmt.Errorf("%s: %w", decl.Alias, err)
		}
		// Round-trip through JSON so numbers reach the kernel as json.Number.
		data, err := json.Marshal(resolved)
		if err != nil {
			return fmt.Errorf("%s: %w", decl.Alias, err)
		}
		obj, err := kernel.ParseObject(data)
		if err != nil {
			return fmt.Errorf("%s: %w", decl.Alias, err)
		}
		if decl.Sign {
			if obj, err = kernel.SignObject(obj, seed); err != nil {
				return fmt.Errorf("%s: sign: %w", decl.Alias, err)
			}
		}
		id, err := kernel.ContentID(obj)
		if err != nil {
			return fmt.Errorf("%s: content id: %w", decl.Alias, err)
		}
		if _, ok := obj["content_id"]; !ok {
			obj["content_id"] = id
		}

		h.objects[decl.Alias] = obj
		h.aliases[decl.Alias] = id
		pairs = append(pairs, id, "$"+decl.Alias)
	}
	h.masker = strings.NewReplacer(pairs...)
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch step.Op {
	case OpIngest:
		res, err := h.ingester.Ingest(ctx, ingest.Input{CanonicalJSON: h.objects[step.Object]})
		if err != nil {
			if kernel.CodeOf(err) == "" {
				return err
			}
			res = ingest.Result{Status: ingest.StatusFailed, Error: err.Error()}
		}
		h.recordIngest(step, res, result)

	case OpReplay:
		res, err := h.ingester.Replay(ctx, h.aliases[step.Object], nil, false)
		if err != nil {
			return err
		}
		h.recordIngest(step, res, result)

	case OpEnqueue:
		if _, err := h.ingester.EnqueueOutbox(ctx, "", h.objects[step.Object], ""); err != nil {
			return err
		}
		result.AddTrace(TraceEvent{Op: step.Op, Object: step.Object})

	case OpSync, OpDrain:
		sync := h.ingester.SyncOutbox
		if step.Op == OpDrain {
			sync = h.ingester.DrainOutbox
		}
		stats, err := sync(ctx, step.Limit)
		if err != nil {
			return err
		}
		result.AddTrace(TraceEvent{
			Op: step.Op,
			Stats: map[string]int{
				"processed": stats.Processed,
				"ingested":  stats.Ingested,
				"deferred":  stats.Deferred,
				"failed":    stats.Failed,
				"retried":   stats.Retried,
				"batches":   stats.Batches,
			},
		})
		h.checkCount(step, stats.Processed, result)

	case OpRetry:
		n, err := h.ingester.RetryDeferred(ctx, step.Limit)
		if err != nil {
			return err
		}
		result.AddTrace(TraceEvent{Op: step.Op, Count: &n})
		h.checkCount(step, n, result)

	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func (h *Harness) recordIngest(step Step, res ingest.Result, result *Result) {
	result.AddTrace(TraceEvent{
		Op:         step.Op,
		Object:     step.Object,
		WofiType:   res.WofiType,
		Status:     string(res.Status),
		MissingRef: h.mask(res.MissingRef),
		Reason:     res.Reason,
		Error:      h.mask(res.Error),
	})
	if step.Expect != "" && string(res.Status) != step.Expect {
		msg := fmt.Sprintf("step %d (%s %s): expected status %s, got %s", len(result.Trace), step.Op, step.Object, step.Expect, res.Status)
		if res.Error != "" {
			msg += ": " + h.mask(res.Error)
		}
		result.AddError(msg)
	}
}

func (h *Harness) checkCount(step Step, got int, result *Result) {
	if step.Count != nil && *step.Count != got {
		result.AddError(fmt.Sprintf("step %d (%s): expected count %d, got %d", len(result.Trace), step.Op, *step.Count, got))
	}
}

// mask writes known content ids as $alias.
func (h *Harness) mask(s string) string {
	if s == "" || h.masker == nil {
		return s
	}
	return h.masker.Replace(s)
}

// resolveAliases returns a copy of v with every "$alias" string replaced
// by that alias's content id.
func resolveAliases(v any, aliases map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		name, ok := strings.CutPrefix(val, "$")
		if !ok || name == "" {
			return val, nil
		}
		id, ok := aliases[name]
		if !ok {
			return nil, fmt.Errorf("unknown alias %q", val)
		}
		return id, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := resolveAliases(item, aliases)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveAliases(item, aliases)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	}
	return v, nil
}

// sortedAliases returns alias names in order.
func sortedAliases(aliases map[string]string) []string {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
