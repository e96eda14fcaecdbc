package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/bertona88/wofi/internal/store"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// validIdentifier matches safe SQL table and column names.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// AssertionContext provides database access and alias resolution.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Aliases map[string]string
}

// EvaluateAssertions evaluates every assertion and returns one message per
// failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch {
		case actx == nil || actx.Store == nil:
			err = fmt.Errorf("%s requires database context", assertion.Type)
		case assertion.Type == AssertRowCount:
			err = assertRowCount(actx, assertion)
		case assertion.Type == AssertDeferred:
			err = assertDeferred(actx, assertion)
		case assertion.Type == AssertFinalState:
			err = assertFinalState(actx, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errors
}

func assertRowCount(actx *AssertionContext, a Assertion) error {
	n, err := store.CountRows(actx.Ctx, actx.Store, a.Table)
	if err != nil {
		return err
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d row(s) in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertDeferred(actx *AssertionContext, a Assertion) error {
	want, _ := a.Expect.(bool)
	id := actx.Aliases[a.Object]

	var n int
	err := actx.Store.QueryRow(actx.Ctx, `SELECT COUNT(*) FROM ingest_deferred WHERE content_id = ?`, id).Scan(&n)
	if err != nil {
		return fmt.Errorf("query ingest_deferred: %w", err)
	}
	if got := n > 0; got != want {
		return &AssertionError{
			Type:     AssertDeferred,
			Expected: fmt.Sprintf("%s deferred=%t", a.Object, want),
			Actual:   fmt.Sprintf("deferred=%t", got),
		}
	}
	return nil
}

// assertFinalState requires exactly one row matching Where and checks the
// fields named in Expect. Extra columns are ignored.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	where, err := resolveMap(a.Where, actx.Aliases)
	if err != nil {
		return fmt.Errorf("where: %w", err)
	}
	rawExpect, _ := a.Expect.(map[string]any)
	expect, err := resolveMap(rawExpect, actx.Aliases)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	clause, args, err := buildWhereClause(where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", a.Table, clause)
	rows, err := actx.Store.Query(actx.Ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", a.Table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("query %s: %w", a.Table, err)
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("a row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "no matching row",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		actual, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("columns %v", columns),
			}
		}
		if !stateValuesEqual(expect[key], actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, rawExpect[key]),
				Actual:   fmt.Sprintf("%v", displayValue(actual)),
			}
		}
	}
	return nil
}

func resolveMap(m map[string]any, aliases map[string]string) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	resolved, err := resolveAliases(m, aliases)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism and column names are checked against validIdentifier.
func buildWhereClause(where map[string]any) (string, []any, error) {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		if where[key] == nil {
			clauses = append(clauses, key+" IS NULL")
			continue
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE
// conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares an expected YAML value with a scanned column.
// SQLite returns integers as int64 and may return text as []byte.
func stateValuesEqual(expected, actual any) bool {
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	switch exp := expected.(type) {
	case string:
		s, ok := actual.(string)
		return ok && exp == s
	case int:
		return toInt64(actual) == int64(exp) && isInteger(actual)
	case int64:
		return toInt64(actual) == exp && isInteger(actual)
	case float64:
		switch v := actual.(type) {
		case float64:
			return exp == v
		case int64:
			return exp == float64(v)
		}
		return false
	case bool:
		switch v := actual.(type) {
		case bool:
			return exp == v
		case int64:
			return exp == (v != 0)
		}
		return false
	}
	return reflect.DeepEqual(expected, actual)
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	}
	return false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func displayValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
