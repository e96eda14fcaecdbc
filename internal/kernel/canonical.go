package kernel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonicalize produces the canonical byte form of v.
//
// CRITICAL: this is the only serialization used for content ids and
// signatures. Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping, U+2028/U+2029 emitted literally
//  3. Numbers in ECMAScript Number::toString form (1e+21, 1.5e-7, 0.1)
//  4. Null object members are omitted and null array elements skipped
//
// Strings are NOT Unicode-normalized; normalizing would change ids minted
// by other implementations.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		writeCanonicalString(buf, val)
		return nil
	case json.Number:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil && !isRangeError(err) {
			return newError(ErrCodeCanonicalization, fmt.Sprintf("Invalid number literal: %s", val))
		}
		return writeCanonicalNumber(buf, f)
	case float64:
		return writeCanonicalNumber(buf, val)
	case float32:
		return writeCanonicalNumber(buf, float64(val))
	case int:
		return writeCanonicalInt(buf, int64(val))
	case int8:
		return writeCanonicalInt(buf, int64(val))
	case int16:
		return writeCanonicalInt(buf, int64(val))
	case int32:
		return writeCanonicalInt(buf, int64(val))
	case int64:
		return writeCanonicalInt(buf, val)
	case uint, uint8, uint16, uint32, uint64:
		u := reflect.ValueOf(val).Uint()
		if u <= maxSafeInteger {
			buf.WriteString(strconv.FormatUint(u, 10))
			return nil
		}
		return writeCanonicalNumber(buf, float64(u))
	case *big.Int, big.Int, *big.Float:
		return newError(ErrCodeCanonicalization, "Unsupported value type: bigint")
	case Object:
		return writeCanonicalObject(buf, val)
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case []any:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []string:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []Object:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []map[string]any:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	}
	return writeCanonicalReflect(buf, v)
}

// writeCanonicalReflect handles the remaining Go shapes (typed slices,
// string-keyed maps, pointers) and rejects values with no JSON form.
func writeCanonicalReflect(buf *bytes.Buffer, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return writeCanonical(buf, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return writeCanonicalArray(buf, rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return newError(ErrCodeCanonicalization, fmt.Sprintf("Unsupported map key type: %s", rv.Type().Key()))
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return writeCanonicalObject(buf, m)
	case reflect.String:
		writeCanonicalString(buf, rv.String())
		return nil
	case reflect.Bool:
		return writeCanonical(buf, rv.Bool())
	case reflect.Float32, reflect.Float64:
		return writeCanonicalNumber(buf, rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return writeCanonicalInt(buf, rv.Int())
	}
	return newError(ErrCodeCanonicalization, fmt.Sprintf("Unsupported value type: %T", v))
}

func writeCanonicalObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if isNull(v) {
			continue
		}
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalString(buf, k)
		buf.WriteByte(':')
		if err := writeCanonical(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')
	first := true
	for i := 0; i < n; i++ {
		elem := at(i)
		if isNull(elem) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeCanonical(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

const hexDigits = "0123456789abcdef"

// writeCanonicalString escapes s exactly as ECMAScript JSON.stringify does.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[c>>4])
					buf.WriteByte(hexDigits[c&0xf])
				} else {
					buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// maxSafeInteger is 2^53, the largest integer ECMAScript numbers hold exactly.
const maxSafeInteger = 1 << 53

func writeCanonicalInt(buf *bytes.Buffer, n int64) error {
	if n <= maxSafeInteger && n >= -maxSafeInteger {
		buf.WriteString(strconv.FormatInt(n, 10))
		return nil
	}
	return writeCanonicalNumber(buf, float64(n))
}

func writeCanonicalNumber(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return newError(ErrCodeCanonicalization, "Non-finite numbers are not allowed in canonical JSON")
	}
	buf.WriteString(FormatNumber(f))
	return nil
}

// FormatNumber renders a finite float64 with ECMAScript Number::toString.
func FormatNumber(f float64) string {
	if f == 0 {
		return "0"
	}
	if f < 0 {
		return "-" + FormatNumber(-f)
	}

	// Shortest round-trip digits, then lay them out per ECMA-262 7.1.12.1.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(sci, "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	exp, _ := strconv.Atoi(expPart)
	k := len(digits)
	n := exp + 1

	switch {
	case k <= n && n <= 21:
		return digits + strings.Repeat("0", n-k)
	case 0 < n && n <= 21:
		return digits[:n] + "." + digits[n:]
	case -6 < n && n <= 0:
		return "0." + strings.Repeat("0", -n) + digits
	}

	e := n - 1
	sign := "+"
	if e < 0 {
		sign = "-"
		e = -e
	}
	if k == 1 {
		return digits + "e" + sign + strconv.Itoa(e)
	}
	return digits[:1] + "." + digits[1:] + "e" + sign + strconv.Itoa(e)
}

// compareUTF16 orders strings by UTF-16 code units, the order ECMAScript
// uses for string comparison. Go's native order is UTF-8 bytes, which
// differs for characters above U+FFFF versus U+E000..U+FFFF.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// isRangeError reports overflow; ParseFloat then returns ±Inf, which the
// finiteness check rejects.
func isRangeError(err error) bool {
	return errors.Is(err, strconv.ErrRange)
}
