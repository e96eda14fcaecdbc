package kernel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"regexp"
)

// ContentIDPrefix is the algorithm prefix of every content id.
const ContentIDPrefix = "sha256:"

var contentIDPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// IsContentID reports whether s has the sha256:<64 lowercase hex> form.
func IsContentID(s string) bool {
	return contentIDPattern.MatchString(s)
}

// transportFields never participate in addressing or signing.
var transportFields = map[string]bool{
	"content_id": true,
	"signature":  true,
	"author":     true,
}

// ToContentObject returns the semantic projection of obj: transport fields
// are removed at every depth and null values are dropped. The input is not
// modified.
func ToContentObject(obj any) any {
	return stripValue(obj)
}

func stripValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Object:
		return stripMap(val)
	case map[string]any:
		return stripMap(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, elem := range val {
			if isNull(elem) {
				continue
			}
			out = append(out, stripValue(elem))
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return stripValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem := rv.Index(i).Interface()
			if isNull(elem) {
				continue
			}
			out = append(out, stripValue(elem))
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return stripMap(m)
	}
	return v
}

func stripMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if transportFields[k] || isNull(v) {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

// ContentID hashes the canonical form of the object's content
// projection.
func ContentID(obj any) (string, error) {
	canonical, err := CanonicalContent(obj)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return ContentIDPrefix + hex.EncodeToString(sum[:]), nil
}

// CanonicalContent returns Canonicalize(ToContentObject(obj)), the bytes
// that are both hashed and signed.
func CanonicalContent(obj any) ([]byte, error) {
	return Canonicalize(ToContentObject(obj))
}

// ParseObject turns raw input into an Object. Strings, byte slices, and
// json.RawMessage are decoded with numbers kept as json.Number so no
// precision is lost before canonicalization; Object and map values pass
// through.
func ParseObject(input any) (Object, error) {
	switch v := input.(type) {
	case Object:
		if v == nil {
			return nil, newError(ErrCodeSchemaInvalid, "Kernel object must be an object")
		}
		return v, nil
	case map[string]any:
		if v == nil {
			return nil, newError(ErrCodeSchemaInvalid, "Kernel object must be an object")
		}
		return Object(v), nil
	case string:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	}
	return nil, newError(ErrCodeSchemaInvalid, "Kernel object must be an object")
}

func decodeObject(data []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newError(ErrCodeSchemaInvalid, fmt.Sprintf("Invalid JSON: %v", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, newError(ErrCodeSchemaInvalid, "Invalid JSON: trailing data after object")
	}
	obj, ok := asObject(v)
	if !ok {
		return nil, newError(ErrCodeSchemaInvalid, "Kernel object must be an object")
	}
	return obj, nil
}

// AsObject converts a decoded JSON value into an Object.
func AsObject(v any) (Object, bool) {
	return asObject(v)
}
