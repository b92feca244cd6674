package checks

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FieldState describes the outcome of looking a field up in a JSON body.
type FieldState int

const (
	// Absent means the body is valid JSON without the field.
	Absent FieldState = iota
	// Null means the field exists with a JSON null value.
	Null
	// Present means the field exists with a non-null value.
	Present
	// Malformed means the body is not valid JSON.
	Malformed
)

func (s FieldState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Null:
		return "null"
	case Present:
		return "present"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FieldValue is a typed optional field read from a response body.
type FieldValue struct {
	State  FieldState
	result gjson.Result
}

// Field looks path up in body. Paths use gjson syntax ("a.b.0") and also
// accept a leading "$." as in JSONPath.
func Field(body []byte, path string) FieldValue {
	if !gjson.ValidBytes(body) {
		return FieldValue{State: Malformed}
	}

	r := gjson.GetBytes(body, gjsonPath(path))
	switch {
	case !r.Exists():
		return FieldValue{State: Absent}
	case r.Type == gjson.Null:
		return FieldValue{State: Null, result: r}
	default:
		return FieldValue{State: Present, result: r}
	}
}

// Present reports whether the field holds a non-null value.
func (f FieldValue) Present() bool {
	return f.State == Present
}

// AsString returns the field's value as a string when it is a JSON string.
func (f FieldValue) AsString() (string, bool) {
	if f.State != Present || f.result.Type != gjson.String {
		return "", false
	}
	return f.result.Str, true
}

// AsBool returns the field's value when it is a JSON boolean.
func (f FieldValue) AsBool() (bool, bool) {
	if f.State != Present {
		return false, false
	}
	switch f.result.Type {
	case gjson.True:
		return true, true
	case gjson.False:
		return false, true
	default:
		return false, false
	}
}

// Raw returns the raw JSON text of the field.
func (f FieldValue) Raw() string {
	return f.result.Raw
}

func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}
	return path
}
