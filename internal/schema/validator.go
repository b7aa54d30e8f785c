// Package schema validates and sanitizes structured model output
// against a required-field manifest. Models frequently emit near-miss
// types ("85" instead of 85), so numeric fields are coerced before
// type-checking. The package does not know which pipeline stage is
// calling it; every stage reuses the same contract.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the expected shape of a field
type Kind int

const (
	String Kind = iota
	Number
	Integer
	Array
	Object
)

// String returns the kind name used in validation errors
func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Integer:
		return "integer"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "unknown"
}

// Field describes one manifest entry.
type Field struct {
	Kind     Kind
	Required bool     // the key must be present
	Nullable bool     // an explicit null value is accepted
	Enum     []string // for String fields: closed set of accepted values
	Children Manifest // for Object fields: nested manifest
}

// Manifest maps field name to its expected shape
type Manifest map[string]Field

// Result is the outcome of a validation pass. Sanitized carries the
// candidate with numeric coercions applied; it is only meaningful when
// Valid is true.
type Result struct {
	Valid     bool
	Errors    []string
	Sanitized map[string]interface{}
}

// Validate checks candidate against the manifest, coercing near-miss
// numeric types. Missing required fields and wrong shapes are hard
// errors naming the field; a null value for a nullable field passes.
func Validate(candidate map[string]interface{}, manifest Manifest) Result {
	if candidate == nil {
		return Result{Valid: false, Errors: []string{"response is not a JSON object"}}
	}

	sanitized := make(map[string]interface{}, len(candidate))
	for k, v := range candidate {
		sanitized[k] = v
	}

	var errors []string
	validateInto(sanitized, manifest, "", &errors)

	return Result{
		Valid:     len(errors) == 0,
		Errors:    errors,
		Sanitized: sanitized,
	}
}

func validateInto(obj map[string]interface{}, manifest Manifest, prefix string, errors *[]string) {
	for name, field := range manifest {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		value, present := obj[name]
		if !present {
			if field.Required {
				*errors = append(*errors, fmt.Sprintf("missing required field '%s'", path))
			}
			continue
		}

		if value == nil {
			if !field.Nullable {
				*errors = append(*errors, fmt.Sprintf("field '%s' must not be null", path))
			}
			continue
		}

		checked, err := checkShape(value, field, path)
		if err != "" {
			*errors = append(*errors, err)
			continue
		}
		obj[name] = checked

		if field.Kind == Object && field.Children != nil {
			child, _ := obj[name].(map[string]interface{})
			validateInto(child, field.Children, path, errors)
		}
	}
}

// checkShape verifies one value against its expected kind, applying
// numeric coercion. Returns the (possibly coerced) value and an error
// message, empty when the value conforms.
func checkShape(value interface{}, field Field, path string) (interface{}, string) {
	switch field.Kind {
	case String:
		s, ok := value.(string)
		if !ok {
			return value, fmt.Sprintf("field '%s' has wrong shape: expected %s", path, field.Kind)
		}
		if len(field.Enum) > 0 && !contains(field.Enum, s) {
			return value, fmt.Sprintf("field '%s' must be one of [%s], got '%s'", path, strings.Join(field.Enum, ", "), s)
		}
		return s, ""

	case Number:
		n, ok := coerceNumber(value)
		if !ok {
			return value, fmt.Sprintf("field '%s' cannot be coerced to a number", path)
		}
		return n, ""

	case Integer:
		n, ok := coerceNumber(value)
		if !ok {
			return value, fmt.Sprintf("field '%s' cannot be coerced to an integer", path)
		}
		if n != float64(int64(n)) {
			return value, fmt.Sprintf("field '%s' must be an integer, got %v", path, n)
		}
		return int(n), ""

	case Array:
		if _, ok := value.([]interface{}); !ok {
			return value, fmt.Sprintf("field '%s' has wrong shape: expected %s", path, field.Kind)
		}
		return value, ""

	case Object:
		if _, ok := value.(map[string]interface{}); !ok {
			return value, fmt.Sprintf("field '%s' has wrong shape: expected %s", path, field.Kind)
		}
		return value, ""
	}

	return value, fmt.Sprintf("field '%s' has unknown expected kind", path)
}

// coerceNumber accepts JSON numbers and numeric strings
func coerceNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func contains(set []string, s string) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}
