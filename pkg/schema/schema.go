// Package schema provides small helpers for building JSON Schema documents
// as plain map[string]any values.
//
// The extraction engine and capability descriptors assemble their response
// schemas at call time — the instruction-kind enum, for example, depends on
// which capabilities are currently available — so schemas here are ordinary
// maps composed by function calls rather than static struct tags.
package schema

// Schema is a JSON Schema fragment. It is a plain map so that providers can
// marshal it directly into whatever wire format their vendor requires.
type Schema = map[string]any

// Object returns an object schema with the given properties. Every property
// is required and additional properties are rejected — model backends that
// honour strict schemas need the full required list.
func Object(properties map[string]any) Schema {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	return Schema{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// ObjectWith returns an object schema whose required list is given
// explicitly, for schemas where some properties are optional.
func ObjectWith(properties map[string]any, required []string) Schema {
	return Schema{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

// String returns a string schema with a description.
func String(description string) Schema {
	return Schema{"type": "string", "description": description}
}

// Enum returns a string schema restricted to the given values.
func Enum(description string, values []string) Schema {
	return Schema{"type": "string", "description": description, "enum": values}
}

// Boolean returns a boolean schema with a description.
func Boolean(description string) Schema {
	return Schema{"type": "boolean", "description": description}
}

// Integer returns an integer schema with a description.
func Integer(description string) Schema {
	return Schema{"type": "integer", "description": description}
}

// Array returns an array schema whose items conform to the given item schema.
func Array(description string, items Schema) Schema {
	return Schema{"type": "array", "description": description, "items": items}
}

// Nullable wraps s so that null is also accepted.
func Nullable(s Schema) Schema {
	out := make(Schema, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	if t, ok := out["type"]; ok {
		out["type"] = []any{t, "null"}
	}
	return out
}
