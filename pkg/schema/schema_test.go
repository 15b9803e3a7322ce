package schema_test

import (
	"slices"
	"testing"

	"github.com/emberhealth/chartflow/pkg/schema"
)

func TestObject_AllPropertiesRequired(t *testing.T) {
	t.Parallel()
	s := schema.Object(map[string]any{
		"name": schema.String("a name"),
		"age":  schema.Integer("an age"),
	})

	if s["type"] != "object" {
		t.Errorf("type: got %v, want object", s["type"])
	}
	if s["additionalProperties"] != false {
		t.Error("additionalProperties must be false")
	}
	required, ok := s["required"].([]string)
	if !ok {
		t.Fatalf("required has unexpected type %T", s["required"])
	}
	slices.Sort(required)
	if !slices.Equal(required, []string{"age", "name"}) {
		t.Errorf("required: got %v, want [age name]", required)
	}
}

func TestObjectWith_ExplicitRequired(t *testing.T) {
	t.Parallel()
	s := schema.ObjectWith(map[string]any{
		"medication": schema.String("drug"),
		"directions": schema.String("sig"),
	}, []string{"medication"})

	required, _ := s["required"].([]string)
	if !slices.Equal(required, []string{"medication"}) {
		t.Errorf("required: got %v, want [medication]", required)
	}
}

func TestEnum(t *testing.T) {
	t.Parallel()
	s := schema.Enum("a role", []string{"patient", "clinician"})
	enum, _ := s["enum"].([]string)
	if !slices.Equal(enum, []string{"patient", "clinician"}) {
		t.Errorf("enum: got %v", enum)
	}
}

func TestNullable(t *testing.T) {
	t.Parallel()
	s := schema.Nullable(schema.Boolean("a flag"))
	types, ok := s["type"].([]any)
	if !ok || len(types) != 2 || types[0] != "boolean" || types[1] != "null" {
		t.Errorf("type: got %v, want [boolean null]", s["type"])
	}

	// The input schema must not be mutated.
	orig := schema.Boolean("a flag")
	_ = schema.Nullable(orig)
	if orig["type"] != "boolean" {
		t.Errorf("input schema mutated: %v", orig["type"])
	}
}

func TestArray(t *testing.T) {
	t.Parallel()
	item := schema.Object(map[string]any{"x": schema.String("x")})
	s := schema.Array("items", item)
	if s["type"] != "array" {
		t.Errorf("type: got %v, want array", s["type"])
	}
	items, ok := s["items"].(map[string]any)
	if !ok || items["type"] != "object" {
		t.Errorf("items: got %v", s["items"])
	}
}
