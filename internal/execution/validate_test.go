package execution

import "testing"

func TestSchemaValidatorAcceptsConformingInput(t *testing.T) {
	v := NewSchemaValidator()
	schema := []byte(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	if err := v.Validate(schema, []byte(`{"name":"alice"}`)); err != nil {
		t.Fatalf("expected valid input to pass, got %v", err)
	}
}

func TestSchemaValidatorRejectsMissingRequiredField(t *testing.T) {
	v := NewSchemaValidator()
	schema := []byte(`{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`)
	if err := v.Validate(schema, []byte(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}

func TestSchemaValidatorCachesCompiledSchema(t *testing.T) {
	v := NewSchemaValidator()
	schema := []byte(`{"type":"object"}`)
	if err := v.Validate(schema, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.cache) != 1 {
		t.Fatalf("expected one cached schema, got %d", len(v.cache))
	}
	if err := v.Validate(schema, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error on cached validate: %v", err)
	}
	if len(v.cache) != 1 {
		t.Fatalf("expected cache to stay at one entry, got %d", len(v.cache))
	}
}

func TestSchemaValidatorSkipsEmptySchema(t *testing.T) {
	v := NewSchemaValidator()
	if err := v.Validate(nil, []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("expected nil schema to skip validation, got %v", err)
	}
}
