package execution

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nexora-ai/core/internal/nexerr"
)

// SchemaValidator compiles and caches JSON Schemas by a content-derived
// resource name, since Function/Agent records carry their schema inline
// rather than by URL.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns an empty validator cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks input against schema, compiling and caching schema on
// first use keyed by its own bytes so repeated invocations of the same
// function skip recompilation.
func (v *SchemaValidator) Validate(schemaJSON, input []byte) error {
	if len(schemaJSON) == 0 {
		return nil
	}
	schema, err := v.compile(schemaJSON)
	if err != nil {
		return nexerr.Wrap(nexerr.ValidationError, "execution", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
	if err != nil {
		return nexerr.Wrap(nexerr.ValidationError, "execution", fmt.Errorf("decode input: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return nexerr.New(nexerr.ValidationError, "execution", err.Error())
	}
	return nil
}

func (v *SchemaValidator) compile(schemaJSON []byte) (*jsonschema.Schema, error) {
	key := string(schemaJSON)

	v.mu.Lock()
	if s, ok := v.cache[key]; ok {
		v.mu.Unlock()
		return s, nil
	}
	v.mu.Unlock()

	compiler := jsonschema.NewCompiler()
	resourceName := fmt.Sprintf("mem://%x", hashBytes(schemaJSON))
	if err := compiler.AddResource(resourceName, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = schema
	v.mu.Unlock()
	return schema, nil
}

func hashBytes(b []byte) uint64 {
	// FNV-1a; schema keys only need to be stable and collision-unlikely
	// within a single process's cache, not cryptographically sound.
	var h uint64 = 14695981039346656037
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
