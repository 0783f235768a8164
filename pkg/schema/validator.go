package schema

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// MismatchError reports the first schema violation found in a payload: the
// JSON-pointer-like field path, and the expected vs. actual kind. No
// coercion and no default filling happen anywhere in this package — a
// payload either satisfies its schema exactly or it doesn't.
type MismatchError struct {
	Key      Key
	Path     string
	Expected string
	Actual   string
	Detail   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("schema %q: field %q: expected %s, got %s (%s)", e.Key, e.Path, e.Expected, e.Actual, e.Detail)
}

// Validator compiles and caches the catalog's schemas, validating payloads
// against them on demand.
type Validator struct {
	mu      sync.Mutex
	compiled map[Key]*gojsonschema.Schema
}

// NewValidator constructs a Validator with an empty compile cache. Schemas
// compile lazily on first use so that a catalog with many entries doesn't
// pay compilation cost for keys a given run never exercises.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[Key]*gojsonschema.Schema)}
}

func (v *Validator) schemaFor(key Key) (*gojsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.compiled[key]; ok {
		return s, nil
	}

	doc, ok := documents[key]
	if !ok {
		return nil, fmt.Errorf("schema: unknown key %q", key)
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema: failed to compile %q: %w", key, err)
	}
	v.compiled[key] = s
	return s, nil
}

// Validate checks payload (already-decoded JSON, e.g. map[string]any or a
// struct) against the schema registered under key. On success it returns
// nil. On the first violation, it returns a *MismatchError; ValidateAll
// callers that need every violation should use ValidateErrors instead.
func (v *Validator) Validate(key Key, payload any) error {
	errs, err := v.ValidateErrors(key, payload)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// ValidateErrors returns every schema violation found in payload, in the
// order gojsonschema reports them.
func (v *Validator) ValidateErrors(key Key, payload any) ([]*MismatchError, error) {
	s, err := v.schemaFor(key)
	if err != nil {
		return nil, err
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("schema %q: validation engine error: %w", key, err)
	}

	if result.Valid() {
		return nil, nil
	}

	out := make([]*MismatchError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		out = append(out, &MismatchError{
			Key:      key,
			Path:     re.Field(),
			Expected: re.Type(),
			Actual:   fmt.Sprintf("%v", re.Value()),
			Detail:   re.Description(),
		})
	}
	return out, nil
}
