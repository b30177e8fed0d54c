package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/hashicorp/go-multierror"
)

// Registry is the schema registry described by the job forge data model:
// the single source of truth for accepted envelope, bundle, manifest, and
// error shapes. Each registered schema carries a semantic version; callers
// never see the underlying openapi3 types.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*entry
}

type entry struct {
	version string
	schema  *openapi3.Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: map[string]*entry{}}
}

// Register adds or replaces the schema for name. Re-registering the same
// name with a new version is how a schema evolves; the registry keeps only
// the latest version per name, since validation always runs against
// "the currently accepted shape", not a history of shapes.
func (r *Registry) Register(name, version string, s *openapi3.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = &entry{version: version, schema: s}
}

func (r *Registry) Version(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schemas[name]
	if !ok {
		return "", false
	}
	return e.version, true
}

// Validate checks raw JSON against the registered schema for name and
// returns one human-readable message per violation, each naming the
// offending JSON path. A nil slice means raw conforms.
func (r *Registry) Validate(name string, raw []byte) ([]string, error) {
	r.mu.RLock()
	e, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema: %q is not registered", name)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return []string{fmt.Sprintf("$: invalid JSON: %v", err)}, nil
	}

	err := e.schema.VisitJSON(value, openapi3.MultiErrorValidation(true))
	if err == nil {
		return nil, nil
	}

	var merr openapi3.MultiError
	var agg *multierror.Error
	var msgs []string
	if errors.As(err, &merr) {
		for _, sub := range merr {
			msgs = append(msgs, formatSchemaError(sub))
			agg = multierror.Append(agg, sub)
		}
	} else {
		msgs = append(msgs, formatSchemaError(err))
		agg = multierror.Append(agg, err)
	}
	return msgs, agg.ErrorOrNil()
}

func formatSchemaError(err error) string {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		path := "$"
		if ptr := se.JSONPointer(); len(ptr) > 0 {
			path = "$." + strings.Join(ptr, ".")
		}
		return fmt.Sprintf("%s: %s", path, se.Reason)
	}
	return "$: " + err.Error()
}

// NewEnvelopeSchema builds a strict object schema: unknown top-level fields
// are rejected, matching the registry's rule that the outer envelope is
// closed while payload/metadata sub-objects stay open.
func NewEnvelopeSchema(properties map[string]*openapi3.Schema, required []string) *openapi3.Schema {
	refs := make(openapi3.Schemas, len(properties))
	for name, s := range properties {
		refs[name] = openapi3.NewSchemaRef("", s)
	}
	allowed := false
	return &openapi3.Schema{
		Type:                 &openapi3.Types{openapi3.TypeObject},
		Properties:           refs,
		Required:             required,
		AdditionalProperties: openapi3.AdditionalProperties{Has: &allowed},
	}
}

// NewOpenObjectSchema builds a free-form object schema, for fields like
// `payload` and `metadata` that the registry intentionally leaves opaque.
func NewOpenObjectSchema() *openapi3.Schema {
	allowed := true
	return &openapi3.Schema{
		Type:                 &openapi3.Types{openapi3.TypeObject},
		AdditionalProperties: openapi3.AdditionalProperties{Has: &allowed},
	}
}

func StringSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeString}}
}

func BoolSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeBoolean}}
}

func IntegerSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{openapi3.TypeInteger}}
}

func ArraySchema(items *openapi3.Schema) *openapi3.Schema {
	return &openapi3.Schema{
		Type:  &openapi3.Types{openapi3.TypeArray},
		Items: openapi3.NewSchemaRef("", items),
	}
}
