package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrSchemaNotLoaded indicates no schema with the requested name is loaded.
	ErrSchemaNotLoaded = errors.New("schema not loaded")

	// ErrFieldNotFound indicates the schema has no field with the requested name.
	ErrFieldNotFound = errors.New("field not found")
)

// LookupError reports which (schema, field) lookup failed.
type LookupError struct {
	Schema string
	Field  string
	Err    error
}

func (e *LookupError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Schema, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Schema, e.Field, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Resolved is the result of a field lookup: the addressed definition plus the
// field whose version chain stores its content.
type Resolved struct {
	Schema  *Schema
	Field   FieldDefinition
	Storage FieldRef
}

type snapshot struct {
	schemas map[string]*Schema
	storage map[FieldRef]FieldRef
}

// Registry is a concurrent lookup table of loaded schemas.
//
// Thread-safety: lookups are lock-free reads of an immutable snapshot.
// Load and Unload serialize on a mutex and publish a new snapshot atomically.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{
		schemas: map[string]*Schema{},
		storage: map[FieldRef]FieldRef{},
	})
	return r
}

// Load validates and publishes schemas, replacing any loaded schema with the
// same name. Either every schema is published or none is; on failure the
// returned *LoadError lists all problems.
func (r *Registry) Load(schemas ...Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.snap.Load()
	next := make(map[string]*Schema, len(current.schemas)+len(schemas))
	for name, s := range current.schemas {
		next[name] = s
	}

	var errs []ValidationError
	seen := map[string]bool{}
	for i := range schemas {
		errs = append(errs, Validate(&schemas[i])...)
		s := cloneSchema(&schemas[i])
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Schema:  s.Name,
				Code:    ErrDuplicateSchema,
				Message: "schema defined more than once in a single load",
			})
		}
		seen[s.Name] = true
		next[s.Name] = s
	}
	errs = append(errs, validateMappings(next)...)
	if len(errs) > 0 {
		return &LoadError{Errors: errs}
	}

	snap, err := buildSnapshot(next)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	return nil
}

// Unload removes a schema. It fails if another loaded schema maps into it.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.snap.Load()
	if _, ok := current.schemas[name]; !ok {
		return &LookupError{Schema: name, Err: ErrSchemaNotLoaded}
	}

	next := make(map[string]*Schema, len(current.schemas))
	for n, s := range current.schemas {
		if n != name {
			next[n] = s
		}
	}
	if errs := validateMappings(next); len(errs) > 0 {
		for i := range errs {
			errs[i].Code = ErrMappingTargetRequired
		}
		return &LoadError{Errors: errs}
	}

	snap, err := buildSnapshot(next)
	if err != nil {
		return err
	}
	r.snap.Store(snap)
	return nil
}

// Schema returns a loaded schema by name. The result must not be modified.
func (r *Registry) Schema(name string) (*Schema, error) {
	s, ok := r.snap.Load().schemas[name]
	if !ok {
		return nil, &LookupError{Schema: name, Err: ErrSchemaNotLoaded}
	}
	return s, nil
}

// GetField returns the definition of schemaName.fieldName.
func (r *Registry) GetField(schemaName, fieldName string) (FieldDefinition, error) {
	res, err := r.Lookup(schemaName, fieldName)
	if err != nil {
		return FieldDefinition{}, err
	}
	return res.Field, nil
}

// Lookup resolves a field and the storage location of its version chain.
func (r *Registry) Lookup(schemaName, fieldName string) (Resolved, error) {
	snap := r.snap.Load()
	s, ok := snap.schemas[schemaName]
	if !ok {
		return Resolved{}, &LookupError{Schema: schemaName, Field: fieldName, Err: ErrSchemaNotLoaded}
	}
	f, ok := s.Fields[fieldName]
	if !ok {
		return Resolved{}, &LookupError{Schema: schemaName, Field: fieldName, Err: ErrFieldNotFound}
	}
	ref := FieldRef{Schema: schemaName, Field: fieldName}
	return Resolved{Schema: s, Field: f, Storage: snap.storage[ref]}, nil
}

// Names returns the loaded schema names in sorted order.
func (r *Registry) Names() []string {
	snap := r.snap.Load()
	names := make([]string, 0, len(snap.schemas))
	for name := range snap.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// buildSnapshot precomputes the storage location of every field.
func buildSnapshot(schemas map[string]*Schema) (*snapshot, error) {
	storage := make(map[FieldRef]FieldRef)
	for name, s := range schemas {
		for fieldName := range s.Fields {
			ref := FieldRef{Schema: name, Field: fieldName}
			target, err := resolve(schemas, ref)
			if err != nil {
				return nil, fmt.Errorf("schema load: %w", err)
			}
			storage[ref] = target
		}
	}
	return &snapshot{schemas: schemas, storage: storage}, nil
}

// cloneSchema deep-copies s so later mutation by the caller cannot leak
// into the published snapshot.
func cloneSchema(s *Schema) *Schema {
	out := *s
	out.Fields = make(map[string]FieldDefinition, len(s.Fields))
	for name, f := range s.Fields {
		f.Name = name
		f.Access.Read.Allow = append([]string(nil), f.Access.Read.Allow...)
		f.Access.Write.Allow = append([]string(nil), f.Access.Write.Allow...)
		if f.Access.Read.MaxDistance != nil {
			f.Access.Read.MaxDistance = Uint32(*f.Access.Read.MaxDistance)
		}
		if f.Access.Write.MaxDistance != nil {
			f.Access.Write.MaxDistance = Uint32(*f.Access.Write.MaxDistance)
		}
		if f.Fee.MinPaymentThreshold != nil {
			f.Fee.MinPaymentThreshold = Uint64(*f.Fee.MinPaymentThreshold)
		}
		if f.MapsTo != nil {
			ref := *f.MapsTo
			f.MapsTo = &ref
		}
		if f.Fee.TrustScaling.Kind == "" {
			f.Fee.TrustScaling.Kind = ScalingNone
		}
		out.Fields[name] = f
	}
	return &out
}
