package stage

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the known stage kinds.
// Kinds are registered once at startup, then the registry is frozen and
// only read, so a frozen registry may be shared between goroutines.
type Registry struct {
	schemas   map[string]*Schema
	order     []string
	byElement map[string]string
	frozen    bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		schemas:   make(map[string]*Schema),
		byElement: make(map[string]string),
	}
}

// Register adds a stage kind
func (r *Registry) Register(kind string, schema Schema) error {
	if r.frozen {
		return fmt.Errorf("register %q: %w", kind, ErrFrozen)
	}
	if kind == "" {
		return fmt.Errorf("register: empty stage kind")
	}
	if _, ok := r.schemas[kind]; ok {
		return fmt.Errorf("register %q: %w", kind, ErrDuplicateKind)
	}
	if schema.Element == "" {
		return fmt.Errorf("register %q: schema has no element", kind)
	}

	seen := make(map[string]bool)
	for _, p := range schema.Params {
		if p.Key == "" || p.Key == "name" {
			return fmt.Errorf("register %q: invalid param key %q", kind, p.Key)
		}
		if seen[p.Key] {
			return fmt.Errorf("register %q: param %q declared twice", kind, p.Key)
		}
		seen[p.Key] = true
		if p.Default != nil {
			if _, ok := coerce(p.Type, p.Default); !ok {
				return fmt.Errorf("register %q: default for %q is not a %v", kind, p.Key, p.Type)
			}
		}
	}

	s := schema
	s.Params = append([]ParamSpec(nil), schema.Params...)
	in, out := defaultPorts(s.Role)
	if s.Inputs == nil {
		s.Inputs = in
	}
	if s.Outputs == nil {
		s.Outputs = out
	}

	r.schemas[kind] = &s
	r.order = append(r.order, kind)
	if _, ok := r.byElement[s.Element]; !ok {
		r.byElement[s.Element] = kind
	}
	return nil
}

// MustRegister is Register for static tables; it panics on error
func (r *Registry) MustRegister(kind string, schema Schema) {
	if err := r.Register(kind, schema); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.frozen = true
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	return r.frozen
}

// Lookup returns the schema of kind
func (r *Registry) Lookup(kind string) (*Schema, bool) {
	s, ok := r.schemas[kind]
	return s, ok
}

// Kinds returns the registered kinds in registration order
func (r *Registry) Kinds() []string {
	return append([]string(nil), r.order...)
}

// KindForElement returns the first kind registered for an engine element
func (r *Registry) KindForElement(element string) (string, bool) {
	k, ok := r.byElement[element]
	return k, ok
}

// Create returns a validated stage of the given kind.
// Parameters are stored in the order the schema declares them, regardless of
// the order of the map.
func (r *Registry) Create(kind string, params Params) (Descriptor, error) {
	schema, ok := r.schemas[kind]
	if !ok {
		return Descriptor{}, &SchemaError{Kind: kind, Err: ErrUnknownKind}
	}

	d := Descriptor{kind: kind, schema: schema}

	if v, ok := params["name"]; ok {
		name, isString := v.(string)
		if !isString {
			return Descriptor{}, &SchemaError{Kind: kind, Param: "name", Expected: "string", Actual: typeName(v), Err: ErrWrongType}
		}
		if !ValidName(name) {
			return Descriptor{}, &SchemaError{Kind: kind, Param: "name", Expected: "identifier without spaces, '.' or '!'", Actual: name, Err: ErrInvalidName}
		}
		d.name = name
	}

	// Reject unknown keys first, in sorted order so the error is deterministic
	var unknown []string
	for k := range params {
		if k == "name" {
			continue
		}
		if _, ok := schema.Spec(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Descriptor{}, &SchemaError{Kind: kind, Param: unknown[0], Err: ErrUnknownParam}
	}

	for _, spec := range schema.Params {
		v, present := params[spec.Key]
		if !present || v == nil {
			if spec.Default != nil {
				dv, _ := coerce(spec.Type, spec.Default)
				d.params = append(d.params, Param{Key: spec.Key, Value: dv})
				continue
			}
			if spec.Required {
				return Descriptor{}, &SchemaError{Kind: kind, Param: spec.Key, Expected: spec.Type.String(), Err: ErrMissingParam}
			}
			continue
		}
		cv, ok := coerce(spec.Type, v)
		if !ok {
			return Descriptor{}, &SchemaError{Kind: kind, Param: spec.Key, Expected: spec.Type.String(), Actual: fmt.Sprintf("%s %v", typeName(v), v), Err: ErrWrongType}
		}
		d.params = append(d.params, Param{Key: spec.Key, Value: cv})
	}

	return d, nil
}

// ValidName reports whether name can be used as an engine element name
// and referenced from a description ("name." and "name.pad").
func ValidName(name string) bool {
	return name != "" && !strings.ContainsAny(name, " \t\n.!\"',=")
}
