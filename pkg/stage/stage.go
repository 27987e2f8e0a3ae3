// Package stage describes the processing stages of a media pipeline and the
// registry of stage kinds they are created from.
//
// A Descriptor is an immutable value: once created by Registry.Create its
// kind, name and parameters never change. Use WithName to derive a renamed copy.
package stage

// Role classifies how a stage connects to its neighbours
type Role int

const (
	RoleSource    Role = iota // no inputs, one output
	RoleTransform             // one input, one output, pixel format passes through
	RoleConvert               // one input, one output, may change pixel format
	RoleTee                   // one input, many outputs
	RoleMerge                 // many inputs, one output
	RoleSink                  // one input, no outputs
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleTransform:
		return "transform"
	case RoleConvert:
		return "convert"
	case RoleTee:
		return "tee"
	case RoleMerge:
		return "merge"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Schema declares a stage kind: the engine element it maps to and the
// parameters it accepts, in rendering order.
type Schema struct {
	Element string      // engine element factory, or media type for caps
	Role    Role        // connection role
	Caps    bool        // render as a caps filter instead of an element
	Params  []ParamSpec // rendering order
	Inputs  []string    // input pad names (defaulted from Role when nil)
	Outputs []string    // output pad names (defaulted from Role when nil)
}

// Spec returns the declaration of key
func (s *Schema) Spec(key string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Key == key {
			return p, true
		}
	}
	return ParamSpec{}, false
}

func defaultPorts(r Role) (in, out []string) {
	switch r {
	case RoleSource:
		return nil, []string{"src"}
	case RoleTee:
		return []string{"sink"}, []string{"src_%u"}
	case RoleMerge:
		return []string{"sink_%u"}, []string{"src"}
	case RoleSink:
		return []string{"sink"}, nil
	default:
		return []string{"sink"}, []string{"src"}
	}
}

// Descriptor is one validated processing stage
type Descriptor struct {
	kind   string
	name   string
	schema *Schema
	params []Param
}

// Kind is the registry key this stage was created from
func (d Descriptor) Kind() string { return d.kind }

// Name is the engine element name, or "" if the engine should pick one
func (d Descriptor) Name() string { return d.name }

// Element is the engine element factory (or caps media type)
func (d Descriptor) Element() string {
	if d.schema == nil {
		return ""
	}
	return d.schema.Element
}

// Role of the stage
func (d Descriptor) Role() Role {
	if d.schema == nil {
		return RoleTransform
	}
	return d.schema.Role
}

// IsCaps is true for caps filter stages
func (d Descriptor) IsCaps() bool {
	return d.schema != nil && d.schema.Caps
}

// Schema returns the declaration this stage was validated against
func (d Descriptor) Schema() *Schema { return d.schema }

// IsZero is true for a Descriptor that was never created
func (d Descriptor) IsZero() bool { return d.schema == nil }

// Params returns a copy of the parameters, in registration order
func (d Descriptor) Params() []Param {
	out := make([]Param, len(d.params))
	copy(out, d.params)
	return out
}

// Param returns the parameter named key
func (d Descriptor) Param(key string) (Param, bool) {
	for _, p := range d.params {
		if p.Key == key {
			return p, true
		}
	}
	return Param{}, false
}

// Inputs returns the input pad names
func (d Descriptor) Inputs() []string {
	if d.schema == nil {
		return nil
	}
	return append([]string(nil), d.schema.Inputs...)
}

// Outputs returns the output pad names
func (d Descriptor) Outputs() []string {
	if d.schema == nil {
		return nil
	}
	return append([]string(nil), d.schema.Outputs...)
}

// WithName returns a copy of d carrying a different element name
func (d Descriptor) WithName(name string) Descriptor {
	d.params = d.Params()
	d.name = name
	return d
}
