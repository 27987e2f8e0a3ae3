package stage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParamType is the declared type of a stage parameter
type ParamType int

const (
	TypeString   ParamType = iota // free-form string
	TypeInt                       // integer, stored as int64
	TypeFloat                     // floating point, stored as float64
	TypeBool                      // boolean
	TypePath                      // filesystem path, must exist at validation time
	TypeFraction                  // "N/D", eg a framerate of 30/1
)

func (t ParamType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypePath:
		return "path"
	case TypeFraction:
		return "fraction"
	default:
		return fmt.Sprintf("ParamType(%d)", int(t))
	}
}

// ParamSpec declares one parameter of a stage kind
type ParamSpec struct {
	Key      string
	Type     ParamType
	Required bool
	Positive bool // numeric value must be > 0
	Format   bool // value is a pixel format (used for format chain checks)
	Default  any  // filled in when the parameter is absent (nil = no default)
}

// Param is one rendered key/value pair of a stage
type Param struct {
	Key   string
	Value any // string, int64, float64 or bool
}

// Params is the caller-facing parameter set passed to Registry.Create.
// The special key "name" sets the element name.
type Params map[string]any

// String renders the value the way the engine description expects it
func (p Param) String() string {
	return FormatValue(p.Value)
}

// FormatValue renders a normalized parameter value
func FormatValue(v any) string {
	switch x := v.(type) {
	case string:
		return quote(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"!,'=") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// ParseFraction parses "N/D" into its numerator and denominator
func ParseFraction(s string) (num, den int, err error) {
	n, d, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("fraction %q has no '/'", s)
	}
	if num, err = strconv.Atoi(strings.TrimSpace(n)); err != nil {
		return 0, 0, fmt.Errorf("fraction %q: bad numerator: %w", s, err)
	}
	if den, err = strconv.Atoi(strings.TrimSpace(d)); err != nil {
		return 0, 0, fmt.Errorf("fraction %q: bad denominator: %w", s, err)
	}
	return num, den, nil
}

// coerce converts v into the normalized representation of t, or returns false
// if v has the wrong type.
func coerce(t ParamType, v any) (any, bool) {
	switch t {
	case TypeString, TypePath:
		s, ok := v.(string)
		return s, ok
	case TypeFraction:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		if _, _, err := ParseFraction(s); err != nil {
			return nil, false
		}
		return s, true
	case TypeBool:
		b, ok := v.(bool)
		return b, ok
	case TypeInt:
		return toInt(v)
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, true
		case float32:
			return float64(x), true
		}
		if i, ok := toInt(v); ok {
			return float64(i.(int64)), true
		}
		return nil, false
	}
	return nil, false
}

func toInt(v any) (any, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return nil, false
		}
		return int64(x), true
	case float64:
		// JSON decoders hand us whole numbers as float64
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), true
		}
	}
	return nil, false
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
