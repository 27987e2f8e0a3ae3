package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/video-system/go-inference-pipeline/pkg/graph"
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// Validator runs the pre-flight checks on a composed graph.
// Stat defaults to os.Stat; tests replace it to fake the filesystem.
type Validator struct {
	Stat func(name string) (fs.FileInfo, error)
}

// Validate checks g (and cfg when non-nil) with the default Validator
func Validate(g *graph.Graph, cfg *Config) error {
	return Validator{}.Validate(g, cfg)
}

// Validate returns nil or a ValidationErrors listing every problem found,
// config fields first and then stages in pipeline order.
func (v Validator) Validate(g *graph.Graph, cfg *Config) error {
	var errs ValidationErrors
	if cfg != nil {
		errs = append(errs, checkConfig(cfg)...)
	}
	if g != nil {
		errs = append(errs, v.checkParams(g)...)
		errs = append(errs, checkNames(g)...)
		errs = append(errs, checkFormats(g)...)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (v Validator) stat(name string) error {
	stat := v.Stat
	if stat == nil {
		stat = os.Stat
	}
	_, err := stat(name)
	return err
}

func checkConfig(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	positive := func(param string, n int) {
		if n <= 0 {
			errs = append(errs, &ValidationError{Stage: ConfigStage, Param: param, Expected: "> 0", Actual: fmt.Sprint(n), Err: ErrNotPositive})
		}
	}
	positive("model.batch_size", cfg.Model.BatchSize)
	positive("network.width", cfg.Network.Width)
	positive("network.height", cfg.Network.Height)
	positive("source.width", cfg.Source.Width)
	positive("source.height", cfg.Source.Height)

	if !slices.Contains(NetworkFormats, cfg.Network.Format) {
		errs = append(errs, &ValidationError{
			Stage:    ConfigStage,
			Param:    "network.format",
			Expected: strings.Join(NetworkFormats, ", "),
			Actual:   cfg.Network.Format,
			Err:      ErrUnsupportedFormat,
		})
	}

	switch cfg.Source.Type {
	case SourceRPI, SourceUSB, SourceFile, SourceTest:
	default:
		errs = append(errs, &ValidationError{Stage: ConfigStage, Param: "source.type", Expected: "rpi, usb, file or test", Actual: cfg.Source.Type, Err: ErrUnknownSource})
	}

	if cfg.Source.Framerate != "" && !validFraction(cfg.Source.Framerate) {
		errs = append(errs, &ValidationError{Stage: ConfigStage, Param: "source.framerate", Expected: "N/D", Actual: cfg.Source.Framerate, Err: ErrBadFraction})
	}
	return errs
}

func validFraction(s string) bool {
	num, den, err := stage.ParseFraction(s)
	return err == nil && num > 0 && den > 0
}

// nodeID names a node in error messages
func nodeID(n graph.Node) string {
	if name := n.Stage.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%s#%d", n.Stage.Kind(), n.Index)
}

func (v Validator) checkParams(g *graph.Graph) ValidationErrors {
	var errs ValidationErrors
	for _, n := range g.Nodes {
		schema := n.Stage.Schema()
		if schema == nil {
			continue
		}
		for _, p := range n.Stage.Params() {
			spec, ok := schema.Spec(p.Key)
			if !ok {
				continue
			}
			fail := func(expected, actual string, err error) {
				errs = append(errs, &ValidationError{
					Stage:    nodeID(n),
					Kind:     n.Stage.Kind(),
					Param:    p.Key,
					Expected: expected,
					Actual:   actual,
					Err:      err,
				})
			}

			switch spec.Type {
			case stage.TypePath:
				path, _ := p.Value.(string)
				if path == "" {
					fail("existing path", `""`, ErrPathNotFound)
				} else if err := v.stat(path); err != nil {
					fail("existing path", path, ErrPathNotFound)
				}
			case stage.TypeFraction:
				s, _ := p.Value.(string)
				if !validFraction(s) {
					fail("N/D", s, ErrBadFraction)
				}
			case stage.TypeInt, stage.TypeFloat:
				if spec.Positive && !positiveValue(p.Value) {
					fail("> 0", p.String(), ErrNotPositive)
				}
			}
		}
	}
	return errs
}

func positiveValue(v any) bool {
	switch x := v.(type) {
	case int64:
		return x > 0
	case float64:
		return x > 0
	}
	return false
}

func checkNames(g *graph.Graph) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool)
	for _, n := range g.Nodes {
		name := n.Stage.Name()
		if name == "" {
			continue
		}
		if !stage.ValidName(name) {
			errs = append(errs, &ValidationError{Stage: name, Kind: n.Stage.Kind(), Param: "name", Actual: name, Err: ErrInvalidName})
			continue
		}
		if seen[name] {
			errs = append(errs, &ValidationError{Stage: name, Kind: n.Stage.Kind(), Param: "name", Actual: name, Err: ErrDuplicateName})
		}
		seen[name] = true
	}
	return errs
}

// checkFormats follows the declared pixel format along every edge. A stage
// that declares a format must either match the incoming one or sit behind a
// converting stage, which resets the format to unknown.
//
// Node order is a topological order: the builder only ever links an existing
// node to a newer one.
func checkFormats(g *graph.Graph) ValidationErrors {
	var errs ValidationErrors
	out := make([]string, len(g.Nodes))
	for _, n := range g.Nodes {
		cur := ""
		in := g.In(n.Index)
		if n.Stage.Role() == stage.RoleMerge {
			for _, e := range in {
				f := out[e.From]
				if f == "" {
					continue
				}
				if cur != "" && f != cur {
					errs = append(errs, &ValidationError{
						Stage:    nodeID(n),
						Kind:     n.Stage.Kind(),
						Param:    "format",
						Expected: cur,
						Actual:   fmt.Sprintf("%s on %s", f, e.ToPad),
						Err:      ErrFormatMismatch,
					})
					continue
				}
				cur = f
			}
		} else if len(in) > 0 {
			cur = out[in[0].From]
		}

		if n.Stage.Role() == stage.RoleConvert {
			cur = ""
		}
		if f, ok := declaredFormat(n.Stage); ok {
			if cur != "" && cur != f {
				errs = append(errs, &ValidationError{
					Stage:    nodeID(n),
					Kind:     n.Stage.Kind(),
					Param:    "format",
					Expected: cur,
					Actual:   f,
					Err:      ErrFormatMismatch,
				})
			}
			cur = f
		}
		out[n.Index] = cur
	}
	return errs
}

func declaredFormat(d stage.Descriptor) (string, bool) {
	schema := d.Schema()
	if schema == nil {
		return "", false
	}
	for _, p := range d.Params() {
		if spec, ok := schema.Spec(p.Key); ok && spec.Format {
			s, _ := p.Value.(string)
			return s, s != ""
		}
	}
	return "", false
}
