package pipeline

import (
	"fmt"
	"strings"

	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// DecodedParam is one key=value pair as written in a description.
// Value keeps its quoting; use Unquote for the raw string.
type DecodedParam struct {
	Key   string
	Value string
}

// DecodedStage is one element read back from a description
type DecodedStage struct {
	Kind    string
	Element string
	Name    string
	Params  []DecodedParam
}

// Tokenize splits a description on whitespace and '!', keeping double
// quoted values (with backslash escapes) inside one token.
func Tokenize(desc string) ([]string, error) {
	var (
		toks    []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range desc {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			quoted = !quoted
		case quoted:
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		case r == '!':
			flush()
			toks = append(toks, "!")
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("tokenize: unterminated quote")
	}
	flush()
	return toks, nil
}

// Unquote reverses the quoting applied by stage.FormatValue
func Unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	var b strings.Builder
	escaped := false
	for _, r := range v[1 : len(v)-1] {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// isPadRef matches "t." and "hmux.sink_0"
func isPadRef(tok string) bool {
	return !strings.Contains(tok, "=") && !strings.Contains(tok, "/") && strings.Contains(tok, ".")
}

// Decode reads a description produced by Serialize back into its stages,
// in the order they appear. Pad references are skipped; kinds are resolved
// through reg by element name.
func Decode(desc string, reg *stage.Registry) ([]DecodedStage, error) {
	if reg == nil {
		reg = stage.Builtin()
	}
	toks, err := Tokenize(desc)
	if err != nil {
		return nil, err
	}

	var out []DecodedStage
	var cur *DecodedStage
	for _, tok := range toks {
		switch {
		case tok == "!" || isPadRef(tok):
			cur = nil
		case strings.Contains(tok, "=") && !strings.HasPrefix(tok, `"`):
			if cur == nil {
				return nil, fmt.Errorf("decode: parameter %q outside an element", tok)
			}
			key, val, _ := strings.Cut(tok, "=")
			if strings.Contains(cur.Element, "/") {
				val = strings.TrimSuffix(val, ",")
			}
			if key == "name" {
				cur.Name = Unquote(val)
				continue
			}
			cur.Params = append(cur.Params, DecodedParam{Key: key, Value: val})
		default:
			element := strings.TrimSuffix(tok, ",")
			kind, ok := reg.KindForElement(element)
			if !ok {
				return nil, fmt.Errorf("decode: element %q: %w", element, stage.ErrUnknownKind)
			}
			out = append(out, DecodedStage{Kind: kind, Element: element})
			cur = &out[len(out)-1]
		}
	}
	return out, nil
}
