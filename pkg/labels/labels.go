// Package labels writes and reads the label configuration consumed by the
// classification post-processing library:
//
//	detection_threshold=0.1
//	label=tench
//	label=goldfish
//	...
package labels

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	thresholdKey = "detection_threshold"
	labelKey     = "label"
)

// ErrBadLine is wrapped by ParseError
var ErrBadLine = errors.New("malformed config line")

// IOError reports a filesystem failure
type IOError struct {
	Op   string // mkdir, read, write, rename
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("labels: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ParseError reports a line of a label config that could not be read
type ParseError struct {
	Path string
	Line int
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("labels: %s:%d: %v: %q", e.Path, e.Line, ErrBadLine, e.Text)
}

func (e *ParseError) Unwrap() error { return ErrBadLine }

// LabelConfig is a detection threshold and the class labels in index order
type LabelConfig struct {
	Threshold float64
	Labels    []string
}

// Materialize builds a config from a label list split on newlines.
// Only the empty entry left by a trailing newline is dropped; blank lines in
// the middle and duplicates are kept, since label indices must line up with
// the network's outputs.
func Materialize(lines []string, threshold float64) LabelConfig {
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return LabelConfig{
		Threshold: threshold,
		Labels:    append([]string(nil), lines...),
	}
}

// SplitLines splits a label list on '\n', keeping a final empty entry
func SplitLines(contents string) []string {
	return strings.Split(contents, "\n")
}

// Encode renders the config file contents
func (c LabelConfig) Encode() []byte {
	var buf bytes.Buffer
	c.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the config file contents to w
func (c LabelConfig) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	write := func(s string) {
		m, _ := bw.WriteString(s)
		n += int64(m)
	}
	write(thresholdKey + "=" + strconv.FormatFloat(c.Threshold, 'g', -1, 64) + "\n")
	for _, l := range c.Labels {
		write(labelKey + "=" + l + "\n")
	}
	return n, bw.Flush()
}

// ConfigPath returns where the config for model is written inside dir
func ConfigPath(dir, model string) string {
	return filepath.Join(dir, model+"_config.txt")
}

// WriteConfig materializes lines and writes the result to
// ConfigPath(dir, model), creating dir if needed. The file is written to a
// temporary name and renamed into place, so readers never see a partial file.
func WriteConfig(dir, model string, lines []string, threshold float64) (string, error) {
	target := ConfigPath(dir, model)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tempFile := target + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return "", &IOError{Op: "write", Path: tempFile, Err: err}
	}
	defer file.Close()

	if _, err := Materialize(lines, threshold).WriteTo(file); err != nil {
		os.Remove(tempFile)
		return "", &IOError{Op: "write", Path: tempFile, Err: err}
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return "", &IOError{Op: "write", Path: tempFile, Err: err}
	}
	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return "", &IOError{Op: "rename", Path: target, Err: err}
	}
	return target, nil
}

// ReadLines reads a newline separated label list
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return SplitLines(string(data)), nil
}

// Load reads a config file written by WriteConfig
func Load(path string) (LabelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return LabelConfig{}, &IOError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	var cfg LabelConfig
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return LabelConfig{}, &ParseError{Path: path, Line: line, Text: text}
		}
		switch key {
		case thresholdKey:
			t, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return LabelConfig{}, &ParseError{Path: path, Line: line, Text: text}
			}
			cfg.Threshold = t
		case labelKey:
			cfg.Labels = append(cfg.Labels, value)
		default:
			return LabelConfig{}, &ParseError{Path: path, Line: line, Text: text}
		}
	}
	if err := scanner.Err(); err != nil {
		return LabelConfig{}, &IOError{Op: "read", Path: path, Err: err}
	}
	return cfg, nil
}

// Classification is the top-1 result for one frame
type Classification struct {
	Index      int
	Label      string // "" when the index has no label
	Confidence float64
}

// Classify picks the highest of the quantized scores. Confidence is the
// score scaled to [0,1]; nothing is reported below the threshold.
// Ties go to the lowest index.
func (c LabelConfig) Classify(scores []byte) (Classification, bool) {
	if len(scores) == 0 {
		return Classification{}, false
	}
	best := 0
	for i, s := range scores {
		if s > scores[best] {
			best = i
		}
	}
	conf := float64(scores[best]) / 255
	if conf < c.Threshold {
		return Classification{}, false
	}
	res := Classification{Index: best, Confidence: conf}
	if best < len(c.Labels) {
		res.Label = c.Labels[best]
	}
	return res, true
}
