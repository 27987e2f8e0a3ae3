// Package app wires configuration, pipeline composition, label materialization
// and an engine into one runnable inference pipeline.
package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/video-system/go-inference-pipeline/internal/gstlaunch"
	"github.com/video-system/go-inference-pipeline/pkg/graph"
	"github.com/video-system/go-inference-pipeline/pkg/labels"
	"github.com/video-system/go-inference-pipeline/pkg/pipeline"
	"github.com/video-system/go-inference-pipeline/pkg/stage"
)

// elementChecker is implemented by engines that can list installed elements
type elementChecker interface {
	MissingElements(ctx context.Context, names []string) ([]string, error)
}

// Option configures an App
type Option func(*App)

// WithRegistry sets the stage registry (default stage.Builtin())
func WithRegistry(r *stage.Registry) Option {
	return func(a *App) { a.reg = r }
}

// WithEngine sets the engine that runs the pipeline
func WithEngine(e gstlaunch.Engine) Option {
	return func(a *App) { a.engine = e }
}

// WithCallback sets the per-frame callback run at the callback element
func WithCallback(cb gstlaunch.FrameCallback) Option {
	return func(a *App) { a.callback = cb }
}

// WithValidator replaces the default pre-flight validator
func WithValidator(v pipeline.Validator) Option {
	return func(a *App) { a.validator = v }
}

// WithElementCheck enables checking that every element is installed before
// starting, for engines that support it
func WithElementCheck(enabled bool) Option {
	return func(a *App) { a.checkElements = enabled }
}

// App runs one inference pipeline at a time
type App struct {
	cfg           pipeline.Config
	log           logs.Log
	reg           *stage.Registry
	engine        gstlaunch.Engine
	callback      gstlaunch.FrameCallback
	validator     pipeline.Validator
	checkElements bool

	mu         sync.RWMutex
	proc       *gstlaunch.Process
	desc       string
	labelsPath string
	lastErr    error

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Status is a snapshot of the App for the status API
type Status struct {
	Running     bool       `json:"running"`
	RunID       string     `json:"run_id,omitempty"`
	Engine      string     `json:"engine,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Uptime      string     `json:"uptime,omitempty"`
	Frames      uint64     `json:"frames"`
	Dropped     uint64     `json:"dropped"`
	Model       string     `json:"model"`
	Source      string     `json:"source"`
	LabelsPath  string     `json:"labels_path,omitempty"`
	Description string     `json:"description,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// New creates an App for cfg. The App keeps its own copy of cfg.
func New(cfg *pipeline.Config, log logs.Log, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	a := &App{
		cfg: *cfg,
		log: logs.NewPrefixLoggerNoSpace(log, "[app] "),
		reg: stage.Builtin(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns a copy of the configuration in use
func (a *App) Config() pipeline.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// PrepareLabels writes the label config when labels.input is set and points
// the post-processing stage at it. It returns the path written, or "".
func (a *App) PrepareLabels() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lc := a.cfg.Labels
	if lc.Input == "" {
		return "", nil
	}
	lines, err := labels.ReadLines(lc.Input)
	if err != nil {
		return "", err
	}
	path, err := labels.WriteConfig(lc.OutputDir, a.cfg.Model.Name, lines, lc.Threshold)
	if err != nil {
		return "", err
	}
	a.cfg.Model.ConfigPath = path
	a.labelsPath = path
	a.log.Infof("Label config written: %s (%d labels, threshold %g)", path, len(labels.Materialize(lines, lc.Threshold).Labels), lc.Threshold)
	return path, nil
}

func (a *App) compose() (*graph.Graph, string, error) {
	a.mu.RLock()
	cfg := a.cfg
	a.mu.RUnlock()

	g, err := pipeline.Compose(&cfg, a.reg)
	if err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	if err := a.validator.Validate(g, &cfg); err != nil {
		return nil, "", err
	}
	desc, err := pipeline.Serialize(g)
	if err != nil {
		return nil, "", err
	}
	return g, desc, nil
}

// Describe returns the validated launch description
func (a *App) Describe() (string, error) {
	_, desc, err := a.compose()
	return desc, err
}

// elements lists the engine elements used by g, sorted
func elements(g *graph.Graph) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range g.Nodes {
		if n.Stage.IsCaps() || seen[n.Stage.Element()] {
			continue
		}
		seen[n.Stage.Element()] = true
		out = append(out, n.Stage.Element())
	}
	sort.Strings(out)
	return out
}

func (a *App) onFrame(f gstlaunch.Frame) gstlaunch.Verdict {
	a.frames.Add(1)
	if a.callback == nil {
		return gstlaunch.Continue
	}
	v := a.callback(f)
	if v == gstlaunch.Drop {
		a.dropped.Add(1)
	}
	return v
}

// Run starts the pipeline and blocks until it reaches end-of-stream, fails,
// or ctx is cancelled. Cancellation stops the pipeline and is not an error.
func (a *App) Run(ctx context.Context) error {
	if a.engine == nil {
		return fmt.Errorf("no engine configured")
	}

	if s := a.Status(); s.Running {
		return fmt.Errorf("pipeline already running (run %s)", s.RunID)
	}

	g, desc, err := a.compose()
	if err != nil {
		a.setErr(err)
		return err
	}

	if checker, ok := a.engine.(elementChecker); ok && a.checkElements {
		missing, err := checker.MissingElements(ctx, elements(g))
		if err != nil {
			a.setErr(err)
			return fmt.Errorf("check elements: %w", err)
		}
		if len(missing) > 0 {
			err := fmt.Errorf("missing GStreamer elements: %s", strings.Join(missing, ", "))
			a.setErr(err)
			return err
		}
	}

	cfg := a.Config()
	a.frames.Store(0)
	a.dropped.Store(0)
	proc, err := a.engine.Start(ctx, desc, gstlaunch.StartOptions{
		Callback:        a.onFrame,
		CallbackElement: pipeline.CallbackElement,
		Width:           cfg.Network.Width,
		Height:          cfg.Network.Height,
		Format:          cfg.Network.Format,
	})
	if err != nil {
		err = fmt.Errorf("start %s: %w", a.engine.Name(), err)
		a.setErr(err)
		return err
	}

	a.mu.Lock()
	a.proc = proc
	a.desc = desc
	a.lastErr = nil
	a.mu.Unlock()
	a.log.Infof("Pipeline started on %s, run %s", proc.Engine, proc.RunID)

	select {
	case <-proc.Done():
	case <-ctx.Done():
		a.log.Infof("Shutting down")
		proc.Stop()
		<-proc.Done()
	}

	err = proc.Err()
	a.setErr(err)
	a.log.Infof("Pipeline finished: %d frames, %d dropped", a.frames.Load(), a.dropped.Load())
	return err
}

func (a *App) setErr(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// Stop ends the running pipeline, if any
func (a *App) Stop() error {
	a.mu.RLock()
	proc := a.proc
	a.mu.RUnlock()
	if proc == nil {
		return nil
	}
	return proc.Stop()
}

// Status returns a snapshot of the current run
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Status{
		Frames:      a.frames.Load(),
		Dropped:     a.dropped.Load(),
		Model:       a.cfg.Model.Name,
		Source:      a.cfg.Source.Type,
		LabelsPath:  a.labelsPath,
		Description: a.desc,
	}
	if a.lastErr != nil {
		s.LastError = a.lastErr.Error()
	}
	if a.proc != nil {
		started := a.proc.Started
		s.RunID = a.proc.RunID
		s.Engine = a.proc.Engine
		s.StartedAt = &started
		select {
		case <-a.proc.Done():
		default:
			s.Running = true
			s.Uptime = time.Since(started).Round(time.Second).String()
		}
	}
	return s
}

// GetStatus returns Status for the status API
func (a *App) GetStatus() interface{} {
	return a.Status()
}
