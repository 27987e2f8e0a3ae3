package gstlaunch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/logs"

	"github.com/video-system/go-inference-pipeline/pkg/pipeline"
)

// Launcher runs descriptions with the gst-launch-1.0 binary
type Launcher struct {
	launchPath  string
	inspectPath string
	log         logs.Log
}

// NewLauncher locates gst-launch-1.0 and gst-inspect-1.0
func NewLauncher(log logs.Log) (*Launcher, error) {
	launchPath, err := findBinary("gst-launch-1.0")
	if err != nil {
		return nil, fmt.Errorf("gst-launch not found: %w", err)
	}

	inspectPath, err := findBinary("gst-inspect-1.0")
	if err != nil {
		return nil, fmt.Errorf("gst-inspect not found: %w", err)
	}

	return &Launcher{
		launchPath:  launchPath,
		inspectPath: inspectPath,
		log:         log,
	}, nil
}

// findBinary locates a binary in PATH or common locations
func findBinary(name string) (string, error) {
	// Try PATH first
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	// Common locations by OS
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/opt/homebrew/bin/" + name,
			"/usr/local/bin/" + name,
			"/Library/Frameworks/GStreamer.framework/Commands/" + name,
		}
	case "linux":
		paths = []string{
			"/usr/bin/" + name,
			"/usr/local/bin/" + name,
		}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// Name of the engine
func (l *Launcher) Name() string {
	return "gst-launch"
}

// Version returns the GStreamer version line
func (l *Launcher) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, l.launchPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}

	// "gst-launch-1.0 version 1.22.0" is followed by "GStreamer 1.22.0"
	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "GStreamer") {
			return strings.TrimSpace(line), nil
		}
	}
	if first := strings.TrimSpace(lines[0]); first != "" {
		return first, nil
	}
	return "", fmt.Errorf("no version output")
}

// HasElement reports whether the element factory is installed
func (l *Launcher) HasElement(ctx context.Context, name string) (bool, error) {
	cmd := exec.CommandContext(ctx, l.inspectPath, name)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("gst-inspect %s: %w", name, err)
	}
	return true, nil
}

// MissingElements returns the names that gst-inspect does not know, in order
func (l *Launcher) MissingElements(ctx context.Context, names []string) ([]string, error) {
	var missing []string
	for _, n := range names {
		ok, err := l.HasElement(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, n)
		}
	}
	return missing, nil
}

// SplitDescription splits a description into gst-launch arguments.
// Quoted values stay in one argument with their quotes, which gst-launch
// parses itself.
func SplitDescription(desc string) ([]string, error) {
	return pipeline.Tokenize(desc)
}

// Start runs desc with gst-launch-1.0 -e, so that an interrupt produces a
// clean end-of-stream. Cancelling ctx stops the run the same way as Stop. Frame callbacks cannot cross the process boundary and
// are ignored with a warning.
func (l *Launcher) Start(ctx context.Context, desc string, opts StartOptions) (*Process, error) {
	tokens, err := SplitDescription(desc)
	if err != nil {
		return nil, fmt.Errorf("split description: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty pipeline description")
	}

	proc := newProcess(l.Name())
	log := logs.NewPrefixLoggerNoSpace(l.log, "["+l.Name()+" "+proc.ShortID()+"] ")
	if opts.Callback != nil {
		log.Warnf("%v; frames pass through %s untouched", ErrCallbackUnsupported, opts.CallbackElement)
	}

	// Not CommandContext: cancellation must interrupt, not kill
	args := append([]string{"-e"}, tokens...)
	cmd := exec.Command(l.launchPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}
	// Capture stderr for error reporting
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start gst-launch: %w", err)
	}
	log.Infof("Started pid %d", cmd.Process.Pid)

	lastErr := make(chan string, 1)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		monitorOutput(log, stdout, nil)
	}()
	go func() {
		defer readers.Done()
		monitorOutput(log, stderr, lastErr)
	}()

	exited := make(chan struct{})
	proc.stop = func() error {
		if cmd.Process == nil {
			return nil
		}
		// SIGINT makes gst-launch -e send EOS and shut down cleanly
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			select {
			case <-exited:
				return nil
			default:
			}
			return fmt.Errorf("interrupt gst-launch: %w", err)
		}
		select {
		case <-exited:
		case <-time.After(stopTimeout):
			log.Warnf("No EOS after %v, killing", stopTimeout)
			cmd.Process.Kill()
		}
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			log.Infof("Context done, stopping")
			proc.Stop()
		case <-exited:
		}
	}()

	// Wait for process in background
	go func() {
		// output must be drained before Wait closes the pipes
		readers.Wait()
		err := cmd.Wait()
		close(exited)
		if err != nil {
			select {
			case line := <-lastErr:
				err = fmt.Errorf("%w: %s", err, line)
			default:
			}
			log.Errorf("Exited: %v", err)
		} else {
			log.Infof("Exited cleanly")
		}
		proc.finish(err)
	}()

	return proc, nil
}

// monitorOutput logs gst-launch output. Error lines are logged as errors and
// the most recent one is kept for the exit error.
func monitorOutput(log logs.Log, r io.Reader, lastErr chan string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "ERROR") || strings.Contains(line, "error:"):
			log.Errorf("%s", line)
			if lastErr != nil {
				// keep only the latest
				select {
				case <-lastErr:
				default:
				}
				lastErr <- line
			}
		case strings.HasPrefix(line, "WARNING"):
			log.Warnf("%s", line)
		default:
			log.Debugf("%s", line)
		}
	}
}
