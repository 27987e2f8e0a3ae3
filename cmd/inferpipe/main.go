package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/video-system/go-inference-pipeline/internal/gstlaunch"
	"github.com/video-system/go-inference-pipeline/pkg/api"
	"github.com/video-system/go-inference-pipeline/pkg/app"
	"github.com/video-system/go-inference-pipeline/pkg/pipeline"
)

const version = "1.0.0"

func main() {
	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	parser := argparse.NewParser("inferpipe", "Run an image classification pipeline on a Hailo accelerator")
	configPath := parser.String("c", "config", &argparse.Options{Help: "Path to YAML config file (defaults are used when empty)"})
	source := parser.Selector("s", "source", []string{pipeline.SourceRPI, pipeline.SourceUSB, pipeline.SourceFile, pipeline.SourceTest}, &argparse.Options{Help: "Input source type"})
	input := parser.String("i", "input", &argparse.Options{Help: "Device (usb) or video file (file)"})
	hefPath := parser.String("", "hef", &argparse.Options{Help: "Compiled model (.hef)"})
	labelsPath := parser.String("l", "labels", &argparse.Options{Help: "Newline separated label list to materialize for post-processing"})
	engine := parser.Selector("e", "engine", []string{"launch", "native"}, &argparse.Options{Help: "gst-launch-1.0 process or in-process go-gst", Default: "launch"})
	headless := parser.Flag("", "headless", &argparse.Options{Help: "Discard frames instead of opening a display"})
	showFPS := parser.Flag("", "show-fps", &argparse.Options{Help: "Overlay the frame rate on the display"})
	printOnly := parser.Flag("p", "print", &argparse.Options{Help: "Print the pipeline description and exit"})
	check := parser.Flag("", "check", &argparse.Options{Help: "Verify that every element is installed before starting"})
	serveAPI := parser.Flag("", "api", &argparse.Options{Help: "Serve the status API"})
	showVersion := parser.Flag("v", "version", &argparse.Options{Help: "Print version and exit"})
	if err := parser.Parse(os.Args); err != nil {
		logger.Errorf("%s", parser.Usage(err))
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println("inferpipe", version)
		return
	}

	// Load configuration
	cfg := pipeline.DefaultConfig()
	if *configPath != "" {
		if cfg, err = pipeline.LoadConfig(*configPath); err != nil {
			logger.Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
	}

	// Command line overrides
	if *source != "" {
		cfg.Source.Type = *source
	}
	if *input != "" {
		cfg.Source.Device = *input
	}
	if *hefPath != "" {
		cfg.Model.HEFPath = *hefPath
	}
	if *labelsPath != "" {
		cfg.Labels.Input = *labelsPath
	}
	if *headless {
		cfg.Display.Headless = true
	}
	if *showFPS {
		cfg.Display.ShowFPS = true
	}
	if *serveAPI {
		cfg.API.Enabled = true
	}

	opts := []app.Option{app.WithElementCheck(*check)}
	if !*printOnly {
		eng, err := newEngine(*engine, logger)
		if err != nil {
			logger.Errorf("Failed to create engine: %v", err)
			os.Exit(1)
		}
		opts = append(opts, app.WithEngine(eng))
	}

	a, err := app.New(cfg, logger, opts...)
	if err != nil {
		logger.Errorf("Failed to create pipeline: %v", err)
		os.Exit(1)
	}

	if _, err := a.PrepareLabels(); err != nil {
		logger.Errorf("Failed to prepare labels: %v", err)
		os.Exit(1)
	}

	if *printOnly {
		desc, err := a.Describe()
		if err != nil {
			logger.Errorf("Invalid pipeline: %v", err)
			os.Exit(1)
		}
		fmt.Println(desc)
		return
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Infof("Shutdown signal received...")
		cancel()
	}()

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.ServerConfig{
			Host:     cfg.API.Host,
			Port:     cfg.API.Port,
			Pipeline: a,
			Log:      logger,
		})
		go func() {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("API server error: %v", err)
			}
		}()
	}

	runErr := a.Run(ctx)

	// Cleanup
	if apiServer != nil {
		apiServer.Stop()
	}
	if runErr != nil {
		logger.Errorf("Pipeline failed: %v", runErr)
		os.Exit(1)
	}
	logger.Infof("Pipeline stopped")
}

func newEngine(name string, logger logs.Log) (gstlaunch.Engine, error) {
	switch name {
	case "native":
		n, err := gstlaunch.NewNative(logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		l, err := gstlaunch.NewLauncher(logger)
		if err != nil {
			return nil, err
		}
		if v, err := l.Version(context.Background()); err == nil {
			logger.Infof("GStreamer: %s", v)
		}
		return l, nil
	}
}
