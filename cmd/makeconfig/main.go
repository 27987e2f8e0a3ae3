package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/video-system/go-inference-pipeline/pkg/labels"
	"github.com/video-system/go-inference-pipeline/pkg/pipeline"
)

func main() {
	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	parser := argparse.NewParser("makeconfig", "Write the label config read by the classification post-processing library")
	input := parser.String("i", "input", &argparse.Options{Help: "Newline separated label list", Default: "imagenet_classes.txt"})
	outDir := parser.String("o", "output-dir", &argparse.Options{Help: "Directory to write <model>_config.txt into", Default: "config"})
	model := parser.String("m", "model", &argparse.Options{Help: "Model name", Default: "inception_v3"})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Detection threshold", Default: 0.1})
	configPath := parser.String("c", "config", &argparse.Options{Help: "Take model name, label list and threshold from a pipeline config"})
	if err := parser.Parse(os.Args); err != nil {
		logger.Errorf("%s", parser.Usage(err))
		os.Exit(1)
	}

	if *configPath != "" {
		cfg, err := pipeline.LoadConfig(*configPath)
		if err != nil {
			logger.Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		*model = cfg.Model.Name
		*outDir = cfg.Labels.OutputDir
		*threshold = cfg.Labels.Threshold
		if cfg.Labels.Input != "" {
			*input = cfg.Labels.Input
		}
	}

	lines, err := labels.ReadLines(*input)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	path, err := labels.WriteConfig(*outDir, *model, lines, *threshold)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.Infof("Wrote %s (%d labels)", path, len(labels.Materialize(lines, *threshold).Labels))
}
