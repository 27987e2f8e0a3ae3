package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source types
const (
	SourceRPI  = "rpi"  // Raspberry Pi camera via libcamera
	SourceUSB  = "usb"  // V4L2 device
	SourceFile = "file" // video file
	SourceTest = "test" // videotestsrc
)

// Network pixel formats accepted for the inference input
var NetworkFormats = []string{"RGB", "RGBA", "BGR", "BGRA", "NV12", "YUY2", "I420", "GRAY8"}

// Config holds everything needed to compose the inference pipeline.
// It is built once (LoadConfig or DefaultConfig) and not modified afterwards.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Network NetworkConfig `yaml:"network"`
	Source  SourceConfig  `yaml:"source"`
	Display DisplayConfig `yaml:"display"`
	Labels  LabelsConfig  `yaml:"labels"`
	API     APIConfig     `yaml:"api"`
}

// ModelConfig describes the compiled network and its post-processing
type ModelConfig struct {
	Name          string `yaml:"name"`           // inception_v3
	HEFPath       string `yaml:"hef_path"`       // compiled model, must exist
	BatchSize     int    `yaml:"batch_size"`     // frames per inference call
	PostprocessSO string `yaml:"postprocess_so"` // post-processing shared library
	FunctionName  string `yaml:"function_name"`  // entry point inside PostprocessSO
	ConfigPath    string `yaml:"config_path"`    // label config read by PostprocessSO (optional)
}

// NetworkConfig is the input geometry of the network
type NetworkConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Format string `yaml:"format"` // RGB, NV12, ...
}

// SourceConfig selects the capture backend
type SourceConfig struct {
	Type          string `yaml:"type"`            // rpi, usb, file, test
	Device        string `yaml:"device"`          // /dev/video0 or file path
	Width         int    `yaml:"width"`           // capture width
	Height        int    `yaml:"height"`          // capture height
	Framerate     string `yaml:"framerate"`       // 30/1
	AutoFocusMode string `yaml:"auto_focus_mode"` // libcamera only
}

// DisplayConfig configures the output sink
type DisplayConfig struct {
	VideoSink string `yaml:"video_sink"` // autovideosink, xvimagesink
	Sync      *bool  `yaml:"sync"`       // nil = sync only for file sources
	ShowFPS   bool   `yaml:"show_fps"`
	Headless  bool   `yaml:"headless"` // discard frames instead of displaying
}

// LabelsConfig configures label config materialization
type LabelsConfig struct {
	Input     string  `yaml:"input"`      // newline separated label list
	OutputDir string  `yaml:"output_dir"` // directory for <model>_config.txt
	Threshold float64 `yaml:"threshold"`
}

// APIConfig configures the status API
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// SyncEnabled resolves the display sync flag.
// Live sources run unsynchronized; files play at their own rate.
func (d DisplayConfig) SyncEnabled(sourceType string) bool {
	if d.Sync != nil {
		return *d.Sync
	}
	return sourceType == SourceFile
}

// DefaultThreshold is the detection threshold written to label configs
// when none is configured
const DefaultThreshold = 0.1

// DefaultConfig returns the configuration of the Inception v3 demo
func DefaultConfig() *Config {
	cfg := &Config{Labels: LabelsConfig{Threshold: DefaultThreshold}}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	// threshold: 0 is a valid setting, so its default is set before decoding
	cfg := Config{Labels: LabelsConfig{Threshold: DefaultThreshold}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Model.Name == "" {
		cfg.Model.Name = "inception_v3"
	}
	if cfg.Model.HEFPath == "" {
		cfg.Model.HEFPath = cfg.Model.Name + ".hef"
	}
	if cfg.Model.BatchSize == 0 {
		cfg.Model.BatchSize = 1
	}
	if cfg.Model.FunctionName == "" {
		cfg.Model.FunctionName = cfg.Model.Name
	}
	if cfg.Model.PostprocessSO == "" {
		dir := os.Getenv("TAPPAS_POST_PROC_DIR")
		if dir == "" {
			dir = "."
		}
		cfg.Model.PostprocessSO = filepath.Join(dir, "lib"+cfg.Model.Name+"_inference.so")
	}

	if cfg.Network.Width == 0 {
		cfg.Network.Width = 299
	}
	if cfg.Network.Height == 0 {
		cfg.Network.Height = 299
	}
	if cfg.Network.Format == "" {
		cfg.Network.Format = "RGB"
	}

	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceRPI
	}
	if cfg.Source.Device == "" && cfg.Source.Type == SourceUSB {
		cfg.Source.Device = "/dev/video0"
	}
	if cfg.Source.Width == 0 {
		cfg.Source.Width = 1536
	}
	if cfg.Source.Height == 0 {
		cfg.Source.Height = 864
	}
	if cfg.Source.Framerate == "" {
		cfg.Source.Framerate = "30/1"
	}
	if cfg.Source.AutoFocusMode == "" {
		cfg.Source.AutoFocusMode = "AfModeManual"
	}

	if cfg.Display.VideoSink == "" {
		cfg.Display.VideoSink = "autovideosink"
	}

	if cfg.Labels.OutputDir == "" {
		cfg.Labels.OutputDir = "config"
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
}
