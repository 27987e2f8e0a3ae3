package pipeline

import "github.com/video-system/go-inference-pipeline/pkg/stage"

// Describe composes, validates and serializes the pipeline for cfg
func Describe(cfg *Config, reg *stage.Registry) (string, error) {
	return Validator{}.Describe(cfg, reg)
}

// Describe composes, validates and serializes the pipeline for cfg.
// Nothing is serialized unless validation passes.
func (v Validator) Describe(cfg *Config, reg *stage.Registry) (string, error) {
	g, err := Compose(cfg, reg)
	if err != nil {
		return "", err
	}
	if err := v.Validate(g, cfg); err != nil {
		return "", err
	}
	return Serialize(g)
}
