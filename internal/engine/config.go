package engine

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PipelineConfig tunes the propagation pipeline. All fields are
// optional; zero values fall back to engine defaults.
type PipelineConfig struct {
	// DefaultCostPool names the implicit pool holding department
	// budgets. Defaults to DEPARTMENT_BUDGET.
	DefaultCostPool string `yaml:"default_cost_pool"`
	// BusinessTags remaps a solution owner department to a business
	// tag in the final roll-up stage.
	BusinessTags map[string]string `yaml:"business_tags"`
}

// LoadPipelineConfig reads pipeline tuning from a YAML file. An empty
// path returns the defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := &PipelineConfig{DefaultCostPool: DefaultCostPool}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: read pipeline config %s", path)
	}

	// The YAML has a top-level "pipeline" key.
	var wrapper struct {
		Pipeline PipelineConfig `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "engine: parse pipeline config")
	}

	loaded := wrapper.Pipeline
	if loaded.DefaultCostPool == "" {
		loaded.DefaultCostPool = DefaultCostPool
	}
	return &loaded, nil
}
