// Package config holds the pipeline settings: built-in defaults, an
// optional YAML override file, and flag overrides applied by the CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TreeMethodFastTree = "fasttree"
	TreeMethodIQTree   = "iqtree"
)

// Tools names the external executables. Tests point these at stubs.
type Tools struct {
	HMMSearch string `yaml:"hmmsearch"`
	Mafft     string `yaml:"mafft"`
	Trimal    string `yaml:"trimal"`
	FastTree  string `yaml:"fasttree"`
	IQTree    string `yaml:"iqtree"`
}

// Config mirrors the pipeline's tunable keys.
type Config struct {
	TreeMethod string `yaml:"tmethod"`

	HMMSearchOptions string `yaml:"hmmsearch_cutoff"`
	HMMSearchCPU     int    `yaml:"hmmsearch_cpu"`

	MinMarkerFraction     float64 `yaml:"minmarker"`
	MaxSingleCopy         int     `yaml:"maxsdup"`
	MaxDuplicatedFraction float64 `yaml:"maxdupl"`

	MafftOptions  string `yaml:"mafft"`
	TrimalOptions string `yaml:"trimal_gt"`

	FastTreeProteinOptions string `yaml:"ft_proteintrees"`
	FastTreeSpeciesOptions string `yaml:"ft_speciestree"`
	IQTreeProteinModel     string `yaml:"iq_proteintrees"`
	IQTreeSpeciesModel     string `yaml:"iq_speciestree"`

	Cores int `yaml:"cores"`

	// Hard per-invocation timeouts, in seconds.
	SearchTimeoutSec int `yaml:"search_timeout_seconds"`
	MarkerTimeoutSec int `yaml:"marker_timeout_seconds"`
	TreeTimeoutSec   int `yaml:"tree_timeout_seconds"`

	Tools Tools `yaml:"tools"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TreeMethod:             TreeMethodFastTree,
		HMMSearchOptions:       "-E 1e-5",
		HMMSearchCPU:           8,
		MinMarkerFraction:      0.1,
		MaxSingleCopy:          4,
		MaxDuplicatedFraction:  0.3,
		MafftOptions:           "--quiet",
		TrimalOptions:          "-gt 0.1",
		FastTreeProteinOptions: "-spr 4 -mlacc 3 -slownni -lg",
		FastTreeSpeciesOptions: "-spr 4 -mlacc 3 -slownni -lg",
		IQTreeProteinModel:     "LG+F+I+G4",
		IQTreeSpeciesModel:     "LG+F+I+G4",
		Cores:                  8,
		SearchTimeoutSec:       3600,
		MarkerTimeoutSec:       600,
		TreeTimeoutSec:         1800,
		Tools: Tools{
			HMMSearch: "hmmsearch",
			Mafft:     "mafft",
			Trimal:    "trimal",
			FastTree:  "fasttree",
			IQTree:    "iqtree",
		},
	}
}

// Load returns the defaults overlaid with the keys of an optional YAML
// override file. An empty path yields plain defaults.
func Load(overridePath string) (Config, error) {
	cfg := Default()
	if overridePath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(overridePath)
	if err != nil {
		return Config{}, fmt.Errorf("read config override: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config override %s: %w", overridePath, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config override %s: %w", overridePath, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.TreeMethod {
	case TreeMethodFastTree, TreeMethodIQTree:
	default:
		return fmt.Errorf("invalid tree method %q (want %s or %s)", c.TreeMethod, TreeMethodFastTree, TreeMethodIQTree)
	}
	if c.MinMarkerFraction < 0 || c.MinMarkerFraction > 1 {
		return fmt.Errorf("minmarker must be within [0,1], got %v", c.MinMarkerFraction)
	}
	if c.MaxDuplicatedFraction < 0 || c.MaxDuplicatedFraction > 1 {
		return fmt.Errorf("maxdupl must be within [0,1], got %v", c.MaxDuplicatedFraction)
	}
	if c.MaxSingleCopy < 1 {
		return fmt.Errorf("maxsdup must be >= 1, got %d", c.MaxSingleCopy)
	}
	if c.Cores < 1 {
		return fmt.Errorf("cores must be >= 1, got %d", c.Cores)
	}
	return nil
}

func (c Config) SearchTimeout() time.Duration { return secs(c.SearchTimeoutSec) }
func (c Config) MarkerTimeout() time.Duration { return secs(c.MarkerTimeoutSec) }
func (c Config) TreeTimeout() time.Duration   { return secs(c.TreeTimeoutSec) }

func secs(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
