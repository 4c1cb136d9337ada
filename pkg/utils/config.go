package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Zero values fall back to the rank engine defaults
type Config struct {
	Damping       float64 `json:"damping" yaml:"damping"`             // Weight of the incoming rank term
	Threshold     float64 `json:"threshold" yaml:"threshold"`         // Convergence tolerance
	MaxIterations int     `json:"maxIterations" yaml:"maxIterations"` // Iteration cap
	Workers       int     `json:"workers" yaml:"workers"`             // Local aggregation goroutines
	Graph         string  `json:"graph" yaml:"graph"`                 // Default graph resource
	Output        string  `json:"output" yaml:"output"`               // Rendered graph output
}

// Load configuration file (json or yaml, based on the extension)
func LoadConfiguration(path string) (config Config, err error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("read: %w", err)
		return
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bytes, &config)
	default:
		err = json.Unmarshal(bytes, &config)
	}
	if err != nil {
		err = fmt.Errorf("parse: %w", err)
	}
	return
}

// Merge returns c with the non-zero fields of other applied on top
func (c Config) Merge(other Config) Config {
	if other.Damping != 0 {
		c.Damping = other.Damping
	}
	if other.Threshold != 0 {
		c.Threshold = other.Threshold
	}
	if other.MaxIterations != 0 {
		c.MaxIterations = other.MaxIterations
	}
	if other.Workers != 0 {
		c.Workers = other.Workers
	}
	if other.Graph != "" {
		c.Graph = other.Graph
	}
	if other.Output != "" {
		c.Output = other.Output
	}
	return c
}
