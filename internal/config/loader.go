package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/sodagate/internal/scan"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned by LoadDefault when no jobs file exists.
var ErrConfigNotFound = errors.New("no sodagate config found")

// Load reads and parses a project configuration from the given YAML file path.
// After parsing, it fills project-level defaults left blank in the file.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a project config in standard locations and loads the
// first one found. Search order: ./sodagate.yaml, ~/.sodagate/config.yaml
func LoadDefault() (*ProjectConfig, error) {
	candidates := []string{"sodagate.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".sodagate", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("%w (searched: %v)", ErrConfigNotFound, candidates)
}

// applyDefaults fills project-level fields left blank in the file. Scan
// entries keep an empty data_source so the environment can still override it.
func applyDefaults(cfg *ProjectConfig) {
	p := &cfg.Project

	if p.ProjectRoot == "" {
		p.ProjectRoot = scan.DefaultProjectRoot
	}
	if p.DataSource == "" {
		p.DataSource = scan.DefaultDataSource
	}
}
