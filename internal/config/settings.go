package config

import "github.com/lucasnoah/sodagate/internal/scan"

// Environment variables read at the process boundary.
const (
	EnvConfigOverride = "SODA_CONFIG"
	EnvSodaBin        = "SODA_BIN"
	EnvProjectRoot    = "SODAGATE_PROJECT_ROOT"
	EnvDataSource     = "SODAGATE_DATA_SOURCE"
	EnvDatabaseURL    = "SODAGATE_DATABASE_URL"
)

// Settings is the process-level configuration. It is built once from the
// environment and passed down explicitly; nothing below the CLI reads env vars.
type Settings struct {
	ConfigOverride string `yaml:"config_override,omitempty"`
	SodaBin        string `yaml:"soda_bin"`
	ProjectRoot    string `yaml:"project_root"`
	DataSource     string `yaml:"data_source"`
	DatabaseURL    string `yaml:"database_url,omitempty"`
}

// FromEnv builds Settings using lookup (normally os.LookupEnv). Unset or
// empty variables fall back to built-in defaults.
func FromEnv(lookup func(string) (string, bool)) Settings {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return fallback
	}
	return Settings{
		ConfigOverride: get(EnvConfigOverride, ""),
		SodaBin:        get(EnvSodaBin, scan.DefaultExecutable),
		ProjectRoot:    get(EnvProjectRoot, scan.DefaultProjectRoot),
		DataSource:     get(EnvDataSource, scan.DefaultDataSource),
		DatabaseURL:    get(EnvDatabaseURL, ""),
	}
}

// Merge layers a jobs file under the environment: a field set explicitly in
// the environment wins, otherwise the project file's value is used.
func (s Settings) Merge(p *ProjectConfig, lookup func(string) (string, bool)) Settings {
	if p == nil {
		return s
	}
	isSet := func(key string) bool {
		v, ok := lookup(key)
		return ok && v != ""
	}
	if !isSet(EnvProjectRoot) && p.Project.ProjectRoot != "" {
		s.ProjectRoot = p.Project.ProjectRoot
	}
	if !isSet(EnvDataSource) && p.Project.DataSource != "" {
		s.DataSource = p.Project.DataSource
	}
	if !isSet(EnvSodaBin) && p.Project.SodaBin != "" {
		s.SodaBin = p.Project.SodaBin
	}
	return s
}

// RunnerOptions converts Settings into the scan runner's options.
func (s Settings) RunnerOptions() scan.Options {
	return scan.Options{
		Executable:     s.SodaBin,
		ConfigOverride: s.ConfigOverride,
	}
}
