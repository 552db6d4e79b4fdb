package config

// ProjectConfig is the top-level structure parsed from sodagate.yaml.
type ProjectConfig struct {
	Project Project `yaml:"project"`
}

// Project holds the project-wide defaults and the named scan jobs.
type Project struct {
	ProjectRoot string `yaml:"project_root"`
	DataSource  string `yaml:"data_source"`
	SodaBin     string `yaml:"soda_bin,omitempty"`
	Scans       []Scan `yaml:"scans"`
}

// Scan is one named scan job: a checks subdirectory run against a data source.
type Scan struct {
	Name       string `yaml:"name"`
	Checks     string `yaml:"checks,omitempty"`
	DataSource string `yaml:"data_source,omitempty"`
}

// FindScan returns the scan job with the given name.
func (c *ProjectConfig) FindScan(name string) (Scan, bool) {
	for _, s := range c.Project.Scans {
		if s.Name == name {
			return s, true
		}
	}
	return Scan{}, false
}
