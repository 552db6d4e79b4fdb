package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lucasnoah/sodagate/internal/config"
	"github.com/lucasnoah/sodagate/internal/db"
)

var (
	configFile  string
	databaseURL string
)

// environment is everything read at the process boundary: the .env file,
// process env vars and the optional jobs file.
type environment struct {
	settings config.Settings
	project  *config.ProjectConfig
}

// loadEnvironment loads .env (if present), the jobs file (if present) and
// the environment. An explicit --file that cannot be read is an error.
func loadEnvironment() (*environment, error) {
	_ = godotenv.Load()

	project, err := loadProject()
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return nil, err
		}
		project = nil
	}

	settings := config.FromEnv(os.LookupEnv).Merge(project, os.LookupEnv)
	if databaseURL != "" {
		settings.DatabaseURL = databaseURL
	}
	return &environment{settings: settings, project: project}, nil
}

func loadProject() (*config.ProjectConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

// openHistory opens and migrates the history database, returning it with a cleanup func.
func openHistory(ctx context.Context, url string) (*db.DB, func(), error) {
	if url == "" {
		return nil, nil, fmt.Errorf("no history database configured (set %s or --database-url)", config.EnvDatabaseURL)
	}
	d, err := db.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, d.Close, nil
}
