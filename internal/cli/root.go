package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "sodagate",
	Short: "sodagate — run Soda Core scans as a pass/fail gate",
	Long: `sodagate runs the Soda Core CLI once per check file under
{project_root}/soda/checks and fails if any scan exits non-zero.

Settings come from the environment (SODA_CONFIG, SODA_BIN,
SODAGATE_PROJECT_ROOT, SODAGATE_DATA_SOURCE, SODAGATE_DATABASE_URL),
an optional .env file, and an optional sodagate.yaml jobs file.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, so scans stop on cancellation.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "", "path to sodagate.yaml jobs file")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL for run history (overrides SODAGATE_DATABASE_URL)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
