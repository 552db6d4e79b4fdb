package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/lucasnoah/sodagate/internal/config"
	"github.com/lucasnoah/sodagate/internal/report"
	"github.com/lucasnoah/sodagate/internal/scan"
	"github.com/spf13/cobra"
)

// scanFlags are the per-invocation overrides shared by scan run/all/plan.
type scanFlags struct {
	checks      string
	dataSource  string
	projectRoot string
	reportPath  string
	format      string
}

var (
	runFlags  scanFlags
	allFlags  scanFlags
	planFlags scanFlags
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run and inspect Soda Core scans",
}

var scanRunCmd = &cobra.Command{
	Use:   "run [scan-name]",
	Short: "Scan every check file for one scan",
	Long: `Run soda once per .yml/.yaml file in the scan's checks directory.

If scan-name matches a job in sodagate.yaml, its checks subpath and data
source are used; flags override them. All files are scanned even after a
failure, and the command fails at the end if any scan exited non-zero.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		req, err := resolveRequest(env, args[0], runFlags)
		if err != nil {
			return err
		}
		rep, runErr := executeScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), env, req, runFlags)
		if rep != nil && runFlags.format == "json" {
			data, err := report.Marshal("json", rep)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
		}
		return runErr
	},
}

var scanAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every scan defined in sodagate.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		if env.project == nil || len(env.project.Project.Scans) == 0 {
			return fmt.Errorf("no scans defined (add them to sodagate.yaml or use 'scan run')")
		}

		asJSON := allFlags.format == "json"
		w := cmd.OutOrStdout()
		if asJSON {
			w = cmd.ErrOrStderr()
		}
		var errs []error
		reports := []*report.Report{}
		for _, job := range env.project.Project.Scans {
			fmt.Fprintf(w, "=== %s\n", job.Name)
			flags := allFlags
			if flags.reportPath != "" {
				flags.reportPath = perScanReportPath(flags.reportPath, job.Name)
			}
			req, err := resolveRequest(env, job.Name, flags)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
				continue
			}
			rep, err := executeScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), env, req, flags)
			if rep != nil {
				reports = append(reports, rep)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			}
			if cmd.Context().Err() != nil {
				break
			}
		}

		if asJSON {
			data, err := json.MarshalIndent(reports, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d of %d scans failed: %w", len(errs), len(env.project.Project.Scans), errors.Join(errs...))
		}
		return nil
	},
}

var scanPlanCmd = &cobra.Command{
	Use:   "plan [scan-name]",
	Short: "Show the config, checks directory and check files a scan would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		req, err := resolveRequest(env, args[0], planFlags)
		if err != nil {
			return err
		}
		runner := scan.NewRunner(scan.OSFileSystem{}, &scan.ExecRunner{}, nil, env.settings.RunnerOptions())

		plan, err := runner.Plan(req)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if planFlags.format == "json" {
			data, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
			return nil
		}
		fmt.Fprintf(w, "Scan:        %s\n", req.ScanName)
		fmt.Fprintf(w, "Data source: %s\n", req.DataSource)
		fmt.Fprintf(w, "Config:      %s\n", plan.ConfigPath)
		fmt.Fprintf(w, "Checks dir:  %s\n", plan.ChecksDir)
		fmt.Fprintf(w, "Executable:  %s\n", plan.Executable)
		fmt.Fprintf(w, "Check files (%d):\n", len(plan.CheckFiles))
		for _, f := range plan.CheckFiles {
			fmt.Fprintf(w, "  %s\n", f)
		}
		return nil
	},
}

var scanResultCmd = &cobra.Command{
	Use:   "result [scan-name]",
	Short: "Show the latest recorded run for a scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		d, cleanup, err := openHistory(ctx, env.settings.DatabaseURL)
		if err != nil {
			return err
		}
		defer cleanup()

		run, err := d.LatestRun(ctx, args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("no recorded runs for scan %q", args[0])
		}
		results, err := d.Results(ctx, run.RunID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:         %s\n", run.RunID)
		fmt.Fprintf(w, "Scan:        %s\n", run.ScanName)
		fmt.Fprintf(w, "Data source: %s\n", run.DataSource)
		fmt.Fprintf(w, "Config:      %s\n", run.ConfigPath)
		fmt.Fprintf(w, "Result:      %s\n", statusTag(run.Passed))
		fmt.Fprintf(w, "Files:       %d (%d failed)\n", run.FileCount, run.FailedCount)
		fmt.Fprintf(w, "Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "Duration:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		if run.Error != "" {
			fmt.Fprintf(w, "Error:       %s\n", run.Error)
		}
		for _, r := range results {
			fmt.Fprintf(w, "  [%s] %s (exit %d, %dms)\n", statusTag(r.Passed), r.CheckFile, r.ExitCode, r.DurationMs)
		}
		return nil
	},
}

var scanHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded scan runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		scanFilter, _ := cmd.Flags().GetString("scan")
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		d, cleanup, err := openHistory(ctx, env.settings.DatabaseURL)
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := d.History(ctx, scanFilter, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No scan runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s  %-20s  %-12s  %-6s  %-7s  %s\n",
			"RUN", "SCAN", "DATA SOURCE", "RESULT", "FAILED", "STARTED")
		fmt.Fprintf(w, "%s\n", strings.Repeat("-", 110))
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s  %-20s  %-12s  %-6s  %-7s  %s\n",
				r.RunID, r.ScanName, r.DataSource, statusWord(r.Passed),
				fmt.Sprintf("%d/%d", r.FailedCount, r.FileCount),
				r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	for _, c := range []struct {
		cmd   *cobra.Command
		flags *scanFlags
	}{
		{scanRunCmd, &runFlags},
		{scanAllCmd, &allFlags},
		{scanPlanCmd, &planFlags},
	} {
		f := c.cmd.Flags()
		f.StringVar(&c.flags.dataSource, "data-source", "", "Soda data source name (-d)")
		f.StringVar(&c.flags.projectRoot, "project-root", "", "directory containing soda/ (default include)")
		f.StringVar(&c.flags.format, "format", "text", "Output format: text or json")
	}
	scanRunCmd.Flags().StringVar(&runFlags.checks, "checks", "", "subdirectory under soda/checks")
	scanPlanCmd.Flags().StringVar(&planFlags.checks, "checks", "", "subdirectory under soda/checks")
	scanRunCmd.Flags().StringVar(&runFlags.reportPath, "report", "", "write a JSON (or .yaml) report to this path")
	scanAllCmd.Flags().StringVar(&allFlags.reportPath, "report", "", "write one report per scan; the scan name is added before the extension")

	scanHistoryCmd.Flags().String("scan", "", "Filter by scan name")
	scanHistoryCmd.Flags().Int("limit", 20, "Maximum number of runs to show")

	scanCmd.AddCommand(scanRunCmd)
	scanCmd.AddCommand(scanAllCmd)
	scanCmd.AddCommand(scanPlanCmd)
	scanCmd.AddCommand(scanResultCmd)
	scanCmd.AddCommand(scanHistoryCmd)
}

// resolveRequest builds the runner request for name. Flags win over the
// matching job in the jobs file, which wins over environment settings.
// A --checks value gets the same subpath rule as the jobs file.
func resolveRequest(env *environment, name string, f scanFlags) (scan.Request, error) {
	req := scan.Request{
		ScanName:    name,
		ProjectRoot: env.settings.ProjectRoot,
		DataSource:  env.settings.DataSource,
	}
	if env.project != nil {
		if job, ok := env.project.FindScan(name); ok {
			req.ChecksSubpath = job.Checks
			if job.DataSource != "" {
				req.DataSource = job.DataSource
			}
		}
	}
	if f.checks != "" {
		if msg := config.CheckSubpath(f.checks); msg != "" {
			return scan.Request{}, fmt.Errorf("--checks %s", msg)
		}
		req.ChecksSubpath = f.checks
	}
	if f.dataSource != "" {
		req.DataSource = f.dataSource
	}
	if f.projectRoot != "" {
		req.ProjectRoot = f.projectRoot
	}
	return req, nil
}

// executeScan runs one scan, writes the report and history record when
// configured, and returns the report (nil if preconditions failed). In text
// mode runner output and the summary go to out; in json mode they go to
// errOut and the caller owns out. The runner's error is always returned
// unchanged; report and history problems are only warned about.
func executeScan(ctx context.Context, out, errOut io.Writer, env *environment, req scan.Request, f scanFlags) (*report.Report, error) {
	w := out
	if f.format == "json" {
		w = errOut
	}
	runner := scan.NewRunner(scan.OSFileSystem{}, &scan.ExecRunner{}, w, env.settings.RunnerOptions())
	outcome, runErr := runner.Run(ctx, req)
	if outcome == nil {
		return nil, runErr
	}
	outcome.RunID = uuid.NewString()

	rep := report.New(outcome, runErr)
	if f.format != "json" {
		printSummary(w, outcome)
	}

	if f.reportPath != "" {
		if err := report.Write(f.reportPath, rep); err != nil {
			fmt.Fprintf(errOut, "warning: write report: %v\n", err)
		}
	}
	if env.settings.DatabaseURL != "" {
		if err := recordRun(ctx, env.settings.DatabaseURL, outcome, runErr); err != nil {
			fmt.Fprintf(errOut, "warning: record run: %v\n", err)
		}
	}
	return rep, runErr
}

func recordRun(ctx context.Context, url string, outcome *scan.Outcome, runErr error) error {
	// A cancelled scan should still be recorded.
	ctx = context.WithoutCancel(ctx)
	d, cleanup, err := openHistory(ctx, url)
	if err != nil {
		return err
	}
	defer cleanup()
	return d.LogRun(ctx, outcome, runErr)
}

// printSummary writes one PASS/FAIL line per check file and a total.
func printSummary(w io.Writer, o *scan.Outcome) {
	fmt.Fprintln(w)
	for _, r := range o.Results {
		summary, _ := report.Summarize(r.Stdout, r.Stderr, r.ExitCode)
		fmt.Fprintf(w, "[%s] %s — %s (%dms)\n", statusTag(r.Passed), r.CheckFile, summary, r.DurationMs)
	}
	if o.Failed {
		fmt.Fprintf(w, "\nScan %s FAILED (%d of %d check files)\n", o.ScanName, o.FailedCount(), len(o.Results))
	} else {
		fmt.Fprintf(w, "\nScan %s PASSED (%d check files)\n", o.ScanName, len(o.Results))
	}
}

func statusWord(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

func statusTag(passed bool) string {
	if passed {
		return color.GreenString(statusWord(passed))
	}
	return color.RedString(statusWord(passed))
}

// perScanReportPath turns reports/scan.json into reports/scan-<name>.json.
func perScanReportPath(path, name string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + name + ext
}
