// Package scan runs Soda Core scans against a directory of check files and
// aggregates their exit codes into a single pass/fail outcome.
package scan

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	DefaultDataSource  = "retail"
	DefaultProjectRoot = "include"
	DefaultExecutable  = "/usr/local/airflow/soda_venv/bin/soda"
)

// Request describes one scan run. Zero-valued DataSource and ProjectRoot
// fall back to DefaultDataSource and DefaultProjectRoot.
type Request struct {
	ScanName      string
	ChecksSubpath string
	DataSource    string
	ProjectRoot   string
}

func (r Request) withDefaults() Request {
	if r.DataSource == "" {
		r.DataSource = DefaultDataSource
	}
	if r.ProjectRoot == "" {
		r.ProjectRoot = DefaultProjectRoot
	}
	return r
}

// Options holds the process-level settings the runner is constructed with.
type Options struct {
	// Executable is the soda binary. Empty means DefaultExecutable.
	Executable string
	// ConfigOverride, when non-empty, wins over any file-based configuration.
	ConfigOverride string
}

// Plan is the fully resolved set of paths for a request.
type Plan struct {
	ConfigPath string   `json:"config_path" yaml:"config_path"`
	ChecksDir  string   `json:"checks_dir" yaml:"checks_dir"`
	CheckFiles []string `json:"check_files" yaml:"check_files"`
	Executable string   `json:"executable" yaml:"executable"`
}

// Result holds the captured output of a single soda invocation.
type Result struct {
	CheckFile  string   `json:"check_file"`
	Command    []string `json:"command"`
	Passed     bool     `json:"passed"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int      `json:"duration_ms"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
}

// Outcome is everything one Run produced.
type Outcome struct {
	RunID      string    `json:"run_id,omitempty"`
	ScanName   string    `json:"scan_name"`
	DataSource string    `json:"data_source"`
	ConfigPath string    `json:"config_path"`
	ChecksDir  string    `json:"checks_dir"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
	Failed     bool      `json:"failed"`
}

// FailedCount returns how many check files exited non-zero.
func (o *Outcome) FailedCount() int {
	n := 0
	for _, r := range o.Results {
		if !r.Passed {
			n++
		}
	}
	return n
}

// Runner resolves paths and invokes soda once per check file, sequentially.
type Runner struct {
	fs   FileSystem
	cmd  CommandRunner
	out  io.Writer
	opts Options
	now  func() time.Time
}

// NewRunner creates a Runner. Informational output goes to out; a nil out discards it.
func NewRunner(fsys FileSystem, cmd CommandRunner, out io.Writer, opts Options) *Runner {
	if out == nil {
		out = io.Discard
	}
	if opts.Executable == "" {
		opts.Executable = DefaultExecutable
	}
	return &Runner{
		fs:   fsys,
		cmd:  cmd,
		out:  out,
		opts: opts,
		now:  time.Now,
	}
}

// SelectConfigPath applies configuration precedence: a non-empty override,
// then the local file if it exists, then the fallback.
func SelectConfigPath(override, local, fallback string, localExists bool) string {
	if override != "" {
		return override
	}
	if localExists {
		return local
	}
	return fallback
}

// ChecksDir returns {projectRoot}/soda/checks, with subpath appended when set.
func ChecksDir(projectRoot, subpath string) string {
	dir := filepath.Join(projectRoot, "soda", "checks")
	if subpath != "" {
		dir = filepath.Join(dir, subpath)
	}
	return dir
}

// IsCheckFile reports whether name has a .yml or .yaml extension.
func IsCheckFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

// Plan resolves the config path, checks directory, check files and executable
// for req and verifies every precondition. It never spawns a process.
func (r *Runner) Plan(req Request) (*Plan, error) {
	req = req.withDefaults()

	sodaDir := filepath.Join(req.ProjectRoot, "soda")
	local := filepath.Join(sodaDir, "configuration.local.yml")
	configPath := SelectConfigPath(
		r.opts.ConfigOverride,
		local,
		filepath.Join(sodaDir, "configuration.yml"),
		r.exists(local),
	)
	checksDir := ChecksDir(req.ProjectRoot, req.ChecksSubpath)

	if info, err := r.fs.Stat(configPath); err != nil || info.IsDir() {
		return nil, &PathError{Kind: ErrConfigurationNotFound, Path: configPath}
	}
	if info, err := r.fs.Stat(checksDir); err != nil || !info.IsDir() {
		return nil, &PathError{Kind: ErrChecksDirectoryNotFound, Path: checksDir}
	}

	entries, err := r.fs.ReadDir(checksDir)
	if err != nil {
		return nil, fmt.Errorf("read checks directory %s: %w", checksDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !IsCheckFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, &PathError{Kind: ErrNoCheckFilesFound, Path: checksDir}
	}
	sort.Strings(names)

	checkFiles := make([]string, len(names))
	for i, name := range names {
		checkFiles[i] = filepath.Join(checksDir, name)
	}

	if !r.exists(r.opts.Executable) {
		return nil, &PathError{Kind: ErrExecutableNotFound, Path: r.opts.Executable}
	}

	return &Plan{
		ConfigPath: configPath,
		ChecksDir:  checksDir,
		CheckFiles: checkFiles,
		Executable: r.opts.Executable,
	}, nil
}

// Run scans every check file for req. A failing file does not stop the loop;
// once all files have run, any failure is reported as ErrScanFailed. The
// outcome is returned alongside ErrScanFailed so callers can record it.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	req = req.withDefaults()
	fmt.Fprintln(r.out, "Running Soda Core scan ...")

	plan, err := r.Plan(req)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		ScanName:   req.ScanName,
		DataSource: req.DataSource,
		ConfigPath: plan.ConfigPath,
		ChecksDir:  plan.ChecksDir,
		StartedAt:  r.now(),
	}

	for _, checkFile := range plan.CheckFiles {
		if err := ctx.Err(); err != nil {
			outcome.FinishedAt = r.now()
			return outcome, fmt.Errorf("scan interrupted: %w", err)
		}
		outcome.Results = append(outcome.Results, r.runOne(ctx, plan, req.DataSource, checkFile))
		if !outcome.Results[len(outcome.Results)-1].Passed {
			outcome.Failed = true
		}
	}
	outcome.FinishedAt = r.now()

	if outcome.Failed {
		return outcome, ErrScanFailed
	}
	return outcome, nil
}

// runOne invokes soda for a single check file and echoes its output.
func (r *Runner) runOne(ctx context.Context, plan *Plan, dataSource, checkFile string) Result {
	args := []string{"scan", "-d", dataSource, "-c", plan.ConfigPath, checkFile}
	command := append([]string{plan.Executable}, args...)
	fmt.Fprintf(r.out, "Executing: %s\n", strings.Join(command, " "))

	start := r.now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, plan.Executable, args)
	durationMs := int(r.now().Sub(start).Milliseconds())

	// Could not start the process at all: count it as a failed scan.
	if err != nil {
		exitCode = -1
		if stderr != "" {
			stderr += "\n"
		}
		stderr += err.Error()
	}

	fmt.Fprintln(r.out, stdout)
	if exitCode != 0 {
		fmt.Fprintln(r.out, stderr)
	}

	return Result{
		CheckFile:  checkFile,
		Command:    command,
		Passed:     exitCode == 0,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Stdout:     stdout,
		Stderr:     stderr,
	}
}

func (r *Runner) exists(path string) bool {
	_, err := r.fs.Stat(path)
	return err == nil
}
