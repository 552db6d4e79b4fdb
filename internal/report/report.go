// Package report turns a scan outcome into a JSON or YAML document on disk.
package report

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/lucasnoah/sodagate/internal/scan"
)

// maxOutputLen caps how much combined stdout/stderr a failed file keeps.
const maxOutputLen = 8000

// Report is the serialised form of one scan run.
type Report struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	Scan        string       `json:"scan" yaml:"scan"`
	DataSource  string       `json:"data_source" yaml:"data_source"`
	ConfigPath  string       `json:"config_path" yaml:"config_path"`
	ChecksDir   string       `json:"checks_dir" yaml:"checks_dir"`
	Passed      bool         `json:"passed" yaml:"passed"`
	Error       string       `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time    `json:"finished_at" yaml:"finished_at"`
	DurationMs  int64        `json:"duration_ms" yaml:"duration_ms"`
	FailedCount int          `json:"failed_count" yaml:"failed_count"`
	Files       []FileReport `json:"files" yaml:"files"`
}

// FileReport summarises one check file's scan.
type FileReport struct {
	CheckFile  string `json:"check_file" yaml:"check_file"`
	Passed     bool   `json:"passed" yaml:"passed"`
	ExitCode   int    `json:"exit_code" yaml:"exit_code"`
	DurationMs int    `json:"duration_ms" yaml:"duration_ms"`
	Summary    string `json:"summary" yaml:"summary"`
	Output     string `json:"output,omitempty" yaml:"output,omitempty"`
}

// New builds a Report from an outcome and the error Run returned with it.
func New(o *scan.Outcome, runErr error) *Report {
	r := &Report{
		RunID:       o.RunID,
		Scan:        o.ScanName,
		DataSource:  o.DataSource,
		ConfigPath:  o.ConfigPath,
		ChecksDir:   o.ChecksDir,
		Passed:      runErr == nil && !o.Failed,
		StartedAt:   o.StartedAt,
		FinishedAt:  o.FinishedAt,
		DurationMs:  o.FinishedAt.Sub(o.StartedAt).Milliseconds(),
		FailedCount: o.FailedCount(),
		Files:       make([]FileReport, 0, len(o.Results)),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, res := range o.Results {
		summary, output := Summarize(res.Stdout, res.Stderr, res.ExitCode)
		r.Files = append(r.Files, FileReport{
			CheckFile:  res.CheckFile,
			Passed:     res.Passed,
			ExitCode:   res.ExitCode,
			DurationMs: res.DurationMs,
			Summary:    summary,
			Output:     output,
		})
	}
	return r
}

// Summarize describes a scan purely by its exit code. For failures it also
// returns the tail of the combined output.
func Summarize(stdout, stderr string, exitCode int) (summary, output string) {
	if exitCode == 0 {
		return "passed (exit code 0)", ""
	}
	summary = fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr))

	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	// Keep the tail; soda prints its failure summary last.
	if len(combined) > maxOutputLen {
		cut := len(combined) - maxOutputLen
		for cut < len(combined) && !utf8.RuneStart(combined[cut]) {
			cut++
		}
		combined = "…(truncated)\n" + combined[cut:]
	}
	return summary, combined
}
