package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBin = "/opt/soda/bin/soda"

// standardFS lays out include/soda with a default config and two check files.
func standardFS() *fakeFS {
	return newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml").
		file("include/soda/checks/orders.yml").
		file("include/soda/checks/customers.yaml")
}

func newTestRunner(fsys FileSystem, cmd CommandRunner, opts Options) (*Runner, *bytes.Buffer) {
	if opts.Executable == "" {
		opts.Executable = testBin
	}
	var out bytes.Buffer
	return NewRunner(fsys, cmd, &out, opts), &out
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{}
	runner, out := newTestRunner(standardFS(), mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.False(t, outcome.Failed)
	assert.Equal(t, "sources", outcome.ScanName)
	assert.Equal(t, "retail", outcome.DataSource)
	assert.Equal(t, filepath.Join("include", "soda", "configuration.yml"), outcome.ConfigPath)
	assert.Equal(t, filepath.Join("include", "soda", "checks"), outcome.ChecksDir)
	require.Len(t, outcome.Results, 2)
	for _, r := range outcome.Results {
		assert.True(t, r.Passed)
		assert.Equal(t, 0, r.ExitCode)
	}
	assert.Zero(t, outcome.FailedCount())

	assert.Contains(t, out.String(), "Running Soda Core scan ...")
	assert.Equal(t, 2, strings.Count(out.String(), "Executing: "))
}

func TestRunner_Run_CommandLine(t *testing.T) {
	mock := &mockCmd{}
	runner, out := newTestRunner(standardFS(), mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources", DataSource: "warehouse"})
	require.NoError(t, err)

	cfg := filepath.Join("include", "soda", "configuration.yml")
	first := filepath.Join("include", "soda", "checks", "customers.yaml")
	require.Len(t, mock.calls, 2)
	assert.Equal(t, testBin, mock.calls[0].Name)
	assert.Equal(t, []string{"scan", "-d", "warehouse", "-c", cfg, first}, mock.calls[0].Args)
	assert.Contains(t, out.String(), fmt.Sprintf("Executing: %s scan -d warehouse -c %s %s\n", testBin, cfg, first))
}

func TestRunner_Run_PrefersLocalConfig(t *testing.T) {
	fsys := standardFS().file("include/soda/configuration.local.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)

	local := filepath.Join("include", "soda", "configuration.local.yml")
	assert.Equal(t, local, outcome.ConfigPath)
	for _, c := range mock.calls {
		assert.Equal(t, local, c.Args[4])
	}
}

func TestRunner_Run_ConfigOverrideWins(t *testing.T) {
	fsys := standardFS().
		file("include/soda/configuration.local.yml").
		file("/etc/soda/override.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{ConfigOverride: "/etc/soda/override.yml"})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)
	assert.Equal(t, "/etc/soda/override.yml", outcome.ConfigPath)
}

func TestRunner_Run_ConfigOverrideMissing(t *testing.T) {
	mock := &mockCmd{}
	runner, _ := newTestRunner(standardFS(), mock, Options{ConfigOverride: "/nope/config.yml"})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrConfigurationNotFound)
	assert.Contains(t, err.Error(), "/nope/config.yml")
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_ConfigurationNotFound(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/checks/orders.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrConfigurationNotFound)

	var pe *PathError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join("include", "soda", "configuration.yml"), pe.Path)
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_ConfigurationIsDirectory(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		dir("include/soda/configuration.yml").
		file("include/soda/checks/orders.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrConfigurationNotFound)
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_ChecksDirectoryMissing(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrChecksDirectoryNotFound)
	assert.Contains(t, err.Error(), filepath.Join("include", "soda", "checks"))
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_ChecksPathIsFile(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml").
		file("include/soda/checks/sources")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources", ChecksSubpath: "sources"})
	require.ErrorIs(t, err, ErrChecksDirectoryNotFound)
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_NoCheckFiles(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml").
		file("include/soda/checks/README.md").
		file("include/soda/checks/c.txt").
		dir("include/soda/checks/nested.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrNoCheckFilesFound)
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_SortedAndFiltered(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml").
		file("include/soda/checks/b.yml").
		file("include/soda/checks/a.yaml").
		file("include/soda/checks/c.txt").
		file("include/soda/checks/deeper/d.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.yaml", "b.yml"}, mock.checkedFiles())
	require.Len(t, outcome.Results, 2)
	assert.Equal(t, filepath.Join("include", "soda", "checks", "a.yaml"), outcome.Results[0].CheckFile)
	assert.Equal(t, filepath.Join("include", "soda", "checks", "b.yml"), outcome.Results[1].CheckFile)
}

func TestRunner_Run_NoShortCircuit(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("include/soda/configuration.yml").
		file("include/soda/checks/b.yml").
		file("include/soda/checks/a.yaml")
	mock := &mockCmd{results: map[string]mockResult{
		"a.yaml": {Stdout: "Oops! 1 failure.", Stderr: "check row_count > 0 failed", ExitCode: 2},
		"b.yml":  {Stdout: "All is good.", ExitCode: 0},
	}}
	runner, out := newTestRunner(fsys, mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrScanFailed)
	require.NotNil(t, outcome)

	assert.Equal(t, []string{"a.yaml", "b.yml"}, mock.checkedFiles())
	assert.True(t, outcome.Failed)
	assert.Equal(t, 1, outcome.FailedCount())
	assert.False(t, outcome.Results[0].Passed)
	assert.Equal(t, 2, outcome.Results[0].ExitCode)
	assert.True(t, outcome.Results[1].Passed)

	text := out.String()
	assert.Contains(t, text, "Oops! 1 failure.")
	assert.Contains(t, text, "All is good.")
	assert.Contains(t, text, "check row_count > 0 failed")
}

func TestRunner_Run_StderrHiddenOnSuccess(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"orders.yml":     {Stdout: "fine", Stderr: "deprecation warning", ExitCode: 0},
		"customers.yaml": {Stdout: "fine", ExitCode: 0},
	}}
	runner, out := newTestRunner(standardFS(), mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "deprecation warning")
	// Captured regardless, only the echo is suppressed.
	assert.Equal(t, "deprecation warning", outcome.Results[1].Stderr)
}

func TestRunner_Run_ExecutableNotFound(t *testing.T) {
	fsys := standardFS()
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{Executable: "/missing/soda"})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrExecutableNotFound)
	assert.Contains(t, err.Error(), "/missing/soda")
	assert.Contains(t, err.Error(), "SODA_BIN")
	assert.Empty(t, mock.calls)
}

func TestRunner_Run_DefaultExecutable(t *testing.T) {
	fsys := newFakeFS().
		file(DefaultExecutable).
		file("include/soda/configuration.yml").
		file("include/soda/checks/orders.yml")
	mock := &mockCmd{}
	runner := NewRunner(fsys, mock, nil, Options{})

	_, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.NoError(t, err)
	require.Len(t, mock.calls, 1)
	assert.Equal(t, DefaultExecutable, mock.calls[0].Name)
}

func TestRunner_Run_ChecksSubpathAndProjectRoot(t *testing.T) {
	fsys := newFakeFS().
		file(testBin).
		file("/srv/dags/include/soda/configuration.yml").
		file("/srv/dags/include/soda/checks/orders.yml").
		file("/srv/dags/include/soda/checks/transform/dim_customer.yml")
	mock := &mockCmd{}
	runner, _ := newTestRunner(fsys, mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{
		ScanName:      "transform",
		ChecksSubpath: "transform",
		ProjectRoot:   "/srv/dags/include",
	})
	require.NoError(t, err)
	assert.Equal(t, "/srv/dags/include/soda/checks/transform", outcome.ChecksDir)
	assert.Equal(t, []string{"dim_customer.yml"}, mock.checkedFiles())
}

func TestRunner_Run_SpawnErrorCountsAsFailure(t *testing.T) {
	mock := &mockCmd{results: map[string]mockResult{
		"customers.yaml": {ExitCode: -1, Err: errors.New("permission denied")},
	}}
	runner, out := newTestRunner(standardFS(), mock, Options{})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "sources"})
	require.ErrorIs(t, err, ErrScanFailed)
	assert.Len(t, mock.calls, 2)
	assert.Equal(t, -1, outcome.Results[0].ExitCode)
	assert.Contains(t, outcome.Results[0].Stderr, "permission denied")
	assert.Contains(t, out.String(), "permission denied")
}

func TestRunner_Run_CancelledContext(t *testing.T) {
	mock := &mockCmd{}
	runner, _ := newTestRunner(standardFS(), mock, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := runner.Run(ctx, Request{ScanName: "sources"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.calls)
	assert.Empty(t, outcome.Results)
}

func TestRunner_Plan(t *testing.T) {
	mock := &mockCmd{}
	runner, out := newTestRunner(standardFS(), mock, Options{})

	plan, err := runner.Plan(Request{ScanName: "sources"})
	require.NoError(t, err)
	assert.Equal(t, testBin, plan.Executable)
	assert.Equal(t, []string{
		filepath.Join("include", "soda", "checks", "customers.yaml"),
		filepath.Join("include", "soda", "checks", "orders.yml"),
	}, plan.CheckFiles)
	assert.Empty(t, mock.calls)
	assert.Empty(t, out.String())
}

func TestSelectConfigPath(t *testing.T) {
	assert.Equal(t, "o.yml", SelectConfigPath("o.yml", "l.yml", "d.yml", true))
	assert.Equal(t, "o.yml", SelectConfigPath("o.yml", "l.yml", "d.yml", false))
	assert.Equal(t, "l.yml", SelectConfigPath("", "l.yml", "d.yml", true))
	assert.Equal(t, "d.yml", SelectConfigPath("", "l.yml", "d.yml", false))
}

func TestIsCheckFile(t *testing.T) {
	assert.True(t, IsCheckFile("orders.yml"))
	assert.True(t, IsCheckFile("orders.yaml"))
	assert.False(t, IsCheckFile("orders.yml.bak"))
	assert.False(t, IsCheckFile("orders.json"))
	assert.False(t, IsCheckFile("yml"))
}

// TestRunner_Run_RealProcess drives ExecRunner and OSFileSystem end to end
// using a shell script standing in for soda.
func TestRunner_Run_RealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	root := t.TempDir()
	checks := filepath.Join(root, "soda", "checks")
	require.NoError(t, os.MkdirAll(checks, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "soda", "configuration.yml"), []byte("data_source retail: {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(checks, "a.yml"), []byte("checks for orders: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(checks, "b.yml"), []byte("checks for fail: []\n"), 0o644))

	bin := filepath.Join(root, "soda-fake")
	script := "#!/bin/sh\n" +
		"echo \"args: $*\"\n" +
		"case \"$6\" in *b.yml) echo 'boom' >&2; exit 3;; esac\n" +
		"exit 0\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	var out bytes.Buffer
	runner := NewRunner(OSFileSystem{}, &ExecRunner{}, &out, Options{Executable: bin})

	outcome, err := runner.Run(context.Background(), Request{ScanName: "real", ProjectRoot: root})
	require.ErrorIs(t, err, ErrScanFailed)
	require.Len(t, outcome.Results, 2)
	assert.True(t, outcome.Results[0].Passed)
	assert.Contains(t, outcome.Results[0].Stdout, "args: scan -d retail -c")
	assert.Equal(t, 3, outcome.Results[1].ExitCode)
	assert.Equal(t, "boom\n", outcome.Results[1].Stderr)
	assert.Contains(t, out.String(), "boom")
}
