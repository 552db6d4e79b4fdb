package scan

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"
)

// fakeFS is an in-memory FileSystem. Keys are cleaned paths; the value
// reports whether the path is a directory.
type fakeFS struct {
	nodes map[string]bool
}

func newFakeFS() *fakeFS {
	return &fakeFS{nodes: make(map[string]bool)}
}

// file adds a regular file and all of its parent directories.
func (f *fakeFS) file(path string) *fakeFS {
	path = filepath.Clean(path)
	f.nodes[path] = false
	f.parents(path)
	return f
}

// dir adds a directory and all of its parents.
func (f *fakeFS) dir(path string) *fakeFS {
	path = filepath.Clean(path)
	f.nodes[path] = true
	f.parents(path)
	return f
}

func (f *fakeFS) parents(path string) {
	for p := filepath.Dir(path); p != "." && p != "/"; p = filepath.Dir(p) {
		f.nodes[p] = true
	}
}

func (f *fakeFS) Stat(path string) (fs.FileInfo, error) {
	isDir, ok := f.nodes[filepath.Clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
	return fakeInfo{name: filepath.Base(path), dir: isDir}, nil
}

// ReadDir returns entries in map order so tests catch missing sorting.
func (f *fakeFS) ReadDir(path string) ([]fs.DirEntry, error) {
	path = filepath.Clean(path)
	isDir, ok := f.nodes[path]
	if !ok || !isDir {
		return nil, &fs.PathError{Op: "readdir", Path: path, Err: fs.ErrNotExist}
	}
	var entries []fs.DirEntry
	for p, d := range f.nodes {
		if filepath.Dir(p) == path {
			entries = append(entries, fs.FileInfoToDirEntry(fakeInfo{name: filepath.Base(p), dir: d}))
		}
	}
	return entries, nil
}

type fakeInfo struct {
	name string
	dir  bool
}

func (i fakeInfo) Name() string       { return i.name }
func (i fakeInfo) Size() int64        { return 0 }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return i.dir }
func (i fakeInfo) Sys() any           { return nil }
func (i fakeInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// mockCmd records calls and returns configured results keyed by check file
// base name. Files without an entry exit 0.
type mockCmd struct {
	calls   []mockCall
	results map[string]mockResult
}

type mockCall struct {
	Name string
	Args []string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, name string, args []string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Name: name, Args: args})
	if len(args) == 0 {
		return "", "", 0, nil
	}
	r, ok := m.results[filepath.Base(args[len(args)-1])]
	if !ok {
		return "ok", "", 0, nil
	}
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

// checkedFiles returns the base names of the check files passed to each call.
func (m *mockCmd) checkedFiles() []string {
	var names []string
	for _, c := range m.calls {
		names = append(names, filepath.Base(c.Args[len(c.Args)-1]))
	}
	return names
}
