package scan

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationNotFound   = errors.New("soda configuration not found")
	ErrChecksDirectoryNotFound = errors.New("soda checks directory not found")
	ErrNoCheckFilesFound       = errors.New("no soda check files found")
	ErrExecutableNotFound      = errors.New("soda binary not found")
	ErrScanFailed              = errors.New("one or more soda core scans failed")
)

// PathError reports a precondition failure for a specific path.
// It unwraps to one of the Err* sentinels above.
type PathError struct {
	Kind error
	Path string
}

func (e *PathError) Error() string {
	if errors.Is(e.Kind, ErrExecutableNotFound) {
		return fmt.Sprintf("%s at %q (set SODA_BIN if installed elsewhere)", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Kind
}
