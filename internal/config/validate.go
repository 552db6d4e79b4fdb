package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a ProjectConfig for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *ProjectConfig) []ValidationError {
	var errs []ValidationError
	p := cfg.Project

	names := make(map[string]bool)
	for i, s := range p.Scans {
		prefix := fmt.Sprintf("project.scans[%d]", i)

		if s.Name == "" {
			errs = append(errs, ValidationError{Field: prefix + ".name", Message: "is required"})
		} else if names[s.Name] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".name",
				Message: fmt.Sprintf("duplicate scan name %q", s.Name),
			})
		}
		names[s.Name] = true

		if msg := CheckSubpath(s.Checks); msg != "" {
			errs = append(errs, ValidationError{Field: prefix + ".checks", Message: msg})
		}
	}

	return errs
}

// CheckSubpath rejects subpaths that would escape the checks directory.
// It returns an empty string for an acceptable subpath.
func CheckSubpath(sub string) string {
	if sub == "" {
		return ""
	}
	if filepath.IsAbs(sub) || strings.HasPrefix(sub, "/") {
		return fmt.Sprintf("must be relative to soda/checks, got %q", sub)
	}
	for _, part := range strings.Split(filepath.ToSlash(sub), "/") {
		if part == ".." {
			return fmt.Sprintf("must not contain '..', got %q", sub)
		}
	}
	return ""
}
