// Package pathguard resolves caller-supplied relative paths against a base
// directory and rejects anything that would land outside it.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesBase is returned when a relative path resolves outside its base.
	ErrEscapesBase = errors.New("path escapes base directory")

	// ErrInvalidName is returned for names that cannot be a single path element.
	ErrInvalidName = errors.New("invalid name")
)

// Resolve joins rel onto base, normalizes the result and verifies it is base
// itself or a descendant of it. Absolute rel values are treated as relative to
// base. Both slash and OS separators are accepted in rel.
func Resolve(base, rel string) (string, error) {
	cleanBase := filepath.Clean(base)
	target := filepath.Join(cleanBase, filepath.FromSlash(rel))

	r, err := filepath.Rel(cleanBase, target)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrEscapesBase, rel)
	}
	if r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesBase, rel)
	}
	return target, nil
}

// Relative returns target's slash-separated path relative to base, or "" for base itself.
func Relative(base, target string) string {
	r, err := filepath.Rel(base, target)
	if err != nil || r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

// ValidateName checks that name is usable as a single directory entry:
// non-blank, not "." or "..", and free of path separators and NUL bytes.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: blank", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	return nil
}
