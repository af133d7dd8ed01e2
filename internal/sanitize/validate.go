// Package sanitize validates untrusted identifiers and paths before they
// reach the store or the filesystem.
package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Validation errors.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidName indicates a skill name is empty or malformed.
	ErrInvalidName = errors.New("invalid skill name")
)

// MaxSkillNameLength bounds skill names. Names are used as URL path
// segments and registry keys.
const MaxSkillNameLength = 128

// skillNamePattern allows letters, digits, dots, underscores, dashes and
// colons, starting with a letter or digit.
var skillNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)

// SkillName trims surrounding whitespace and checks the result is a
// usable skill name.
func SkillName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: name is required", ErrInvalidName)
	case len(name) > MaxSkillNameLength:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxSkillNameLength)
	case strings.Contains(name, ".."):
		return "", fmt.Errorf("%w: contains '..'", ErrInvalidName)
	case !skillNamePattern.MatchString(name):
		return "", fmt.Errorf("%w: %q has characters outside [A-Za-z0-9._:-]", ErrInvalidName, name)
	}
	return name, nil
}

// FilePath checks an operator-supplied file path for traversal and
// returns it cleaned and absolute.
func FilePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return abs, nil
}
