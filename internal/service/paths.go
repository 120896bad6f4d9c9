package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathValidator keeps every input and output path inside one working directory
type PathValidator struct {
	directory string
}

// NewPathValidator creates a path validator rooted at directory
func NewPathValidator(directory string) (*PathValidator, error) {
	if directory == "" {
		return nil, fmt.Errorf("working directory cannot be empty")
	}

	abs, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	return &PathValidator{directory: filepath.Clean(abs)}, nil
}

// Directory returns the absolute working directory
func (v *PathValidator) Directory() string {
	return v.directory
}

// Resolve returns the absolute form of path, joined to the working
// directory when relative, and rejects anything that escapes it.
func (v *PathValidator) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(v.directory, path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !v.Contains(absPath) {
		return "", fmt.Errorf("path is outside working directory: %s", path)
	}

	return absPath, nil
}

// Contains reports whether an absolute path lies within the working
// directory. Symlinks are resolved on both sides when they exist.
func (v *PathValidator) Contains(absPath string) bool {
	cleanPath := filepath.Clean(absPath)

	realPath := cleanPath
	if info, err := os.Lstat(cleanPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if resolved, err := filepath.EvalSymlinks(cleanPath); err == nil {
			realPath = resolved
		}
	}

	realDir := v.directory
	if resolved, err := filepath.EvalSymlinks(v.directory); err == nil {
		realDir = resolved
	}

	within := func(p string) bool {
		return isWithin(p, v.directory) || isWithin(p, realDir)
	}

	return within(cleanPath) && within(realPath)
}

func isWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	withSep := dir
	if !strings.HasSuffix(withSep, string(filepath.Separator)) {
		withSep += string(filepath.Separator)
	}
	return strings.HasPrefix(path, withSep)
}
