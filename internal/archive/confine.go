// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for a name that would land outside its folder.
var ErrOutsideRoot = errors.New("path escapes archive folder")

// Confine returns dir/name if it stays inside the session folder after
// cleaning and symlink resolution. Names come from remote playlists.
func (s *Session) Confine(name string) (string, error) {
	return ConfineRelPath(s.Dir, name)
}

// ConfineRelPath joins root and rel and verifies the result is physically underneath root.
// Backslashes and absolute targets are rejected.
func ConfineRelPath(root, rel string) (string, error) {
	if strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrOutsideRoot, rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute path %q", ErrOutsideRoot, rel)
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}
	return resolveWithin(realRoot, filepath.Join(realRoot, clean))
}

// resolveWithin resolves symlinks of full (or of its parent when full does not exist yet)
// and checks the result is still under realRoot.
func resolveWithin(realRoot, full string) (string, error) {
	var realPath string
	if _, err := os.Lstat(full); err == nil {
		rp, err := filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = rp
	} else {
		dir := filepath.Dir(full)
		rp, err := filepath.EvalSymlinks(dir)
		if err != nil {
			if _, statErr := os.Stat(dir); statErr == nil {
				return "", fmt.Errorf("failed to resolve parent path: %w", err)
			}
			realPath = full
		} else {
			realPath = filepath.Join(rp, filepath.Base(full))
		}
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w via symlink: %s", ErrOutsideRoot, realPath)
	}
	return realPath, nil
}
