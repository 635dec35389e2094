// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const appName = "credkeep"

// Dir returns the XDG config directory for credkeep.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultPath returns Dir()/config.yaml if that file exists, else "".
func DefaultPath() string {
	path := filepath.Join(Dir(), "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return path
}

// ResolvePath returns explicit when set, otherwise DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return DefaultPath()
}
