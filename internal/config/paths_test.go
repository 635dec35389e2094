// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/credkeep/internal/config"
)

func TestDir(t *testing.T) {
	t.Run("uses XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		assert.Equal(t, "/custom/config/credkeep", config.Dir())
	})

	t.Run("falls back to HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/ann")
		assert.Equal(t, "/home/ann/.config/credkeep", config.Dir())
	})
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	assert.Empty(t, config.ResolvePath(""), "no default file")
	assert.Equal(t, "/etc/credkeep.yaml", config.ResolvePath("/etc/credkeep.yaml"))

	dir := filepath.Join(base, "credkeep")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: memory\n"), 0o600))

	assert.Equal(t, filepath.Join(dir, "config.yaml"), config.ResolvePath(""))
	assert.Equal(t, "/etc/credkeep.yaml", config.ResolvePath("/etc/credkeep.yaml"), "explicit path wins")
}
