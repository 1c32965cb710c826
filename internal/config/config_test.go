package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultFileInRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
compiler: gfortran
compiler_flags: -O2 -g
jobs: 4
leave_temp: true
`), 0o644))

	cfg, err := Load("", root)
	require.NoError(t, err)

	assert.Equal(t, "gfortran", String(cfg.Compiler, "ifort"))
	assert.Equal(t, "-O2 -g", String(cfg.CompilerFlags, ""))
	assert.Equal(t, 4, Int(cfg.Jobs, 1))
	assert.True(t, Bool(cfg.LeaveTemp, false))
	assert.Equal(t, "kgen", String(cfg.KGen, "kgen"))
	assert.Equal(t, filepath.Join(root, FileName), cfg.Path)
}

func TestLoad_MissingDefaultIsEmpty(t *testing.T) {
	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg.Compiler)
	assert.Empty(t, cfg.Path)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}

func TestDecode_EmptyAndZeroValues(t *testing.T) {
	cfg, err := Decode(nil)
	require.NoError(t, err)
	assert.Nil(t, cfg.Jobs)

	// An explicit empty string is set, not absent.
	cfg, err = Decode([]byte("compiler_flags: \"\"\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.CompilerFlags)
	assert.Equal(t, "", String(cfg.CompilerFlags, "-O3"))
}

func TestDecode_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key": "compilr: ifort\n",
		"bad jobs":    "jobs: 0\n",
		"wrong type":  "jobs: many\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	cfg := &Config{Path: filepath.Join("/suite", FileName)}
	assert.Equal(t, filepath.Join("/suite", ".kerncheck", "history.db"), cfg.Resolve(".kerncheck/history.db"))
	assert.Equal(t, "/var/db/history.db", cfg.Resolve("/var/db/history.db"))
	assert.Equal(t, "", cfg.Resolve(""))

	var defaults Config
	assert.Equal(t, "history.db", defaults.Resolve("history.db"))
}
