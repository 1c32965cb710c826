// Package config loads the optional kerncheck.yaml settings file.
//
// The file lives in the test root and supplies defaults for run flags.
// Flags set explicitly on the command line win over file values, which win
// over built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is looked up in the test root when no path is given.
const FileName = "kerncheck.yaml"

// Config holds run defaults. Pointer fields distinguish "unset" from zero.
type Config struct {
	Compiler      *string `yaml:"compiler"`
	CompilerFlags *string `yaml:"compiler_flags"`
	TmpDir        *string `yaml:"tmpdir"`
	Jobs          *int    `yaml:"jobs"`
	KGen          *string `yaml:"kgen"`
	LeaveTemp     *bool   `yaml:"leave_temp"`
	DB            *string `yaml:"db"`

	// Path is the file the config was loaded from, empty for defaults.
	Path string `yaml:"-"`
}

// Load reads path strictly. When path is empty, root/kerncheck.yaml is used
// if it exists and an empty Config is returned otherwise.
func Load(path, root string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Decode parses config YAML. Unknown keys are errors.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Jobs != nil && *c.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", *c.Jobs)
	}
	return nil
}

// Resolve makes a relative path from the file relative to the file's
// directory. Paths from flags are left to the caller.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.Path), p)
}

// String returns *p or def when p is nil.
func String(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// Int returns *p or def when p is nil.
func Int(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Bool returns *p or def when p is nil.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
