// Package config loads orchestrate.yaml.
//
// Every field has a default, so a missing file is not an error. Values are
// checked with validator struct tags after the file is merged over the
// defaults; command-line flags are applied on top by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in <workdir>/.obot.
const FileName = "orchestrate.yaml"

// DefaultDir is the per-workdir directory holding sessions and config.
const DefaultDir = ".obot"

// Config is the orchestrate configuration.
type Config struct {
	// SessionRoot holds one directory per session. Relative paths are
	// resolved against Workdir.
	SessionRoot string `yaml:"session_root" validate:"required"`

	// Workdir is the directory the agent edits.
	Workdir string `yaml:"workdir" validate:"required"`

	// Ignore lists extra path patterns left out of trees and diffs.
	Ignore []string `yaml:"ignore" validate:"dive,required"`

	// DiffContext is the number of context lines in captured diffs.
	DiffContext int `yaml:"diff_context" validate:"gte=0,lte=64"`

	// Compression is the gzip level of checkpoint archives.
	Compression int `yaml:"compression" validate:"gte=-2,lte=9"`

	// Workers bounds parallel hashing and diffing. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=256"`

	Log Log `yaml:"log"`

	// MetricsOut, when set, receives the session metrics in Prometheus
	// text format after every command.
	MetricsOut string `yaml:"metrics_out"`
}

// Log configures the CLI log handler.
type Log struct {
	Format string `yaml:"format" validate:"oneof=text json"`
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		SessionRoot: filepath.Join(DefaultDir, "sessions"),
		Workdir:     ".",
		DiffContext: 3,
		Compression: 6,
		Log:         Log{Format: "text", Level: "info"},
	}
}

// Path returns the default config location for workdir.
func Path(workdir string) string {
	return filepath.Join(workdir, DefaultDir, FileName)
}

// Load reads path over the defaults. A missing file yields the defaults
// unless required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	if err := cfg.decode(r); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the struct tags and reports every failing field.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fieldRule(fe), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// ResolvedSessionRoot returns SessionRoot as an absolute path, relative
// roots being taken from Workdir.
func (c Config) ResolvedSessionRoot() (string, error) {
	root := c.SessionRoot
	if !filepath.IsAbs(root) {
		root = filepath.Join(c.Workdir, root)
	}
	return filepath.Abs(root)
}

// Marshal renders c as YAML, as written by "orchestrate init --write-config".
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
