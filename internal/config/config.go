// Package config resolves runtime settings from defaults, an optional YAML
// file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/fpang/sonic-diagnostic/internal/capture"
	"github.com/fpang/sonic-diagnostic/internal/diagnosis"
	"github.com/fpang/sonic-diagnostic/internal/lang"
)

// Environment variables that override file settings.
const (
	EnvModel          = "GEMINI_MODEL"
	EnvMaxRecording   = "SONIC_MAX_RECORDING"
	EnvMaxUploadBytes = "SONIC_MAX_UPLOAD_BYTES"
	EnvMinProcessing  = "SONIC_MIN_PROCESSING"
	EnvCurrency       = "SONIC_CURRENCY"
	EnvLanguage       = "SONIC_LANGUAGE"
	EnvConfigFile     = "SONIC_CONFIG"
)

// Recording cap bounds.
const (
	MinRecording = 1 * time.Second
	MaxRecording = 15 * time.Second
)

// DefaultMinProcessing is the processing display floor.
const DefaultMinProcessing = 2500 * time.Millisecond

// Config is the resolved runtime configuration.
type Config struct {
	Model          string        `yaml:"model"`
	MaxRecording   time.Duration `yaml:"max_recording"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MinProcessing  time.Duration `yaml:"min_processing"`
	Currency       string        `yaml:"currency"`
	Language       lang.Language `yaml:"language"`
}

// fileConfig is the on-disk shape of Config.
type fileConfig struct {
	Model          string        `yaml:"model"`
	MaxRecording   duration      `yaml:"max_recording"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	MinProcessing  duration      `yaml:"min_processing"`
	Currency       string        `yaml:"currency"`
	Language       lang.Language `yaml:"language"`
}

// duration decodes a YAML scalar with parseDuration.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = duration(v)
	return nil
}

// UnmarshalYAML overlays the keys present in n onto c. Durations accept Go
// syntax or bare seconds.
func (c *Config) UnmarshalYAML(n *yaml.Node) error {
	fc := fileConfig{
		Model:          c.Model,
		MaxRecording:   duration(c.MaxRecording),
		MaxUploadBytes: c.MaxUploadBytes,
		MinProcessing:  duration(c.MinProcessing),
		Currency:       c.Currency,
		Language:       c.Language,
	}
	if err := n.Decode(&fc); err != nil {
		return err
	}
	*c = Config{
		Model:          fc.Model,
		MaxRecording:   time.Duration(fc.MaxRecording),
		MaxUploadBytes: fc.MaxUploadBytes,
		MinProcessing:  time.Duration(fc.MinProcessing),
		Currency:       fc.Currency,
		Language:       fc.Language,
	}
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model:          diagnosis.DefaultModelName,
		MaxRecording:   capture.DefaultMaxDuration,
		MaxUploadBytes: capture.MaxUploadBytes,
		MinProcessing:  DefaultMinProcessing,
		Currency:       diagnosis.DefaultCurrency,
		Language:       lang.Default,
	}
}

// DefaultPath returns ~/.sonic-diagnostic/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sonic-diagnostic", "config.yaml"), nil
}

// Load resolves the configuration. An empty path falls back to SONIC_CONFIG
// and then DefaultPath; a missing default file is not an error, but a
// missing explicit file is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigFile); env != "" {
			path, explicit = env, true
		} else if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
			log.Debug().Str("file", path).Msg("Config file loaded")
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := getenv(EnvCurrency); v != "" {
		c.Currency = strings.ToUpper(strings.TrimSpace(v))
	}
	if v := getenv(EnvLanguage); v != "" {
		l, err := lang.Parse(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLanguage, err)
		}
		c.Language = l
	}
	if v := getenv(EnvMaxRecording); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRecording, err)
		}
		c.MaxRecording = d
	}
	if v := getenv(EnvMinProcessing); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMinProcessing, err)
		}
		c.MinProcessing = d
	}
	if v := getenv(EnvMaxUploadBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxUploadBytes, err)
		}
		c.MaxUploadBytes = n
	}
	return nil
}

// parseDuration accepts Go durations ("12s") and bare seconds ("12").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

// Validate checks the caps. The upload cap may be lowered but never raised
// above the inline request limit.
func (c Config) Validate() error {
	if c.MaxRecording < MinRecording || c.MaxRecording > MaxRecording {
		return fmt.Errorf("max recording %s must be between %s and %s", c.MaxRecording, MinRecording, MaxRecording)
	}
	if c.MaxUploadBytes <= 0 || c.MaxUploadBytes > capture.MaxUploadBytes {
		return fmt.Errorf("max upload bytes %d must be between 1 and %d", c.MaxUploadBytes, capture.MaxUploadBytes)
	}
	if c.MinProcessing < 0 {
		return fmt.Errorf("min processing %s must not be negative", c.MinProcessing)
	}
	if c.Model == "" {
		return errors.New("model must not be empty")
	}
	if !c.Language.Valid() {
		return fmt.Errorf("unsupported language %q", c.Language)
	}
	return nil
}

// Limits returns the capture limits derived from c.
func (c Config) Limits() capture.Limits {
	l := capture.DefaultLimits()
	l.MaxDuration = c.MaxRecording
	l.MaxSizeBytes = c.MaxUploadBytes
	return l
}

// RequesterOptions returns the diagnosis options derived from c.
func (c Config) RequesterOptions() []diagnosis.Option {
	return []diagnosis.Option{
		diagnosis.WithModel(c.Model),
		diagnosis.WithCurrency(c.Currency),
		diagnosis.WithLanguage(c.Language),
	}
}
