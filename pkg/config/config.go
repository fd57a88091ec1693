// Package config loads livevoice settings from an optional YAML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Gemini   GeminiConfig   `yaml:"gemini"`
	Audio    AudioConfig    `yaml:"audio"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Practice PracticeConfig `yaml:"practice"`
}

type GeminiConfig struct {
	APIKey       string `yaml:"api_key"`
	LiveModel    string `yaml:"live_model"`
	TTSModel     string `yaml:"tts_model"`
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`
	// LiveURL and APIURL override the endpoints, mostly for local testing.
	LiveURL string `yaml:"live_url"`
	APIURL  string `yaml:"api_url"`
}

type AudioConfig struct {
	// FrameSize is the number of samples per captured frame.
	FrameSize int `yaml:"frame_size"`
	QueueSize int `yaml:"queue_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	// Addr serves /metrics when non-empty, e.g. ":9090".
	Addr string `yaml:"addr"`
}

type PracticeConfig struct {
	PrepTime   time.Duration `yaml:"prep_time"`
	RecordTime time.Duration `yaml:"record_time"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Gemini: GeminiConfig{
			LiveModel: "gemini-2.0-flash-live-001",
			TTSModel:  "gemini-2.5-flash-preview-tts",
			Voice:     "Kore",
		},
		Audio: AudioConfig{
			FrameSize: 4096,
			QueueSize: 256,
		},
		Log: LogConfig{Level: "info"},
		Practice: PracticeConfig{
			PrepTime:   25 * time.Second,
			RecordTime: 40 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment apply. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults without consulting the
// environment.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"GEMINI_API_KEY":         &cfg.Gemini.APIKey,
		"LIVEVOICE_MODEL":        &cfg.Gemini.LiveModel,
		"LIVEVOICE_TTS_MODEL":    &cfg.Gemini.TTSModel,
		"LIVEVOICE_VOICE":        &cfg.Gemini.Voice,
		"LIVEVOICE_LOG_LEVEL":    &cfg.Log.Level,
		"LIVEVOICE_METRICS_ADDR": &cfg.Metrics.Addr,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("LIVEVOICE_FRAME_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: LIVEVOICE_FRAME_SIZE %q: %w", v, err)
		}
		cfg.Audio.FrameSize = n
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", c.Log.Level))
	}
	if c.Audio.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", c.Audio.FrameSize))
	}
	if c.Audio.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size must not be negative, got %d", c.Audio.QueueSize))
	}
	if c.Gemini.LiveModel == "" {
		errs = append(errs, errors.New("gemini.live_model is required"))
	}
	if c.Practice.PrepTime < 0 || c.Practice.RecordTime < 0 {
		errs = append(errs, errors.New("practice timers must not be negative"))
	}
	return errors.Join(errs...)
}

// RequireAPIKey reports an error when no Gemini key is configured. Commands
// that never reach the API skip it.
func (c *Config) RequireAPIKey() error {
	if c.Gemini.APIKey == "" {
		return errors.New("GEMINI_API_KEY must be set (or gemini.api_key in the config file)")
	}
	return nil
}
