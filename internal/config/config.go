// Package config loads gateway settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DotenvFiles are overlaid onto the environment in order when present.
var DotenvFiles = []string{".env.default", ".env.local"}

type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	CacheDir string `envconfig:"CACHE_DIR" default:"./audio-cache"`

	ProgressBackend string        `envconfig:"PROGRESS_BACKEND" default:"memory"`
	ProgressTTL     time.Duration `envconfig:"PROGRESS_TTL" default:"1h"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPass       string        `envconfig:"REDIS_PASS"`

	SynthBaseURL    string        `envconfig:"SYNTH_BASE_URL"`
	SynthAPIKey     string        `envconfig:"SYNTH_API_KEY"`
	SynthPath       string        `envconfig:"SYNTH_PATH"`
	SynthTimeout    time.Duration `envconfig:"SYNTH_TIMEOUT" default:"60s"`
	SynthMaxRetries int           `envconfig:"SYNTH_MAX_RETRIES" default:"2"`
	SynthRateLimit  float64       `envconfig:"SYNTH_RATE_LIMIT" default:"0"`

	PrecacheBatchWidth int `envconfig:"PRECACHE_BATCH_WIDTH" default:"5"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"120s"`
	MaxBodyBytes   int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// Load overlays the dotenv files that exist, then reads the environment.
func Load() (*Config, error) {
	var files []string
	for _, f := range DotenvFiles {
		if fileExists(f) {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		if err := godotenv.Overload(files...); err != nil {
			return nil, fmt.Errorf("config: load dotenv: %w", err)
		}
	}

	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("config: read environment: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.New("CACHE_DIR cannot be empty"))
	}
	switch c.ProgressBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR cannot be empty when PROGRESS_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("PROGRESS_BACKEND must be memory or redis, got %q", c.ProgressBackend))
	}
	if c.SynthRateLimit < 0 {
		errs = append(errs, errors.New("SYNTH_RATE_LIMIT cannot be negative"))
	}
	if c.PrecacheBatchWidth <= 0 {
		errs = append(errs, errors.New("PRECACHE_BATCH_WIDTH must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateSynth is needed only by commands that synthesize audio.
func (c *Config) ValidateSynth() error {
	if c.SynthBaseURL == "" {
		return errors.New("SYNTH_BASE_URL cannot be empty")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
