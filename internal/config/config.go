package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"partigrab/internal/adapters/ffmpeg"
	"partigrab/internal/adapters/hls"
	"partigrab/internal/adapters/parti"
	"partigrab/internal/core/domain"
	"partigrab/internal/httpclient"
)

const envVarPrefix = "PARTIGRAB"

// Config is read from PARTIGRAB_* environment variables; command line
// flags override individual fields.
type Config struct {
	APIBaseURL   string        `envconfig:"API_BASE_URL"`
	WatchBaseURL string        `envconfig:"WATCH_BASE_URL"`
	UserAgent    string        `envconfig:"USER_AGENT"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT"`
	FFmpegCache  string        `envconfig:"FFMPEG_CACHE"`
	FFmpegPath   string        `envconfig:"FFMPEG_PATH"`
	OutputDir    string        `envconfig:"OUTPUT_DIR"`
	Format       string        `envconfig:"FORMAT"`
	SaveMetadata bool          `envconfig:"SAVE_METADATA"`
	MetricsAddr  string        `envconfig:"METRICS_ADDR"`
	LogFile      string        `envconfig:"LOG_FILE"`
}

// Load reads the environment and fills in defaults for empty fields. It does
// not validate: flags may still override fields, so callers run Validate once
// the final values are in place.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("reading %s_* environment: %w", envVarPrefix, err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = parti.DefaultAPIBaseURL
	}
	if c.WatchBaseURL == "" {
		c.WatchBaseURL = hls.DefaultWatchBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = httpclient.DefaultUserAgent
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = httpclient.DefaultTimeout
	}
	if c.FFmpegCache == "" {
		c.FFmpegCache = ffmpeg.DefaultCacheDir
	}
	if c.Format == "" {
		c.Format = string(domain.FormatTS)
	}
}

// Validate checks fields that flags may have overridden.
func (c *Config) Validate() error {
	if _, err := domain.ParseFormat(c.Format); err != nil {
		return err
	}
	return nil
}

// OutputFormat returns the parsed Format.
func (c *Config) OutputFormat() domain.Format {
	f, err := domain.ParseFormat(c.Format)
	if err != nil {
		return domain.FormatTS
	}
	return f
}
