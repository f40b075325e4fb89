// Package config implements the journal's layered configuration: viper
// for sources (file, env, flags), mapstructure decode hooks for
// ByteSize and time.Duration, and go-playground/validator for the
// resulting struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/factual/s3journal/internal/bytesize"
	"github.com/factual/s3journal/internal/logger"
	"github.com/factual/s3journal/internal/telemetry"
)

// EnvPrefix is the environment variable prefix viper binds every field
// under, e.g. S3JOURNAL_S3_BUCKET.
const EnvPrefix = "S3JOURNAL"

// Config is the journal's full external configuration, per spec.md §6.
type Config struct {
	// S3 connection settings.
	S3Bucket       string `mapstructure:"s3_bucket" validate:"required"`
	S3Region       string `mapstructure:"s3_region" validate:"required"`
	S3Endpoint     string `mapstructure:"s3_endpoint"`
	S3AccessKey    string `mapstructure:"s3_access_key" yaml:"-"`
	S3SecretKey    string `mapstructure:"s3_secret_key" yaml:"-"`
	S3UsePathStyle bool   `mapstructure:"s3_use_path_style"`

	// Directory formatting and object layout.
	S3DirectoryFormat string `mapstructure:"s3_directory_format" validate:"required"`
	ID                string `mapstructure:"id" validate:"required"`

	// Local durable queue.
	LocalDirectory string `mapstructure:"local_directory" validate:"required"`
	FsyncPerPut    bool   `mapstructure:"fsync_per_put"`

	// Encoder pipeline.
	Encoder     string            `mapstructure:"encoder"`
	Compressor  string            `mapstructure:"compressor" validate:"omitempty,oneof=identity gzip snappy lzma2"`
	Delimiter   byte              `mapstructure:"delimiter"`

	// Batcher.
	MaxBatchSize    int                   `mapstructure:"max_batch_size" validate:"required,gt=0"`
	MaxBatchLatency time.Duration         `mapstructure:"max_batch_latency" validate:"required,gt=0"`

	// Multipart sizing.
	MinPartSize     bytesize.ByteSize `mapstructure:"min_part_size"`
	MaxPartsPerFile uint64            `mapstructure:"max_parts_per_file"`

	// Sharding.
	Shards int `mapstructure:"shards" validate:"required,gt=0"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LoggingConfig mirrors internal/logger.Config for config-file binding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ToLoggerConfig converts to the logger package's native config type.
func (c LoggingConfig) ToLoggerConfig() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

// TelemetryConfig mirrors internal/telemetry.Config for config-file binding.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceVersion string  `mapstructure:"service_version"`
	Endpoint       string  `mapstructure:"endpoint"`
	Insecure       bool    `mapstructure:"insecure"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// ToTelemetryConfig converts to the telemetry package's native config type.
func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	d := telemetry.DefaultConfig()
	d.Enabled = c.Enabled
	if c.ServiceVersion != "" {
		d.ServiceVersion = c.ServiceVersion
	}
	if c.Endpoint != "" {
		d.Endpoint = c.Endpoint
	}
	d.Insecure = c.Insecure
	if c.SampleRate != 0 {
		d.SampleRate = c.SampleRate
	}
	return d
}

// ProfilingConfig mirrors internal/telemetry.ProfilingConfig for
// config-file binding.
type ProfilingConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ServiceVersion string   `mapstructure:"service_version"`
	Endpoint       string   `mapstructure:"endpoint"`
	ProfileTypes   []string `mapstructure:"profile_types"`
}

// ToProfilingConfig converts to the telemetry package's native config type.
func (c ProfilingConfig) ToProfilingConfig() telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Enabled,
		ServiceName:    "s3journal",
		ServiceVersion: c.ServiceVersion,
		Endpoint:       c.Endpoint,
		ProfileTypes:   c.ProfileTypes,
	}
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ApplyDefaults fills in the journal's documented defaults (spec.md §6)
// for every field viper did not see set. Defaults are registered with
// viper before Unmarshal rather than baked into struct tags, so Unmarshal
// resolves every unset field to its default.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("s3_directory_format", "2006/01/02")
	v.SetDefault("s3_use_path_style", false)
	v.SetDefault("fsync_per_put", true)
	v.SetDefault("encoder", "")
	v.SetDefault("compressor", "identity")
	v.SetDefault("delimiter", '\n')
	v.SetDefault("max_batch_size", 1000)
	v.SetDefault("max_batch_latency", "1s")
	v.SetDefault("min_part_size", "5Mi")
	v.SetDefault("max_parts_per_file", 500)
	v.SetDefault("shards", 1)

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("profiling.enabled", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")
}

// decodeHook composes the mapstructure decode hooks the journal's config
// needs: ByteSize's TextUnmarshaler and mapstructure's string-to-duration
// hook for time.Duration fields.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Load reads configuration from an optional file at path (if non-empty),
// layers in S3JOURNAL_-prefixed environment variables, applies defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	ApplyDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs go-playground/validator over cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}
