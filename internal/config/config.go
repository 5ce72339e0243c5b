// Package config loads cdfwd configuration from a YAML file, a .env file and
// CDFWD_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CDFWD"

// AppConfig holds all application configuration.
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Validation ValidationConfig `mapstructure:"validation"`
	Jira       JiraConfig       `mapstructure:"jira"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig is a token bucket shared by all inbound requests.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string            `mapstructure:"level"`
	Format string            `mapstructure:"format"` // "json" or "console"
	Output []LogOutputConfig `mapstructure:"output"`
	Levels map[string]string `mapstructure:"levels"`
	Caller bool              `mapstructure:"caller"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "console" or "file"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`
	Rotate  LogRotateConfig `mapstructure:"rotate"`
}

type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// IngestConfig bounds the side effects of one delivery.
type IngestConfig struct {
	SideEffectTimeout time.Duration `mapstructure:"side_effect_timeout"`
}

type PubSubConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ProjectID    string        `mapstructure:"project_id"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchBytes   int           `mapstructure:"batch_bytes"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// ArchiveConfig points at an S3 compatible bucket for webhook records.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	CreateBucket bool   `mapstructure:"create_bucket"`
}

type ValidationConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type JiraConfig struct {
	Statuses JiraStatusConfig `mapstructure:"statuses"`
}

// JiraStatusConfig lists the workflow statuses of each pipeline phase. Empty
// lists keep the built-in defaults.
type JiraStatusConfig struct {
	Queued     []string `mapstructure:"queued"`
	InProgress []string `mapstructure:"in_progress"`
	Completed  []string `mapstructure:"completed"`
}

type KubernetesConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Kubeconfig string        `mapstructure:"kubeconfig"`
	Cluster    string        `mapstructure:"cluster"`
	Namespace  string        `mapstructure:"namespace"`
	Resync     time.Duration `mapstructure:"resync"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// NewConfig creates a new AppConfig by reading from a file, environment
// variables and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	// A missing .env file is the normal case outside development.
	_ = godotenv.Load()

	cfg := defaultConfig()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/cdfwd/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so AutomaticEnv can override values absent from
	// the config file.
	var defaults map[string]any
	if err := mapstructure.Decode(cfg, &defaults); err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    5 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   100,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: []LogOutputConfig{
				{Type: "console", Enabled: true},
			},
		},
		Ingest: IngestConfig{
			SideEffectTimeout: 30 * time.Second,
		},
		PubSub: PubSubConfig{
			Topic:        "cdevents",
			BatchSize:    100,
			BatchBytes:   1000000,
			BatchTimeout: 100 * time.Millisecond,
			BufferSize:   1000,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "cdevents",
			MaxLen: 10000,
		},
		Archive: ArchiveConfig{
			Endpoint:     "localhost:9000",
			Bucket:       "cdfwd-webhooks",
			CreateBucket: true,
		},
		Validation: ValidationConfig{
			Timeout: 5 * time.Second,
		},
		Kubernetes: KubernetesConfig{
			Cluster: "unknown",
			Resync:  10 * time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "cdfwd",
			SampleRatio: 1,
		},
	}
}

func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got: %s", c.Log.Format)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		return errors.New("server.rate_limit requires positive rps and burst")
	}

	if c.PubSub.Enabled && c.PubSub.Topic == "" {
		return errors.New("pubsub.topic is required")
	}
	if c.Redis.Enabled && c.Redis.Stream == "" {
		return errors.New("redis.stream is required")
	}
	if c.Archive.Enabled && (c.Archive.Endpoint == "" || c.Archive.Bucket == "") {
		return errors.New("archive.endpoint and archive.bucket are required")
	}
	if c.Validation.Enabled {
		u, err := url.Parse(c.Validation.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid validation.base_url: %q", c.Validation.BaseURL)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got: %v", c.Tracing.SampleRatio)
	}
	return nil
}
