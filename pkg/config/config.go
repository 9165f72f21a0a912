// Package config loads the bot configuration from a YAML file, an optional
// .env file and the process environment, in increasing order of precedence
// for secrets.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/clinicapro/cardiobot/internal/adapters/records"
	"github.com/clinicapro/cardiobot/pkg/session"
)

// MaxFileSize bounds the configuration file.
const MaxFileSize = 1 << 20

// DotEnvFile is read by Load when it exists.
const DotEnvFile = ".env"

// Config represents the application configuration
type Config struct {
	Completion    CompletionConfig    `yaml:"completion"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Dialogue      DialogueConfig      `yaml:"dialogue"`
	Channel       ChannelConfig       `yaml:"channel"`
	Session       session.Config      `yaml:"session"`
	Records       records.Config      `yaml:"records"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Imaging       ImagingConfig       `yaml:"imaging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// CompletionConfig selects the language-model backend.
type CompletionConfig struct {
	Provider    string        `yaml:"provider"` // openai, bedrock or gemini
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Region      string        `yaml:"region"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// PipelineConfig tunes case admission and the shared throughput budget.
type PipelineConfig struct {
	Catalog                   string        `yaml:"catalog"`
	MinCaseLength             int           `yaml:"min_case_length"`
	MinCaseLengthWithPreamble int           `yaml:"min_case_length_with_preamble"`
	OpsPerWindow              int           `yaml:"ops_per_window"`
	Window                    time.Duration `yaml:"window"`
	Burst                     int           `yaml:"burst"`
	// GuardThreshold is the score at which case text is refused as prompt
	// manipulation. 0 disables screening.
	GuardThreshold float64 `yaml:"guard_threshold"`
}

// DialogueConfig tunes field validation.
type DialogueConfig struct {
	MinPasswordLength int `yaml:"min_password_length"`
}

// ChannelConfig tunes delivery and media handling.
type ChannelConfig struct {
	ChunkCeiling   int           `yaml:"chunk_ceiling"`
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	MediaDir       string        `yaml:"media_dir"`
	// MaxMediaSize is a human-readable size such as "20MB".
	MaxMediaSize  string        `yaml:"max_media_size"`
	MediaPurgeAge time.Duration `yaml:"media_purge_age"`
	UserID        string        `yaml:"user_id"`
}

// MaxMediaBytes parses MaxMediaSize.
func (c ChannelConfig) MaxMediaBytes() (int64, error) {
	if c.MaxMediaSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxMediaSize)
	if err != nil {
		return 0, fmt.Errorf("channel.max_media_size: %w", err)
	}
	return int64(n), nil
}

// TranscriptionConfig configures the speech-to-text adapter.
type TranscriptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Model     string `yaml:"model"`
	Language  string `yaml:"language"`
	MinLength int    `yaml:"min_length"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
}

// ImagingConfig configures the image-analysis adapter.
type ImagingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // openai or gemini
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	MetricsPort int           `yaml:"metrics_port"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlp
	Endpoint string `yaml:"endpoint"`
	Headers  string `yaml:"headers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Completion: CompletionConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			CallTimeout: 120 * time.Second,
		},
		Pipeline: PipelineConfig{
			Catalog:                   "cardio",
			MinCaseLength:             40,
			MinCaseLengthWithPreamble: 20,
			OpsPerWindow:              30,
			Window:                    time.Minute,
			Burst:                     1,
			GuardThreshold:            0.9,
		},
		Dialogue: DialogueConfig{MinPasswordLength: 8},
		Channel: ChannelConfig{
			ChunkCeiling:   4096,
			AdapterTimeout: 90 * time.Second,
			MaxMediaSize:   "20MB",
			MediaPurgeAge:  time.Hour,
		},
		Session: session.DefaultConfig(),
		Records: records.Config{Store: records.StoreMemory},
		Transcription: TranscriptionConfig{
			Enabled:   true,
			Model:     "whisper-1",
			Language:  "pt",
			MinLength: 20,
		},
		Imaging: ImagingConfig{
			Enabled:  true,
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9090,
			LogLevel:    "info",
			LogFormat:   "json",
			Tracing:     TracingConfig{Exporter: "none"},
		},
	}
}

// Load reads .env when present, then the YAML file at path over the
// defaults, then the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := LoadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := readLimited(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadDotEnv exports the variables of each existing file. Variables already
// set in the environment win.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("config file too large (max %s)", humanize.IBytes(MaxFileSize))
	}
	return data, nil
}

// applyEnv fills unset secrets and endpoints from the environment. LOG_LEVEL
// overrides the file.
func (c *Config) applyEnv() {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	geminiKey := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")

	if c.Completion.APIKey == "" {
		switch c.Completion.Provider {
		case "openai":
			c.Completion.APIKey = openaiKey
		case "gemini":
			c.Completion.APIKey = geminiKey
		}
	}
	setIfEmpty(&c.Completion.Region, firstEnv("AWS_REGION", "AWS_DEFAULT_REGION"))

	setIfEmpty(&c.Transcription.APIKey, openaiKey)
	if c.Imaging.APIKey == "" {
		switch c.Imaging.Provider {
		case "openai":
			c.Imaging.APIKey = openaiKey
		case "gemini":
			c.Imaging.APIKey = geminiKey
		}
	}

	setIfEmpty(&c.Session.Redis.Addr, os.Getenv("REDIS_ADDR"))
	setIfEmpty(&c.Session.Redis.Password, os.Getenv("REDIS_PASSWORD"))

	setIfEmpty(&c.Records.GCPProject, os.Getenv("GCP_PROJECT"))
	setIfEmpty(&c.Records.CredentialsFile, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))

	setIfEmpty(&c.Observability.Tracing.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Observability.LogLevel = lvl
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks if the configuration is valid. All problems are reported.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.Completion.Provider, "openai", "bedrock", "gemini"),
		"completion.provider %q is not one of openai, bedrock, gemini", c.Completion.Provider)
	check(c.Completion.Provider == "bedrock" || c.Completion.APIKey != "",
		"completion.api_key is required for %s", c.Completion.Provider)
	check(c.Completion.CallTimeout > 0, "completion.call_timeout must be positive")

	check(c.Pipeline.Catalog != "", "pipeline.catalog is required")
	check(c.Pipeline.MinCaseLength > 0, "pipeline.min_case_length must be positive")
	check(c.Pipeline.MinCaseLengthWithPreamble > 0, "pipeline.min_case_length_with_preamble must be positive")
	check(c.Pipeline.OpsPerWindow >= 0, "pipeline.ops_per_window must not be negative")
	check(c.Pipeline.OpsPerWindow == 0 || c.Pipeline.Window > 0, "pipeline.window must be positive")
	check(c.Pipeline.GuardThreshold >= 0 && c.Pipeline.GuardThreshold <= 1, "pipeline.guard_threshold must be between 0 and 1")

	check(c.Dialogue.MinPasswordLength > 0, "dialogue.min_password_length must be positive")

	check(c.Channel.ChunkCeiling >= 64, "channel.chunk_ceiling must be at least 64")
	check(c.Channel.AdapterTimeout > 0, "channel.adapter_timeout must be positive")
	if _, err := c.Channel.MaxMediaBytes(); err != nil {
		errs = append(errs, err)
	}

	check(oneOf(c.Session.Store, session.StoreMemory, session.StoreFile, session.StoreRedis),
		"session.store %q is not one of memory, file, redis", c.Session.Store)
	check(c.Session.Store != session.StoreRedis || c.Session.Redis.Addr != "",
		"session.redis.addr is required for the redis store")

	check(oneOf(c.Records.Store, records.StoreMemory, records.StoreSQLite, records.StoreFirestore),
		"records.store %q is not one of memory, sqlite, firestore", c.Records.Store)
	check(c.Records.Store != records.StoreFirestore || c.Records.GCPProject != "",
		"records.gcp_project is required for the firestore store")

	check(!c.Transcription.Enabled || c.Transcription.APIKey != "",
		"transcription.api_key is required when transcription is enabled")
	if c.Imaging.Enabled {
		check(oneOf(c.Imaging.Provider, "openai", "gemini"),
			"imaging.provider %q is not one of openai, gemini", c.Imaging.Provider)
		check(c.Imaging.APIKey != "", "imaging.api_key is required when imaging is enabled")
	}

	check(oneOf(c.Observability.Tracing.Exporter, "", "none", "stdout", "otlp"),
		"observability.tracing.exporter %q is not one of none, stdout, otlp", c.Observability.Tracing.Exporter)

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
