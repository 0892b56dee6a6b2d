package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Provider    string            `mapstructure:"provider"` // Selects the image payload shape: openai, anthropic, ollama, gemini
	Model       string            `mapstructure:"model"`
	StopMarker  string            `mapstructure:"stop_marker"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Render      RenderConfig      `mapstructure:"render"`
	History     HistoryConfig     `mapstructure:"history"`
	Attachments AttachmentsConfig `mapstructure:"attachments"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// StreamConfig holds event stream transport configuration
type StreamConfig struct {
	ConnectTimeoutStr   string `mapstructure:"connect_timeout"`
	MaxRetries          int    `mapstructure:"max_retries"`
	BackoffBaseStr      string `mapstructure:"backoff_base"`
	RateLimitBackoffStr string `mapstructure:"rate_limit_backoff"`
	MaxEventBytes       int    `mapstructure:"max_event_bytes"`

	ConnectTimeout   time.Duration `mapstructure:"-"`
	BackoffBase      time.Duration `mapstructure:"-"`
	RateLimitBackoff time.Duration `mapstructure:"-"`
}

// RenderConfig holds markdown and highlighting configuration
type RenderConfig struct {
	Markdown           bool   `mapstructure:"markdown"`
	Style              string `mapstructure:"style"`
	WordWrap           int    `mapstructure:"word_wrap"`
	HighlightStyle     string `mapstructure:"highlight_style"`
	HighlightFormatter string `mapstructure:"highlight_formatter"`
}

// HistoryConfig holds finalized conversation persistence configuration
type HistoryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Preserve bool   `mapstructure:"preserve"`
}

// AttachmentsConfig holds image attachment limits
type AttachmentsConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Set replaces the global config instance (useful for testing)
func Set(c *Config) {
	cfg = c
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.threadline")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, ".threadline"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("THREADLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// Default returns a config populated only with defaults, without touching
// files or the environment.
func Default() *Config {
	c := &Config{
		Endpoint:   "http://localhost:8000/api/chat/stream",
		Provider:   "openai",
		Model:      "",
		StopMarker: "(generation stopped)",
		Logging: LoggingConfig{
			LogFile: "./.threadline/system.log",
			Level:   "info",
		},
		Stream: StreamConfig{
			MaxRetries:       3,
			MaxEventBytes:    1 << 20,
			ConnectTimeout:   30 * time.Second,
			BackoffBase:      500 * time.Millisecond,
			RateLimitBackoff: 5 * time.Second,
		},
		Render: RenderConfig{
			Markdown:           true,
			Style:              "notty",
			WordWrap:           100,
			HighlightStyle:     "monokai",
			HighlightFormatter: "terminal16m",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./.threadline/chat_history.json",
		},
		Attachments: AttachmentsConfig{
			MaxBytes: 20 << 20,
		},
	}
	return c
}

// setDefaults sets all default configuration values
func setDefaults() {
	d := Default()

	viper.SetDefault("endpoint", d.Endpoint)
	viper.SetDefault("provider", d.Provider)
	viper.SetDefault("model", d.Model)
	viper.SetDefault("stop_marker", d.StopMarker)

	viper.SetDefault("logging.log_file", d.Logging.LogFile)
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", d.Logging.Level)

	viper.SetDefault("stream.connect_timeout", "30s")
	viper.SetDefault("stream.max_retries", d.Stream.MaxRetries)
	viper.SetDefault("stream.backoff_base", "500ms")
	viper.SetDefault("stream.rate_limit_backoff", "5s")
	viper.SetDefault("stream.max_event_bytes", d.Stream.MaxEventBytes)

	viper.SetDefault("render.markdown", d.Render.Markdown)
	viper.SetDefault("render.style", d.Render.Style)
	viper.SetDefault("render.word_wrap", d.Render.WordWrap)
	viper.SetDefault("render.highlight_style", d.Render.HighlightStyle)
	viper.SetDefault("render.highlight_formatter", d.Render.HighlightFormatter)

	viper.SetDefault("history.enabled", d.History.Enabled)
	viper.SetDefault("history.path", d.History.Path)
	viper.SetDefault("history.preserve", false)

	viper.SetDefault("attachments.max_bytes", d.Attachments.MaxBytes)
}

// processDurations converts string durations to time.Duration
func processDurations(c *Config) error {
	parse := func(name, value string, fallback time.Duration) (time.Duration, error) {
		if value == "" {
			return fallback, nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}

	d := Default()
	var err error

	if c.Stream.ConnectTimeout, err = parse("stream.connect_timeout", c.Stream.ConnectTimeoutStr, d.Stream.ConnectTimeout); err != nil {
		return err
	}
	if c.Stream.BackoffBase, err = parse("stream.backoff_base", c.Stream.BackoffBaseStr, d.Stream.BackoffBase); err != nil {
		return err
	}
	if c.Stream.RateLimitBackoff, err = parse("stream.rate_limit_backoff", c.Stream.RateLimitBackoffStr, d.Stream.RateLimitBackoff); err != nil {
		return err
	}

	if c.Stream.MaxRetries < 0 {
		return fmt.Errorf("invalid stream.max_retries: %d", c.Stream.MaxRetries)
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// GetActiveProvider returns the currently active provider name
func (c *Config) GetActiveProvider() string {
	if c.Provider == "" {
		return "openai"
	}
	return strings.ToLower(c.Provider)
}
