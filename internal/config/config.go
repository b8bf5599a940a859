package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all harness configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Fixture   FixtureConfig   `mapstructure:"fixture"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds inference server launch configuration
type ServerConfig struct {
	Executable      string        `mapstructure:"executable"`
	Device          string        `mapstructure:"device"`           // e.g. "hip", "local-task"
	DeviceFlags     []string      `mapstructure:"device_flags"`     // backend compilation flags, passed through
	VisibleDevices  string        `mapstructure:"visible_devices"`  // scoped ROCR_VISIBLE_DEVICES value, empty = unset
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FixtureConfig holds prepared-model fixture configuration
type FixtureConfig struct {
	Dir         string        `mapstructure:"dir"`
	WeightsFile string        `mapstructure:"weights_file"` // e.g. "meta-llama-3.1-8b-instruct.f16.gguf"
	Remote      RemoteFixture `mapstructure:"remote"`
}

// RemoteFixture holds SFTP artifact host configuration for fetching fixtures
type RemoteFixture struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	User    string `mapstructure:"user"`
	KeyPath string `mapstructure:"key_path"`
	Dir     string `mapstructure:"dir"` // remote directory holding the prepared model
}

// BenchmarkConfig holds load-generation sweep configuration
type BenchmarkConfig struct {
	Backend        string        `mapstructure:"backend"`
	NumPrompts     int           `mapstructure:"num_prompts"`
	RequestRates   []float64     `mapstructure:"request_rates"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	PromptTokens   int           `mapstructure:"prompt_tokens"`
	ResultsDir     string        `mapstructure:"results_dir"`
	TrialTimeout   time.Duration `mapstructure:"trial_timeout"`   // bound on each load-generation worker
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // per completion request
}

// DatabaseConfig holds results database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // e.g. ":9464", empty disables the listener
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from .env file if it exists
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Inference server defaults
	v.SetDefault("server.device", "hip")
	v.SetDefault("server.startup_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Fixture defaults
	v.SetDefault("fixture.remote.enabled", false)
	v.SetDefault("fixture.remote.port", 22)

	// Benchmark defaults
	v.SetDefault("benchmark.backend", "shortfin")
	v.SetDefault("benchmark.num_prompts", 10)
	v.SetDefault("benchmark.request_rates", []float64{1, 2, 4, 8, 16, 32})
	v.SetDefault("benchmark.max_tokens", 256)
	v.SetDefault("benchmark.prompt_tokens", 128)
	v.SetDefault("benchmark.results_dir", "./benchmark-results")
	v.SetDefault("benchmark.trial_timeout", 10*time.Minute)
	v.SetDefault("benchmark.request_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.path", "./data/inferbench.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	// Server
	bindEnv("server.executable", "INFERBENCH_SERVER_EXECUTABLE")
	bindEnv("server.device", "INFERBENCH_DEVICE")
	bindEnv("server.visible_devices", "INFERBENCH_VISIBLE_DEVICES")

	// Fixture
	bindEnv("fixture.dir", "INFERBENCH_FIXTURE_DIR")
	bindEnv("fixture.weights_file", "INFERBENCH_WEIGHTS_FILE")
	bindEnv("fixture.remote.host", "INFERBENCH_ARTIFACT_HOST")
	bindEnv("fixture.remote.user", "INFERBENCH_ARTIFACT_USER")
	bindEnv("fixture.remote.key_path", "INFERBENCH_ARTIFACT_KEY")

	// Database
	bindEnv("database.path", "DATABASE_PATH")

	// Metrics
	bindEnv("metrics.addr", "METRICS_ADDR")

	// Logging
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Executable == "" {
		return fmt.Errorf("server executable is required")
	}

	if c.Fixture.Dir == "" && !c.Fixture.Remote.Enabled {
		return fmt.Errorf("fixture dir is required when remote fetch is disabled")
	}

	if c.Fixture.Remote.Enabled {
		if c.Fixture.Remote.Host == "" {
			return fmt.Errorf("INFERBENCH_ARTIFACT_HOST is required when remote fixture fetch is enabled")
		}
		if c.Fixture.Remote.User == "" {
			return fmt.Errorf("INFERBENCH_ARTIFACT_USER is required when remote fixture fetch is enabled")
		}
	}

	if c.Benchmark.NumPrompts <= 0 {
		return fmt.Errorf("num_prompts must be positive")
	}

	if len(c.Benchmark.RequestRates) == 0 {
		return fmt.Errorf("at least one request rate is required")
	}
	for _, rate := range c.Benchmark.RequestRates {
		if rate <= 0 {
			return fmt.Errorf("request rates must be positive, got %v", rate)
		}
	}

	if c.Server.StartupTimeout <= 0 {
		return fmt.Errorf("server startup_timeout must be positive")
	}

	return nil
}
