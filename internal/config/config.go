// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SyedDaiam9101/classifier-service/internal/profile"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     string        `mapstructure:"cors_allowed_origins"`

	// Model configuration
	Profile         string `mapstructure:"profile"`
	ModelPath       string `mapstructure:"model_path"`
	ModelInputName  string `mapstructure:"model_input_name"`
	ModelOutputName string `mapstructure:"model_output_name"`
	ONNXLibrary     string `mapstructure:"onnx_library"`
	Device          string `mapstructure:"device"`

	// Prediction persistence and caching
	LogPath   string        `mapstructure:"log_path"`
	HistoryDB string        `mapstructure:"history_db"`
	Redis     string        `mapstructure:"redis"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags
	UseMock bool `mapstructure:"use_mock"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("grpc_port", 0)
	v.SetDefault("max_body_bytes", 10<<20)
	v.SetDefault("request_timeout", "0s")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("profile", profile.CatsDogs)
	v.SetDefault("model_path", "")
	v.SetDefault("model_input_name", "input")
	v.SetDefault("model_output_name", "output")
	v.SetDefault("onnx_library", "")
	v.SetDefault("device", "cpu")

	v.SetDefault("log_path", "logs/predictions.jsonl")
	v.SetDefault("history_db", "")
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", "10m")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("use_mock", false)
}

// Load loads configuration from defaults, an optional config file, environment
// variables and overrides (typically flags that were set on the command line).
// Priority (highest to lowest): overrides > env vars > config file > defaults.
// An empty configFile searches ./config.yaml and /etc/classifier-service/config.yaml.
func Load(configFile string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("CLASSIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bare MODEL_PATH is honoured for compatibility with existing deployments
	if err := v.BindEnv("model_path", "CLASSIFIER_MODEL_PATH", "MODEL_PATH"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("otel_endpoint", "CLASSIFIER_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/classifier-service/")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.OTELEndpoint != "" {
		cfg.OTELEnabled = true
	}
	if cfg.ModelPath == "" {
		if p, err := profile.Lookup(cfg.Profile); err == nil {
			cfg.ModelPath = p.DefaultModelPath
		}
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPCPort)
	}
	if c.Port == c.GRPCPort {
		return fmt.Errorf("port and grpc_port must be different")
	}
	if _, err := profile.Lookup(c.Profile); err != nil {
		return err
	}
	switch c.Device {
	case "cpu", "accelerator":
	default:
		return fmt.Errorf("invalid device %q (want cpu or accelerator)", c.Device)
	}
	if c.ModelPath == "" && !c.UseMock {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.RequestTimeout < 0 || c.ShutdownTimeout < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
