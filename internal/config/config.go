package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"matching-exchange/internal/logger"
)

// Config holds the runtime configuration of the exchange process.
type Config struct {
	Env         string        `yaml:"env"`
	Server      ServerConfig  `yaml:"server"`
	Instruments []string      `yaml:"instruments"`
	Log         logger.Config `yaml:"log"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	CORSOrigins     []string        `yaml:"corsOrigins"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig is a token bucket per user. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		Env: "dev",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       RateLimitConfig{RPS: 50, Burst: 100},
		},
		Instruments: []string{"AAPL", "AMZN", "NVDA", "MSFT"},
		Log:         logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Namespace: "exchange",
			Path:      "/metrics",
		},
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then applies environment overrides.
// envFile, when set, is loaded first; a missing file is not an error and
// variables already in the environment win over it.
func LoadWithEnvOverrides(path, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("EXCHANGE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("EXCHANGE_INSTRUMENTS"); v != "" {
		cfg.Instruments = splitList(v)
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and consistent.
func Validate(cfg Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	if cfg.Server.RateLimit.RPS < 0 || cfg.Server.RateLimit.Burst < 0 {
		return errors.New("server.rateLimit values must be >= 0")
	}
	if cfg.Server.RateLimit.RPS > 0 && cfg.Server.RateLimit.Burst == 0 {
		return errors.New("server.rateLimit.burst must be > 0 when rps is set")
	}

	if len(cfg.Instruments) == 0 {
		return errors.New("instruments config is required")
	}
	seen := make(map[string]bool, len(cfg.Instruments))
	for _, s := range cfg.Instruments {
		if strings.TrimSpace(s) == "" {
			return errors.New("instruments must not contain blank symbols")
		}
		if seen[s] {
			return fmt.Errorf("instrument %s listed twice", s)
		}
		seen[s] = true
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
