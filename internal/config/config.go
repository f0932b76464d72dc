package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/stamp/internal/packet"
	"github.com/pingsantohq/stamp/internal/transport"
)

const (
	envConfigPath     = "STAMP_CONFIG"
	DefaultConfigPath = "/etc/stamp/stamp.yaml"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reflector ReflectorConfig `yaml:"reflector"`
	Sender    SenderConfig    `yaml:"sender"`
}

type LogConfig struct {
	Debug bool `yaml:"debug"`
}

type MetricsConfig struct {
	// Addr is the monitoring listen address; empty disables the server.
	Addr       string        `yaml:"addr"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ReflectorConfig struct {
	Port           int     `yaml:"port"`
	Family         string  `yaml:"family"`
	RateLimitPPS   float64 `yaml:"rate_limit_pps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

type SenderConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Family   string        `yaml:"family"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Count    uint64        `yaml:"count"`
	Output   string        `yaml:"output"`
}

const (
	OutputText = "text"
	OutputJSON = "json"
)

// Default returns the reference configuration: port 862, 1s cadence, 5s timeout.
func Default() Config {
	return Config{
		Reflector: ReflectorConfig{
			Port:   packet.Port,
			Family: "auto",
		},
		Sender: SenderConfig{
			Host:     "127.0.0.1",
			Port:     packet.Port,
			Family:   "auto",
			Interval: time.Second,
			Timeout:  5 * time.Second,
			Output:   OutputText,
		},
	}
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if err := transport.ValidatePort(c.Reflector.Port); err != nil {
		errs = append(errs, fmt.Errorf("reflector.port: %w", err))
	}
	if _, err := transport.ParseFamily(c.Reflector.Family); err != nil {
		errs = append(errs, fmt.Errorf("reflector.family: %w", err))
	}
	if c.Reflector.RateLimitPPS < 0 || c.Reflector.RateLimitBurst < 0 {
		errs = append(errs, errors.New("reflector.rate_limit: must not be negative"))
	}
	if err := transport.ValidatePort(c.Sender.Port); err != nil {
		errs = append(errs, fmt.Errorf("sender.port: %w", err))
	}
	if _, err := transport.ParseFamily(c.Sender.Family); err != nil {
		errs = append(errs, fmt.Errorf("sender.family: %w", err))
	}
	if c.Sender.Interval < 0 {
		errs = append(errs, errors.New("sender.interval: must not be negative"))
	}
	if c.Sender.Timeout <= 0 {
		errs = append(errs, errors.New("sender.timeout: must be positive"))
	}
	switch strings.ToLower(c.Sender.Output) {
	case "", OutputText, OutputJSON:
	default:
		errs = append(errs, fmt.Errorf("sender.output: unknown format %q", c.Sender.Output))
	}
	return errors.Join(errs...)
}

// Load reads path over the defaults, so omitted keys keep their default values.
func Load(ctx context.Context, path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads the file named by STAMP_CONFIG. Without the variable it
// falls back to DefaultConfigPath, and to Default when that file is absent.
func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path != "" {
		return Load(ctx, path)
	}
	if _, err := os.Stat(DefaultConfigPath); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(ctx, DefaultConfigPath)
}
