package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the akiles binaries.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Store     StoreConfig     `yaml:"store"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the host HTTP server.
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// BridgeConfig configures the websocket bridge used by clients.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	Codec          string        `yaml:"codec"`
	Auth           string        `yaml:"auth"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// StoreConfig selects the session store. An empty path keeps sessions in memory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

type SimulatorConfig struct {
	Version         string        `yaml:"version"`
	StepDelay       time.Duration `yaml:"step_delay"`
	NoBluetooth     bool          `yaml:"no_bluetooth"`
	NoNFC           bool          `yaml:"no_nfc"`
	NoCardEmulation bool          `yaml:"no_card_emulation"`
	NoSecureNFC     bool          `yaml:"no_secure_nfc"`
	CardUID         string        `yaml:"card_uid"`
}

// LogConfig configures logging. Format is "console" or "json".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8090",
			PollInterval: 15 * time.Second,
		},
		Bridge: BridgeConfig{
			URL:   "ws://localhost:8090/bridge",
			Codec: "json",
		},
		Simulator: SimulatorConfig{
			StepDelay: 50 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML file on top of Default and applies environment overrides.
// An empty filename skips the file.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AKILES_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("AKILES_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("AKILES_CODEC"); v != "" {
		c.Bridge.Codec = v
	}
	if v := os.Getenv("AKILES_AUTH"); v != "" {
		c.Bridge.Auth = v
	}
	if v := os.Getenv("AKILES_STORE"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("AKILES_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Server.PollInterval = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

func (c *Config) validate() error {
	switch c.Bridge.Codec {
	case "", "json", "wrp", "msgpack":
	default:
		return fmt.Errorf("invalid bridge codec: %q", c.Bridge.Codec)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Log.Format)
	}
	if c.Server.PollInterval <= 0 {
		return errors.New("server poll_interval must be positive")
	}
	return nil
}
