// Package config provides YAML-based configuration loading for sbnet.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName is the logical name used in logs.
	AppName string `mapstructure:"app_name"`

	Log      LogConfig      `mapstructure:"log"`
	Identity IdentityConfig `mapstructure:"identity"`
	Node     NodeConfig     `mapstructure:"node"`
	Net      NetConfig      `mapstructure:"net"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "sbnet-node",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/sbnet.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Identity: IdentityConfig{Alg: "ed25519"},
		Node: NodeConfig{
			Label:     "node-1",
			Role:      RoleServer,
			Transport: "tcp",
			Bind:      ":7777",
		},
		Net: DefaultNet(),
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// SBNET_CONFIG or the usual search locations. Environment variables use the
// prefix SBNET with `.` and `-` replaced by `_`, e.g. SBNET_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SBNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("SBNET_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sbnet")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sbnet"))
		}
	}

	// a missing file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper so env-only configs work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("identity.alg", cfg.Identity.Alg)
	v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)

	v.SetDefault("node.label", cfg.Node.Label)
	v.SetDefault("node.role", cfg.Node.Role)
	v.SetDefault("node.transport", cfg.Node.Transport)
	v.SetDefault("node.bind", cfg.Node.Bind)
	v.SetDefault("node.connect", cfg.Node.Connect)
	v.SetDefault("node.server_label", cfg.Node.ServerLabel)

	n := cfg.Net
	v.SetDefault("net.dial_backoff_initial_ms", n.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", n.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", n.DialBackoffJitterMS)
	v.SetDefault("net.dial_attempts", n.DialAttempts)
	v.SetDefault("net.handshake_timeout_ms", n.HandshakeTimeoutMS)
	v.SetDefault("net.check_interval_ms", n.CheckIntervalMS)
	v.SetDefault("net.check_timeout_ms", n.CheckTimeoutMS)
	v.SetDefault("net.request_timeout_ms", n.RequestTimeoutMS)
	v.SetDefault("net.sweep_interval_ms", n.SweepIntervalMS)
	v.SetDefault("net.send_queue_depth", n.SendQueueDepth)
	v.SetDefault("net.max_frame_bytes", n.MaxFrameBytes)
	v.SetDefault("net.shape_bytes_per_sec", n.ShapeBytesPerSec)
	v.SetDefault("net.require_signed", n.RequireSigned)
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if err := c.Node.validate(); err != nil {
		return err
	}
	return c.Net.validate()
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
