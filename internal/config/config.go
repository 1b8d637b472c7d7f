package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is looked up in the workspace when no path is given.
const DefaultFile = "llll.yaml"

type Config struct {
	Workspace string          `mapstructure:"workspace"`
	Log       LogConfig       `mapstructure:"log"`
	Session   SessionConfig   `mapstructure:"session"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Link      LinkConfig      `mapstructure:"link"`
	Compiler  CompilerConfig  `mapstructure:"compiler"`
	Firmware  FirmwareConfig  `mapstructure:"firmware"`
	History   HistoryConfig   `mapstructure:"history"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type SessionConfig struct {
	DefaultTimeout  time.Duration `mapstructure:"default_timeout"`
	CancelGrace     time.Duration `mapstructure:"cancel_grace"`
	AckTimeout      time.Duration `mapstructure:"ack_timeout"`
	CaptureMaxLines int           `mapstructure:"capture_max_lines"`
	ChunkSize       int           `mapstructure:"chunk_size"`
}

type DiscoveryConfig struct {
	ScanWindow   time.Duration `mapstructure:"scan_window"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// LinkConfig describes the GATT layout the hub-side agent exposes.
type LinkConfig struct {
	ServiceUUID    string        `mapstructure:"service_uuid"`
	RxCharUUID     string        `mapstructure:"rx_char_uuid"`
	TxCharUUID     string        `mapstructure:"tx_char_uuid"`
	NamePrefixes   []string      `mapstructure:"name_prefixes"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type CompilerConfig struct {
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
}

type FirmwareConfig struct {
	ReleaseURL  string        `mapstructure:"release_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecretEnv string        `mapstructure:"jwt_secret_env"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// Load reads the YAML config at path. An empty path means
// <workspace>/llll.yaml, which may be absent; an explicit path must exist.
func Load(path, workspace string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if workspace == "" {
		workspace = "."
	}
	setDefaults(v, workspace)

	v.SetEnvPrefix("LLLL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(workspace, DefaultFile)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case !explicit && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
			// optional
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default(workspace string) *Config {
	v := viper.New()
	setDefaults(v, workspace)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper, workspace string) {
	v.SetDefault("workspace", workspace)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("session.default_timeout", "60s")
	v.SetDefault("session.cancel_grace", "3s")
	v.SetDefault("session.ack_timeout", "5s")
	v.SetDefault("session.capture_max_lines", 5000)
	v.SetDefault("session.chunk_size", 100)

	v.SetDefault("discovery.scan_window", "5s")
	v.SetDefault("discovery.query_timeout", "5s")

	// Pybricks GATT service; rx notifies hub->host, tx is written host->hub.
	v.SetDefault("link.service_uuid", "c5f50001-8280-46da-89f4-6d8051e4aeef")
	v.SetDefault("link.rx_char_uuid", "c5f50002-8280-46da-89f4-6d8051e4aeef")
	v.SetDefault("link.tx_char_uuid", "c5f50002-8280-46da-89f4-6d8051e4aeef")
	v.SetDefault("link.name_prefixes", []string{})
	v.SetDefault("link.connect_timeout", "10s")

	v.SetDefault("compiler.binary", "mpy-cross")
	v.SetDefault("compiler.args", []string{})

	v.SetDefault("firmware.release_url", "https://api.github.com/repos/pybricks/pybricks-micropython/releases/latest")
	v.SetDefault("firmware.http_timeout", "10s")

	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", filepath.Join(workspace, ".llll", "history.db"))

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("auth.jwt_secret_env", "LLLL_JWT_SECRET")
	v.SetDefault("auth.token_ttl", "720h")
}

func (c *Config) Validate() error {
	if c.Session.DefaultTimeout <= 0 {
		return fmt.Errorf("session.default_timeout must be positive")
	}
	if c.Session.CancelGrace <= 0 {
		return fmt.Errorf("session.cancel_grace must be positive")
	}
	if c.Session.CaptureMaxLines <= 0 {
		return fmt.Errorf("session.capture_max_lines must be positive")
	}
	if c.Session.ChunkSize <= 0 {
		return fmt.Errorf("session.chunk_size must be positive")
	}
	switch c.History.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("history.driver must be sqlite or postgres, got %q", c.History.Driver)
	}
	return nil
}

// JWTSecret returns the signing secret from the configured environment
// variable. Empty means the HTTP API runs without authentication.
func (a *AuthConfig) JWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "LLLL_JWT_SECRET"
	}
	return os.Getenv(envVar)
}
