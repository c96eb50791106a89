// Package config loads the bridge configuration from YAML with environment
// variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading bridge.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Broker  Broker        `yaml:"broker"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Broker selects the broker session. Host, Port and ClientID describe a
// socket session and belong to the connection, not to the engine.
type Broker struct {
	Kind     string `yaml:"kind"` // "simulator" or "alpaca"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines execution timing parameters.
type TradingConfig struct {
	ConfirmTimeoutMS   int           `yaml:"confirm_timeout_ms"`
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	FlattenBeforeClose time.Duration `yaml:"flatten_before_close"`
	FlattenPause       time.Duration `yaml:"flatten_pause"`
	PaperMode          bool          `yaml:"paper_mode"`
}

// ConfirmTimeout returns the gateway confirmation timeout.
func (t TradingConfig) ConfirmTimeout() time.Duration {
	return time.Duration(t.ConfirmTimeoutMS) * time.Millisecond
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills defaults, and then applies environment variable
// overrides. A .env file in the working directory, if present, is loaded
// into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/bridge.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Broker.Kind == "" {
		cfg.Broker.Kind = "simulator"
	}
	if cfg.Broker.Host == "" {
		cfg.Broker.Host = "127.0.0.1"
	}
	if cfg.Broker.Port == 0 {
		cfg.Broker.Port = 7497
	}
	if cfg.Trading.ConfirmTimeoutMS == 0 {
		cfg.Trading.ConfirmTimeoutMS = 10000
	}
	if cfg.Trading.ReconcileInterval == 0 {
		cfg.Trading.ReconcileInterval = 5 * time.Minute
	}
	if cfg.Trading.FlattenBeforeClose == 0 {
		cfg.Trading.FlattenBeforeClose = 5 * time.Minute
	}
	if cfg.Trading.FlattenPause == 0 {
		cfg.Trading.FlattenPause = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("BROKER_KIND"); v != "" {
		cfg.Broker.Kind = v
	}
	if v := os.Getenv("BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("BROKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = n
		}
	}
	if v := os.Getenv("BROKER_CLIENT_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.ClientID = n
		}
	}

	if v := os.Getenv("ORDER_CONFIRM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Trading.ConfirmTimeoutMS = n
		}
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
