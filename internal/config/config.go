package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Duration decodes YAML values like "30s" or "8h" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for the tradecore server.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Venue     VenueConfig     `yaml:"venue"`
	Logging   Logging         `yaml:"logging"`
	Trading   TradingConfig   `yaml:"trading"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// VenueConfig holds credentials and endpoints for the brokerage venue.
type VenueConfig struct {
	// Name selects the venue implementation: "alpaca" or "sim".
	Name       string        `yaml:"name"`
	APIKey     string        `yaml:"api_key"`
	ClientID   string        `yaml:"client_id"`
	APISecret  string        `yaml:"api_secret"`
	TOTPSecret string        `yaml:"totp_secret"`
	BaseURL    string        `yaml:"base_url"`
	SessionTTL Duration      `yaml:"session_ttl"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines risk and execution parameters.
type TradingConfig struct {
	MaxPositionPct   float64       `yaml:"max_position_pct"`
	MaxDailyLossPct  float64       `yaml:"max_daily_loss_pct"`
	OrdersPerMinute  int           `yaml:"orders_per_minute"`
	StrategyInterval Duration      `yaml:"strategy_interval"`
	PaperMode        bool          `yaml:"paper_mode"`
}

// ReconcileConfig tunes the reconciliation loop.
type ReconcileConfig struct {
	Interval         Duration `yaml:"interval"`
	GracePeriod      Duration `yaml:"grace_period"`
	MaxFetchAttempts int      `yaml:"max_fetch_attempts"`
	RetryBaseDelay   Duration `yaml:"retry_base_delay"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
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

	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}

	if v := os.Getenv("CLIENT_ID"); v != "" {
		cfg.Venue.ClientID = v
	}

	if v := os.Getenv("API_SECRET"); v != "" {
		cfg.Venue.APISecret = v
	}

	if v := os.Getenv("TOTP_SECRET"); v != "" {
		cfg.Venue.TOTPSecret = v
	}

	if v := os.Getenv("VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Venue.APISecret = v
	}
}
