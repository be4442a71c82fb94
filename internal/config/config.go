package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the layout of every date in the configuration file.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for factorlab.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Market   string   `yaml:"market"`
	Logging  Logging  `yaml:"logging"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Calendar Calendar `yaml:"calendar"`
	Loader   Loader   `yaml:"loader"`
	Pipeline Pipeline `yaml:"pipeline"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Storage holds paths for data persistence: the Parquet bar tree and the
// SQLite database of assets, adjustments and events.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials and endpoints for the Alpaca trading API, used
// to fetch the exchange calendar.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Calendar selects where trading sessions come from: "weekdays" (every
// Monday-Friday) or "alpaca" (the exchange calendar).
type Calendar struct {
	Source string `yaml:"source"`
	Start  string `yaml:"start"`
	End    string `yaml:"end"`
}

// Loader tunes the history loader.
type Loader struct {
	PrefetchSessions int `yaml:"prefetch_sessions"`
}

// Pipeline holds the parameters of a pipeline run.
type Pipeline struct {
	StartDate     string   `yaml:"start_date"`
	EndDate       string   `yaml:"end_date"`
	Symbols       []string `yaml:"symbols"`
	EventsDataset string   `yaml:"events_dataset"`
	DataQueryTime string   `yaml:"data_query_time"`
	DataQueryTZ   string   `yaml:"data_query_tz"`
}

// Metrics configures the Prometheus registry and its HTTP listener. An
// empty ListenAddr disables the listener.
type Metrics struct {
	Namespace  string `yaml:"namespace"`
	ListenAddr string `yaml:"listen_addr"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Defaults()

	return cfg, nil
}

// Defaults fills every unset field that has a sensible default.
func (c *Config) Defaults() {
	if c.Market == "" {
		c.Market = "us"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Calendar.Source == "" {
		c.Calendar.Source = "weekdays"
	}
	if c.Loader.PrefetchSessions <= 0 {
		c.Loader.PrefetchSessions = 40
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "factorlab"
	}
}

// Validate checks the fields a run depends on.
func (c *Config) Validate() error {
	switch c.Market {
	case "us", "cn":
	default:
		return fmt.Errorf("unknown market %q", c.Market)
	}
	switch c.Calendar.Source {
	case "weekdays", "alpaca":
	default:
		return fmt.Errorf("unknown calendar source %q", c.Calendar.Source)
	}
	for name, v := range map[string]string{
		"calendar.start":      c.Calendar.Start,
		"calendar.end":        c.Calendar.End,
		"pipeline.start_date": c.Pipeline.StartDate,
		"pipeline.end_date":   c.Pipeline.EndDate,
	} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if (c.Pipeline.DataQueryTime == "") != (c.Pipeline.DataQueryTZ == "") {
		return fmt.Errorf("pipeline.data_query_time and pipeline.data_query_tz must be set together")
	}
	return nil
}

// Date parses one of the configuration's date strings. An empty string
// yields the zero time.
func Date(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(DateLayout, s)
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

	if v := os.Getenv("HISTORY_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loader.PrefetchSessions = n
		}
	}

	// The SDK's canonical Alpaca variables take precedence.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
