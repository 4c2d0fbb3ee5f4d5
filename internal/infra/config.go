package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"crypto_demo/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultCoinGeckoURL is the public CoinGecko v3 API root.
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
)

// Config holds every application setting.
// LoadConfig fills defaults, reads the yaml file, then applies environment overrides.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		CoinGecko struct {
			BaseURL         string `yaml:"base_url"`
			APIKey          string `yaml:"api_key"`
			PerPage         int    `yaml:"per_page"`
			PollIntervalSec int    `yaml:"poll_interval_sec"`
			TimeoutSec      int    `yaml:"timeout_sec"`
			MaxAttempts     int    `yaml:"max_attempts"`
		} `yaml:"coingecko"`
	} `yaml:"api"`

	Ledger struct {
		StartingCash    decimal.Decimal `yaml:"starting_cash"`
		DefaultCurrency string          `yaml:"default_currency"`
		HistoryLimit    int             `yaml:"history_limit"`
	} `yaml:"ledger"`

	Storage struct {
		Path      string `yaml:"path"`
		StateKey  string `yaml:"state_key"`
		IconsPath string `yaml:"icons_path"`
	} `yaml:"storage"`

	HTTP struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the settings used when no file overrides them.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "crypto-demo"
	cfg.App.Version = "dev"
	cfg.API.CoinGecko.BaseURL = DefaultCoinGeckoURL
	cfg.API.CoinGecko.PerPage = 20
	cfg.API.CoinGecko.PollIntervalSec = 30
	cfg.API.CoinGecko.TimeoutSec = 10
	cfg.API.CoinGecko.MaxAttempts = 1
	cfg.Ledger.StartingCash = decimal.NewFromInt(10000)
	cfg.Ledger.DefaultCurrency = domain.DefaultCurrency
	cfg.Ledger.HistoryLimit = 50
	cfg.Storage.StateKey = "crypto_demo_state_v1"
	cfg.HTTP.Addr = "localhost:8080"
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads path on top of the defaults. A missing file keeps the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	// Security first: secrets and deployment knobs come from the environment
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.CoinGecko.BaseURL, "http://") && !strings.HasPrefix(c.API.CoinGecko.BaseURL, "https://") {
		return &domain.ConfigError{Field: "api.coingecko.base_url", Err: fmt.Errorf("not an http(s) URL: %q", c.API.CoinGecko.BaseURL)}
	}
	if c.API.CoinGecko.PerPage <= 0 || c.API.CoinGecko.PerPage > 250 {
		return &domain.ConfigError{Field: "api.coingecko.per_page", Err: fmt.Errorf("must be within 1..250, got %d", c.API.CoinGecko.PerPage)}
	}
	if c.API.CoinGecko.PollIntervalSec <= 0 {
		return &domain.ConfigError{Field: "api.coingecko.poll_interval_sec", Err: errors.New("poll interval must be positive")}
	}
	if c.API.CoinGecko.MaxAttempts <= 0 {
		return &domain.ConfigError{Field: "api.coingecko.max_attempts", Err: errors.New("at least one attempt is required")}
	}
	if c.Ledger.StartingCash.IsNegative() {
		return &domain.ConfigError{Field: "ledger.starting_cash", Err: errors.New("starting cash cannot be negative")}
	}
	cur, err := domain.NormalizeCurrency(c.Ledger.DefaultCurrency)
	if err != nil {
		return &domain.ConfigError{Field: "ledger.default_currency", Err: err}
	}
	c.Ledger.DefaultCurrency = cur
	if c.Storage.StateKey == "" {
		return &domain.ConfigError{Field: "storage.state_key", Err: errors.New("state key is required")}
	}
	return nil
}

// PollInterval returns the feed refresh period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.API.CoinGecko.PollIntervalSec) * time.Second
}

// overrideWithEnv overwrites settings with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("CRYPTO_DEMO_COINGECKO_KEY"); key != "" {
		cfg.API.CoinGecko.APIKey = key
	}
	if url := os.Getenv("CRYPTO_DEMO_COINGECKO_URL"); url != "" {
		cfg.API.CoinGecko.BaseURL = url
	}
	if addr := os.Getenv("CRYPTO_DEMO_HTTP_ADDR"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if path := os.Getenv("CRYPTO_DEMO_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if level := os.Getenv("CRYPTO_DEMO_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if sec := os.Getenv("CRYPTO_DEMO_POLL_INTERVAL_SEC"); sec != "" {
		if n, err := strconv.Atoi(sec); err == nil {
			cfg.API.CoinGecko.PollIntervalSec = n
		}
	}
}
