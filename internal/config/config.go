package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	DataSource struct {
		// Provider is "yahoo", "vstrader" or "static".
		Provider string             `yaml:"provider"`
		BaseURL  string             `yaml:"base_url"`
		APIKey   string             `yaml:"api_key"`
		CacheTTL int                `yaml:"cache_ttl_seconds"`
		Quotes   map[string]float64 `yaml:"quotes"` // static provider prices
	} `yaml:"data_source"`
	Schedule struct {
		RevalueCron string `yaml:"revalue_cron"`
		ExpiryCron  string `yaml:"expiry_cron"`
		SummaryCron string `yaml:"summary_cron"`
	} `yaml:"schedule"`
	Pricing struct {
		Rate       float64 `yaml:"rate"`
		Workers    int     `yaml:"workers"`
		MaxAgeDays int     `yaml:"max_age_days"`
	} `yaml:"pricing"`
	Book struct {
		File      string `yaml:"file"`
		StateFile string `yaml:"state_file"`
	} `yaml:"book"`
	Limits struct {
		Delta        float64 `yaml:"delta"`
		Vega         float64 `yaml:"vega"`
		ValueDropPct float64 `yaml:"value_drop_pct"`
	} `yaml:"limits"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Fields whose zero value is meaningful are defaulted before parsing, so an
// explicit 0 in the file is kept.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Pricing.MaxAgeDays = 5
	cfg.Limits.ValueDropPct = 20

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("DATA_PROVIDER"); v != "" {
		cfg.DataSource.Provider = v
	}
	if v := os.Getenv("VSTRADER_BASE_URL"); v != "" {
		cfg.DataSource.BaseURL = v
	}
	if v := os.Getenv("VSTRADER_API_KEY"); v != "" {
		cfg.DataSource.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("RISK_FREE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.Rate = rate
		}
	}
	if v := os.Getenv("CRON_REVALUE"); v != "" {
		cfg.Schedule.RevalueCron = v
	}
	if v := os.Getenv("BOOK_FILE"); v != "" {
		cfg.Book.File = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	// Defaults
	if cfg.DataSource.Provider == "" {
		if cfg.DataSource.BaseURL != "" {
			cfg.DataSource.Provider = "vstrader"
		} else {
			cfg.DataSource.Provider = "yahoo"
		}
	}
	if cfg.DataSource.CacheTTL == 0 {
		cfg.DataSource.CacheTTL = 300
	}
	if cfg.Schedule.RevalueCron == "" {
		cfg.Schedule.RevalueCron = "0 30 18 * * 1-5"
	}
	if cfg.Schedule.ExpiryCron == "" {
		cfg.Schedule.ExpiryCron = "0 0 8 * * *"
	}
	if cfg.Schedule.SummaryCron == "" {
		cfg.Schedule.SummaryCron = "0 0 9 * * 1"
	}
	if cfg.Pricing.Workers == 0 {
		cfg.Pricing.Workers = 4
	}
	if cfg.Book.File == "" {
		cfg.Book.File = "configs/book.yaml"
	}
	if cfg.Book.StateFile == "" {
		cfg.Book.StateFile = "data/book_state.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/option_sentinel.db"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	switch c.DataSource.Provider {
	case "yahoo":
	case "vstrader":
		if c.DataSource.BaseURL == "" {
			return fmt.Errorf("data_source.base_url is required for vstrader")
		}
	case "static":
		if len(c.DataSource.Quotes) == 0 {
			return fmt.Errorf("data_source.quotes is required for the static provider")
		}
	default:
		return fmt.Errorf("unknown data_source.provider %q", c.DataSource.Provider)
	}
	if c.Pricing.Workers < 1 {
		return fmt.Errorf("pricing.workers must be positive")
	}
	if c.Pricing.MaxAgeDays < 0 {
		return fmt.Errorf("pricing.max_age_days must not be negative")
	}
	if c.Limits.Delta < 0 || c.Limits.Vega < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
