// Package config defines the top-level configuration for the Fund Forge
// strategy runtime and server process, and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FFCORE_* environment
// variables.
type Config struct {
	Vendor     VendorConfig     `toml:"vendor"`
	Brokerage  BrokerageConfig  `toml:"brokerage"`
	Account    AccountConfig    `toml:"account"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// VendorConfig holds market-data vendor connection parameters. The concrete
// vendor integration (Rithmic, Oanda, Bitget, DataBento, ...) is selected by
// Name; this runtime only ever sees the vendor.Vendor capability interface
// (spec §4.2) built from these credentials.
type VendorConfig struct {
	Name       string `toml:"name"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	WSHost     string `toml:"ws_host"`
	HistoryURL string `toml:"history_url"`
}

// BrokerageConfig holds execution-side brokerage connection parameters.
type BrokerageConfig struct {
	Name      string `toml:"name"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// AccountConfig seeds the single trading account the matching engine/ledger
// tracks for this process.
type AccountConfig struct {
	ID                  string  `toml:"id"`
	Currency            string  `toml:"currency"`
	CashStart           float64 `toml:"cash_start"`
	SynchronizeAccounts bool    `toml:"synchronize_accounts"`
}

// RuntimeConfig holds the parameters of the time engine and subscription
// manager (spec §4.4-§4.6): how far in advance the backtest scheduler slices
// history, and how much warmup grace every subscription gets beyond its
// requested history length. TickOverNoData is loaded but no scheduler reads
// it: the backtest scheduler always jumps straight to the next record's time
// across a window with no data, without aligning to a buffer boundary.
type RuntimeConfig struct {
	BufferDuration  duration `toml:"buffer_duration"`
	HistoryGrace    duration `toml:"history_grace"`
	TickOverNoData  bool     `toml:"tick_over_no_data"`
	BacktestStart   string   `toml:"backtest_start"` // RFC3339; empty in live mode
	BacktestEnd     string   `toml:"backtest_end"`
}

// PostgresConfig holds the connection parameters of the order, position,
// closed-trade and audit-log persistence.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters, used for the shared-cache
// and history-request rate limiter (spec §4 supplemented features).
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the data-server process's listener parameters (spec §5).
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	WirePort    int      `toml:"wire_port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds operational-alert channel credentials (spec §4
// supplemented feature: Discord/Telegram paging on shutdown/fatal events).
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Vendor: VendorConfig{
			WSHost: "wss://example-vendor.invalid/stream",
		},
		Account: AccountConfig{
			ID:        "default",
			Currency:  "USD",
			CashStart: 100_000,
		},
		Runtime: RuntimeConfig{
			BufferDuration: duration{time.Second},
			HistoryGrace:   duration{time.Hour},
			TickOverNoData: true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "ffcore",
			User:          "ffcore",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			WirePort:    8001,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"shutdown", "matching_engine_fault"},
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"live":     true,
	"server":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, live, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Vendor.Name == "" {
		errs = append(errs, "vendor: name must not be empty")
	}
	needsBrokerage := c.Mode == "live" || c.Mode == "server"
	if needsBrokerage && c.Brokerage.Name == "" {
		errs = append(errs, "brokerage: name must not be empty for mode "+c.Mode)
	}

	if c.Account.ID == "" {
		errs = append(errs, "account: id must not be empty")
	}
	if c.Account.Currency == "" {
		errs = append(errs, "account: currency must not be empty")
	}
	if c.Account.CashStart < 0 {
		errs = append(errs, "account: cash_start must be >= 0")
	}

	if c.Runtime.BufferDuration.Duration <= 0 {
		errs = append(errs, "runtime: buffer_duration must be > 0")
	}
	if c.Runtime.HistoryGrace.Duration < 0 {
		errs = append(errs, "runtime: history_grace must be >= 0")
	}
	if c.Mode == "backtest" {
		if c.Runtime.BacktestStart == "" {
			errs = append(errs, "runtime: backtest_start is required in backtest mode")
		} else if _, err := time.Parse(time.RFC3339, c.Runtime.BacktestStart); err != nil {
			errs = append(errs, "runtime: backtest_start must be RFC3339: "+err.Error())
		}
		if c.Runtime.BacktestEnd == "" {
			errs = append(errs, "runtime: backtest_end is required in backtest mode")
		} else if _, err := time.Parse(time.RFC3339, c.Runtime.BacktestEnd); err != nil {
			errs = append(errs, "runtime: backtest_end must be RFC3339: "+err.Error())
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.WirePort <= 0 || c.Server.WirePort > 65535 {
			errs = append(errs, fmt.Sprintf("server: wire_port must be 1-65535, got %d", c.Server.WirePort))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
