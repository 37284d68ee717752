package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FFCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FFCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Vendor ──
	setStr(&cfg.Vendor.Name, "FFCORE_VENDOR_NAME")
	setStr(&cfg.Vendor.APIKey, "FFCORE_VENDOR_API_KEY")
	setStr(&cfg.Vendor.APISecret, "FFCORE_VENDOR_API_SECRET")
	setStr(&cfg.Vendor.WSHost, "FFCORE_VENDOR_WS_HOST")
	setStr(&cfg.Vendor.HistoryURL, "FFCORE_VENDOR_HISTORY_URL")

	// ── Brokerage ──
	setStr(&cfg.Brokerage.Name, "FFCORE_BROKERAGE_NAME")
	setStr(&cfg.Brokerage.APIKey, "FFCORE_BROKERAGE_API_KEY")
	setStr(&cfg.Brokerage.APISecret, "FFCORE_BROKERAGE_API_SECRET")

	// ── Account ──
	setStr(&cfg.Account.ID, "FFCORE_ACCOUNT_ID")
	setStr(&cfg.Account.Currency, "FFCORE_ACCOUNT_CURRENCY")
	setFloat64(&cfg.Account.CashStart, "FFCORE_ACCOUNT_CASH_START")
	setBool(&cfg.Account.SynchronizeAccounts, "FFCORE_ACCOUNT_SYNCHRONIZE_ACCOUNTS")

	// ── Runtime ──
	setDuration(&cfg.Runtime.BufferDuration, "FFCORE_RUNTIME_BUFFER_DURATION")
	setDuration(&cfg.Runtime.HistoryGrace, "FFCORE_RUNTIME_HISTORY_GRACE")
	setBool(&cfg.Runtime.TickOverNoData, "FFCORE_RUNTIME_TICK_OVER_NO_DATA")
	setStr(&cfg.Runtime.BacktestStart, "FFCORE_RUNTIME_BACKTEST_START")
	setStr(&cfg.Runtime.BacktestEnd, "FFCORE_RUNTIME_BACKTEST_END")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FFCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FFCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FFCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FFCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FFCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FFCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FFCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FFCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FFCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FFCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FFCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FFCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FFCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FFCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FFCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FFCORE_REDIS_TLS_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FFCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FFCORE_SERVER_PORT")
	setInt(&cfg.Server.WirePort, "FFCORE_SERVER_WIRE_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FFCORE_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FFCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FFCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FFCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FFCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FFCORE_MODE")
	setStr(&cfg.LogLevel, "FFCORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
