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
// built-in defaults, applies HEDGED_* environment variable overrides, and
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

// applyEnvOverrides reads well-known HEDGED_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "HEDGED_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "HEDGED_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "HEDGED_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "HEDGED_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "HEDGED_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "HEDGED_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "HEDGED_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "HEDGED_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "HEDGED_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "HEDGED_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "HEDGED_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "HEDGED_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "HEDGED_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "HEDGED_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "HEDGED_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "HEDGED_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.AlertStreamMaxLen, "HEDGED_REDIS_ALERT_STREAM_MAX_LEN")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "HEDGED_ENGINE_SYMBOLS")
	setFloat64(&cfg.Engine.Notional, "HEDGED_ENGINE_NOTIONAL")
	setFloat64(&cfg.Engine.Leverage, "HEDGED_ENGINE_LEVERAGE")
	setFloat64(&cfg.Engine.MinSpread, "HEDGED_ENGINE_MIN_SPREAD")
	setStr(&cfg.Engine.Strategy, "HEDGED_ENGINE_STRATEGY")
	setBool(&cfg.Engine.Simulated, "HEDGED_ENGINE_SIMULATED")
	setBool(&cfg.Engine.LiveOrders, "HEDGED_ENGINE_LIVE_ORDERS")

	// ── Edge guard ──
	setInt(&cfg.EdgeGuard.SlippageWindow, "HEDGED_EDGE_GUARD_SLIPPAGE_WINDOW")
	setInt(&cfg.EdgeGuard.SlippageMinSamples, "HEDGED_EDGE_GUARD_SLIPPAGE_MIN_SAMPLES")
	setFloat64(&cfg.EdgeGuard.MaxAvgSlippageBps, "HEDGED_EDGE_GUARD_MAX_AVG_SLIPPAGE_BPS")
	setFloat64(&cfg.EdgeGuard.MaxFailRate, "HEDGED_EDGE_GUARD_MAX_FAIL_RATE")
	setInt(&cfg.EdgeGuard.PnLTrendLength, "HEDGED_EDGE_GUARD_PNL_TREND_LENGTH")
	setFloat64(&cfg.EdgeGuard.ExposureCapRatio, "HEDGED_EDGE_GUARD_EXPOSURE_CAP_RATIO")

	// ── Risk guard ──
	setFloat64(&cfg.RiskGuard.MaxOpenNotional, "HEDGED_RISK_GUARD_MAX_OPEN_NOTIONAL")
	setInt(&cfg.RiskGuard.MaxOpenPositions, "HEDGED_RISK_GUARD_MAX_OPEN_POSITIONS")
	setDuration(&cfg.RiskGuard.PartialMaxAge, "HEDGED_RISK_GUARD_PARTIAL_MAX_AGE")
	setInt(&cfg.RiskGuard.MaxDaemonFailures, "HEDGED_RISK_GUARD_MAX_DAEMON_FAILURES")
	setInt(&cfg.RiskGuard.RejectionBurst, "HEDGED_RISK_GUARD_REJECTION_BURST")
	setDuration(&cfg.RiskGuard.RejectionWindow, "HEDGED_RISK_GUARD_REJECTION_WINDOW")

	// ── Budget ──
	setFloat64(&cfg.Budget.CapitalMaxNotional, "HEDGED_BUDGET_CAPITAL_MAX_NOTIONAL")
	setInt(&cfg.Budget.CapitalMaxPositions, "HEDGED_BUDGET_CAPITAL_MAX_POSITIONS")

	// ── Strategy risk ──
	setFloat64(&cfg.StrategyRisk.DailyLossLimit, "HEDGED_STRATEGY_RISK_DAILY_LOSS_LIMIT")
	setInt(&cfg.StrategyRisk.MaxConsecutiveFailures, "HEDGED_STRATEGY_RISK_MAX_CONSECUTIVE_FAILURES")

	// ── Rebalancer ──
	setDuration(&cfg.Rebalancer.Interval, "HEDGED_REBALANCER_INTERVAL")
	setDuration(&cfg.Rebalancer.RetryDelay, "HEDGED_REBALANCER_RETRY_DELAY")
	setInt(&cfg.Rebalancer.MaxAttempts, "HEDGED_REBALANCER_MAX_ATTEMPTS")
	setFloat64(&cfg.Rebalancer.MaxBatchNotional, "HEDGED_REBALANCER_MAX_BATCH_NOTIONAL")
	setDuration(&cfg.Rebalancer.LockTTL, "HEDGED_REBALANCER_LOCK_TTL")

	// ── Safety ──
	setInt(&cfg.Safety.AttemptLimit, "HEDGED_SAFETY_ATTEMPT_LIMIT")
	setDuration(&cfg.Safety.AttemptWindow, "HEDGED_SAFETY_ATTEMPT_WINDOW")

	// ── Daemon ──
	setDuration(&cfg.Daemon.ScanInterval, "HEDGED_DAEMON_SCAN_INTERVAL")
	setDuration(&cfg.Daemon.RiskGuardInterval, "HEDGED_DAEMON_RISK_GUARD_INTERVAL")
	setDuration(&cfg.Daemon.AlertPumpInterval, "HEDGED_DAEMON_ALERT_PUMP_INTERVAL")
	setDuration(&cfg.Daemon.RestartBackoff, "HEDGED_DAEMON_RESTART_BACKOFF")
	setInt(&cfg.Daemon.MaxRestarts, "HEDGED_DAEMON_MAX_RESTARTS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "HEDGED_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "HEDGED_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "HEDGED_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Kinds, "HEDGED_NOTIFY_KINDS")

	// ── Top-level ──
	setStr(&cfg.Mode, "HEDGED_MODE")
	setStr(&cfg.LogLevel, "HEDGED_LOG_LEVEL")
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
