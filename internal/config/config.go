// Package config defines the top-level configuration for the hedge daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by HEDGED_* environment variables.
type Config struct {
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	Venues       []VenueConfig      `toml:"venues"`
	Engine       EngineConfig       `toml:"engine"`
	EdgeGuard    EdgeGuardConfig    `toml:"edge_guard"`
	RiskGuard    RiskGuardConfig    `toml:"risk_guard"`
	Budget       BudgetConfig       `toml:"budget"`
	StrategyRisk StrategyRiskConfig `toml:"strategy_risk"`
	Rebalancer   RebalancerConfig   `toml:"rebalancer"`
	Safety       SafetyConfig       `toml:"safety"`
	Daemon       DaemonConfig       `toml:"daemon"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// AlertStreamMaxLen caps the alert stream length (approximate trim).
	AlertStreamMaxLen int `toml:"alert_stream_max_len"`
}

// VenueConfig describes one trading venue.
type VenueConfig struct {
	Name   string  `toml:"name"`
	FeeBps float64 `toml:"fee_bps"`
	// FeedURL is the websocket mark-price feed endpoint; empty disables the
	// feed for this venue.
	FeedURL string `toml:"feed_url"`
	// Sim parameters used when the venue runs as a simulated client.
	SimStartPrice float64 `toml:"sim_start_price"`
	SimBalance    float64 `toml:"sim_balance"`
}

// EngineConfig holds hedge execution engine parameters.
type EngineConfig struct {
	Symbols    []string `toml:"symbols"`
	Notional   float64  `toml:"notional"`
	Leverage   float64  `toml:"leverage"`
	MinSpread  float64  `toml:"min_spread"`
	Strategy   string   `toml:"strategy"`
	Simulated  bool     `toml:"simulated"`
	LiveOrders bool     `toml:"live_orders"`
}

// EdgeGuardConfig holds pre-trade admission thresholds.
type EdgeGuardConfig struct {
	SlippageWindow     int     `toml:"slippage_window"`
	SlippageMinSamples int     `toml:"slippage_min_samples"`
	MaxAvgSlippageBps  float64 `toml:"max_avg_slippage_bps"`
	MaxFailRate        float64 `toml:"max_fail_rate"`
	PnLTrendLength     int     `toml:"pnl_trend_length"`
	ExposureCapRatio   float64 `toml:"exposure_cap_ratio"`
}

// RiskGuardConfig holds the auto-throttle hard-breach thresholds.
type RiskGuardConfig struct {
	MaxOpenNotional   float64  `toml:"max_open_notional"`
	MaxOpenPositions  int      `toml:"max_open_positions"`
	PartialMaxAge     duration `toml:"partial_max_age"`
	MaxDaemonFailures int      `toml:"max_daemon_failures"`
	RejectionBurst    int      `toml:"rejection_burst"`
	RejectionWindow   duration `toml:"rejection_window"`
}

// BudgetConfig holds capital and per-strategy ceilings. Zero means
// unlimited on that axis.
type BudgetConfig struct {
	CapitalMaxNotional  float64                   `toml:"capital_max_notional"`
	CapitalMaxPositions int                       `toml:"capital_max_positions"`
	Strategies          map[string]StrategyBudget `toml:"strategies"`
}

// StrategyBudget is one strategy's ceiling pair.
type StrategyBudget struct {
	MaxNotional  float64 `toml:"max_notional"`
	MaxPositions int     `toml:"max_positions"`
}

// StrategyRiskConfig holds per-strategy breach limits.
type StrategyRiskConfig struct {
	DailyLossLimit         float64 `toml:"daily_loss_limit"`
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures"`
}

// RebalancerConfig holds the partial-hedge reconciliation parameters.
type RebalancerConfig struct {
	Interval         duration `toml:"interval"`
	RetryDelay       duration `toml:"retry_delay"`
	MaxAttempts      int      `toml:"max_attempts"`
	MaxBatchNotional float64  `toml:"max_batch_notional"`
	LockTTL          duration `toml:"lock_ttl"`
}

// SafetyConfig holds the runaway-trade breaker parameters.
type SafetyConfig struct {
	AttemptLimit  int      `toml:"attempt_limit"`
	AttemptWindow duration `toml:"attempt_window"`
}

// DaemonConfig holds loop cadences for the supervised tasks.
type DaemonConfig struct {
	ScanInterval      duration `toml:"scan_interval"`
	RiskGuardInterval duration `toml:"risk_guard_interval"`
	AlertPumpInterval duration `toml:"alert_pump_interval"`
	RestartBackoff    duration `toml:"restart_backoff"`
	MaxRestarts       int      `toml:"max_restarts"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Kinds             []string `toml:"kinds"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "hedged",
			User:          "hedged",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:              "localhost:6379",
			PoolSize:          20,
			MaxRetries:        3,
			AlertStreamMaxLen: 10000,
		},
		Venues: []VenueConfig{
			{Name: "alpha", FeeBps: 2.0, SimStartPrice: 100.0, SimBalance: 100_000},
			{Name: "beta", FeeBps: 5.0, SimStartPrice: 100.2, SimBalance: 100_000},
		},
		Engine: EngineConfig{
			Symbols:   []string{"BTC-PERP"},
			Notional:  1_000,
			Leverage:  3,
			MinSpread: 1.5,
			Strategy:  "delta_neutral",
			Simulated: true,
		},
		EdgeGuard: EdgeGuardConfig{
			SlippageWindow:     20,
			SlippageMinSamples: 5,
			MaxAvgSlippageBps:  25,
			MaxFailRate:        0.5,
			PnLTrendLength:     3,
			ExposureCapRatio:   0.9,
		},
		RiskGuard: RiskGuardConfig{
			MaxOpenNotional:   50_000,
			MaxOpenPositions:  20,
			PartialMaxAge:     duration{30 * time.Minute},
			MaxDaemonFailures: 5,
			RejectionBurst:    10,
			RejectionWindow:   duration{time.Minute},
		},
		Budget: BudgetConfig{
			CapitalMaxNotional:  100_000,
			CapitalMaxPositions: 40,
			Strategies:          map[string]StrategyBudget{},
		},
		StrategyRisk: StrategyRiskConfig{
			DailyLossLimit:         500,
			MaxConsecutiveFailures: 5,
		},
		Rebalancer: RebalancerConfig{
			Interval:         duration{30 * time.Second},
			RetryDelay:       duration{time.Minute},
			MaxAttempts:      10,
			MaxBatchNotional: 500,
			LockTTL:          duration{20 * time.Second},
		},
		Safety: SafetyConfig{
			AttemptLimit:  12,
			AttemptWindow: duration{time.Minute},
		},
		Daemon: DaemonConfig{
			ScanInterval:      duration{10 * time.Second},
			RiskGuardInterval: duration{15 * time.Second},
			AlertPumpInterval: duration{5 * time.Second},
			RestartBackoff:    duration{5 * time.Second},
			MaxRestarts:       5,
		},
		Notify: NotifyConfig{
			Kinds: []string{"hold_engaged", "hedge_leg_failed", "strategy_frozen", "rebalance_exhausted", "error"},
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// Simulated reports whether order execution is simulated, either because the
// engine is configured that way or because the mode forces it.
func (c *Config) Simulated() bool {
	return c.Engine.Simulated || strings.ToLower(c.Mode) == "simulate"
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":    true,
	"monitor":  true,
	"simulate": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, simulate)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Venues) < 2 {
		errs = append(errs, fmt.Sprintf("venues: at least two venues are required for hedged trading, got %d", len(c.Venues)))
	}
	seen := map[string]bool{}
	for i, v := range c.Venues {
		if v.Name == "" {
			errs = append(errs, fmt.Sprintf("venues[%d]: name must not be empty", i))
			continue
		}
		if seen[v.Name] {
			errs = append(errs, fmt.Sprintf("venues: duplicate venue name %q", v.Name))
		}
		seen[v.Name] = true
		if v.FeeBps < 0 {
			errs = append(errs, fmt.Sprintf("venues[%q]: fee_bps must be >= 0", v.Name))
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
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	if c.Engine.Notional <= 0 {
		errs = append(errs, "engine: notional must be > 0")
	}
	if c.Engine.Leverage <= 0 {
		errs = append(errs, "engine: leverage must be > 0")
	}
	if c.Engine.MinSpread < 0 {
		errs = append(errs, "engine: min_spread must be >= 0")
	}
	if c.Engine.Strategy == "" {
		errs = append(errs, "engine: strategy name must not be empty")
	}
	if c.Mode == "trade" && !c.Engine.Simulated && !c.Engine.LiveOrders {
		errs = append(errs, "engine: live_orders must be set explicitly for non-simulated trade mode")
	}

	if c.EdgeGuard.SlippageMinSamples < 1 {
		errs = append(errs, "edge_guard: slippage_min_samples must be >= 1")
	}
	if c.EdgeGuard.SlippageWindow < c.EdgeGuard.SlippageMinSamples {
		errs = append(errs, "edge_guard: slippage_window must be >= slippage_min_samples")
	}
	if c.EdgeGuard.MaxFailRate < 0 || c.EdgeGuard.MaxFailRate > 1 {
		errs = append(errs, "edge_guard: max_fail_rate must be in [0, 1]")
	}
	if c.EdgeGuard.PnLTrendLength < 2 {
		errs = append(errs, "edge_guard: pnl_trend_length must be >= 2")
	}

	if c.RiskGuard.MaxOpenNotional <= 0 {
		errs = append(errs, "risk_guard: max_open_notional must be > 0")
	}
	if c.RiskGuard.MaxOpenPositions <= 0 {
		errs = append(errs, "risk_guard: max_open_positions must be > 0")
	}
	if c.RiskGuard.PartialMaxAge.Duration <= 0 {
		errs = append(errs, "risk_guard: partial_max_age must be > 0")
	}

	if c.StrategyRisk.DailyLossLimit <= 0 {
		errs = append(errs, "strategy_risk: daily_loss_limit must be > 0")
	}
	if c.StrategyRisk.MaxConsecutiveFailures < 1 {
		errs = append(errs, "strategy_risk: max_consecutive_failures must be >= 1")
	}

	if c.Rebalancer.Interval.Duration <= 0 {
		errs = append(errs, "rebalancer: interval must be > 0")
	}
	if c.Rebalancer.MaxAttempts < 1 {
		errs = append(errs, "rebalancer: max_attempts must be >= 1")
	}
	if c.Rebalancer.MaxBatchNotional <= 0 {
		errs = append(errs, "rebalancer: max_batch_notional must be > 0")
	}

	if c.Safety.AttemptLimit < 1 {
		errs = append(errs, "safety: attempt_limit must be >= 1")
	}
	if c.Safety.AttemptWindow.Duration <= 0 {
		errs = append(errs, "safety: attempt_window must be > 0")
	}

	if c.Daemon.ScanInterval.Duration <= 0 {
		errs = append(errs, "daemon: scan_interval must be > 0")
	}
	if c.Daemon.RiskGuardInterval.Duration <= 0 {
		errs = append(errs, "daemon: risk_guard_interval must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
