package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/quantfarm/hedged/internal/cache/redis"
	"github.com/quantfarm/hedged/internal/config"
	"github.com/quantfarm/hedged/internal/domain"
	"github.com/quantfarm/hedged/internal/notify"
	"github.com/quantfarm/hedged/internal/service"
	"github.com/quantfarm/hedged/internal/store/postgres"
	"github.com/quantfarm/hedged/internal/venue"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore     domain.PositionStore
	BudgetStore       domain.BudgetStore
	StrategyRiskStore domain.StrategyRiskStore
	HoldStore         domain.HoldStore
	ExecutionStore    domain.ExecutionStore
	HedgeLogStore     domain.HedgeLogStore
	AuditStore        domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	AlertBus    domain.AlertBus

	// Venues
	Venues *venue.Registry

	// Services
	Ledger   *service.Ledger
	Safety   *service.SafetyCenter
	Budget   *service.BudgetManager
	Risk     *service.StrategyRiskManager
	Guard    *service.EdgeGuard
	Router   *service.Router
	Engine   *service.Engine
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function to be called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	simulated := cfg.Simulated()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.BudgetStore = postgres.NewBudgetStore(pool)
	deps.StrategyRiskStore = postgres.NewStrategyRiskStore(pool)
	deps.HoldStore = postgres.NewHoldStore(pool)
	deps.ExecutionStore = postgres.NewExecutionStore(pool)
	deps.HedgeLogStore = postgres.NewHedgeLogStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, time.Minute)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.AlertBus = redis.NewAlertBus(redisClient, int64(cfg.Redis.AlertStreamMaxLen))

	// --- Venues ---
	// Only the simulated client ships here; live venue adapters plug into
	// the same registry.
	fees := make(map[string]float64, len(cfg.Venues))
	clients := make([]domain.VenueClient, 0, len(cfg.Venues))
	for i, vc := range cfg.Venues {
		fees[vc.Name] = vc.FeeBps
		clients = append(clients, venue.NewSim(
			vc.Name,
			vc.SimStartPrice,
			vc.SimBalance,
			venue.WithPhase(float64(i)*math.Pi/2),
		))
	}
	deps.Venues = venue.NewRegistry(clients...)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Kinds, logger)

	// --- Services ---
	deps.Ledger = service.NewLedger(deps.HedgeLogStore, deps.ExecutionStore, deps.AuditStore, deps.AlertBus, logger)

	deps.Safety = service.NewSafetyCenter(deps.HoldStore, deps.RateLimiter, deps.Ledger, service.SafetyConfig{
		AttemptLimit:  cfg.Safety.AttemptLimit,
		AttemptWindow: cfg.Safety.AttemptWindow.Duration,
	}, logger)
	if err := deps.Safety.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: safety: %w", err)
	}

	deps.Budget = service.NewBudgetManager(deps.BudgetStore, budgetLimits(cfg.Budget), logger)
	if err := deps.Budget.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: budget: %w", err)
	}

	deps.Risk = service.NewStrategyRiskManager(deps.StrategyRiskStore, deps.Ledger, service.StrategyRiskConfig{
		DailyLossLimit:         cfg.StrategyRisk.DailyLossLimit,
		MaxConsecutiveFailures: cfg.StrategyRisk.MaxConsecutiveFailures,
	}, logger)
	if err := deps.Risk.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: strategy risk: %w", err)
	}

	deps.Guard = service.NewEdgeGuard(deps.Safety, deps.PositionStore, deps.ExecutionStore, service.EdgeGuardConfig{
		SlippageWindow:     cfg.EdgeGuard.SlippageWindow,
		SlippageMinSamples: cfg.EdgeGuard.SlippageMinSamples,
		MaxAvgSlippageBps:  cfg.EdgeGuard.MaxAvgSlippageBps,
		MaxFailRate:        cfg.EdgeGuard.MaxFailRate,
		PnLTrendLength:     cfg.EdgeGuard.PnLTrendLength,
		ExposureCap:        cfg.RiskGuard.MaxOpenNotional,
		ExposureCapRatio:   cfg.EdgeGuard.ExposureCapRatio,
	}, logger)

	deps.Router = service.NewRouter(deps.Venues, fees, deps.PriceCache, nil, simulated, logger)

	deps.Engine = service.NewEngine(
		deps.Venues,
		deps.Router,
		deps.Guard,
		deps.Budget,
		deps.Risk,
		deps.Safety,
		deps.PositionStore,
		deps.Ledger,
		deps.PriceCache,
		service.EngineConfig{
			Notional:   cfg.Engine.Notional,
			Leverage:   cfg.Engine.Leverage,
			MinSpread:  cfg.Engine.MinSpread,
			Strategy:   cfg.Engine.Strategy,
			Simulated:  simulated,
			LiveOrders: cfg.Engine.LiveOrders,
		},
		logger,
	)

	return deps, cleanup, nil
}

// budgetLimits translates the config ceilings, where zero means unlimited,
// into the manager's nil-means-unlimited form.
func budgetLimits(cfg config.BudgetConfig) map[string]service.BudgetLimits {
	limits := make(map[string]service.BudgetLimits, len(cfg.Strategies)+1)
	limits[domain.CapitalScope] = service.BudgetLimits{
		MaxNotional:  optFloat(cfg.CapitalMaxNotional),
		MaxPositions: optInt(cfg.CapitalMaxPositions),
	}
	for strategy, b := range cfg.Strategies {
		limits[strategy] = service.BudgetLimits{
			MaxNotional:  optFloat(b.MaxNotional),
			MaxPositions: optInt(b.MaxPositions),
		}
	}
	return limits
}

func optFloat(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

func optInt(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}
