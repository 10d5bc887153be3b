package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quantfarm/hedged/internal/domain"
)

// EdgeGuardConfig holds the pre-trade admission thresholds.
type EdgeGuardConfig struct {
	// SlippageWindow is how many recent non-simulated executions feed the
	// slippage and failure-rate checks.
	SlippageWindow int
	// SlippageMinSamples is the minimum sample count before the slippage
	// check applies.
	SlippageMinSamples int
	// MaxAvgSlippageBps blocks trading when the trailing average absolute
	// slippage exceeds it.
	MaxAvgSlippageBps float64
	// MaxFailRate blocks trading when the trailing failure rate reaches it.
	MaxFailRate float64
	// PnLTrendLength is how many consecutive declining unrealized PnL
	// snapshots constitute a downtrend.
	PnLTrendLength int
	// ExposureCap and ExposureCapRatio gate the downtrend check: it only
	// fires when exposure is at or above cap*ratio.
	ExposureCap      float64
	ExposureCapRatio float64
}

// Admission is the edge guard's verdict for one attempted hedge.
type Admission struct {
	Allowed bool
	Reason  string
	// Venue names the offending venue for liquidity rejections.
	Venue  string
	Detail string
}

// Signals is the raw signal set behind an admission decision, exposed for
// observability without re-deriving the verdict.
type Signals struct {
	Desync             bool
	DesyncDetail       string
	HoldActive         bool
	HoldReason         domain.HoldReason
	IlliquidVenue      string
	PartialOutstanding int
	SlippageSamples    int
	AvgSlippageBps     float64
	FailRate           float64
	PnLDowntrend       bool
	Exposure           float64
}

// EdgeGuard is the pre-trade admission gate. Checks run in fixed
// precedence and the first failing one wins; the guard itself never
// mutates anything.
type EdgeGuard struct {
	safety     *SafetyCenter
	positions  domain.PositionStore
	executions domain.ExecutionStore
	cfg        EdgeGuardConfig
	logger     *slog.Logger

	mu           sync.Mutex
	desync       bool
	desyncDetail string
	pnlHistory   []domain.PnLSnapshot
}

// NewEdgeGuard creates an EdgeGuard.
func NewEdgeGuard(
	safety *SafetyCenter,
	positions domain.PositionStore,
	executions domain.ExecutionStore,
	cfg EdgeGuardConfig,
	logger *slog.Logger,
) *EdgeGuard {
	return &EdgeGuard{
		safety:     safety,
		positions:  positions,
		executions: executions,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "edge_guard")),
	}
}

// SetDesync flags (or clears) a reconciliation desync observed by the
// rebalancer. While set, every admission fails first on "desync".
func (g *EdgeGuard) SetDesync(desync bool, detail string) {
	g.mu.Lock()
	g.desync = desync
	g.desyncDetail = detail
	g.mu.Unlock()
}

// RecordPnL appends one unrealized PnL snapshot for the downtrend check.
// The risk-guard cadence feeds this once per cycle.
func (g *EdgeGuard) RecordPnL(snap domain.PnLSnapshot) {
	keep := g.cfg.PnLTrendLength
	if keep <= 0 {
		keep = 3
	}
	g.mu.Lock()
	g.pnlHistory = append(g.pnlHistory, snap)
	if len(g.pnlHistory) > keep {
		g.pnlHistory = g.pnlHistory[len(g.pnlHistory)-keep:]
	}
	g.mu.Unlock()
}

// Check runs the admission gate for one symbol. plans are the routed leg
// candidates when available; without them the liquidity check is skipped.
func (g *EdgeGuard) Check(ctx context.Context, symbol string, plans ...domain.ExecutionPlan) Admission {
	sig := g.Signals(ctx, plans...)

	switch {
	case sig.Desync:
		return Admission{Reason: domain.ReasonDesync, Detail: sig.DesyncDetail}
	case sig.HoldActive:
		reason := domain.ReasonHoldActive
		if sig.HoldReason.IsAutoThrottle() {
			reason = domain.ReasonRiskThrottleActive
		}
		return Admission{Reason: reason, Detail: sig.HoldReason.String()}
	case sig.IlliquidVenue != "":
		return Admission{Reason: domain.ReasonInsufficientLiq, Venue: sig.IlliquidVenue}
	case sig.PartialOutstanding > 0:
		return Admission{Reason: domain.ReasonPartialOutstanding}
	case sig.SlippageSamples >= g.cfg.SlippageMinSamples &&
		g.cfg.MaxAvgSlippageBps > 0 && sig.AvgSlippageBps > g.cfg.MaxAvgSlippageBps:
		return Admission{Reason: domain.ReasonSlippageDegraded}
	case sig.SlippageSamples >= g.cfg.SlippageMinSamples &&
		g.cfg.MaxFailRate > 0 && sig.FailRate >= g.cfg.MaxFailRate:
		return Admission{Reason: domain.ReasonExecFailRateHigh}
	case sig.PnLDowntrend:
		return Admission{Reason: domain.ReasonPnLDowntrend}
	}
	return Admission{Allowed: true, Reason: domain.ReasonOK}
}

// Signals derives the raw signal set the admission decision is built from.
func (g *EdgeGuard) Signals(ctx context.Context, plans ...domain.ExecutionPlan) Signals {
	g.mu.Lock()
	sig := Signals{
		Desync:       g.desync,
		DesyncDetail: g.desyncDetail,
	}
	history := make([]domain.PnLSnapshot, len(g.pnlHistory))
	copy(history, g.pnlHistory)
	g.mu.Unlock()

	hold := g.safety.HoldState()
	sig.HoldActive = hold.Active
	sig.HoldReason = hold.Reason

	for _, plan := range plans {
		if !plan.LiquidityOK {
			sig.IlliquidVenue = plan.Venue
			break
		}
	}

	if partials, err := g.positions.ListPartial(ctx); err != nil {
		g.logger.WarnContext(ctx, "partial position scan failed", slog.String("error", err.Error()))
	} else {
		for _, p := range partials {
			if !p.Simulated {
				sig.PartialOutstanding++
			}
		}
	}

	sig.SlippageSamples, sig.AvgSlippageBps, sig.FailRate = g.executionQuality(ctx)
	sig.PnLDowntrend, sig.Exposure = g.downtrend(history)
	return sig
}

// executionQuality computes trailing slippage and failure stats over the
// last SlippageWindow non-simulated executions.
func (g *EdgeGuard) executionQuality(ctx context.Context) (samples int, avgSlippageBps, failRate float64) {
	window := g.cfg.SlippageWindow
	if window <= 0 {
		return 0, 0, 0
	}
	recs, err := g.executions.ListRecent(ctx, window*2)
	if err != nil {
		g.logger.WarnContext(ctx, "execution history scan failed", slog.String("error", err.Error()))
		return 0, 0, 0
	}

	var sumAbs float64
	var failures int
	for _, rec := range recs {
		if rec.Simulated {
			continue
		}
		samples++
		if rec.SlippageBps < 0 {
			sumAbs -= rec.SlippageBps
		} else {
			sumAbs += rec.SlippageBps
		}
		if !rec.Success {
			failures++
		}
		if samples == window {
			break
		}
	}
	if samples == 0 {
		return 0, 0, 0
	}
	return samples, sumAbs / float64(samples), float64(failures) / float64(samples)
}

// downtrend reports whether unrealized PnL fell strictly across the whole
// history while exposure sits at or above its cap threshold.
func (g *EdgeGuard) downtrend(history []domain.PnLSnapshot) (bool, float64) {
	if len(history) == 0 {
		return false, 0
	}
	latest := history[len(history)-1]
	if g.cfg.PnLTrendLength <= 0 || len(history) < g.cfg.PnLTrendLength {
		return false, latest.Exposure
	}
	if g.cfg.ExposureCap <= 0 || latest.Exposure < g.cfg.ExposureCap*g.cfg.ExposureCapRatio {
		return false, latest.Exposure
	}
	for i := 1; i < len(history); i++ {
		if history[i].UnrealizedPnL >= history[i-1].UnrealizedPnL {
			return false, latest.Exposure
		}
	}
	return true, latest.Exposure
}
