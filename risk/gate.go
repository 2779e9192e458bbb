package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/internal/config"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GATING PIPELINE - Central approval system
// ═══════════════════════════════════════════════════════════════════════════════
//
// Strategy builds candidate → Gate approves/rejects → caller submits to venue
//
// Checks run in a fixed order and stop at the first failure, so the reason
// always names the first violated rule. Every decision, approved or not,
// leaves an OrderRecord behind for audit.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderBook stores the audit record of a gating decision and assigns its id
type OrderBook interface {
	Register(rec *types.OrderRecord) string
}

// DailyState is the part of the gate that survives restarts
type DailyState struct {
	Day             string          `json:"day"` // 2006-01-02, UTC
	TradesToday     int             `json:"trades_today"`
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	DayStartCapital decimal.Decimal `json:"day_start_capital"`
	Capital         decimal.Decimal `json:"capital"`
}

// Gate is the trade gating pipeline
type Gate struct {
	cfg    *config.GatingConfig // read-only after construction
	orders OrderBook
	now    func() time.Time

	mu      sync.Mutex
	daily   DailyState
	breaker *CircuitBreaker
}

// NewGate creates the gating pipeline. capital may be zero, which disables the
// position-fraction and daily-loss checks.
func NewGate(cfg *config.GatingConfig, orders OrderBook, capital decimal.Decimal) *Gate {
	g := &Gate{
		cfg:    cfg,
		orders: orders,
		now:    time.Now,
		daily: DailyState{
			Capital:         capital,
			DayStartCapital: capital,
		},
		breaker: NewCircuitBreaker(cfg.MaxConsecutiveLosses, cfg.LossCooldown),
	}

	log.Info().
		Float64("min_confidence", cfg.MinConfidence).
		Float64("min_coherence", cfg.MinCoherence).
		Float64("min_stability", cfg.MinStability).
		Float64("max_position_fraction", cfg.MaxPositionFraction).
		Int("max_trades_per_day", cfg.MaxTradesPerDay).
		Strs("exchanges", cfg.AllowedExchanges).
		Str("capital", capital.StringFixed(2)).
		Msg("🛡️ Gate initialized")

	return g
}

// SetClock overrides the wall clock (tests, replays)
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Config returns the gating thresholds
func (g *Gate) Config() *config.GatingConfig {
	return g.cfg
}

// Evaluate runs the gating checks for a candidate. adjustedMinConfidence is the
// confidence bar to apply; callers that feed back historical accuracy scale the
// candidate confidence before calling.
func (g *Gate) Evaluate(c types.TradeCandidate, adjustedMinConfidence float64) types.GatingOutcome {
	now := g.now()
	rec := &types.OrderRecord{
		Symbol:        c.Symbol,
		Side:          c.Side,
		Exchange:      c.Exchange,
		Source:        c.Source,
		SubmittedAt:   now,
		Quantity:      c.Quantity,
		Price:         c.Price,
		CorrelationID: c.CorrelationID,
	}

	reason := g.check(c, adjustedMinConfidence, now)
	rec.Approved = reason == ""
	if rec.Approved {
		reason = types.ReasonApproved
	} else {
		rec.RejectionReason = reason
	}

	id := g.orders.Register(rec)

	if rec.Approved {
		log.Info().
			Str("order_id", id).
			Str("symbol", c.Symbol).
			Str("side", string(c.Side)).
			Str("exchange", c.Exchange).
			Str("qty", c.Quantity.String()).
			Str("price", c.Price.String()).
			Float64("confidence", c.Confidence).
			Msg("✅ Trade approved")
	} else {
		log.Debug().
			Str("order_id", id).
			Str("symbol", c.Symbol).
			Str("reason", reason).
			Msg("🚫 Trade rejected")
	}

	return types.GatingOutcome{
		Approved: rec.Approved,
		Reason:   reason,
		OrderID:  id,
	}
}

// check returns the first violated rule, or "" if the candidate passes
func (g *Gate) check(c types.TradeCandidate, minConfidence float64, now time.Time) string {
	// 1-3. Signal quality. Non-finite scores never pass.
	if reason := scoreCheck("confidence", c.Confidence, minConfidence); reason != "" {
		return reason
	}
	if reason := scoreCheck("coherence", c.Coherence, g.cfg.MinCoherence); reason != "" {
		return reason
	}
	if reason := scoreCheck("stability", c.Stability, g.cfg.MinStability); reason != "" {
		return reason
	}

	// 4-5. Order shape
	if !c.Quantity.IsPositive() {
		return "quantity must be positive"
	}
	if !c.Price.IsPositive() {
		return "price must be positive"
	}

	// 6. Venue. Empty exchange means no venue constraint.
	if c.Exchange != "" && !g.cfg.ExchangeAllowed(c.Exchange) {
		return fmt.Sprintf("exchange %q not allowed", c.Exchange)
	}

	// 7-9. Capital limits
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDay(now)

	if g.daily.Capital.IsPositive() {
		maxNotional := g.daily.Capital.Mul(decimal.NewFromFloat(g.cfg.MaxPositionFraction))
		if c.Notional().GreaterThan(maxNotional) {
			return fmt.Sprintf("position notional %s exceeds max %s", c.Notional().StringFixed(2), maxNotional.StringFixed(2))
		}
	}

	if g.cfg.MaxTradesPerDay > 0 && g.daily.TradesToday >= g.cfg.MaxTradesPerDay {
		return fmt.Sprintf("max trades per day reached (%d)", g.cfg.MaxTradesPerDay)
	}

	if g.daily.DayStartCapital.IsPositive() && g.dailyLimitHit() {
		return "daily loss limit hit"
	}

	// 10. Losing streak
	if g.breaker.Tripped(now) {
		return fmt.Sprintf("circuit breaker tripped after %d consecutive losses", g.breaker.State().ConsecutiveLosses)
	}

	g.daily.TradesToday++
	return ""
}

func scoreCheck(name string, v, min float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprintf("%s is not finite", name)
	}
	if v < min {
		return fmt.Sprintf("%s %.4f below minimum %.4f", name, v, min)
	}
	return ""
}

// dailyLimitHit requires g.mu
func (g *Gate) dailyLimitHit() bool {
	limit := g.daily.DayStartCapital.Mul(decimal.NewFromFloat(g.cfg.MaxDailyLossFraction))
	return g.daily.DailyPnL.LessThanOrEqual(limit.Neg()) && g.daily.DailyPnL.IsNegative()
}

// rollDay resets daily counters on UTC day change. Requires g.mu.
func (g *Gate) rollDay(now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if g.daily.Day == today {
		return
	}
	if g.daily.Day != "" {
		log.Info().
			Str("day", today).
			Int("trades_yesterday", g.daily.TradesToday).
			Str("pnl_yesterday", g.daily.DailyPnL.StringFixed(2)).
			Msg("📅 Daily risk stats reset")
	}
	g.daily.Day = today
	g.daily.TradesToday = 0
	g.daily.DailyPnL = decimal.Zero
	g.daily.DayStartCapital = g.daily.Capital
}

// RecordExit books realized PnL against the daily loss limit
func (g *Gate) RecordExit(symbol string, pnl decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.rollDay(now)
	g.daily.Capital = g.daily.Capital.Add(pnl)
	g.daily.DailyPnL = g.daily.DailyPnL.Add(pnl)
	g.breaker.RecordResult(pnl, now)

	if pnl.IsNegative() {
		log.Warn().
			Str("symbol", symbol).
			Str("pnl", pnl.StringFixed(2)).
			Str("daily_pnl", g.daily.DailyPnL.StringFixed(2)).
			Msg("📉 Loss recorded")
	} else {
		log.Info().
			Str("symbol", symbol).
			Str("pnl", pnl.StringFixed(2)).
			Msg("📈 Win recorded")
	}
}

// Breaker returns the losing-streak breaker state
func (g *Gate) Breaker() BreakerState {
	return g.breaker.State()
}

// ResetBreaker clears a tripped breaker before its cooldown ends
func (g *Gate) ResetBreaker() {
	g.breaker.ForceReset()
}

// IsDailyLimitHit checks if the daily loss limit is hit
func (g *Gate) IsDailyLimitHit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDay(g.now())
	return g.daily.DayStartCapital.IsPositive() && g.dailyLimitHit()
}

// DailyState returns a copy of the daily counters
func (g *Gate) DailyState() DailyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.daily
}

// RestoreDailyState loads persisted counters. State from a previous day only
// carries the capital forward.
func (g *Gate) RestoreDailyState(s DailyState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.Capital.IsPositive() {
		g.daily.Capital = s.Capital
	}
	today := g.now().UTC().Format("2006-01-02")
	if s.Day != today {
		g.daily.Day = ""
		g.rollDay(g.now())
		return
	}
	g.daily = s

	log.Info().
		Str("day", s.Day).
		Int("trades_today", s.TradesToday).
		Str("daily_pnl", s.DailyPnL.StringFixed(2)).
		Msg("📥 Daily risk state restored")
}
