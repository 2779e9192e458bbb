package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/execution"
	"github.com/web3guy0/gatekeeper/internal/config"
	"github.com/web3guy0/gatekeeper/metrics"
	"github.com/web3guy0/gatekeeper/prediction"
	"github.com/web3guy0/gatekeeper/risk"
	"github.com/web3guy0/gatekeeper/storage"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Candidate → Confidence feedback → Gate → OrderRecord → (caller submits)
//   Venue fill → Tracker confirmation        Ghost sweep ─┐
//   Prediction → Validation sweep → Stats → Confidence feedback
//
// Lifecycle: NewEngine → Recover → Start → Stop
//
// ═══════════════════════════════════════════════════════════════════════════════

// GhostNotifier receives ghost orders flagged by a sweep
type GhostNotifier interface {
	NotifyGhosts(recs []types.OrderRecord, now time.Time)
}

// SnapshotStore saves and loads the validator snapshot
type SnapshotStore interface {
	prediction.SnapshotStore
	LoadSnapshot() (*types.ValidationSnapshot, error)
}

// Config holds engine tunables
type Config struct {
	ConfirmationWindow      time.Duration
	GhostSweepInterval      time.Duration
	ValidationSweepInterval time.Duration
	Capital                 decimal.Decimal
	DefaultNotional         decimal.Decimal
	Prediction              prediction.Config
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ConfirmationWindow:      execution.DefaultConfirmationWindow,
		GhostSweepInterval:      15 * time.Second,
		ValidationSweepInterval: time.Minute,
		Capital:                 decimal.Zero,
		DefaultNotional:         decimal.NewFromInt(25),
		Prediction:              prediction.DefaultConfig(),
	}
}

// ConfigFrom builds engine tunables from process config
func ConfigFrom(c *config.Config) Config {
	return Config{
		ConfirmationWindow:      c.ConfirmationWindow,
		GhostSweepInterval:      c.GhostSweepInterval,
		ValidationSweepInterval: c.ValidationSweepInterval,
		Capital:                 c.Capital,
		DefaultNotional:         c.DefaultNotional,
		Prediction: prediction.Config{
			ValidationWindow: c.ValidationWindow,
			DeadbandPct:      c.DirectionDeadbandPct,
			OutcomeScalePct:  c.OutcomeScalePct,
		},
	}
}

// Deps are the engine's external collaborators. Every field may be nil.
type Deps struct {
	Database    *storage.Database
	Journal     prediction.Journal
	Snapshots   SnapshotStore
	Metrics     *metrics.Recorder
	PriceLookup prediction.PriceLookup
	Notifier    GhostNotifier
}

// Stats is a point-in-time view of every component
type Stats struct {
	Orders        execution.TrackerStats `json:"orders"`
	Predictions   types.ValidationStats  `json:"predictions"`
	Risk          risk.DailyState        `json:"risk"`
	Breaker       risk.BreakerState      `json:"breaker"`
	DailyLimitHit bool                   `json:"daily_limit_hit"`
}

// Engine owns the gate, tracker, recorder and aggregator and runs the
// periodic sweeps
type Engine struct {
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	cfg    Config
	gating *config.GatingConfig

	// Components
	tracker    *execution.Tracker
	reconciler *execution.Reconciler
	recorder   *prediction.Recorder
	aggregator *risk.ConfidenceAggregator
	gate       *risk.Gate

	snapshots   SnapshotStore
	metrics     *metrics.Recorder
	notifier    GhostNotifier
	priceLookup prediction.PriceLookup
}

// NewEngine wires the engine components
func NewEngine(cfg Config, gating *config.GatingConfig, deps Deps) *Engine {
	reconciler := execution.NewReconciler(deps.Database)
	tracker := execution.NewTracker(cfg.ConfirmationWindow, reconciler)

	var snapshots prediction.SnapshotStore
	if deps.Snapshots != nil {
		snapshots = deps.Snapshots
	}
	recorder := prediction.NewRecorder(cfg.Prediction, deps.Journal, snapshots)

	e := &Engine{
		stopCh:      make(chan struct{}),
		cfg:         cfg,
		gating:      gating,
		tracker:     tracker,
		reconciler:  reconciler,
		recorder:    recorder,
		aggregator:  risk.NewConfidenceAggregator(recorder),
		gate:        risk.NewGate(gating, tracker, cfg.Capital),
		snapshots:   deps.Snapshots,
		metrics:     deps.Metrics,
		notifier:    deps.Notifier,
		priceLookup: deps.PriceLookup,
	}

	recorder.OnValidated(func(p types.Prediction) {
		e.metrics.RecordValidation(p.Correct)
	})

	return e
}

// SetClock overrides the wall clock of every component
func (e *Engine) SetClock(now func() time.Time) {
	e.tracker.SetClock(now)
	e.recorder.SetClock(now)
	e.gate.SetClock(now)
}

// SetNotifier attaches a ghost notifier after construction
func (e *Engine) SetNotifier(n GhostNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// Recover restores persisted orders, predictions and risk counters
func (e *Engine) Recover() (orders, predictions int, err error) {
	orders, err = e.reconciler.RecoverOrders(e.tracker)
	if err != nil {
		return 0, 0, fmt.Errorf("recover orders: %w", err)
	}

	if e.snapshots != nil {
		snap, err := e.snapshots.LoadSnapshot()
		if err != nil {
			return orders, 0, fmt.Errorf("recover predictions: %w", err)
		}
		predictions = e.recorder.Restore(snap)
		e.metrics.RecordAccuracy(e.recorder.Stats().Accuracy)
	}

	state, err := e.reconciler.LoadRiskState()
	if err != nil {
		return orders, predictions, fmt.Errorf("recover risk state: %w", err)
	}
	if state != nil {
		e.gate.RestoreDailyState(risk.DailyState{
			Day:             state.Date,
			TradesToday:     state.TradesToday,
			DailyPnL:        state.DailyPnL,
			DayStartCapital: state.DayStartCapital,
			Capital:         state.Capital,
		})
	}

	return orders, predictions, nil
}

// Start begins the periodic ghost and validation sweeps
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop("ghost", e.cfg.GhostSweepInterval, func(now time.Time) {
		e.SweepGhostOrders(now)
	})

	if e.priceLookup != nil {
		e.wg.Add(1)
		go e.loop("validation", e.cfg.ValidationSweepInterval, func(now time.Time) {
			e.ValidatePending(now)
		})
	} else {
		log.Warn().Msg("No price lookup configured, validation sweep disabled")
	}

	log.Info().
		Dur("ghost_sweep", e.cfg.GhostSweepInterval).
		Dur("validation_sweep", e.cfg.ValidationSweepInterval).
		Msg("⚡ Engine started")
}

// Stop stops the sweeps and waits for them to exit
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
	log.Info().Msg("Engine stopped")
}

func (e *Engine) loop(name string, interval time.Duration, sweep func(now time.Time)) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			start := time.Now()
			sweep(now)
			e.metrics.RecordSweep(name, time.Since(start).Seconds())
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// GATING
// ═══════════════════════════════════════════════════════════════════════════════

// Evaluate gates a candidate, scaling its confidence by the feedback multiplier
// for the given market regime and sentiment
func (e *Engine) Evaluate(c types.TradeCandidate, regime string, sentiment float64) types.GatingOutcome {
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}

	m := e.aggregator.GetConfidenceAdjustment(regime, sentiment)
	e.metrics.RecordMultiplier(regime, m)

	log.Debug().
		Str("symbol", c.Symbol).
		Str("regime", regime).
		Float64("raw_confidence", c.Confidence).
		Float64("multiplier", m).
		Msg("Confidence adjusted")

	outcome := e.gate.Evaluate(c.WithConfidence(c.Confidence*m), e.gating.MinConfidence)
	e.metrics.RecordGating(outcome.Approved)

	if outcome.Approved {
		e.persistRiskState()
	}
	return outcome
}

// EvaluateOpportunity builds a candidate from a scan result and gates it
func (e *Engine) EvaluateOpportunity(opp risk.Opportunity, regime string, sentiment float64) (types.GatingOutcome, error) {
	c, err := risk.BuildCandidateFromOpportunity(opp, e.cfg.DefaultNotional)
	if err != nil {
		return types.GatingOutcome{}, err
	}
	return e.Evaluate(c, regime, sentiment), nil
}

// RecordExit books realized PnL for the daily loss limit
func (e *Engine) RecordExit(symbol string, pnl decimal.Decimal) {
	e.gate.RecordExit(symbol, pnl)
	e.persistRiskState()
}

// ResetBreaker clears a tripped losing-streak breaker
func (e *Engine) ResetBreaker() {
	e.gate.ResetBreaker()
}

func (e *Engine) persistRiskState() {
	s := e.gate.DailyState()
	if err := e.reconciler.SaveRiskState(s.Day, s.TradesToday, s.DailyPnL, s.DayStartCapital, s.Capital); err != nil {
		log.Error().Err(err).Msg("❌ Failed to persist risk state")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════

// ConfirmFill attaches a venue fill to a tracked order
func (e *Engine) ConfirmFill(orderID, exchange string, qty, price decimal.Decimal) error {
	err := e.tracker.ConfirmFill(orderID, exchange, qty, price)
	e.metrics.RecordFill(err == nil)
	return err
}

// RecordFillConfirmation is ConfirmFill reporting only success
func (e *Engine) RecordFillConfirmation(orderID, exchange string, qty, price decimal.Decimal) bool {
	return e.ConfirmFill(orderID, exchange, qty, price) == nil
}

// SweepGhostOrders flags unconfirmed orders and notifies about new ghosts
func (e *Engine) SweepGhostOrders(now time.Time) int {
	flagged := e.tracker.SweepGhosts(now)
	n := len(flagged)
	e.metrics.RecordGhosts(n)

	e.mu.Lock()
	notifier := e.notifier
	e.mu.Unlock()
	if notifier != nil && len(flagged) > 0 {
		notifier.NotifyGhosts(flagged, now)
	}
	return n
}

// Order returns a tracked order record
func (e *Engine) Order(id string) (types.OrderRecord, bool) {
	return e.tracker.Get(id)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PREDICTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// RecordPrediction logs a directional call for later validation
func (e *Engine) RecordPrediction(symbol string, direction types.Direction, probability, confidence float64, action string, price float64, ctx types.SignalContext) (string, error) {
	id, err := e.recorder.RecordPrediction(symbol, direction, probability, confidence, action, price, ctx)
	if err == nil {
		e.metrics.RecordPrediction()
	}
	return id, err
}

// ValidatePrediction resolves one prediction against currentPrice
func (e *Engine) ValidatePrediction(id string, currentPrice float64) (prediction.ValidationResult, error) {
	res, err := e.recorder.ValidatePrediction(id, currentPrice)
	if err == nil && !res.AlreadyValidated {
		e.metrics.RecordAccuracy(e.recorder.Stats().Accuracy)
	}
	return res, err
}

// ValidatePending validates every due prediction using the configured lookup
func (e *Engine) ValidatePending(now time.Time) int {
	if e.priceLookup == nil {
		return 0
	}
	n := e.recorder.ValidatePending(now, e.priceLookup)
	if n > 0 {
		e.metrics.RecordAccuracy(e.recorder.Stats().Accuracy)
		log.Info().Int("validated", n).Msg("🎯 Validation sweep complete")
	}
	return n
}

// Prediction returns a stored prediction
func (e *Engine) Prediction(id string) (types.Prediction, bool) {
	return e.recorder.Get(id)
}

// ConfidenceAdjustment exposes the current multiplier for a context
func (e *Engine) ConfidenceAdjustment(regime string, sentiment float64) float64 {
	return e.aggregator.GetConfidenceAdjustment(regime, sentiment)
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATS
// ═══════════════════════════════════════════════════════════════════════════════

// Stats returns a view of every component
func (e *Engine) Stats() Stats {
	return Stats{
		Orders:        e.tracker.Stats(),
		Predictions:   e.recorder.Stats(),
		Risk:          e.gate.DailyState(),
		Breaker:       e.gate.Breaker(),
		DailyLimitHit: e.gate.IsDailyLimitHit(),
	}
}

// TrackerStats returns the order tracker counters
func (e *Engine) TrackerStats() execution.TrackerStats {
	return e.tracker.Stats()
}

// ValidationStats returns the latest prediction stats
func (e *Engine) ValidationStats() types.ValidationStats {
	return e.recorder.Stats()
}
