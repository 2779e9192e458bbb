package prediction

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PREDICTION RECORDER & VALIDATOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Record call at decision time → wait validation window → compare with fresh
// price → recompute stats → stats feed the confidence aggregator
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotFound         = errors.New("prediction not found")
	ErrPriceUnavailable = errors.New("price unavailable") // retry later
	ErrInvalidInput     = errors.New("invalid prediction input")
)

// PriceLookup returns the last traded price for a symbol
type PriceLookup func(symbol string) (float64, bool)

// SnapshotStore persists the full validator state
type SnapshotStore interface {
	SaveSnapshot(s *types.ValidationSnapshot) error
}

// Config holds validator constants
type Config struct {
	ValidationWindow time.Duration
	DeadbandPct      float64 // |change| at or below this is neutral
	OutcomeScalePct  float64 // change that maps to an outcome score of ±1
}

// DefaultConfig returns the stock validation constants
func DefaultConfig() Config {
	return Config{
		ValidationWindow: 2 * time.Hour,
		DeadbandPct:      0.5,
		OutcomeScalePct:  5,
	}
}

// withDefaults replaces unusable values with the stock constants
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ValidationWindow <= 0 {
		c.ValidationWindow = def.ValidationWindow
	}
	if !finite(c.DeadbandPct) || c.DeadbandPct < 0 {
		c.DeadbandPct = def.DeadbandPct
	}
	if !finite(c.OutcomeScalePct) || c.OutcomeScalePct <= 0 {
		c.OutcomeScalePct = def.OutcomeScalePct
	}
	return c
}

// ValidationResult describes the outcome of validating one prediction
type ValidationResult struct {
	PredictionID     string          `json:"prediction_id"`
	Predicted        types.Direction `json:"predicted"`
	Actual           types.Direction `json:"actual"`
	ChangePct        float64         `json:"change_pct"`
	Correct          bool            `json:"correct"`
	OutcomeScore     float64         `json:"outcome_score"`
	AlreadyValidated bool            `json:"already_validated"`
}

type entry struct {
	mu sync.Mutex
	p  types.Prediction
}

// Recorder stores predictions and validates them against later prices
type Recorder struct {
	cfg       Config
	journal   Journal
	snapshots SnapshotStore
	now       func() time.Time

	entries sync.Map // id -> *entry

	// Serializes recompute+persist so snapshots are written in order
	recomputeMu sync.Mutex
	statsMu     sync.RWMutex
	stats       types.ValidationStats

	onValidated func(types.Prediction)
}

// NewRecorder creates a prediction recorder. journal and snapshots may be nil.
func NewRecorder(cfg Config, journal Journal, snapshots SnapshotStore) *Recorder {
	if fixed := cfg.withDefaults(); fixed != cfg {
		log.Warn().
			Dur("window", cfg.ValidationWindow).
			Float64("deadband_pct", cfg.DeadbandPct).
			Float64("outcome_scale_pct", cfg.OutcomeScalePct).
			Msg("⚠️ Invalid validator config, using defaults for bad fields")
		cfg = fixed
	}

	r := &Recorder{
		cfg:       cfg,
		journal:   journal,
		snapshots: snapshots,
		now:       time.Now,
	}
	r.stats = ComputeStats(nil, r.now())

	log.Info().
		Dur("window", cfg.ValidationWindow).
		Float64("deadband_pct", cfg.DeadbandPct).
		Float64("outcome_scale_pct", cfg.OutcomeScalePct).
		Msg("🧠 Prediction recorder initialized")

	return r
}

// SetClock overrides the wall clock
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// OnValidated sets a callback invoked after each successful validation
func (r *Recorder) OnValidated(fn func(types.Prediction)) {
	r.onValidated = fn
}

// RecordPrediction stores a new directional call and returns its id
func (r *Recorder) RecordPrediction(symbol string, direction types.Direction, probability, confidence float64, action string, price float64, ctx types.SignalContext) (string, error) {
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}
	if !direction.Valid() {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidInput, direction)
	}
	if !finite(price) || price <= 0 {
		return "", fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"probability", probability},
		{"confidence", confidence},
		{"sentiment_index", ctx.SentimentIndex},
		{"volatility_index", ctx.VolatilityIndex},
	} {
		if !finite(f.v) {
			return "", fmt.Errorf("%w: %s is not finite", ErrInvalidInput, f.name)
		}
	}

	now := r.now()
	e := &entry{p: types.Prediction{
		Symbol:      symbol,
		CreatedAt:   now,
		Direction:   direction,
		Probability: probability,
		Confidence:  confidence,
		Action:      action,
		Context:     ctx,
		Price:       price,
		WindowStart: now,
		WindowEnd:   now.Add(r.cfg.ValidationWindow),
	}}

	// id = symbol + timestamp, suffixed on collision
	base := fmt.Sprintf("%s_%d", symbol, now.UnixNano())
	id := base
	for n := 1; ; n++ {
		e.p.ID = id
		if _, loaded := r.entries.LoadOrStore(id, e); !loaded {
			break
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}

	if r.journal != nil {
		snapshot := e.p
		if err := r.journal.Append(&snapshot); err != nil {
			log.Error().Err(err).Str("id", id).Msg("Failed to journal prediction")
		}
	}

	log.Info().
		Str("id", id).
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("probability", probability).
		Float64("price", price).
		Time("window_end", e.p.WindowEnd).
		Msg("🧠 Prediction recorded")

	// Snapshot now so the pending list survives a restart
	r.recompute()
	return id, nil
}

// ValidatePrediction resolves a prediction against currentPrice. A prediction
// that was already validated is left untouched and reported with
// AlreadyValidated set.
func (r *Recorder) ValidatePrediction(id string, currentPrice float64) (ValidationResult, error) {
	res, err := r.validate(id, currentPrice)
	if err != nil || res.AlreadyValidated {
		return res, err
	}
	r.recompute()
	return res, nil
}

// ValidatePending validates every prediction whose window has ended. Lookups
// that fail are skipped and retried on the next call. Returns the number of
// predictions validated.
func (r *Recorder) ValidatePending(now time.Time, lookup PriceLookup) int {
	validated := 0
	for _, id := range r.dueIDs(now) {
		p, _ := r.Get(id)
		price, ok := lookup(p.Symbol)
		if !ok || price <= 0 || !finite(price) {
			log.Debug().Str("id", id).Str("symbol", p.Symbol).Msg("Price unavailable, validation deferred")
			continue
		}

		res, err := r.validate(id, price)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Validation failed")
			continue
		}
		if !res.AlreadyValidated {
			validated++
		}
	}

	if validated > 0 {
		r.recompute()
	}
	return validated
}

func (r *Recorder) validate(id string, currentPrice float64) (ValidationResult, error) {
	v, ok := r.entries.Load(id)
	if !ok {
		return ValidationResult{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if currentPrice <= 0 || !finite(currentPrice) {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, currentPrice)
	}

	e := v.(*entry)
	e.mu.Lock()

	if e.p.Validated {
		res := resultOf(&e.p)
		e.mu.Unlock()
		res.AlreadyValidated = true
		return res, nil
	}

	change := (currentPrice - e.p.Price) * 100 / e.p.Price
	actual := r.classify(change)
	now := r.now()

	e.p.Validated = true
	e.p.ActualDirection = actual
	e.p.ActualChangePct = change
	e.p.ValidationPrice = currentPrice
	e.p.Correct = actual == e.p.Direction
	e.p.OutcomeScore = r.outcomeScore(e.p.Direction, change)
	e.p.ValidatedAt = &now

	p := e.p
	e.mu.Unlock()

	log.Info().
		Str("id", id).
		Str("predicted", string(p.Direction)).
		Str("actual", string(actual)).
		Float64("change_pct", change).
		Bool("correct", p.Correct).
		Float64("score", p.OutcomeScore).
		Msg("🎯 Prediction validated")

	if r.onValidated != nil {
		r.onValidated(p)
	}
	return resultOf(&p), nil
}

func (r *Recorder) classify(changePct float64) types.Direction {
	switch {
	case changePct > r.cfg.DeadbandPct:
		return types.DirectionBullish
	case changePct < -r.cfg.DeadbandPct:
		return types.DirectionBearish
	default:
		return types.DirectionNeutral
	}
}

func (r *Recorder) outcomeScore(predicted types.Direction, changePct float64) float64 {
	switch predicted {
	case types.DirectionBullish:
		return clamp(changePct/r.cfg.OutcomeScalePct, -1, 1)
	case types.DirectionBearish:
		return clamp(-changePct/r.cfg.OutcomeScalePct, -1, 1)
	default:
		return 0
	}
}

func resultOf(p *types.Prediction) ValidationResult {
	return ValidationResult{
		PredictionID: p.ID,
		Predicted:    p.Direction,
		Actual:       p.ActualDirection,
		ChangePct:    p.ActualChangePct,
		Correct:      p.Correct,
		OutcomeScore: p.OutcomeScore,
	}
}

// recompute rebuilds stats from every prediction and persists a snapshot
func (r *Recorder) recompute() {
	r.recomputeMu.Lock()
	defer r.recomputeMu.Unlock()

	all := r.All()
	stats := ComputeStats(all, r.now())

	r.statsMu.Lock()
	r.stats = stats
	r.statsMu.Unlock()

	if r.snapshots == nil {
		return
	}
	snap := buildSnapshot(all, stats, r.now())
	if err := r.snapshots.SaveSnapshot(snap); err != nil {
		log.Error().Err(err).Msg("❌ Failed to persist validation snapshot")
	}
}

func buildSnapshot(all []types.Prediction, stats types.ValidationStats, now time.Time) *types.ValidationSnapshot {
	snap := &types.ValidationSnapshot{
		Predictions: make(map[string]*types.Prediction, len(all)),
		Pending:     make([]string, 0),
		Stats:       stats,
		SavedAt:     now,
	}
	for i := range all {
		p := all[i]
		snap.Predictions[p.ID] = &p
		if !p.Validated {
			snap.Pending = append(snap.Pending, p.ID)
		}
	}
	sort.Strings(snap.Pending)
	return snap
}

// Restore loads predictions from a snapshot and re-derives stats from them.
// Predictions already held in memory win over snapshot copies.
func (r *Recorder) Restore(snap *types.ValidationSnapshot) int {
	if snap == nil {
		return 0
	}
	loaded := 0
	for id, p := range snap.Predictions {
		if p == nil {
			continue
		}
		cp := *p
		cp.ID = id
		if _, exists := r.entries.LoadOrStore(id, &entry{p: cp}); !exists {
			loaded++
		}
	}

	all := r.All()
	stats := ComputeStats(all, r.now())
	r.statsMu.Lock()
	r.stats = stats
	r.statsMu.Unlock()

	log.Info().
		Int("loaded", loaded).
		Int("pending", len(snap.Pending)).
		Float64("accuracy", stats.Accuracy).
		Msg("📥 Predictions restored")
	return loaded
}

// Get returns a copy of a prediction
func (r *Recorder) Get(id string) (types.Prediction, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return types.Prediction{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.p, true
}

// All returns copies of every stored prediction
func (r *Recorder) All() []types.Prediction {
	var out []types.Prediction
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out = append(out, e.p)
		e.mu.Unlock()
		return true
	})
	return out
}

// Pending returns ids of predictions not yet validated
func (r *Recorder) Pending() []string {
	var ids []string
	for _, p := range r.All() {
		if !p.Validated {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Recorder) dueIDs(now time.Time) []string {
	var ids []string
	for _, p := range r.All() {
		if !p.Validated && !now.Before(p.WindowEnd) {
			ids = append(ids, p.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stats returns the latest validation stats
func (r *Recorder) Stats() types.ValidationStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

// Snapshot returns the current state in persisted form
func (r *Recorder) Snapshot() *types.ValidationSnapshot {
	return buildSnapshot(r.All(), r.Stats(), r.now())
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
