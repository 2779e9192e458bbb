package core

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gatekeeper/internal/config"
	"github.com/web3guy0/gatekeeper/metrics"
	"github.com/web3guy0/gatekeeper/risk"
	"github.com/web3guy0/gatekeeper/storage"
	"github.com/web3guy0/gatekeeper/types"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu      sync.Mutex
	batches [][]types.OrderRecord
	times   []time.Time
}

func (n *captureNotifier) NotifyGhosts(recs []types.OrderRecord, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, recs)
	n.times = append(n.times, now)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.batches)
}

func testGating() *config.GatingConfig {
	g := config.DefaultGating()
	g.AllowedExchanges = []string{"kraken"}
	return g
}

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capital = decimal.NewFromInt(1000)
	e := NewEngine(cfg, testGating(), deps)
	e.SetClock(func() time.Time { return t0 })
	return e
}

func candidate(confidence float64) types.TradeCandidate {
	return types.TradeCandidate{
		Symbol:     "ETHUSDT",
		Side:       types.SideBuy,
		Quantity:   decimal.RequireFromString("0.01"),
		Price:      decimal.NewFromInt(3000),
		Confidence: confidence,
		Coherence:  0.79,
		Stability:  0.5,
		Exchange:   "kraken",
	}
}

func TestEngine_Evaluate(t *testing.T) {
	e := newTestEngine(t, Deps{})

	out := e.Evaluate(candidate(0.2), "", 50)
	assert.False(t, out.Approved)
	assert.Contains(t, out.Reason, "confidence")

	out = e.Evaluate(candidate(0.81), "", 50)
	require.True(t, out.Approved, out.Reason)

	rec, ok := e.Order(out.OrderID)
	require.True(t, ok)
	assert.NotEmpty(t, rec.CorrelationID, "correlation id assigned when missing")

	c := candidate(0.81)
	c.CorrelationID = "upstream-7"
	out = e.Evaluate(c, "", 50)
	rec, _ = e.Order(out.OrderID)
	assert.Equal(t, "upstream-7", rec.CorrelationID)

	stats := e.Stats()
	assert.EqualValues(t, 3, stats.Orders.TotalRequests)
	assert.EqualValues(t, 2, stats.Orders.Approved)
	assert.Equal(t, 2, stats.Risk.TradesToday)
	assert.False(t, stats.DailyLimitHit)

	// 3% of 1000
	e.RecordExit("ETHUSDT", decimal.NewFromInt(-30))
	assert.True(t, e.Stats().DailyLimitHit)
}

func TestEngine_EvaluateOpportunity(t *testing.T) {
	e := newTestEngine(t, Deps{})
	coherence := 0.79

	out, err := e.EvaluateOpportunity(risk.Opportunity{
		Symbol:    "ETHUSDT",
		Price:     3000,
		Score:     0.81,
		Coherence: &coherence,
		Exchange:  "kraken",
	}, "", 50)
	require.NoError(t, err)
	require.True(t, out.Approved, out.Reason)

	rec, _ := e.Order(out.OrderID)
	assert.InDelta(t, 0.008333, rec.Quantity.InexactFloat64(), 1e-6)

	_, err = e.EvaluateOpportunity(risk.Opportunity{Symbol: "ETHUSDT", Price: -1, Score: 0.8}, "", 50)
	assert.ErrorIs(t, err, risk.ErrInvalidOpportunity)
}

func TestEngine_ConfidenceFeedback(t *testing.T) {
	e := newTestEngine(t, Deps{})

	// 0.7 clears 0.618 with a neutral multiplier
	assert.True(t, e.Evaluate(candidate(0.7), "trending", 50).Approved)

	for i := 0; i < 3; i++ {
		id, err := e.RecordPrediction("BTCUSDT", types.DirectionBullish, 0.7, 0.8, "BUY", 100,
			types.SignalContext{MarketRegime: "trending", SentimentIndex: 50})
		require.NoError(t, err)
		_, err = e.ValidatePrediction(id, 95)
		require.NoError(t, err)
	}

	assert.Equal(t, risk.MinMultiplier, e.ConfidenceAdjustment("trending", 50))
	out := e.Evaluate(candidate(0.7), "trending", 50)
	assert.False(t, out.Approved, "poor track record tightens the bar")
	assert.Contains(t, out.Reason, "confidence")

	// An unseen regime only partly inherits the bad record
	m := e.ConfidenceAdjustment("ranging", 80)
	assert.Greater(t, m, risk.MinMultiplier)
	assert.Less(t, m, 1.0)
}

func TestEngine_GhostSweepNotifies(t *testing.T) {
	n := &captureNotifier{}
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, Deps{Notifier: n, Metrics: metrics.New(reg)})

	approved := e.Evaluate(candidate(0.81), "", 50)
	require.True(t, approved.Approved)
	confirmed := e.Evaluate(candidate(0.81), "", 50)
	require.True(t, e.RecordFillConfirmation(confirmed.OrderID, "kraken", decimal.RequireFromString("0.01"), decimal.NewFromInt(3000)))

	assert.Equal(t, 1, e.SweepGhostOrders(t0.Add(100*time.Second)))
	require.Equal(t, 1, n.count())
	assert.Equal(t, approved.OrderID, n.batches[0][0].ID)

	assert.Zero(t, e.SweepGhostOrders(t0.Add(200*time.Second)))
	assert.Equal(t, 1, n.count(), "no alert without new ghosts")
	assert.EqualValues(t, 1, e.Stats().Orders.GhostOrders)
}

func TestEngine_ConfirmFillErrors(t *testing.T) {
	e := newTestEngine(t, Deps{})
	out := e.Evaluate(candidate(0.81), "", 50)

	assert.Error(t, e.ConfirmFill("missing", "kraken", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	assert.Error(t, e.ConfirmFill(out.OrderID, "binance", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	assert.NoError(t, e.ConfirmFill(out.OrderID, "kraken", decimal.NewFromInt(1), decimal.NewFromInt(1)))
	assert.EqualValues(t, 2, e.TrackerStats().ValidationFailures)
}

func TestEngine_ValidatePending(t *testing.T) {
	prices := map[string]float64{"BTCUSDT": 102}
	var mu sync.Mutex
	e := newTestEngine(t, Deps{PriceLookup: func(symbol string) (float64, bool) {
		mu.Lock()
		defer mu.Unlock()
		p, ok := prices[symbol]
		return p, ok
	}})

	btc, err := e.RecordPrediction("BTCUSDT", types.DirectionBullish, 0.7, 0.8, "BUY", 100, types.SignalContext{})
	require.NoError(t, err)
	_, err = e.RecordPrediction("SOLUSDT", types.DirectionBearish, 0.7, 0.8, "SELL", 150, types.SignalContext{})
	require.NoError(t, err)

	assert.Zero(t, e.ValidatePending(t0.Add(time.Minute)))
	assert.Equal(t, 1, e.ValidatePending(t0.Add(3*time.Hour)))

	p, ok := e.Prediction(btc)
	require.True(t, ok)
	assert.True(t, p.Correct)
	assert.InDelta(t, 0.4, p.OutcomeScore, 1e-9)

	stats := e.ValidationStats()
	assert.Equal(t, 2, stats.TotalPredictions)
	assert.Equal(t, 1, stats.ValidatedPredictions)
}

func TestEngine_Recover(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.New(filepath.Join(dir, "gatekeeper.db"))
	require.NoError(t, err)
	defer db.Close()
	snapshots := storage.NewFileSnapshotStore(filepath.Join(dir, "snapshot.json"))

	first := newTestEngine(t, Deps{Database: db, Snapshots: snapshots})
	out := first.Evaluate(candidate(0.81), "", 50)
	require.True(t, out.Approved)
	first.Evaluate(candidate(0.1), "", 50)
	first.RecordExit("ETHUSDT", decimal.NewFromInt(-12))

	id, err := first.RecordPrediction("BTCUSDT", types.DirectionBullish, 0.7, 0.8, "BUY", 100, types.SignalContext{MarketRegime: "trending"})
	require.NoError(t, err)
	_, err = first.ValidatePrediction(id, 102)
	require.NoError(t, err)
	_, err = first.RecordPrediction("ETHUSDT", types.DirectionBearish, 0.7, 0.8, "SELL", 3000, types.SignalContext{})
	require.NoError(t, err)

	second := newTestEngine(t, Deps{Database: db, Snapshots: snapshots})
	orders, predictions, err := second.Recover()
	require.NoError(t, err)
	assert.Equal(t, 2, orders)
	assert.Equal(t, 2, predictions)

	rec, ok := second.Order(out.OrderID)
	require.True(t, ok)
	assert.True(t, rec.Approved)

	vs := second.ValidationStats()
	assert.Equal(t, 1, vs.ValidatedPredictions)
	assert.Equal(t, 1.0, vs.Accuracy)

	risk := second.Stats().Risk
	assert.Equal(t, 1, risk.TradesToday)
	assert.True(t, risk.DailyPnL.Equal(decimal.NewFromInt(-12)))
	assert.True(t, risk.Capital.Equal(decimal.NewFromInt(988)))

	// Recovered approved order still goes ghost
	assert.Equal(t, 1, second.SweepGhostOrders(t0.Add(time.Hour)))
}

func TestEngine_StartStop(t *testing.T) {
	n := &captureNotifier{}
	cfg := DefaultConfig()
	cfg.ConfirmationWindow = 20 * time.Millisecond
	cfg.GhostSweepInterval = 5 * time.Millisecond
	cfg.ValidationSweepInterval = 5 * time.Millisecond
	cfg.Prediction.ValidationWindow = 20 * time.Millisecond

	e := NewEngine(cfg, testGating(), Deps{
		Notifier:    n,
		PriceLookup: func(string) (float64, bool) { return 101, true },
	})

	out := e.Evaluate(candidate(0.81), "", 50)
	require.True(t, out.Approved)
	_, err := e.RecordPrediction("BTCUSDT", types.DirectionBullish, 0.7, 0.8, "BUY", 100, types.SignalContext{})
	require.NoError(t, err)

	e.Start()
	e.Start()

	assert.Eventually(t, func() bool {
		s := e.Stats()
		return s.Orders.GhostOrders == 1 && s.Predictions.ValidatedPredictions == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, n.count())

	e.Stop()
	e.Stop()
}

func TestEngine_LosingStreakBreaker(t *testing.T) {
	gating := testGating()
	gating.MaxConsecutiveLosses = 2
	gating.MaxDailyLossFraction = 1
	cfg := DefaultConfig()
	cfg.Capital = decimal.NewFromInt(1000)
	e := NewEngine(cfg, gating, Deps{})
	e.SetClock(func() time.Time { return t0 })

	e.RecordExit("ETHUSDT", decimal.NewFromInt(-3))
	assert.True(t, e.Evaluate(candidate(0.81), "", 50).Approved)

	e.RecordExit("ETHUSDT", decimal.NewFromInt(-3))
	out := e.Evaluate(candidate(0.81), "", 50)
	assert.False(t, out.Approved)
	assert.Contains(t, out.Reason, "circuit breaker")

	breaker := e.Stats().Breaker
	assert.True(t, breaker.Tripped)
	assert.Equal(t, 2, breaker.ConsecutiveLosses)

	e.ResetBreaker()
	assert.True(t, e.Evaluate(candidate(0.81), "", 50).Approved)
}

func TestEngine_OverlappingGhostSweeps(t *testing.T) {
	n := &captureNotifier{}
	gating := testGating()
	gating.MaxTradesPerDay = 0
	cfg := DefaultConfig()
	e := NewEngine(cfg, gating, Deps{Notifier: n})
	e.SetClock(func() time.Time { return t0 })

	for i := 0; i < 40; i++ {
		require.True(t, e.Evaluate(candidate(0.81), "", 50).Approved)
	}

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts[i] = e.SweepGhostOrders(t0.Add(time.Duration(100+i) * time.Second))
		}(i)
	}
	wg.Wait()

	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 40, total)

	n.mu.Lock()
	defer n.mu.Unlock()
	alerted := 0
	for i, batch := range n.batches {
		for _, rec := range batch {
			require.NotNil(t, rec.GhostedAt)
			assert.Equal(t, n.times[i], *rec.GhostedAt, "alert carries the sweep time that flagged it")
		}
		alerted += len(batch)
	}
	assert.Equal(t, 40, alerted)
}
