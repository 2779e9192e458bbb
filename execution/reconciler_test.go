package execution

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gatekeeper/storage"
)

func openTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "gatekeeper.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestReconciler_RecoverOrders(t *testing.T) {
	db := openTestDB(t)
	rc := NewReconciler(db)

	// First process: approve three, confirm one, ghost one
	before := NewTracker(time.Minute, rc)
	confirmedID := before.Register(approvedOrder("kraken"))
	ghostID := before.Register(approvedOrder("kraken"))
	pendingID := before.Register(approvedOrder("binance"))
	rejected := approvedOrder("kraken")
	rejected.Approved = false
	rejected.RejectionReason = "coherence too low"
	rejectedID := before.Register(rejected)

	require.True(t, before.RecordFillConfirmation(confirmedID, "kraken", dec("0.01"), dec("3001")))
	before.SetClock(func() time.Time { return t0 })
	require.Equal(t, 2, before.SweepGhostOrders(t0.Add(2*time.Minute)))
	require.True(t, before.RecordFillConfirmation(pendingID, "binance", dec("0.01"), dec("3000")))

	// Second process
	after := NewTracker(time.Minute, rc)
	n, err := rc.RecoverOrders(after)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, ok := after.Get(confirmedID)
	require.True(t, ok)
	assert.True(t, got.Confirmed)
	assert.True(t, got.FilledPrice.Equal(dec("3001")))

	got, _ = after.Get(ghostID)
	assert.True(t, got.Ghost)
	assert.NotNil(t, got.GhostedAt)

	got, _ = after.Get(rejectedID)
	assert.False(t, got.Approved)
	assert.Equal(t, "coherence too low", got.RejectionReason)

	stats := after.Stats()
	assert.EqualValues(t, 4, stats.TotalRequests)
	assert.EqualValues(t, 3, stats.Approved)
	assert.EqualValues(t, 1, stats.Rejected)
	assert.EqualValues(t, 2, stats.ConfirmedFills)

	// Recovered ghosts are not flagged again
	assert.Zero(t, after.SweepGhostOrders(t0.Add(time.Hour)))
}

func TestReconciler_RiskState(t *testing.T) {
	db := openTestDB(t)
	rc := NewReconciler(db)

	state, err := rc.LoadRiskState()
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, rc.SaveRiskState("2026-03-09", 4, decimal.NewFromInt(-3), decimal.NewFromInt(1000), decimal.NewFromInt(997)))
	require.NoError(t, rc.SaveRiskState("2026-03-10", 1, decimal.NewFromInt(2), decimal.NewFromInt(997), decimal.NewFromInt(999)))
	require.NoError(t, rc.SaveRiskState("2026-03-10", 2, decimal.NewFromInt(5), decimal.NewFromInt(997), decimal.NewFromInt(1002)))

	state, err = rc.LoadRiskState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "2026-03-10", state.Date)
	assert.Equal(t, 2, state.TradesToday)
	assert.True(t, state.Capital.Equal(decimal.NewFromInt(1002)))
}

func TestReconciler_Disabled(t *testing.T) {
	db, err := storage.New("")
	require.NoError(t, err)
	rc := NewReconciler(db)

	n, err := rc.RecoverOrders(NewTracker(time.Minute, rc))
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, rc.PersistOrder(approvedOrder("kraken")))
	assert.NoError(t, rc.SaveRiskState("", 0, decimal.Zero, decimal.Zero, decimal.Zero))
}
