package execution

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/storage"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Write-through persistence and startup recovery
// ═══════════════════════════════════════════════════════════════════════════════
//
// On startup, we need to:
// 1. Load every persisted order record into the tracker
// 2. Resume ghost tracking for approved orders still awaiting a fill
// 3. Restore today's risk counters
//
// ═══════════════════════════════════════════════════════════════════════════════

// Reconciler persists order state and recovers it on startup
type Reconciler struct {
	db *storage.Database
}

// NewReconciler creates an order reconciler
func NewReconciler(db *storage.Database) *Reconciler {
	return &Reconciler{db: db}
}

// RecoverOrders loads persisted order records into the tracker
func (r *Reconciler) RecoverOrders(t *Tracker) (int, error) {
	if !r.db.IsEnabled() {
		log.Info().Msg("📦 No database - skipping order recovery")
		return 0, nil
	}

	persisted, err := r.db.GetAllOrders()
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to load persisted orders")
		return 0, err
	}

	if len(persisted) == 0 {
		log.Info().Msg("📦 No persisted orders to recover")
		return 0, nil
	}

	recovered, awaiting := 0, 0
	for _, row := range persisted {
		rec := fromRow(row)
		if !t.Load(rec) {
			continue
		}
		recovered++

		if rec.Approved && !rec.Confirmed && !rec.Ghost {
			awaiting++
			log.Warn().
				Str("id", rec.ID).
				Str("symbol", rec.Symbol).
				Str("exchange", rec.Exchange).
				Time("submitted_at", rec.SubmittedAt).
				Msg("📥 Recovered order awaiting confirmation")
		}
	}

	log.Info().
		Int("recovered", recovered).
		Int("awaiting_confirmation", awaiting).
		Msg("✅ Order recovery complete")

	return recovered, nil
}

// PersistOrder saves an order record to the database
func (r *Reconciler) PersistOrder(rec *types.OrderRecord) error {
	if !r.db.IsEnabled() {
		return nil
	}
	return r.db.SaveOrder(toRow(rec))
}

// ═══════════════════════════════════════════════════════════════════════════════
// RISK STATE RECOVERY
// ═══════════════════════════════════════════════════════════════════════════════

// SaveRiskState persists the gate's daily counters
func (r *Reconciler) SaveRiskState(day string, tradesToday int, dailyPnL, dayStartCapital, capital decimal.Decimal) error {
	if !r.db.IsEnabled() {
		return nil
	}
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}

	state := &storage.RiskState{
		Date:            day,
		TradesToday:     tradesToday,
		DailyPnL:        dailyPnL,
		DayStartCapital: dayStartCapital,
		Capital:         capital,
	}

	return r.db.SaveRiskState(state)
}

// LoadRiskState loads the most recent risk state
func (r *Reconciler) LoadRiskState() (*storage.RiskState, error) {
	if !r.db.IsEnabled() {
		return nil, nil
	}
	return r.db.GetLatestRiskState()
}
