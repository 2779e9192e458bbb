package execution

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER LIFECYCLE TRACKER - Confirmation & ghost detection
// ═══════════════════════════════════════════════════════════════════════════════
//
//   PendingApproval → Approved → Confirmed
//                         ↓
//                       Ghost (no venue confirmation within window)
//   PendingApproval → Rejected
//
// A ghost order is one we approved and believe is live but the venue never
// acknowledged. Left undetected, the caller carries a position that does not
// exist.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrUnknownOrder     = errors.New("unknown order")
	ErrExchangeMismatch = errors.New("exchange mismatch")
	ErrInvalidFill      = errors.New("invalid fill")
	ErrNotApproved      = errors.New("order was not approved")
	ErrConflictingFill  = errors.New("order already confirmed with different fill")
)

// DefaultConfirmationWindow is the stock time allowed between approval and fill
const DefaultConfirmationWindow = 90 * time.Second

// OrderPersister receives every order state change (write-through). It is
// called with the record's lock held, so writes for one order land in order.
type OrderPersister interface {
	PersistOrder(rec *types.OrderRecord) error
}

// TrackerStats are the tracker counters
type TrackerStats struct {
	TotalRequests      int64 `json:"total_requests"`
	Approved           int64 `json:"approved"`
	Rejected           int64 `json:"rejected"`
	ConfirmedFills     int64 `json:"confirmed_fills"`
	GhostOrders        int64 `json:"ghost_orders"`
	ValidationFailures int64 `json:"validation_failures"`
	LateConfirmations  int64 `json:"late_confirmations"`
}

type orderEntry struct {
	mu  sync.Mutex
	rec types.OrderRecord
}

// Tracker holds every order record for the life of the process.
// Records are never deleted.
type Tracker struct {
	window    time.Duration
	persister OrderPersister
	now       func() time.Time

	orders sync.Map // id -> *orderEntry
	seq    atomic.Uint64

	totalRequests      atomic.Int64
	approved           atomic.Int64
	rejected           atomic.Int64
	confirmed          atomic.Int64
	ghosts             atomic.Int64
	validationFailures atomic.Int64
	lateConfirmations  atomic.Int64
}

// NewTracker creates an order tracker. persister may be nil.
func NewTracker(window time.Duration, persister OrderPersister) *Tracker {
	if window <= 0 {
		window = DefaultConfirmationWindow
	}

	log.Info().
		Dur("confirmation_window", window).
		Msg("⚡ Order tracker initialized")

	return &Tracker{
		window:    window,
		persister: persister,
		now:       time.Now,
	}
}

// SetClock overrides the wall clock
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// NewOrderID builds exchange_symbol_side_nanos_seq. The sequence makes ids
// unique within the process even for identical timestamps.
func (t *Tracker) NewOrderID(exchange, symbol string, side types.Side, at time.Time) string {
	if exchange == "" {
		exchange = "any"
	}
	return fmt.Sprintf("%s_%s_%s_%d_%d",
		strings.ToLower(exchange), symbol, side, at.UnixNano(), t.seq.Add(1))
}

// Register stores the audit record of a gating decision and returns its id
func (t *Tracker) Register(rec *types.OrderRecord) string {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = t.now()
	}
	rec.ID = t.NewOrderID(rec.Exchange, rec.Symbol, rec.Side, rec.SubmittedAt)

	e := &orderEntry{rec: *rec}
	e.mu.Lock()
	defer e.mu.Unlock()
	t.orders.Store(rec.ID, e)

	t.totalRequests.Add(1)
	if rec.Approved {
		t.approved.Add(1)
	} else {
		t.rejected.Add(1)
	}

	t.persist(&e.rec)
	return rec.ID
}

// Load inserts a recovered record as-is and counts it
func (t *Tracker) Load(rec types.OrderRecord) bool {
	if rec.ID == "" {
		return false
	}
	if _, loaded := t.orders.LoadOrStore(rec.ID, &orderEntry{rec: rec}); loaded {
		return false
	}

	t.totalRequests.Add(1)
	if rec.Approved {
		t.approved.Add(1)
	} else {
		t.rejected.Add(1)
	}
	if rec.Confirmed {
		t.confirmed.Add(1)
	}
	if rec.Ghost {
		t.ghosts.Add(1)
	}
	return true
}

// RecordFillConfirmation attaches a venue fill to an approved order. It
// returns false for unknown orders, mismatched exchanges and non-positive
// fills; those attempts are counted as validation failures.
func (t *Tracker) RecordFillConfirmation(orderID, exchange string, filledQty, filledPrice decimal.Decimal) bool {
	return t.ConfirmFill(orderID, exchange, filledQty, filledPrice) == nil
}

// ConfirmFill is RecordFillConfirmation with the failure class exposed.
//
// Repeating a confirmation with the same exchange and identical fill values is
// accepted without change. A repeat that contradicts the stored fill fails.
func (t *Tracker) ConfirmFill(orderID, exchange string, filledQty, filledPrice decimal.Decimal) error {
	fail := func(err error) error {
		t.validationFailures.Add(1)
		log.Warn().
			Err(err).
			Str("order_id", orderID).
			Str("exchange", exchange).
			Str("qty", filledQty.String()).
			Str("price", filledPrice.String()).
			Msg("⚠️ Fill confirmation rejected")
		return err
	}

	v, ok := t.orders.Load(orderID)
	if !ok {
		return fail(ErrUnknownOrder)
	}
	if !filledQty.IsPositive() || !filledPrice.IsPositive() {
		return fail(ErrInvalidFill)
	}

	e := v.(*orderEntry)
	e.mu.Lock()

	if !strings.EqualFold(e.rec.Exchange, exchange) {
		e.mu.Unlock()
		return fail(fmt.Errorf("%w: order on %q, fill from %q", ErrExchangeMismatch, e.rec.Exchange, exchange))
	}
	if !e.rec.Approved {
		e.mu.Unlock()
		return fail(ErrNotApproved)
	}
	if e.rec.Confirmed {
		same := e.rec.FilledQuantity.Equal(filledQty) && e.rec.FilledPrice.Equal(filledPrice)
		e.mu.Unlock()
		if same {
			return nil
		}
		return fail(ErrConflictingFill)
	}

	now := t.now()
	e.rec.Confirmed = true
	e.rec.FilledQuantity = filledQty
	e.rec.FilledPrice = filledPrice
	e.rec.ConfirmedAt = &now
	late := e.rec.Ghost
	t.persist(&e.rec)
	rec := e.rec
	e.mu.Unlock()

	t.confirmed.Add(1)
	if late {
		t.lateConfirmations.Add(1)
		log.Warn().
			Str("order_id", orderID).
			Dur("age", now.Sub(rec.SubmittedAt)).
			Msg("👻 Late fill for ghost order")
	} else {
		log.Info().
			Str("order_id", orderID).
			Str("symbol", rec.Symbol).
			Str("qty", filledQty.String()).
			Str("price", filledPrice.String()).
			Msg("✅ Fill confirmed")
	}
	return nil
}

// SweepGhostOrders flags approved orders with no confirmation older than the
// confirmation window and returns how many it flagged. Orders already flagged
// are skipped, so repeated sweeps never double count.
func (t *Tracker) SweepGhostOrders(now time.Time) int {
	return len(t.SweepGhosts(now))
}

// SweepGhosts is SweepGhostOrders returning copies of the records this call
// flagged, oldest first
func (t *Tracker) SweepGhosts(now time.Time) []types.OrderRecord {
	var flagged []types.OrderRecord

	t.orders.Range(func(_, v any) bool {
		e := v.(*orderEntry)
		e.mu.Lock()
		if !e.rec.Approved || e.rec.Confirmed || e.rec.Ghost || now.Sub(e.rec.SubmittedAt) <= t.window {
			e.mu.Unlock()
			return true
		}
		e.rec.Ghost = true
		ghostedAt := now
		e.rec.GhostedAt = &ghostedAt
		t.persist(&e.rec)
		rec := e.rec
		e.mu.Unlock()

		flagged = append(flagged, rec)
		t.ghosts.Add(1)

		log.Warn().
			Str("order_id", rec.ID).
			Str("symbol", rec.Symbol).
			Str("exchange", rec.Exchange).
			Dur("age", now.Sub(rec.SubmittedAt)).
			Msg("👻 Ghost order detected")
		return true
	})

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].SubmittedAt.Before(flagged[j].SubmittedAt)
	})
	return flagged
}

func (t *Tracker) persist(rec *types.OrderRecord) {
	if t.persister == nil {
		return
	}
	if err := t.persister.PersistOrder(rec); err != nil {
		log.Error().Err(err).Str("order_id", rec.ID).Msg("❌ Failed to persist order")
	}
}

// Get returns a copy of an order record
func (t *Tracker) Get(orderID string) (types.OrderRecord, bool) {
	v, ok := t.orders.Load(orderID)
	if !ok {
		return types.OrderRecord{}, false
	}
	e := v.(*orderEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, true
}

// Orders returns copies of all records, oldest first
func (t *Tracker) Orders() []types.OrderRecord {
	var out []types.OrderRecord
	t.orders.Range(func(_, v any) bool {
		e := v.(*orderEntry)
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// Stats returns the tracker counters
func (t *Tracker) Stats() TrackerStats {
	return TrackerStats{
		TotalRequests:      t.totalRequests.Load(),
		Approved:           t.approved.Load(),
		Rejected:           t.rejected.Load(),
		ConfirmedFills:     t.confirmed.Load(),
		GhostOrders:        t.ghosts.Load(),
		ValidationFailures: t.validationFailures.Load(),
		LateConfirmations:  t.lateConfirmations.Load(),
	}
}
