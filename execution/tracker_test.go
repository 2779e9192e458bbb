package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/gatekeeper/types"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingPersister struct {
	mu    sync.Mutex
	saved []types.OrderRecord
}

func (p *recordingPersister) PersistOrder(rec *types.OrderRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, *rec)
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saved)
}

func approvedOrder(exchange string) *types.OrderRecord {
	return &types.OrderRecord{
		Symbol:      "ETHUSDT",
		Side:        types.SideBuy,
		Exchange:    exchange,
		SubmittedAt: t0,
		Approved:    true,
		Quantity:    decimal.RequireFromString("0.01"),
		Price:       decimal.NewFromInt(3000),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTracker_GhostSweep(t *testing.T) {
	tr := NewTracker(90*time.Second, nil)
	id := tr.Register(approvedOrder("kraken"))

	assert.Zero(t, tr.SweepGhostOrders(t0.Add(90*time.Second)), "window boundary is not yet a ghost")

	assert.Equal(t, 1, tr.SweepGhostOrders(t0.Add(100*time.Second)))
	rec, ok := tr.Get(id)
	require.True(t, ok)
	assert.True(t, rec.Ghost)
	require.NotNil(t, rec.GhostedAt)
	assert.Equal(t, types.OrderStateGhost, rec.State())
	assert.EqualValues(t, 1, tr.Stats().GhostOrders)

	assert.Zero(t, tr.SweepGhostOrders(t0.Add(200*time.Second)))
	assert.EqualValues(t, 1, tr.Stats().GhostOrders)
}

func TestTracker_SweepSkipsRejectedAndConfirmed(t *testing.T) {
	tr := NewTracker(90*time.Second, nil)

	rejected := approvedOrder("kraken")
	rejected.Approved = false
	tr.Register(rejected)

	confirmedID := tr.Register(approvedOrder("kraken"))
	require.True(t, tr.RecordFillConfirmation(confirmedID, "kraken", dec("0.01"), dec("3001")))

	assert.Zero(t, tr.SweepGhostOrders(t0.Add(time.Hour)))
}

func TestTracker_SweepGhostsReturnsFlagged(t *testing.T) {
	tr := NewTracker(time.Minute, nil)

	id := tr.Register(approvedOrder(""))
	late := approvedOrder("kraken")
	late.SubmittedAt = t0.Add(90 * time.Second)
	tr.Register(late)

	flagged := tr.SweepGhosts(t0.Add(2 * time.Minute))
	require.Len(t, flagged, 1)
	assert.Equal(t, id, flagged[0].ID)
	require.NotNil(t, flagged[0].GhostedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *flagged[0].GhostedAt)

	assert.Empty(t, tr.SweepGhosts(t0.Add(2*time.Minute)))
}

// blockingPersister stalls the first ghost write until released
type blockingPersister struct {
	mu      sync.Mutex
	last    map[string]types.OrderRecord
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingPersister() *blockingPersister {
	return &blockingPersister{
		last:    make(map[string]types.OrderRecord),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *blockingPersister) PersistOrder(rec *types.OrderRecord) error {
	if rec.Ghost && !rec.Confirmed {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[rec.ID] = *rec
	return nil
}

func (p *blockingPersister) get(id string) types.OrderRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[id]
}

func TestTracker_PersistsLatestStateUnderRace(t *testing.T) {
	p := newBlockingPersister()
	tr := NewTracker(time.Minute, p)
	id := tr.Register(approvedOrder("kraken"))

	swept := make(chan int)
	go func() { swept <- tr.SweepGhostOrders(t0.Add(2 * time.Minute)) }()
	<-p.entered

	filled := make(chan bool)
	go func() { filled <- tr.RecordFillConfirmation(id, "kraken", dec("0.01"), dec("3000")) }()

	// The fill must wait for the ghost write on the same order
	select {
	case <-filled:
		t.Fatal("fill completed while the ghost write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(p.release)
	assert.Equal(t, 1, <-swept)
	assert.True(t, <-filled)

	mem, _ := tr.Get(id)
	stored := p.get(id)
	assert.True(t, mem.Confirmed)
	assert.True(t, stored.Confirmed, "database holds the confirmed record")
	assert.True(t, stored.Ghost)
	assert.Equal(t, mem.FilledPrice.String(), stored.FilledPrice.String())
}

func TestTracker_ConfirmFillFailures(t *testing.T) {
	tests := []struct {
		name     string
		approved bool
		orderID  string
		exchange string
		qty      string
		price    string
		want     error
	}{
		{"unknown order", true, "nope", "kraken", "1", "1", ErrUnknownOrder},
		{"exchange mismatch", true, "", "binance", "1", "1", ErrExchangeMismatch},
		{"zero quantity", true, "", "kraken", "0", "1", ErrInvalidFill},
		{"negative price", true, "", "kraken", "1", "-3", ErrInvalidFill},
		{"rejected order", false, "", "kraken", "1", "1", ErrNotApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(time.Minute, nil)
			rec := approvedOrder("kraken")
			rec.Approved = tt.approved
			id := tr.Register(rec)
			if tt.orderID != "" {
				id = tt.orderID
			}

			err := tr.ConfirmFill(id, tt.exchange, dec(tt.qty), dec(tt.price))
			assert.ErrorIs(t, err, tt.want)
			assert.EqualValues(t, 1, tr.Stats().ValidationFailures)
			assert.Zero(t, tr.Stats().ConfirmedFills)

			if stored, ok := tr.Get(id); ok {
				assert.False(t, stored.Confirmed, "failed confirmations never mutate state")
			}
		})
	}
}

func TestTracker_ConfirmFill(t *testing.T) {
	p := &recordingPersister{}
	tr := NewTracker(time.Minute, p)
	tr.SetClock(func() time.Time { return t0.Add(5 * time.Second) })

	id := tr.Register(approvedOrder("kraken"))
	require.True(t, tr.RecordFillConfirmation(id, "KRAKEN", dec("0.01"), dec("3002.5")))

	rec, _ := tr.Get(id)
	assert.True(t, rec.Confirmed)
	assert.True(t, rec.FilledPrice.Equal(dec("3002.5")))
	require.NotNil(t, rec.ConfirmedAt)
	assert.Equal(t, t0.Add(5*time.Second), *rec.ConfirmedAt)
	assert.Equal(t, types.OrderStateConfirmed, rec.State())
	assert.EqualValues(t, 1, tr.Stats().ConfirmedFills)
	assert.Equal(t, 2, p.count(), "register and confirm are both written through")
}

func TestTracker_RepeatConfirmation(t *testing.T) {
	tests := []struct {
		name     string
		exchange string
		qty      string
		price    string
		ok       bool
	}{
		{"verbatim repeat is accepted", "kraken", "0.01", "3000", true},
		{"different exchange is rejected", "binance", "0.01", "3000", false},
		{"contradicting fill is rejected", "kraken", "0.02", "3000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(time.Minute, nil)
			id := tr.Register(approvedOrder("kraken"))

			require.True(t, tr.RecordFillConfirmation(id, "kraken", dec("0.01"), dec("3000")))
			assert.Equal(t, tt.ok, tr.RecordFillConfirmation(id, tt.exchange, dec(tt.qty), dec(tt.price)))

			stats := tr.Stats()
			assert.EqualValues(t, 1, stats.ConfirmedFills)
			if tt.ok {
				assert.Zero(t, stats.ValidationFailures)
			} else {
				assert.EqualValues(t, 1, stats.ValidationFailures)
			}

			rec, _ := tr.Get(id)
			assert.True(t, rec.FilledQuantity.Equal(dec("0.01")), "original fill preserved")
		})
	}
}

func TestTracker_LateFillOnGhost(t *testing.T) {
	tr := NewTracker(time.Minute, nil)
	id := tr.Register(approvedOrder("kraken"))
	require.Equal(t, 1, tr.SweepGhostOrders(t0.Add(2*time.Minute)))

	require.True(t, tr.RecordFillConfirmation(id, "kraken", dec("0.01"), dec("3000")))

	rec, _ := tr.Get(id)
	assert.True(t, rec.Confirmed)
	assert.True(t, rec.Ghost, "ghost flag is history and stays set")
	stats := tr.Stats()
	assert.EqualValues(t, 1, stats.LateConfirmations)
	assert.EqualValues(t, 1, stats.GhostOrders)
}

func TestTracker_LoadRecoveredOrders(t *testing.T) {
	tr := NewTracker(time.Minute, nil)

	rec := *approvedOrder("kraken")
	rec.ID = "kraken_ETHUSDT_BUY_1_1"
	rec.Ghost = true

	assert.True(t, tr.Load(rec))
	assert.False(t, tr.Load(rec), "duplicate ids are ignored")
	assert.False(t, tr.Load(types.OrderRecord{}), "records without id are ignored")

	stats := tr.Stats()
	assert.EqualValues(t, 1, stats.TotalRequests)
	assert.EqualValues(t, 1, stats.Approved)
	assert.EqualValues(t, 1, stats.GhostOrders)
}

func TestTracker_UniqueIDs(t *testing.T) {
	tr := NewTracker(time.Minute, nil)

	var wg sync.WaitGroup
	ids := make([]string, 200)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = tr.Register(approvedOrder("kraken"))
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, tr.Orders(), len(ids))
	assert.EqualValues(t, len(ids), tr.Stats().TotalRequests)
}

func TestTracker_ConcurrentConfirmAndSweep(t *testing.T) {
	tr := NewTracker(time.Minute, nil)

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = tr.Register(approvedOrder("kraken"))
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		if i%2 == 1 {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tr.RecordFillConfirmation(id, "kraken", dec("0.01"), dec("3000"))
		}(id)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.SweepGhostOrders(t0.Add(time.Second))
		}()
	}
	wg.Wait()

	// Every odd order goes ghost exactly once no matter how many sweeps raced
	assert.Equal(t, 50, tr.SweepGhostOrders(t0.Add(2*time.Minute)))
	assert.Zero(t, tr.SweepGhostOrders(t0.Add(3*time.Minute)))

	stats := tr.Stats()
	assert.EqualValues(t, 50, stats.ConfirmedFills)
	assert.EqualValues(t, 50, stats.GhostOrders)
}
