package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Halt approvals after a losing streak
// ═══════════════════════════════════════════════════════════════════════════════

// CircuitBreaker trips after maxConsecutiveLosses realized losses in a row and
// stays tripped for the cooldown. A zero maxConsecutiveLosses disables it.
type CircuitBreaker struct {
	mu sync.Mutex

	// Configuration
	maxConsecutiveLosses int
	cooldown             time.Duration

	// State
	consecutiveLosses int
	streakLoss        decimal.Decimal
	tripped           bool
	trippedAt         time.Time
}

// BreakerState is a point-in-time view of the breaker
type BreakerState struct {
	ConsecutiveLosses int             `json:"consecutive_losses"`
	StreakLoss        decimal.Decimal `json:"streak_loss"`
	Tripped           bool            `json:"tripped"`
	TrippedAt         *time.Time      `json:"tripped_at,omitempty"`
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxLosses int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxConsecutiveLosses: maxLosses,
		cooldown:             cooldown,
	}
}

// Tripped reports whether approvals are halted at now. An expired trip is
// cleared along with the streak.
func (cb *CircuitBreaker) Tripped(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.tripped {
		return false
	}
	if now.Sub(cb.trippedAt) >= cb.cooldown {
		cb.reset()
		log.Info().Msg("✅ Circuit breaker reset after cooldown")
		return false
	}
	return true
}

// RecordResult feeds one realized trade result
func (cb *CircuitBreaker) RecordResult(pnl decimal.Decimal, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !pnl.IsNegative() {
		cb.consecutiveLosses = 0
		cb.streakLoss = decimal.Zero
		return
	}

	cb.consecutiveLosses++
	cb.streakLoss = cb.streakLoss.Add(pnl)

	if cb.maxConsecutiveLosses > 0 && !cb.tripped && cb.consecutiveLosses >= cb.maxConsecutiveLosses {
		cb.tripped = true
		cb.trippedAt = now
		log.Warn().
			Int("consecutive_losses", cb.consecutiveLosses).
			Str("streak_loss", cb.streakLoss.StringFixed(2)).
			Dur("cooldown", cb.cooldown).
			Msg("🚨 CIRCUIT BREAKER TRIPPED")
	}
}

// State returns the breaker state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := BreakerState{
		ConsecutiveLosses: cb.consecutiveLosses,
		StreakLoss:        cb.streakLoss,
		Tripped:           cb.tripped,
	}
	if cb.tripped {
		at := cb.trippedAt
		s.TrippedAt = &at
	}
	return s
}

// ForceReset manually resets the circuit breaker
func (cb *CircuitBreaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	log.Info().Msg("Circuit breaker manually reset")
}

// reset requires cb.mu
func (cb *CircuitBreaker) reset() {
	cb.consecutiveLosses = 0
	cb.streakLoss = decimal.Zero
	cb.tripped = false
	cb.trippedAt = time.Time{}
}
