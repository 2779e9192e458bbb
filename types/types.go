package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the order side of a trade candidate
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Direction is a directional market call
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionBullish || d == DirectionBearish || d == DirectionNeutral
}

// ReasonApproved is the gating reason attached to every approved candidate
const ReasonApproved = "approved"

// TradeCandidate is a trade proposed by a strategy or scanner.
// It is passed by value; use the With* helpers to derive modified copies.
type TradeCandidate struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Confidence    float64         `json:"confidence"` // 0-1
	Coherence     float64         `json:"coherence"`  // 0-1
	Stability     float64         `json:"stability"`  // 0-1
	Exchange      string          `json:"exchange"`   // empty = no venue constraint
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Notional returns quantity * price
func (c TradeCandidate) Notional() decimal.Decimal {
	return c.Quantity.Mul(c.Price)
}

// WithConfidence returns a copy of the candidate carrying a different confidence
func (c TradeCandidate) WithConfidence(confidence float64) TradeCandidate {
	c.Confidence = confidence
	return c
}

// GatingOutcome is the result of a gating decision
type GatingOutcome struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
	OrderID  string `json:"order_id"`
}

// OrderState is the lifecycle state of an OrderRecord
type OrderState string

const (
	OrderStatePendingApproval OrderState = "PENDING_APPROVAL"
	OrderStateApproved        OrderState = "APPROVED"  // Waiting for venue confirmation
	OrderStateRejected        OrderState = "REJECTED"  // Terminal
	OrderStateConfirmed       OrderState = "CONFIRMED" // Terminal
	OrderStateGhost           OrderState = "GHOST"     // Terminal, never confirmed
)

// OrderRecord is the audit record created for every gating decision
type OrderRecord struct {
	ID              string          `json:"id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Exchange        string          `json:"exchange"`
	Source          string          `json:"source"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	Approved        bool            `json:"approved"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	Confirmed       bool            `json:"confirmed"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	FilledPrice     decimal.Decimal `json:"filled_price"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	Ghost           bool            `json:"ghost"`
	GhostedAt       *time.Time      `json:"ghosted_at,omitempty"`
}

// State derives the lifecycle state from the record flags
func (o *OrderRecord) State() OrderState {
	switch {
	case o.SubmittedAt.IsZero():
		return OrderStatePendingApproval
	case !o.Approved:
		return OrderStateRejected
	case o.Confirmed:
		return OrderStateConfirmed
	case o.Ghost:
		return OrderStateGhost
	default:
		return OrderStateApproved
	}
}

// SignalContext is the market context captured when a prediction is made.
// The engine treats every field as opaque.
type SignalContext struct {
	SentimentIndex  float64 `json:"sentiment_index"`  // 0-100 fear/greed style index
	VolatilityIndex float64 `json:"volatility_index"`
	MarketRegime    string  `json:"market_regime"`
	MacroBias       string  `json:"macro_bias"`
	FrequencyTag    string  `json:"frequency_tag,omitempty"`
}

// Prediction is a directional call recorded at decision time
type Prediction struct {
	ID          string        `json:"id"`
	Symbol      string        `json:"symbol"`
	CreatedAt   time.Time     `json:"created_at"`
	Direction   Direction     `json:"direction"`
	Probability float64       `json:"probability"`
	Confidence  float64       `json:"confidence"`
	Action      string        `json:"action"`
	Context     SignalContext `json:"context"`
	Price       float64       `json:"price"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`

	// Set once at validation
	Validated       bool       `json:"validated"`
	ActualDirection Direction  `json:"actual_direction,omitempty"`
	ActualChangePct float64    `json:"actual_change_pct"`
	ValidationPrice float64    `json:"validation_price"`
	Correct         bool       `json:"correct"`
	OutcomeScore    float64    `json:"outcome_score"` // -1 to +1
	ValidatedAt     *time.Time `json:"validated_at,omitempty"`
}

// AccuracyBucket is a correct/total tally
type AccuracyBucket struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Add records one validated outcome
func (b *AccuracyBucket) Add(correct bool) {
	b.Total++
	if correct {
		b.Correct++
	}
	b.Accuracy = float64(b.Correct) / float64(b.Total)
}

// ValidationStats aggregates validated predictions
type ValidationStats struct {
	TotalPredictions     int                       `json:"total_predictions"`
	ValidatedPredictions int                       `json:"validated_predictions"`
	Correct              int                       `json:"correct"`
	Incorrect            int                       `json:"incorrect"`
	Accuracy             float64                   `json:"accuracy"`
	ByRegime             map[string]AccuracyBucket `json:"by_regime"`
	BySentiment          map[string]AccuracyBucket `json:"by_sentiment"`
	Last24h              AccuracyBucket            `json:"last_24h"`
	Last7d               AccuracyBucket            `json:"last_7d"`
	ProfitFactor         float64                   `json:"profit_factor"`
	ComputedAt           time.Time                 `json:"computed_at"`
}

// ValidationSnapshot is the persisted state of the prediction validator.
// It is rewritten wholesale after every record and validation.
type ValidationSnapshot struct {
	Predictions map[string]*Prediction `json:"predictions"`
	Pending     []string               `json:"pending"`
	Stats       ValidationStats        `json:"stats"`
	SavedAt     time.Time              `json:"saved_at"`
}
