package risk

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gatekeeper/types"
)

// ErrInvalidOpportunity is returned for scan results that cannot become a candidate
var ErrInvalidOpportunity = errors.New("invalid opportunity")

// DefaultOpportunitySource tags candidates built from scan results
const DefaultOpportunitySource = "opportunity_scan"

// Opportunity is a raw scanner hit.
//
// Defaults:
//   - Side: BUY
//   - Coherence, Stability: Score when nil
//   - Quantity: 0 means "not sized"; the candidate is sized from a fixed notional
//   - Source: "opportunity_scan"
type Opportunity struct {
	Symbol        string     `json:"symbol"`
	Side          types.Side `json:"side,omitempty"`
	Price         float64    `json:"price"`
	Score         float64    `json:"score"` // 0-1, used as confidence and coherence
	Quantity      float64    `json:"quantity,omitempty"`
	Coherence     *float64   `json:"coherence,omitempty"`
	Stability     *float64   `json:"stability,omitempty"`
	Exchange      string     `json:"exchange,omitempty"`
	Source        string     `json:"source,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
}

// BuildCandidateFromOpportunity converts a scan result into a TradeCandidate.
// An unsized opportunity with a positive price gets quantity = notional / price,
// never a fraction of capital.
func BuildCandidateFromOpportunity(opp Opportunity, notional decimal.Decimal) (types.TradeCandidate, error) {
	if strings.TrimSpace(opp.Symbol) == "" {
		return types.TradeCandidate{}, fmt.Errorf("%w: symbol is required", ErrInvalidOpportunity)
	}
	if err := checkField("price", opp.Price); err != nil {
		return types.TradeCandidate{}, err
	}
	if err := checkField("quantity", opp.Quantity); err != nil {
		return types.TradeCandidate{}, err
	}
	if err := checkScore("score", opp.Score); err != nil {
		return types.TradeCandidate{}, err
	}

	coherence := opp.Score
	if opp.Coherence != nil {
		if err := checkScore("coherence", *opp.Coherence); err != nil {
			return types.TradeCandidate{}, err
		}
		coherence = *opp.Coherence
	}
	stability := opp.Score
	if opp.Stability != nil {
		if err := checkScore("stability", *opp.Stability); err != nil {
			return types.TradeCandidate{}, err
		}
		stability = *opp.Stability
	}

	side := opp.Side
	if side == "" {
		side = types.SideBuy
	}
	if !side.Valid() {
		return types.TradeCandidate{}, fmt.Errorf("%w: side %q", ErrInvalidOpportunity, opp.Side)
	}

	source := opp.Source
	if source == "" {
		source = DefaultOpportunitySource
	}

	price := decimal.NewFromFloat(opp.Price)
	qty := decimal.NewFromFloat(opp.Quantity)
	if qty.IsZero() && price.IsPositive() {
		qty = notional.Div(price)
	}

	return types.TradeCandidate{
		Symbol:        opp.Symbol,
		Side:          side,
		Quantity:      qty,
		Price:         price,
		Confidence:    opp.Score,
		Coherence:     coherence,
		Stability:     stability,
		Exchange:      strings.ToLower(opp.Exchange),
		Source:        source,
		CorrelationID: opp.CorrelationID,
	}, nil
}

func checkField(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s is not finite", ErrInvalidOpportunity, name)
	}
	if v < 0 {
		return fmt.Errorf("%w: %s is negative", ErrInvalidOpportunity, name)
	}
	return nil
}

func checkScore(name string, v float64) error {
	if err := checkField(name, v); err != nil {
		return err
	}
	if v > 1 {
		return fmt.Errorf("%w: %s above 1", ErrInvalidOpportunity, name)
	}
	return nil
}
