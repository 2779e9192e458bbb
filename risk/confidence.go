package risk

import (
	"github.com/web3guy0/gatekeeper/prediction"
	"github.com/web3guy0/gatekeeper/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIDENCE FEEDBACK - Historical accuracy → confidence multiplier
// ═══════════════════════════════════════════════════════════════════════════════
//
// combined = 0.4*overall + 0.3*regime + 0.3*sentiment band
// multiplier = 0.5 + combined   (0% accuracy → 0.5x, 100% → 1.5x)
//
// The multiplier scales incoming candidate confidence, so a regime that has
// been called well relaxes the bar and a poorly called one tightens it.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	overallWeight   = 0.4
	regimeWeight    = 0.3
	sentimentWeight = 0.3

	// Accuracy assumed for groups with no validated predictions
	unseenAccuracy = 0.5

	MinMultiplier = 0.5
	MaxMultiplier = 1.5
)

// StatsSource provides the latest validation stats
type StatsSource interface {
	Stats() types.ValidationStats
}

// ConfidenceAggregator turns validation stats into a confidence multiplier
type ConfidenceAggregator struct {
	source StatsSource
}

// NewConfidenceAggregator creates an aggregator reading from source
func NewConfidenceAggregator(source StatsSource) *ConfidenceAggregator {
	return &ConfidenceAggregator{source: source}
}

// GetConfidenceAdjustment returns a multiplier in [0.5, 1.5]
func (a *ConfidenceAggregator) GetConfidenceAdjustment(regime string, sentiment float64) float64 {
	return Adjustment(a.source.Stats(), regime, sentiment)
}

// Adjustment computes the multiplier from a stats value
func Adjustment(stats types.ValidationStats, regime string, sentiment float64) float64 {
	overall := unseenAccuracy
	if stats.ValidatedPredictions > 0 {
		overall = stats.Accuracy
	}

	regimeAcc := unseenAccuracy
	if b, ok := stats.ByRegime[regime]; ok && b.Total > 0 {
		regimeAcc = b.Accuracy
	}

	bandAcc := unseenAccuracy
	if b, ok := stats.BySentiment[prediction.SentimentBand(sentiment)]; ok && b.Total > 0 {
		bandAcc = b.Accuracy
	}

	combined := overallWeight*overall + regimeWeight*regimeAcc + sentimentWeight*bandAcc
	m := MinMultiplier + combined*(MaxMultiplier-MinMultiplier)
	if m < MinMultiplier {
		return MinMultiplier
	}
	if m > MaxMultiplier {
		return MaxMultiplier
	}
	return m
}
