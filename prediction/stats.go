package prediction

import (
	"time"

	"github.com/web3guy0/gatekeeper/types"
)

// Sentiment bands over a 0-100 fear/greed style index
const (
	BandFear    = "fear"
	BandNeutral = "neutral"
	BandGreed   = "greed"

	fearBelow  = 40.0
	greedAbove = 60.0
)

// NeutralProfitFactor is reported when nothing has been validated yet
const NeutralProfitFactor = 1.0

// SentimentBand maps a sentiment index to its band
func SentimentBand(v float64) string {
	switch {
	case v < fearBelow:
		return BandFear
	case v > greedAbove:
		return BandGreed
	default:
		return BandNeutral
	}
}

// ComputeStats derives ValidationStats from a prediction set. It is a pure
// function of its inputs; the recorder calls it after every state change.
func ComputeStats(preds []types.Prediction, now time.Time) types.ValidationStats {
	stats := types.ValidationStats{
		TotalPredictions: len(preds),
		ByRegime:         make(map[string]types.AccuracyBucket),
		BySentiment:      make(map[string]types.AccuracyBucket),
		ProfitFactor:     NeutralProfitFactor,
		ComputedAt:       now,
	}

	var positive, negative float64
	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)

	for i := range preds {
		p := &preds[i]
		if !p.Validated {
			continue
		}
		stats.ValidatedPredictions++
		if p.Correct {
			stats.Correct++
		} else {
			stats.Incorrect++
		}

		regime := stats.ByRegime[p.Context.MarketRegime]
		regime.Add(p.Correct)
		stats.ByRegime[p.Context.MarketRegime] = regime

		band := SentimentBand(p.Context.SentimentIndex)
		b := stats.BySentiment[band]
		b.Add(p.Correct)
		stats.BySentiment[band] = b

		if !p.CreatedAt.Before(dayAgo) {
			stats.Last24h.Add(p.Correct)
		}
		if !p.CreatedAt.Before(weekAgo) {
			stats.Last7d.Add(p.Correct)
		}

		if p.OutcomeScore > 0 {
			positive += p.OutcomeScore
		} else if p.OutcomeScore < 0 {
			negative += -p.OutcomeScore
		}
	}

	if stats.ValidatedPredictions > 0 {
		stats.Accuracy = float64(stats.Correct) / float64(stats.ValidatedPredictions)
		if negative > 0 {
			stats.ProfitFactor = positive / negative
		} else {
			stats.ProfitFactor = positive
		}
	}

	return stats
}
