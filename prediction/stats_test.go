package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/gatekeeper/types"
)

func validated(created time.Time, correct bool, score float64, regime string, sentiment float64) types.Prediction {
	return types.Prediction{
		CreatedAt:    created,
		Validated:    true,
		Correct:      correct,
		OutcomeScore: score,
		Context:      types.SignalContext{MarketRegime: regime, SentimentIndex: sentiment},
	}
}

func TestSentimentBand(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0, BandFear},
		{39.9, BandFear},
		{40, BandNeutral},
		{60, BandNeutral},
		{60.1, BandGreed},
		{100, BandGreed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SentimentBand(tt.v), "index %v", tt.v)
	}
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil, t0)

	assert.Zero(t, stats.TotalPredictions)
	assert.Zero(t, stats.Accuracy)
	assert.Equal(t, NeutralProfitFactor, stats.ProfitFactor)
	assert.NotNil(t, stats.ByRegime)
	assert.NotNil(t, stats.BySentiment)
}

func TestComputeStats(t *testing.T) {
	preds := []types.Prediction{
		validated(t0.Add(-time.Hour), true, 0.4, "trending", 70),
		validated(t0.Add(-2*time.Hour), false, -0.2, "trending", 20),
		validated(t0.Add(-3*24*time.Hour), true, 0.2, "ranging", 50),
		validated(t0.Add(-10*24*time.Hour), true, 0.1, "ranging", 50),
		{CreatedAt: t0}, // pending
	}

	stats := ComputeStats(preds, t0)

	assert.Equal(t, 5, stats.TotalPredictions)
	assert.Equal(t, 4, stats.ValidatedPredictions)
	assert.Equal(t, 3, stats.Correct)
	assert.Equal(t, 1, stats.Incorrect)
	assert.InDelta(t, 0.75, stats.Accuracy, 1e-9)

	assert.Equal(t, types.AccuracyBucket{Total: 2, Correct: 1, Accuracy: 0.5}, stats.ByRegime["trending"])
	assert.Equal(t, types.AccuracyBucket{Total: 2, Correct: 2, Accuracy: 1}, stats.ByRegime["ranging"])

	assert.Equal(t, 1, stats.BySentiment[BandGreed].Total)
	assert.Equal(t, 1, stats.BySentiment[BandFear].Total)
	assert.Equal(t, 2, stats.BySentiment[BandNeutral].Total)

	assert.Equal(t, 2, stats.Last24h.Total)
	assert.Equal(t, 3, stats.Last7d.Total)

	// (0.4 + 0.2 + 0.1) / 0.2
	assert.InDelta(t, 3.5, stats.ProfitFactor, 1e-9)
}

func TestComputeStats_NoLosses(t *testing.T) {
	stats := ComputeStats([]types.Prediction{
		validated(t0, true, 0.4, "", 50),
		validated(t0, true, 0.3, "", 50),
	}, t0)

	assert.InDelta(t, 0.7, stats.ProfitFactor, 1e-9)
}
