package portfolio

import (
	"math"

	"trade-forwardtest/internal/domain"
)

// ScoreWeights weight the components of a candidate's priority score.
type ScoreWeights struct {
	EV         float64
	Confidence float64
	Quality    float64
}

// DefaultScoreWeights returns the weights used when none are configured.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{EV: 0.4, Confidence: 0.4, Quality: 0.2}
}

// scoreComponents holds a candidate's score and its normalized components.
type scoreComponents struct {
	total float64
	ev    float64
	conf  float64
	qual  float64
}

// scoreSnapshot computes the candidate priority score: a weighted sum of
// the generator's expected value, its confidence, and a quality term
// derived from the ladder's first-target reward-to-risk ratio. All
// components are normalized into [0, 1].
func scoreSnapshot(snap *domain.Snapshot, w ScoreWeights) scoreComponents {
	var ev float64
	if snap.ExpectedValueR != nil {
		// 3R expected value saturates the component.
		ev = clamp01(*snap.ExpectedValueR / 3.0)
	}

	conf := clamp01(snap.Confidence)

	var qual float64
	if len(snap.EntryOrders) > 0 && len(snap.TakeProfits) > 0 {
		var entry, pct float64
		for _, o := range snap.EntryOrders {
			entry += o.Price * o.SizePct
			pct += o.SizePct
		}
		if pct > 0 {
			entry /= pct
		}
		risk := math.Abs(entry - snap.StopLoss)
		if risk > 0 {
			rr := math.Abs(snap.TakeProfits[0]-entry) / risk
			// 3:1 on the first target saturates the component.
			qual = clamp01(rr / 3.0)
		}
	}

	return scoreComponents{
		total: w.EV*ev + w.Confidence*conf + w.Quality*qual,
		ev:    ev,
		conf:  conf,
		qual:  qual,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
