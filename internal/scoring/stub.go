package scoring

import "context"

// StubScorer is a deterministic scorer for tests and demo mode (no model API
// required). It flags transactions whose amount meets the threshold.
type StubScorer struct {
	Threshold   float64
	Probability float64
}

// NewStubScorer creates a stub that flags amounts >= 2000 with probability 0.9.
func NewStubScorer() *StubScorer {
	return &StubScorer{Threshold: 2000, Probability: 0.9}
}

func (s *StubScorer) Score(ctx context.Context, features FeatureVector) (ModelScore, error) {
	if features.Amount >= s.Threshold {
		return ModelScore{Probability: s.Probability, IsFraud: true}, nil
	}
	return ModelScore{Probability: 0.05, IsFraud: false}, nil
}
