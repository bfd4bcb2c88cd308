// Package scoring calls the remote fraud model with the pipeline's fixed
// five-feature vector.
//
// The default failure policy is fail open: a scorer outage must never block
// transaction ingestion, so transport errors and malformed responses degrade
// to a zero-probability, non-fraud score. The rule thresholds in the decision
// engine still fire independently of the model.
package scoring

import "context"

// FeatureVector is the exact feature set sent to the model. Field order and
// names are part of the scoring API contract.
type FeatureVector struct {
	Amount         float64 `json:"amount"`
	Hour           int     `json:"hour"`
	CountryNovelty int     `json:"country_novelty"` // 0 or 1
	DeviceNovelty  int     `json:"device_novelty"`  // 0 or 1
	Velocity       int     `json:"user_velocity_60s"`
}

// ModelScore is the model's answer for one transaction.
type ModelScore struct {
	Probability float64 `json:"fraud_probability"`
	IsFraud     bool    `json:"is_fraud"`
}

// FailOpenScore is what a fail-open scorer substitutes when the model is
// unreachable.
var FailOpenScore = ModelScore{Probability: 0.0, IsFraud: false}

// Scorer scores a single feature vector. Implementations are selected by
// configuration: the HTTP client in production, the deterministic stub in
// tests and demo mode.
type Scorer interface {
	Score(ctx context.Context, features FeatureVector) (ModelScore, error)
}
