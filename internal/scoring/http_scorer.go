package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fraudwatch/internal/metrics"
)

// DefaultTimeout bounds a single scoring call. Events are processed
// sequentially per partition, so a hung model call would stall the whole
// partition without it.
const DefaultTimeout = 3 * time.Second

// scoreResponse uses pointers so absent fields are distinguishable from
// zero values — a 200 with a missing field is still a malformed response.
type scoreResponse struct {
	FraudProbability *float64 `json:"fraud_probability"`
	IsFraud          *bool    `json:"is_fraud"`
}

// HTTPScorer scores transactions against a remote model endpoint.
type HTTPScorer struct {
	baseURL    string
	client     *http.Client
	logger     *slog.Logger
	failClosed bool
}

// NewHTTPScorer creates a scorer for the model API at baseURL.
func NewHTTPScorer(baseURL string, logger *slog.Logger) *HTTPScorer {
	return &HTTPScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logger,
	}
}

// WithTimeout overrides the per-call timeout.
func (s *HTTPScorer) WithTimeout(d time.Duration) *HTTPScorer {
	s.client.Timeout = d
	return s
}

// WithFailClosed makes scorer failures abort the event instead of degrading
// to the fail-open score. Not the default: availability over precision.
func (s *HTTPScorer) WithFailClosed() *HTTPScorer {
	s.failClosed = true
	return s
}

// Score POSTs the feature vector to <base>/score. On any transport error,
// non-2xx status, or missing response field it fails open: the error is
// logged, counted, and the zero score is returned with a nil error so the
// pipeline continues. In fail-closed mode the error is returned instead.
func (s *HTTPScorer) Score(ctx context.Context, features FeatureVector) (ModelScore, error) {
	score, err := s.call(ctx, features)
	if err == nil {
		return score, nil
	}

	metrics.ScorerFailures.Inc()
	if s.failClosed {
		return ModelScore{}, fmt.Errorf("scoring: %w", err)
	}
	s.logger.Warn("model scoring failed, failing open",
		"error", err,
		"velocity", features.Velocity,
		"amount", features.Amount,
	)
	return FailOpenScore, nil
}

func (s *HTTPScorer) call(ctx context.Context, features FeatureVector) (ModelScore, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return ModelScore{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return ModelScore{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ModelScore{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ModelScore{}, fmt.Errorf("model api returned status %d", resp.StatusCode)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return ModelScore{}, fmt.Errorf("decode model response: %w", err)
	}
	if parsed.FraudProbability == nil || parsed.IsFraud == nil {
		return ModelScore{}, fmt.Errorf("model response missing fields")
	}

	return ModelScore{Probability: *parsed.FraudProbability, IsFraud: *parsed.IsFraud}, nil
}
