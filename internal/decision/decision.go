// Package decision combines the model's verdict with explicit rule
// thresholds into the final fraud decision.
//
// The engine is pure: no I/O, no clocks, no persistence. Everything needed
// to decide arrives in the input, which keeps the threshold logic unit
// testable in isolation.
package decision

// Default rule thresholds. Each rule is independently sufficient.
const (
	DefaultVelocityThreshold      = 8
	DefaultNoveltyAmountThreshold = 500  // new country AND new device
	DefaultCountryAmountThreshold = 1000 // new country alone
)

// Input carries the signals a single transaction is judged on.
type Input struct {
	ModelVerdict bool
	Probability  float64
	Velocity     int
	NewCountry   bool
	NewDevice    bool
	Amount       float64
}

// Result is the engine's verdict plus the audit record behind it.
type Result struct {
	IsFraud bool
	Reasons Reasons
}

// Reasons is the structured audit record persisted with every fraud flag.
// All fields are populated regardless of which rule fired so downstream
// consumers can reconstruct the decision.
type Reasons struct {
	MLScore    float64 `json:"ml_score"`
	Velocity   int     `json:"velocity"`
	NewCountry bool    `json:"new_country"`
	NewDevice  bool    `json:"new_device"`
	Amount     float64 `json:"amount"`
}

// Engine evaluates the rule ensemble.
type Engine struct {
	velocityThreshold      int
	noveltyAmountThreshold float64
	countryAmountThreshold float64
}

// NewEngine creates an engine with the default thresholds.
func NewEngine() *Engine {
	return &Engine{
		velocityThreshold:      DefaultVelocityThreshold,
		noveltyAmountThreshold: DefaultNoveltyAmountThreshold,
		countryAmountThreshold: DefaultCountryAmountThreshold,
	}
}

// WithVelocityThreshold overrides the velocity rule threshold.
func (e *Engine) WithVelocityThreshold(n int) *Engine {
	e.velocityThreshold = n
	return e
}

// Evaluate applies the rule ensemble: the decision is a logical OR of the
// model verdict, the velocity rule, the combined-novelty rule, and the
// new-country rule.
func (e *Engine) Evaluate(in Input) Result {
	isFraud := in.ModelVerdict ||
		in.Velocity > e.velocityThreshold ||
		(in.NewCountry && in.NewDevice && in.Amount > e.noveltyAmountThreshold) ||
		(in.NewCountry && in.Amount > e.countryAmountThreshold)

	return Result{
		IsFraud: isFraud,
		Reasons: Reasons{
			MLScore:    in.Probability,
			Velocity:   in.Velocity,
			NewCountry: in.NewCountry,
			NewDevice:  in.NewDevice,
			Amount:     in.Amount,
		},
	}
}
