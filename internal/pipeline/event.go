package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultCurrency is assumed when an event omits the currency field.
const DefaultCurrency = "USD"

// TransactionEvent is one inbound message from the transactions topic.
// Ephemeral: parsed, scored, and discarded.
type TransactionEvent struct {
	TxnID     string    `json:"txn_id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Country   string    `json:"country"`
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"-"`
}

// rawEvent keeps the timestamp as a string so parse failures are reported
// as malformed input rather than a json.UnmarshalTypeError.
type rawEvent struct {
	TxnID     string   `json:"txn_id"`
	UserID    string   `json:"user_id"`
	Amount    *float64 `json:"amount"`
	Currency  string   `json:"currency"`
	Country   string   `json:"country"`
	DeviceID  string   `json:"device_id"`
	Timestamp string   `json:"timestamp"`
}

// ParseEvent decodes and validates one event payload. Any missing required
// field, negative amount, or unparseable timestamp yields an error wrapping
// ErrMalformedEvent and mutates no state.
func ParseEvent(payload []byte) (*TransactionEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch {
	case raw.TxnID == "":
		return nil, fmt.Errorf("%w: missing txn_id", ErrMalformedEvent)
	case raw.UserID == "":
		return nil, fmt.Errorf("%w: missing user_id", ErrMalformedEvent)
	case raw.Amount == nil:
		return nil, fmt.Errorf("%w: missing amount", ErrMalformedEvent)
	case *raw.Amount < 0:
		return nil, fmt.Errorf("%w: negative amount", ErrMalformedEvent)
	case raw.Country == "":
		return nil, fmt.Errorf("%w: missing country", ErrMalformedEvent)
	case raw.DeviceID == "":
		return nil, fmt.Errorf("%w: missing device_id", ErrMalformedEvent)
	case raw.Timestamp == "":
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}

	// ISO-8601 with offset
	ts, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEvent, raw.Timestamp)
	}

	currency := raw.Currency
	if currency == "" {
		currency = DefaultCurrency
	}

	return &TransactionEvent{
		TxnID:     raw.TxnID,
		UserID:    raw.UserID,
		Amount:    *raw.Amount,
		Currency:  currency,
		Country:   raw.Country,
		DeviceID:  raw.DeviceID,
		Timestamp: ts,
	}, nil
}
