// Package flags owns the persisted output of the pipeline: the append-only
// transaction log and the fraud flag log the alert feed tails.
//
// Flag ids are assigned monotonically by the store; they are the ordering
// key every alert subscriber's cursor advances over.
package flags

import (
	"context"
	"errors"
	"time"

	"fraudwatch/internal/decision"
)

var (
	ErrDuplicateTxn = errors.New("flags: transaction already recorded")
	ErrTxnNotFound  = errors.New("flags: transaction not found")
)

// FraudFeatures is the derived feature snapshot persisted alongside each
// transaction.
type FraudFeatures struct {
	Velocity   int  `json:"velocity"`
	NewCountry bool `json:"new_country"`
	NewDevice  bool `json:"new_device"`
	Hour       int  `json:"hour"`
}

// Transaction is a processed transaction, written exactly once per accepted
// (non-duplicate) event and never mutated afterwards.
type Transaction struct {
	TxnID     string        `json:"txnId"`
	UserID    string        `json:"userId"`
	Amount    float64       `json:"amount"`
	Currency  string        `json:"currency"`
	Country   string        `json:"country"`
	DeviceID  string        `json:"deviceId"`
	Timestamp time.Time     `json:"timestamp"`
	Features  FraudFeatures `json:"features"`
	CreatedAt time.Time     `json:"createdAt"`
}

// FraudFlag is one positive decision. Its existence is the positive signal:
// LabelPred is always true on a persisted flag.
type FraudFlag struct {
	ID        int64            `json:"id"`
	TxnID     string           `json:"txn_id"`
	Score     float64          `json:"score"`
	LabelPred bool             `json:"label_pred"`
	Reasons   decision.Reasons `json:"reasons"`
	Timestamp time.Time        `json:"timestamp"`
}

// Store persists transactions and fraud flags.
//
// CreateFlag assigns the flag's id; ids must be monotonically increasing so
// ListFlagsAfter can serve gap-free, duplicate-free cursor reads.
type Store interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, txnID string) (*Transaction, error)

	CreateFlag(ctx context.Context, flag *FraudFlag) error
	// MaxFlagID returns the highest assigned flag id, 0 when empty.
	MaxFlagID(ctx context.Context) (int64, error)
	// ListFlagsAfter returns up to limit flags with id > after, ascending.
	ListFlagsAfter(ctx context.Context, after int64, limit int) ([]*FraudFlag, error)

	Ping(ctx context.Context) error
}
