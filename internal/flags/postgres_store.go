package flags

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"fraudwatch/internal/decision"
)

// PostgresStore persists transactions and fraud flags in PostgreSQL.
//
// Flag ids come from a BIGSERIAL column, which gives the monotonic
// assignment the alert feed's cursor reads depend on.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions and flags tables if they don't exist.
// The goose migrations under migrations/ are the canonical schema; this
// exists so a fresh database works without running the migrate command.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			txn_id        VARCHAR(64) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			amount        NUMERIC(20,2) NOT NULL,
			currency      VARCHAR(8) NOT NULL,
			country       VARCHAR(8) NOT NULL,
			device_id     VARCHAR(128) NOT NULL,
			timestamp     TIMESTAMPTZ NOT NULL,
			features_json JSONB NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user_id
			ON transactions (user_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS flags (
			id           BIGSERIAL PRIMARY KEY,
			txn_id       VARCHAR(64) NOT NULL,
			score        DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 1),
			label_pred   BOOLEAN NOT NULL,
			reasons_json JSONB NOT NULL DEFAULT '{}',
			timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_flags_txn_id ON flags (txn_id);
	`)
	return err
}

func (p *PostgresStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	features, err := json.Marshal(txn.Features)
	if err != nil {
		return err
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO transactions (
			txn_id, user_id, amount, currency, country, device_id,
			timestamp, features_json, created_at
		) VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, $8, $9)`,
		txn.TxnID, txn.UserID, txn.Amount, txn.Currency, txn.Country, txn.DeviceID,
		txn.Timestamp, string(features), txn.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "unique constraint") {
		return ErrDuplicateTxn
	}
	return err
}

func (p *PostgresStore) GetTransaction(ctx context.Context, txnID string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT txn_id, user_id, amount, currency, country, device_id,
		       timestamp, features_json, created_at
		FROM transactions WHERE txn_id = $1`, txnID)

	txn := &Transaction{}
	var features string
	err := row.Scan(
		&txn.TxnID, &txn.UserID, &txn.Amount, &txn.Currency, &txn.Country, &txn.DeviceID,
		&txn.Timestamp, &features, &txn.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTxnNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(features), &txn.Features); err != nil {
		return nil, err
	}
	return txn, nil
}

func (p *PostgresStore) CreateFlag(ctx context.Context, flag *FraudFlag) error {
	reasons, err := json.Marshal(flag.Reasons)
	if err != nil {
		return err
	}
	if flag.Timestamp.IsZero() {
		flag.Timestamp = time.Now()
	}

	return p.db.QueryRowContext(ctx, `
		INSERT INTO flags (txn_id, score, label_pred, reasons_json, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		flag.TxnID, flag.Score, flag.LabelPred, string(reasons), flag.Timestamp,
	).Scan(&flag.ID)
}

func (p *PostgresStore) MaxFlagID(ctx context.Context) (int64, error) {
	var max int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM flags`).Scan(&max)
	return max, err
}

func (p *PostgresStore) ListFlagsAfter(ctx context.Context, after int64, limit int) ([]*FraudFlag, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, txn_id, score, label_pred, reasons_json, timestamp
		FROM flags
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*FraudFlag
	for rows.Next() {
		f := &FraudFlag{}
		var reasons string
		if err := rows.Scan(&f.ID, &f.TxnID, &f.Score, &f.LabelPred, &reasons, &f.Timestamp); err != nil {
			return nil, err
		}
		var parsed decision.Reasons
		if err := json.Unmarshal([]byte(reasons), &parsed); err != nil {
			return nil, err
		}
		f.Reasons = parsed
		result = append(result, f)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
