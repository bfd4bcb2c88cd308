//go:build integration

package flags

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"fraudwatch/internal/decision"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("connect to database: %v", err)
	}

	ctx := context.Background()

	// Mirrors migrations/00001_init.sql
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			txn_id        TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			amount        NUMERIC(20,2) NOT NULL,
			currency      TEXT NOT NULL DEFAULT 'USD',
			country       TEXT NOT NULL,
			device_id     TEXT NOT NULL,
			timestamp     TIMESTAMPTZ NOT NULL,
			features_json TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS flags (
			id           BIGSERIAL PRIMARY KEY,
			txn_id       TEXT NOT NULL,
			score        DOUBLE PRECISION NOT NULL,
			label_pred   BOOLEAN NOT NULL DEFAULT TRUE,
			reasons_json TEXT NOT NULL,
			timestamp    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		t.Fatalf("create tables: %v", err)
	}

	cleanup := func() {
		_, _ = db.ExecContext(ctx, `TRUNCATE transactions; TRUNCATE flags RESTART IDENTITY`)
		_ = db.Close()
	}
	return NewPostgresStore(db), cleanup
}

func TestPostgresStore_TransactionRoundTrip(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	txn := &Transaction{
		TxnID:     "pg-txn-1",
		UserID:    "u1",
		Amount:    600,
		Currency:  "EUR",
		Country:   "FR",
		DeviceID:  "dev-a",
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Features:  FraudFeatures{Velocity: 3, NewCountry: true, Hour: 9},
	}
	if err := store.CreateTransaction(ctx, txn); err != nil {
		t.Fatalf("create transaction: %v", err)
	}

	got, err := store.GetTransaction(ctx, "pg-txn-1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if got.Features.Velocity != 3 || !got.Features.NewCountry {
		t.Errorf("features not preserved: %+v", got.Features)
	}

	if err := store.CreateTransaction(ctx, txn); err != ErrDuplicateTxn {
		t.Errorf("expected ErrDuplicateTxn, got %v", err)
	}
}

func TestPostgresStore_FlagCursorReads(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 4; i++ {
		flag := &FraudFlag{
			TxnID:     "pg-txn",
			Score:     0.8,
			LabelPred: true,
			Reasons:   decision.Reasons{Velocity: i, Amount: 100},
		}
		if err := store.CreateFlag(ctx, flag); err != nil {
			t.Fatalf("create flag: %v", err)
		}
		if flag.ID <= lastID {
			t.Fatalf("flag ids not monotonic: %d after %d", flag.ID, lastID)
		}
		lastID = flag.ID
	}

	max, err := store.MaxFlagID(ctx)
	if err != nil {
		t.Fatalf("max flag id: %v", err)
	}
	if max != lastID {
		t.Errorf("MaxFlagID = %d, want %d", max, lastID)
	}

	got, err := store.ListFlagsAfter(ctx, lastID-2, 100)
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 flags, got %d", len(got))
	}
	if got[0].ID >= got[1].ID {
		t.Errorf("flags not ascending: %d, %d", got[0].ID, got[1].ID)
	}
}
