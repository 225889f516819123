package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/MJE43/tigrinho-pf/internal/engine"
)

// newTestPostgres connects to TIGRINHO_TEST_PG_DSN and empties the schema.
func newTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	dsn := os.Getenv("TIGRINHO_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TIGRINHO_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	db, err := NewPostgresDB(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := db.pool.Exec(ctx, "TRUNCATE params, spins, seed_epochs"); err != nil {
		t.Fatalf("Failed to reset tables: %v", err)
	}
	return db
}

func TestPostgresSpinLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestPostgres(t)

	if _, err := db.EnsureParams(ctx, "pg-seed", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	for want := uint64(1); want <= 3; want++ {
		rec, err := db.ExecSpin(ctx, "client", fixedPlay(1, 2))
		if err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
		if rec.Nonce != want {
			t.Errorf("nonce = %d, want %d", rec.Nonce, want)
		}
	}

	epoch, err := db.RotateSeed(ctx, "pg-seed-2")
	if err != nil {
		t.Fatalf("RotateSeed failed: %v", err)
	}
	if epoch.ServerSeed != "pg-seed" || epoch.FinalNonce != 3 {
		t.Errorf("unexpected epoch: %+v", epoch)
	}
	if _, err := db.RotateSeed(ctx, "pg-seed"); !errors.Is(err, ErrSeedReused) {
		t.Errorf("expected ErrSeedReused, got %v", err)
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.Nonce != 0 || p.ServerSeedHash != engine.Commitment("pg-seed-2") {
		t.Errorf("unexpected params after rotation: %+v", p)
	}

	page, err := db.ListSpins(ctx, SpinsQuery{PerPage: 2})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if page.TotalCount != 3 || len(page.Spins) != 2 || page.Spins[0].Nonce != 3 {
		t.Errorf("unexpected page: %+v", page)
	}

	totals, err := db.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Spins != 3 || totals.TotalPayout != 6 {
		t.Errorf("unexpected totals: %+v", totals)
	}
}
