package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
)

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// fixedPlay records a constant outcome.
func fixedPlay(bet, payout float64) PlayFunc {
	return func(p Params) (SpinResult, error) {
		return SpinResult{
			Reels:  games.Grid{{0, 1, 2}, {1, 2, 3}, {2, 3, 4}},
			Bet:    bet,
			Lines:  1,
			Payout: payout,
		}, nil
	}
}

func TestMigrationIdempotency(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "tigrinho.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Failed to migrate on pass %d: %v", i+1, err)
		}
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func TestEnsureParams(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	if _, err := db.GetParams(ctx); !errors.Is(err, ErrParamsNotFound) {
		t.Fatalf("expected ErrParamsNotFound before init, got %v", err)
	}
	if _, err := db.EnsureParams(ctx, "", 0.95, "[]"); !errors.Is(err, ErrEmptySeed) {
		t.Fatalf("expected ErrEmptySeed, got %v", err)
	}

	p, err := db.EnsureParams(ctx, "server", 0.95, "[]")
	if err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	if p.ServerSeedHash != engine.Commitment("server") {
		t.Errorf("hash = %s, want %s", p.ServerSeedHash, engine.Commitment("server"))
	}
	if p.Nonce != 0 {
		t.Errorf("fresh nonce = %d, want 0", p.Nonce)
	}
	if p.EpochID == "" {
		t.Error("expected an epoch id")
	}

	// A second call keeps the stored seed.
	again, err := db.EnsureParams(ctx, "other", 0.5, "[]")
	if err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	if again.ServerSeed != "server" || again.RTPTarget != 0.95 || again.EpochID != p.EpochID {
		t.Errorf("existing params were overwritten: %+v", again)
	}
}

func TestEnsureParamsRepairsHash(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	if _, err := db.db.Exec("UPDATE params SET server_seed_hash = 'stale' WHERE id = 1"); err != nil {
		t.Fatalf("Failed to corrupt hash: %v", err)
	}

	p, err := db.EnsureParams(ctx, "server", 0.95, "[]")
	if err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	want := engine.Commitment("server")
	if p.ServerSeedHash != want {
		t.Errorf("returned hash = %s, want %s", p.ServerSeedHash, want)
	}
	stored, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if stored.ServerSeedHash != want {
		t.Errorf("stored hash = %s, want %s", stored.ServerSeedHash, want)
	}
}

func TestSetParams(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	if err := db.SetParams(ctx, 0.9, "[]"); !errors.Is(err, ErrParamsNotFound) {
		t.Fatalf("expected ErrParamsNotFound, got %v", err)
	}
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	table := `[{"symbol":0,"count":3,"payout_multiplier":7}]`
	if err := db.SetParams(ctx, 0.9, table); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.RTPTarget != 0.9 || p.PaytableJSON != table {
		t.Errorf("params not updated: %+v", p)
	}
	if p.ServerSeed != "server" || p.Nonce != 0 {
		t.Errorf("SetParams touched seed state: %+v", p)
	}
}

func TestExecSpinAdvancesNonce(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}

	var seen []uint64
	play := func(p Params) (SpinResult, error) {
		seen = append(seen, p.Nonce)
		if p.ServerSeed != "server" {
			t.Errorf("play saw seed %q", p.ServerSeed)
		}
		return fixedPlay(1, 2)(p)
	}

	for want := uint64(1); want <= 3; want++ {
		rec, err := db.ExecSpin(ctx, "client", play)
		if err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
		if rec.Nonce != want {
			t.Errorf("spin nonce = %d, want %d", rec.Nonce, want)
		}
		if rec.ServerSeedHash != engine.Commitment("server") {
			t.Errorf("spin recorded hash %s", rec.ServerSeedHash)
		}
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("play saw nonces %v", seen)
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.Nonce != 3 {
		t.Errorf("stored nonce = %d, want 3", p.Nonce)
	}
}

func TestExecSpinRecordsPaytable(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	const before, after = `[{"symbol":0,"count":3,"payout_multiplier":5}]`, "[]"
	if _, err := db.EnsureParams(ctx, "server", 0.95, before); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	first, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0))
	if err != nil {
		t.Fatalf("ExecSpin failed: %v", err)
	}
	if err := db.SetParams(ctx, 0.95, after); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	second, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0))
	if err != nil {
		t.Fatalf("ExecSpin failed: %v", err)
	}

	for _, tc := range []struct {
		id   string
		want string
	}{{first.ID, before}, {second.ID, after}} {
		rec, err := db.GetSpin(ctx, tc.id)
		if err != nil {
			t.Fatalf("GetSpin failed: %v", err)
		}
		if rec.PaytableJSON != tc.want {
			t.Errorf("spin %s recorded paytable %q, want %q", tc.id, rec.PaytableJSON, tc.want)
		}
	}
}

func TestExecSpinPlayErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}

	boom := errors.New("boom")
	_, err := db.ExecSpin(ctx, "client", func(Params) (SpinResult, error) { return SpinResult{}, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected play error, got %v", err)
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.Nonce != 0 {
		t.Errorf("nonce advanced to %d after failed play", p.Nonce)
	}
	totals, err := db.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals.Spins != 0 {
		t.Errorf("failed play recorded %d spins", totals.Spins)
	}
}

func TestExecSpinWithoutParams(t *testing.T) {
	db := newTestSQLite(t)
	_, err := db.ExecSpin(context.Background(), "client", fixedPlay(1, 0))
	if !errors.Is(err, ErrParamsNotFound) {
		t.Fatalf("expected ErrParamsNotFound, got %v", err)
	}
}

func TestConcurrentSpinsGetUniqueNonces(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "concurrent.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}

	const workers, perWorker = 8, 25
	var (
		mu     sync.Mutex
		nonces = make(map[uint64]bool)
		wg     sync.WaitGroup
		errs   = make(chan error, workers*perWorker)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				rec, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				if nonces[rec.Nonce] {
					errs <- errors.New("duplicate nonce")
				}
				nonces[rec.Nonce] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent spin failed: %v", err)
	}

	total := uint64(workers * perWorker)
	if uint64(len(nonces)) != total {
		t.Fatalf("got %d distinct nonces, want %d", len(nonces), total)
	}
	for n := uint64(1); n <= total; n++ {
		if !nonces[n] {
			t.Errorf("nonce %d was never issued", n)
		}
	}
}

func TestRotateSeed(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	first, err := db.EnsureParams(ctx, "seed-1", 0.95, "[]")
	if err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0)); err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
	}

	epoch, err := db.RotateSeed(ctx, "seed-2")
	if err != nil {
		t.Fatalf("RotateSeed failed: %v", err)
	}
	if epoch.ServerSeed != "seed-1" || epoch.ServerSeedHash != engine.Commitment("seed-1") {
		t.Errorf("retired epoch does not reveal the old seed: %+v", epoch)
	}
	if epoch.FinalNonce != 2 || epoch.SpinCount != 2 {
		t.Errorf("epoch final nonce %d spins %d, want 2 and 2", epoch.FinalNonce, epoch.SpinCount)
	}
	if epoch.ID != first.EpochID {
		t.Errorf("epoch id = %s, want %s", epoch.ID, first.EpochID)
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.ServerSeed != "seed-2" || p.ServerSeedHash != engine.Commitment("seed-2") {
		t.Errorf("new seed not installed: %+v", p)
	}
	if p.Nonce != 0 {
		t.Errorf("nonce = %d after rotation, want 0", p.Nonce)
	}
	if p.EpochID == first.EpochID {
		t.Error("rotation kept the old epoch id")
	}

	rec, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0))
	if err != nil {
		t.Fatalf("ExecSpin after rotation failed: %v", err)
	}
	if rec.Nonce != 1 || rec.EpochID != p.EpochID {
		t.Errorf("first spin of new epoch: nonce %d epoch %s", rec.Nonce, rec.EpochID)
	}

	epochs, err := db.ListSeedEpochs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListSeedEpochs failed: %v", err)
	}
	if len(epochs) != 1 || epochs[0].ServerSeed != "seed-1" {
		t.Errorf("unexpected epochs: %+v", epochs)
	}
}

func TestRotateSeedRejectsReuse(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "seed-1", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	if _, err := db.RotateSeed(ctx, "seed-2"); err != nil {
		t.Fatalf("RotateSeed failed: %v", err)
	}

	tests := []struct {
		name string
		seed string
		want error
	}{
		{"empty", "", ErrEmptySeed},
		{"current", "seed-2", ErrSeedReused},
		{"revealed", "seed-1", ErrSeedReused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.RotateSeed(ctx, tt.seed); !errors.Is(err, tt.want) {
				t.Errorf("RotateSeed(%q) = %v, want %v", tt.seed, err, tt.want)
			}
		})
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.ServerSeed != "seed-2" {
		t.Errorf("rejected rotation changed the seed to %q", p.ServerSeed)
	}
}

func TestListSeedEpochsNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	db.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	if _, err := db.EnsureParams(ctx, "s0", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	for _, seed := range []string{"s1", "s2", "s3"} {
		if _, err := db.RotateSeed(ctx, seed); err != nil {
			t.Fatalf("RotateSeed(%s) failed: %v", seed, err)
		}
	}

	epochs, err := db.ListSeedEpochs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListSeedEpochs failed: %v", err)
	}
	if len(epochs) != 2 || epochs[0].ServerSeed != "s2" || epochs[1].ServerSeed != "s1" {
		t.Fatalf("unexpected first page: %+v", epochs)
	}
	if !epochs[0].RotatedAt.After(epochs[1].RotatedAt) {
		t.Errorf("rotated_at not descending: %v then %v", epochs[0].RotatedAt, epochs[1].RotatedAt)
	}

	rest, err := db.ListSeedEpochs(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListSeedEpochs failed: %v", err)
	}
	if len(rest) != 1 || rest[0].ServerSeed != "s0" {
		t.Errorf("unexpected second page: %+v", rest)
	}
}

func TestListSpins(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	clients := []string{"alice", "bob", "alice", "bob", "alice"}
	for _, c := range clients {
		if _, err := db.ExecSpin(ctx, c, fixedPlay(1, 0)); err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
	}

	page, err := db.ListSpins(ctx, SpinsQuery{Page: 1, PerPage: 2})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if page.TotalCount != 5 || page.TotalPages != 3 {
		t.Errorf("total %d pages %d, want 5 and 3", page.TotalCount, page.TotalPages)
	}
	if len(page.Spins) != 2 || page.Spins[0].Nonce != 5 || page.Spins[1].Nonce != 4 {
		t.Errorf("first page not newest first: %+v", page.Spins)
	}

	last, err := db.ListSpins(ctx, SpinsQuery{Page: 3, PerPage: 2})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if len(last.Spins) != 1 || last.Spins[0].Nonce != 1 {
		t.Errorf("unexpected last page: %+v", last.Spins)
	}

	shifted, err := db.ListSpins(ctx, SpinsQuery{PerPage: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if len(shifted.Spins) != 2 || shifted.Spins[0].Nonce != 4 || shifted.Spins[1].Nonce != 3 {
		t.Errorf("offset 1 should start at the second newest spin: %+v", shifted.Spins)
	}

	alice, err := db.ListSpins(ctx, SpinsQuery{ClientSeed: "alice"})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if alice.TotalCount != 3 || alice.PerPage != defaultPerPage || alice.Page != 1 {
		t.Errorf("unexpected filtered page: %+v", alice)
	}
	for _, s := range alice.Spins {
		if s.ClientSeed != "alice" {
			t.Errorf("filter leaked spin from %s", s.ClientSeed)
		}
	}

	none, err := db.ListSpins(ctx, SpinsQuery{ServerSeedHash: "unknown"})
	if err != nil {
		t.Fatalf("ListSpins failed: %v", err)
	}
	if none.TotalCount != 0 || len(none.Spins) != 0 || none.TotalPages != 0 {
		t.Errorf("expected empty page, got %+v", none)
	}
}

func TestGetSpin(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	rec, err := db.ExecSpin(ctx, "client", fixedPlay(2.5, 20))
	if err != nil {
		t.Fatalf("ExecSpin failed: %v", err)
	}

	got, err := db.GetSpin(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSpin failed: %v", err)
	}
	if got.Bet != 2.5 || got.Payout != 20 || got.Lines != 1 || got.ClientSeed != "client" {
		t.Errorf("unexpected spin: %+v", got)
	}
	if len(got.Reels) != 3 || got.Reels[2][2] != 4 {
		t.Errorf("reels did not round trip: %v", got.Reels)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	if _, err := db.GetSpin(ctx, "missing"); !errors.Is(err, ErrSpinNotFound) {
		t.Errorf("expected ErrSpinNotFound, got %v", err)
	}
}

func TestTotals(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)

	empty, err := db.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if *empty != (Totals{}) {
		t.Errorf("expected zero totals, got %+v", empty)
	}

	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	for _, payout := range []float64{0, 8, 0, 20} {
		if _, err := db.ExecSpin(ctx, "client", fixedPlay(2, payout)); err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
	}

	got, err := db.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	want := Totals{Spins: 4, WinningSpins: 2, TotalBet: 8, TotalPayout: 28, MaxPayout: 20}
	if *got != want {
		t.Errorf("Totals = %+v, want %+v", *got, want)
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	db := newTestSQLite(t)
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	for _, c := range []string{"first", "second"} {
		if _, err := db.ExecSpin(ctx, c, fixedPlay(1, 4)); err != nil {
			t.Fatalf("ExecSpin failed: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := db.ExportCSV(ctx, &buf); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header plus 2", len(records))
	}
	header := records[0]
	for i, col := range csvHeader {
		if header[i] != col {
			t.Errorf("header[%d] = %q, want %q", i, header[i], col)
		}
	}
	if records[1][2] != "first" || records[1][3] != "1" {
		t.Errorf("first row out of order: %v", records[1])
	}
	if records[2][2] != "second" || records[2][3] != "2" {
		t.Errorf("second row out of order: %v", records[2])
	}
	if records[1][5] != "[[0,1,2],[1,2,3],[2,3,4]]" {
		t.Errorf("reels column = %s", records[1][5])
	}
	if records[1][8] != "4" {
		t.Errorf("payout column = %s", records[1][8])
	}
}

func TestSpinRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if _, err := db.EnsureParams(ctx, "server", 0.95, "[]"); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}
	if _, err := db.ExecSpin(ctx, "client", fixedPlay(1, 0)); err != nil {
		t.Fatalf("ExecSpin failed: %v", err)
	}
	db.Close()

	reopened, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate reopened database: %v", err)
	}
	rec, err := reopened.ExecSpin(ctx, "client", fixedPlay(1, 0))
	if err != nil {
		t.Fatalf("ExecSpin failed: %v", err)
	}
	if rec.Nonce != 2 {
		t.Errorf("nonce after reopen = %d, want 2", rec.Nonce)
	}
}
