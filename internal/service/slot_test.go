package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/scan"
	"github.com/MJE43/tigrinho-pf/internal/store"
	"github.com/MJE43/tigrinho-pf/internal/strategy"
)

func newTestService(t *testing.T) (*SlotService, *store.SQLiteDB, *observer.ObservedLogs) {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	table, err := games.DefaultPaytable().MarshalString()
	if err != nil {
		t.Fatalf("encode paytable: %v", err)
	}
	if _, err := db.EnsureParams(ctx, "server", 0.95, table); err != nil {
		t.Fatalf("EnsureParams failed: %v", err)
	}

	core, logs := observer.New(zap.DebugLevel)
	svc, err := NewSlotService(db, games.DefaultReels3x3(), zap.New(core))
	if err != nil {
		t.Fatalf("NewSlotService failed: %v", err)
	}
	return svc, db, logs
}

func assertGrid(t *testing.T, got games.Grid, want [][]uint8) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("grid %v, want %v", got, want)
	}
	for r := range want {
		if len(got[r]) != len(want[r]) {
			t.Fatalf("grid %v, want %v", got, want)
		}
		for c := range want[r] {
			if got[r][c] != want[r][c] {
				t.Fatalf("grid %v, want %v", got, want)
			}
		}
	}
}

func TestNewSlotServiceRejectsBadReels(t *testing.T) {
	reels := games.ReelsConfig{Reels: [][]games.Symbol{{games.SymbolA}, {games.SymbolB}}, Rows: 1}
	if _, err := NewSlotService(nil, reels, nil); !errors.Is(err, games.ErrPayoutColumns) {
		t.Fatalf("expected ErrPayoutColumns, got %v", err)
	}
}

func TestSpinValidation(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SpinRequest
		want error
	}{
		{"zero bet", SpinRequest{ClientSeed: "c", Bet: 0, Lines: 1}, ErrInvalidBet},
		{"negative bet", SpinRequest{ClientSeed: "c", Bet: -1, Lines: 1}, ErrInvalidBet},
		{"nan bet", SpinRequest{ClientSeed: "c", Bet: math.NaN(), Lines: 1}, ErrInvalidBet},
		{"infinite bet", SpinRequest{ClientSeed: "c", Bet: math.Inf(1), Lines: 1}, ErrInvalidBet},
		{"bet rounds to zero", SpinRequest{ClientSeed: "c", Bet: 1e-10, Lines: 1}, ErrInvalidBet},
		{"zero lines", SpinRequest{ClientSeed: "c", Bet: 1, Lines: 0}, ErrInvalidLines},
		{"empty seed", SpinRequest{ClientSeed: "", Bet: 1, Lines: 1}, ErrInvalidSeed},
		{"long seed", SpinRequest{ClientSeed: strings.Repeat("x", MaxClientSeedLength+1), Bet: 1, Lines: 1}, ErrInvalidSeed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Spin(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Spin error = %v, want %v", err, tt.want)
			}
		})
	}

	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if p.Nonce != 0 {
		t.Errorf("rejected spins advanced the nonce to %d", p.Nonce)
	}

	smallest, err := svc.Spin(ctx, SpinRequest{ClientSeed: "c", Bet: 1e-8, Lines: 1})
	if err != nil {
		t.Fatalf("Spin at the smallest bet failed: %v", err)
	}
	if smallest.Bet != 1e-8 {
		t.Errorf("bet = %v, want 1e-8", smallest.Bet)
	}
}

func TestSpinVectors(t *testing.T) {
	svc, _, logs := newTestService(t)
	ctx := context.Background()

	first, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if first.Nonce != 1 {
		t.Errorf("first nonce = %d, want 1", first.Nonce)
	}
	if first.ServerSeedHash != engine.Commitment("server") {
		t.Errorf("hash = %s", first.ServerSeedHash)
	}
	assertGrid(t, first.Reels, [][]uint8{{2, 2, 4}, {3, 3, 0}, {4, 0, 1}})
	if first.Payout != 8 {
		t.Errorf("payout = %v, want 8", first.Payout)
	}

	second, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 5})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if second.Nonce != 2 || second.Lines != 5 {
		t.Errorf("second spin nonce %d lines %d", second.Nonce, second.Lines)
	}
	assertGrid(t, second.Reels, [][]uint8{{0, 3, 3}, {1, 0, 0}, {2, 1, 1}})
	if second.Payout != 0 {
		t.Errorf("payout = %v, want 0", second.Payout)
	}

	third, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 2.5, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	assertGrid(t, third.Reels, [][]uint8{{3, 4, 4}, {0, 0, 0}, {1, 1, 1}})
	if third.Payout != 27.5 {
		t.Errorf("payout = %v, want 27.5", third.Payout)
	}

	for _, e := range logs.All() {
		for _, v := range e.ContextMap() {
			if s, ok := v.(string); ok && s == "server" {
				t.Errorf("log entry %q carries the raw server seed", e.Message)
			}
		}
	}
}

func TestSpinFallsBackToDefaultPaytable(t *testing.T) {
	svc, db, logs := newTestService(t)
	ctx := context.Background()
	if err := db.SetParams(ctx, 0.95, "{not json"); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}

	res, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if res.Payout != 8 {
		t.Errorf("payout = %v, want default-table 8", res.Payout)
	}
	if logs.FilterMessageSnippet("paytable").Len() == 0 {
		t.Error("expected a warning about the unreadable paytable")
	}
}

func TestSetParams(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	custom := games.Paytable{{Symbol: games.SymbolC.Index(), Count: 3, PayoutMultiplier: 100}}
	if err := svc.SetParams(ctx, 0.9, custom); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}
	res, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if res.Payout != 100 {
		t.Errorf("payout = %v, want 100 from the custom table", res.Payout)
	}

	for _, rtp := range []float64{-0.1, 1.1, math.NaN()} {
		if err := svc.SetParams(ctx, rtp, custom); !errors.Is(err, ErrInvalidRTP) {
			t.Errorf("SetParams(%v) = %v, want ErrInvalidRTP", rtp, err)
		}
	}
}

func TestRotateSeedKeepsHistoryVerifiable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.Commitment(ctx)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	old, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}

	rotated, err := svc.RotateSeed(ctx, "rotated-seed")
	if err != nil {
		t.Fatalf("RotateSeed failed: %v", err)
	}
	if rotated.Revealed.ServerSeed != "server" || rotated.Revealed.FinalNonce != 1 {
		t.Errorf("unexpected revealed epoch: %+v", rotated.Revealed)
	}
	if rotated.NewServerSeedHash != engine.Commitment("rotated-seed") {
		t.Errorf("new hash = %s", rotated.NewServerSeedHash)
	}

	after, err := svc.Commitment(ctx)
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if after.ServerSeedHash == before.ServerSeedHash || after.Nonce != 0 {
		t.Errorf("commitment after rotation: %+v", after)
	}

	next, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1})
	if err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	if next.Nonce != 1 {
		t.Errorf("first nonce of new seed = %d, want 1", next.Nonce)
	}
	assertGrid(t, next.Reels, [][]uint8{{4, 0, 3}, {0, 1, 0}, {1, 2, 1}})
	if next.Payout != 5 {
		t.Errorf("payout = %v, want 5", next.Payout)
	}

	res, err := svc.VerifySpin(ctx, VerifyRequest{SpinID: old.SpinID, ServerSeed: rotated.Revealed.ServerSeed})
	if err != nil {
		t.Fatalf("VerifySpin failed: %v", err)
	}
	if !res.Valid || res.CommitmentMatches == nil || !*res.CommitmentMatches || res.ReelsMatch == nil || !*res.ReelsMatch {
		t.Errorf("historic spin no longer verifies: %+v", res)
	}

	seeds, err := svc.RevealedSeeds(ctx, 10, 0)
	if err != nil {
		t.Fatalf("RevealedSeeds failed: %v", err)
	}
	if len(seeds) != 1 || seeds[0].ServerSeed != "server" {
		t.Errorf("revealed seeds = %+v", seeds)
	}

	if _, err := svc.RotateSeed(ctx, "server"); !errors.Is(err, store.ErrSeedReused) {
		t.Errorf("expected ErrSeedReused for a revealed seed, got %v", err)
	}
}

func TestRotateSeedGeneratesSeed(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.RotateSeed(ctx, "")
	if err != nil {
		t.Fatalf("RotateSeed failed: %v", err)
	}
	p, err := db.GetParams(ctx)
	if err != nil {
		t.Fatalf("GetParams failed: %v", err)
	}
	if len(p.ServerSeed) != 64 {
		t.Errorf("generated seed has length %d, want 64 hex chars", len(p.ServerSeed))
	}
	if res.NewServerSeedHash != engine.Commitment(p.ServerSeed) {
		t.Error("returned hash does not commit to the installed seed")
	}
}

func TestGenerateServerSeedIsRandom(t *testing.T) {
	a, err := GenerateServerSeed()
	if err != nil {
		t.Fatalf("GenerateServerSeed failed: %v", err)
	}
	b, err := GenerateServerSeed()
	if err != nil {
		t.Fatalf("GenerateServerSeed failed: %v", err)
	}
	if a == b {
		t.Error("two generated seeds are equal")
	}
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if !empty.RTP.IsZero() || empty.Spins != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	for i := 0; i < 2; i++ {
		if _, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1}); err != nil {
			t.Fatalf("Spin failed: %v", err)
		}
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Spins != 2 || stats.WinningSpins != 1 || stats.TotalPayout != 8 || stats.Nonce != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.RTP.Equal(decimal.NewFromInt(4)) {
		t.Errorf("rtp = %s, want 4", stats.RTP)
	}
	if stats.RTPTarget != 0.95 {
		t.Errorf("rtp target = %v", stats.RTPTarget)
	}
}

func TestHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "a"} {
		if _, err := svc.Spin(ctx, SpinRequest{ClientSeed: c, Bet: 1, Lines: 1}); err != nil {
			t.Fatalf("Spin failed: %v", err)
		}
	}
	page, err := svc.History(ctx, store.SpinsQuery{ClientSeed: "a"})
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if page.TotalCount != 2 || page.Spins[0].Nonce != 3 {
		t.Errorf("history = %+v", page)
	}
	if _, err := svc.GetSpin(ctx, page.Spins[0].ID); err != nil {
		t.Errorf("GetSpin failed: %v", err)
	}
}

func TestScanUsesStoredPaytable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.Scan(ctx, scan.ScanRequest{
		Seeds:      games.Seeds{Server: "server", Client: "client"},
		NonceStart: 1,
		NonceEnd:   3,
		TargetOp:   scan.OpGreaterEqual,
		TargetVal:  8,
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(res.Hits) != 2 || res.Hits[0].Nonce != 1 || res.Hits[1].Nonce != 3 {
		t.Fatalf("hits = %+v, want nonces 1 and 3", res.Hits)
	}
	if res.Summary.TotalEvaluated != 3 {
		t.Errorf("evaluated = %d", res.Summary.TotalEvaluated)
	}
	if !res.Summary.TotalPayout.Equal(decimal.NewFromInt(19)) {
		t.Errorf("total payout = %s, want 19", res.Summary.TotalPayout)
	}
}

func TestReplayUsesStoredPaytable(t *testing.T) {
	svc, _, logs := newTestService(t)
	ctx := context.Background()
	payC := games.Paytable{{Symbol: games.SymbolC.Index(), Count: 3, PayoutMultiplier: 100}}
	if err := svc.SetParams(ctx, 0.95, payC); err != nil {
		t.Fatalf("SetParams failed: %v", err)
	}

	res, err := svc.Replay(ctx, "dobet = function() { stop() }", strategy.Options{ServerSeed: "server", ClientSeed: "client"})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(res.Bets) != 1 || !res.Bets[0].Payout.Equal(decimal.NewFromInt(100)) {
		t.Errorf("bets = %+v, want one bet paying 100", res.Bets)
	}
	if logs.FilterMessage("replay").Len() != 1 {
		t.Error("replay was not logged")
	}
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if f.String == "client" {
				t.Errorf("raw client seed logged in %q", entry.Message)
			}
		}
	}
}

func TestReplayRejectsLongClientSeed(t *testing.T) {
	svc, _, _ := newTestService(t)
	opts := strategy.Options{ServerSeed: "server", ClientSeed: strings.Repeat("x", MaxClientSeedLength+1)}
	if _, err := svc.Replay(context.Background(), "dobet = function() {}", opts); !errors.Is(err, ErrInvalidSeed) {
		t.Errorf("expected ErrInvalidSeed, got %v", err)
	}
}

func TestExportCSV(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Spin(ctx, SpinRequest{ClientSeed: "client", Bet: 1, Lines: 1}); err != nil {
		t.Fatalf("Spin failed: %v", err)
	}
	var sb strings.Builder
	if err := svc.ExportCSV(ctx, &sb); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(sb.String()), "\n"); len(lines) != 2 {
		t.Errorf("export has %d lines, want header plus 1", len(lines))
	}
	if err := svc.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
