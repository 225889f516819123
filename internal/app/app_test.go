package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/config"
	"github.com/MJE43/tigrinho-pf/internal/engine"
	"github.com/MJE43/tigrinho-pf/internal/secrets"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "app.db")
	cfg.Admin.FallbackPath = filepath.Join(t.TempDir(), "secrets.json")
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestBootstrapUsesConfiguredSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.Game.ServerSeed = "configured"
	a := newTestApp(t, cfg)

	p, err := a.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if p.ServerSeed != "configured" || p.ServerSeedHash != engine.Commitment("configured") || p.Nonce != 0 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestBootstrapGeneratesSeedOnce(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)
	ctx := context.Background()

	first, err := a.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if len(first.ServerSeed) != 64 {
		t.Errorf("generated seed %q is not 32 hex bytes", first.ServerSeed)
	}
	second, err := a.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}
	if second.ServerSeed != first.ServerSeed {
		t.Error("existing seed was replaced on restart")
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestAdminKeyHashResolution(t *testing.T) {
	keyring.MockInit()

	t.Run("plain key is hashed", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Admin.APIKey = "plain"
		hash, err := newTestApp(t, cfg).AdminKeyHash()
		if err != nil {
			t.Fatalf("AdminKeyHash failed: %v", err)
		}
		if !secrets.CompareKey(hash, "plain") {
			t.Error("hash does not match configured key")
		}
	})

	t.Run("configured hash is used as is", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Admin.APIKeyHash = "$2a$10$abcdefghijklmnopqrstuv"
		hash, err := newTestApp(t, cfg).AdminKeyHash()
		if err != nil || hash != cfg.Admin.APIKeyHash {
			t.Errorf("hash = %q, err = %v", hash, err)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Admin.KeyringService = "tigrinho-app-test"
		a := newTestApp(t, cfg)

		hash, err := a.AdminKeyHash()
		if err != nil || hash != "" {
			t.Fatalf("empty keyring: hash %q err %v", hash, err)
		}
		if err := a.Keyring.SetAdminKey("from-keyring"); err != nil {
			t.Fatalf("SetAdminKey failed: %v", err)
		}
		hash, err = a.AdminKeyHash()
		if err != nil || !secrets.CompareKey(hash, "from-keyring") {
			t.Errorf("keyring hash not used: %v", err)
		}
	})

	t.Run("keyring failure", func(t *testing.T) {
		keyring.MockInitWithError(errors.New("locked"))
		defer keyring.MockInit()
		cfg := testConfig(t)
		if _, err := newTestApp(t, cfg).AdminKeyHash(); err == nil {
			t.Error("expected keyring error")
		}
	})
}
