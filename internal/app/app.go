// Package app wires configuration, storage and the slot service together for
// the binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/config"
	"github.com/MJE43/tigrinho-pf/internal/secrets"
	"github.com/MJE43/tigrinho-pf/internal/service"
	"github.com/MJE43/tigrinho-pf/internal/store"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      store.DB
	Service *service.SlotService
	Keyring *secrets.KeyringStore
}

// OpenStore connects to the configured database.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return store.NewSQLiteDB(cfg.DSN)
	case config.DriverPostgres:
		return store.NewPostgresDB(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// New opens and migrates the store and builds the service. The caller owns
// the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	params, err := cfg.Game.EngineParams()
	if err != nil {
		return nil, fmt.Errorf("game config: %w", err)
	}

	db, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	svc, err := service.NewSlotService(db, params.Reels, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("store ready", zap.String("driver", cfg.Database.Driver))
	return &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Service: svc,
		Keyring: secrets.NewKeyringStore(cfg.Admin.KeyringService, cfg.Admin.FallbackPath),
	}, nil
}

// Bootstrap makes sure a committed server seed exists. A fresh store takes the
// configured seed, or a random one when none is configured; an existing store
// keeps its seed and only has a stale commitment repaired.
func (a *App) Bootstrap(ctx context.Context) (*store.Params, error) {
	seed := a.Config.Game.ServerSeed
	if _, err := a.DB.GetParams(ctx); errors.Is(err, store.ErrParamsNotFound) && seed == "" {
		seed, err = service.GenerateServerSeed()
		if err != nil {
			return nil, err
		}
		a.Logger.Warn("no server seed configured, generated one")
	}

	params, err := a.Config.Game.EngineParams()
	if err != nil {
		return nil, err
	}
	paytable, err := params.Paytable.MarshalString()
	if err != nil {
		return nil, fmt.Errorf("encode paytable: %w", err)
	}
	p, err := a.DB.EnsureParams(ctx, seed, a.Config.Game.RTPTarget, paytable)
	if err != nil {
		return nil, fmt.Errorf("ensure params: %w", err)
	}
	a.Logger.Info("server seed committed",
		zap.String("server_seed_hash", p.ServerSeedHash),
		zap.Uint64("nonce", p.Nonce),
		zap.String("epoch_id", p.EpochID),
	)
	return p, nil
}

// AdminKeyHash resolves the bcrypt hash admin requests are checked against:
// a configured plain key, then a configured hash, then the keyring. An empty
// result disables the admin API.
func (a *App) AdminKeyHash() (string, error) {
	admin := a.Config.Admin
	switch {
	case admin.APIKey != "":
		return secrets.HashKey(admin.APIKey)
	case admin.APIKeyHash != "":
		return admin.APIKeyHash, nil
	}
	hash, err := a.Keyring.AdminKeyHash()
	switch {
	case errors.Is(err, secrets.ErrNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read admin key from keyring: %w", err)
	}
	return hash, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.DB.Close()
}
