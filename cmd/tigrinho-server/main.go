// Command tigrinho-server serves the provably fair slot over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/MJE43/tigrinho-pf/internal/api"
	"github.com/MJE43/tigrinho-pf/internal/app"
	"github.com/MJE43/tigrinho-pf/internal/config"
	"github.com/MJE43/tigrinho-pf/internal/logging"
)

// go build -ldflags "-X main.Version=x.y.z -X main.Commit=abc"
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "tigrinho-server:", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	api.EngineVersion = Version
	api.GitCommit = Commit

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Bootstrap(ctx); err != nil {
		return err
	}
	adminHash, err := a.AdminKeyHash()
	if err != nil {
		logger.Warn("admin API disabled", zap.Error(err))
		adminHash = ""
	} else if adminHash == "" {
		logger.Warn("no admin key configured, admin API disabled")
	}

	srv := &http.Server{
		Addr: cfg.Server.Bind,
		Handler: api.NewServer(a.Service, api.Options{
			AdminKeyHash:   adminHash,
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			Logger:         logger,
		}).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http")),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("bind", cfg.Server.Bind), zap.String("version", Version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
