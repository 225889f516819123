package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MJE43/tigrinho-pf/internal/games"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Bind != "127.0.0.1:8080" {
		t.Errorf("bind = %s", cfg.Server.Bind)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.DSN != "tigrinho.db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Game.RTPTarget != 0.95 {
		t.Errorf("rtp = %v", cfg.Game.RTPTarget)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config is invalid: %v", err)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite://tigrinho.db", DriverSQLite, "tigrinho.db", false},
		{"sqlite:/var/lib/t.db", DriverSQLite, "/var/lib/t.db", false},
		{"sqlite://:memory:", DriverSQLite, ":memory:", false},
		{"data/spins.db", DriverSQLite, "data/spins.db", false},
		{"postgres://u:p@localhost/t", DriverPostgres, "postgres://u:p@localhost/t", false},
		{"postgresql://localhost/t", DriverPostgres, "postgresql://localhost/t", false},
		{"", "", "", true},
		{"sqlite://", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := ParseDatabaseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("got (%s, %s), want (%s, %s)", driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  bind: 0.0.0.0:9000
  read_timeout: 5s
  cors_origins: ["https://example.com"]
database:
  driver: postgres
  dsn: postgres://localhost/tigrinho
log:
  level: debug
  format: console
game:
  server_seed: from-file
  rtp_target: 0.9
  reels:
    rows: 2
    reels:
      - [A, B, Wild]
      - [C, D]
      - [0, 1, 2, 3, 4]
  paytable:
    - symbol: 0
      count: 3
      payout_multiplier: 50
`)
	t.Setenv(EnvBind, "")
	t.Setenv(EnvDatabaseURL, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Bind != "0.0.0.0:9000" || cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("unset write timeout lost its default: %v", cfg.Server.WriteTimeout)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("driver = %s", cfg.Database.Driver)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}

	params, err := cfg.Game.EngineParams()
	if err != nil {
		t.Fatalf("EngineParams failed: %v", err)
	}
	if params.Reels.Rows != 2 || params.Reels.Reels[0][2] != games.SymbolWild || params.Reels.Reels[2][4] != games.SymbolWild {
		t.Errorf("reels = %+v", params.Reels)
	}
	if m := params.Paytable.Multiplier(0, 3); m != 50 {
		t.Errorf("paytable multiplier = %v, want 50", m)
	}
	if params.RTPTarget != 0.9 {
		t.Errorf("rtp = %v", params.RTPTarget)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  bnd: typo\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Game.RTPTarget != 0.95 {
		t.Errorf("rtp = %v", cfg.Game.RTPTarget)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://env/db")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvBind, "127.0.0.1:9999")
	t.Setenv(EnvServerSeed, "env-seed")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.DSN != "postgres://env/db" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Admin.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Admin.APIKey)
	}
	if cfg.Server.Bind != "127.0.0.1:9999" {
		t.Errorf("bind = %s", cfg.Server.Bind)
	}
	if cfg.Game.ServerSeed != "env-seed" {
		t.Errorf("server seed = %q", cfg.Game.ServerSeed)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bind", func(c *Config) { c.Server.Bind = "" }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"rtp above one", func(c *Config) { c.Game.RTPTarget = 1.5 }},
		{"two columns", func(c *Config) {
			c.Game.Reels = &games.ReelsConfig{Reels: [][]games.Symbol{{games.SymbolA}, {games.SymbolB}}, Rows: 1}
		}},
		{"empty strip", func(c *Config) {
			c.Game.Reels = &games.ReelsConfig{Reels: [][]games.Symbol{{games.SymbolA}, {}, {games.SymbolB}}, Rows: 1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "TIGRINHO_TEST_DOTENV=from-file\nTIGRINHO_TEST_KEEP=from-file\n")
	t.Setenv("TIGRINHO_TEST_KEEP", "from-env")
	os.Unsetenv("TIGRINHO_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("TIGRINHO_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env"), path); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("TIGRINHO_TEST_DOTENV"); got != "from-file" {
		t.Errorf("TIGRINHO_TEST_DOTENV = %q", got)
	}
	if got := os.Getenv("TIGRINHO_TEST_KEEP"); got != "from-env" {
		t.Errorf("existing variable was overridden: %q", got)
	}
}
