// Package config loads the server and CLI configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/tigrinho-pf/internal/games"
	"github.com/MJE43/tigrinho-pf/internal/logging"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Environment variables that override the file.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvAPIKey      = "API_KEY"
	EnvBind        = "BIND"
	EnvServerSeed  = "SERVER_SEED"
	EnvLogLevel    = "TIGRINHO_LOG_LEVEL"
	EnvLogFormat   = "TIGRINHO_LOG_FORMAT"
	EnvDBDriver    = "TIGRINHO_DB_DRIVER"
)

const defaultDatabaseURL = "sqlite://tigrinho.db"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      logging.Config `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Game     GameConfig     `yaml:"game"`
}

type ServerConfig struct {
	Bind            string        `yaml:"bind"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AdminConfig locates the admin API key. A plain APIKey is hashed at startup;
// APIKeyHash is a bcrypt hash used as is. When neither is set the keyring is
// consulted and admin routes stay closed if it is empty too.
type AdminConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyHash     string `yaml:"api_key_hash"`
	KeyringService string `yaml:"keyring_service"`
	FallbackPath   string `yaml:"fallback_path"`
}

// GameConfig holds the operator's reel setup and initial seed. Reels and
// Paytable fall back to the built-in defaults when omitted.
type GameConfig struct {
	ServerSeed string             `yaml:"server_seed"`
	RTPTarget  float64            `yaml:"rtp_target"`
	Reels      *games.ReelsConfig `yaml:"reels"`
	Paytable   games.Paytable     `yaml:"paytable"`
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	driver, dsn, _ := ParseDatabaseURL(defaultDatabaseURL)
	return &Config{
		Server: ServerConfig{
			Bind:            "127.0.0.1:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{Driver: driver, DSN: dsn},
		Log:      logging.Config{Level: "info", Format: "json"},
		Admin: AdminConfig{
			KeyringService: "tigrinho-pf",
		},
		Game: GameConfig{RTPTarget: 0.95},
	}
}

// Load reads path over the defaults, then applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads each existing file into the process environment without
// overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		driver, dsn, err := ParseDatabaseURL(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDatabaseURL, err)
		}
		c.Database.Driver, c.Database.DSN = driver, dsn
	}
	if v, ok := lookup(EnvDBDriver); ok && v != "" {
		c.Database.Driver = strings.ToLower(v)
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Admin.APIKey = v
	}
	if v, ok := lookup(EnvBind); ok && v != "" {
		c.Server.Bind = v
	}
	if v, ok := lookup(EnvServerSeed); ok && v != "" {
		c.Game.ServerSeed = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = v
	}
	return nil
}

// ParseDatabaseURL maps a connection URL to a driver and the DSN that driver
// expects. sqlite://path and sqlite:path name a SQLite file; postgres:// and
// postgresql:// URLs are passed through. Anything else is treated as a SQLite
// path.
func ParseDatabaseURL(url string) (driver, dsn string, err error) {
	switch {
	case url == "":
		return "", "", errors.New("empty database url")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		dsn = strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "sqlite:"):
		dsn = strings.TrimPrefix(url, "sqlite:")
	default:
		dsn = url
	}
	if dsn == "" {
		return "", "", fmt.Errorf("database url %q has no path", url)
	}
	return DriverSQLite, dsn, nil
}

// Validate checks the settings the binaries cannot start without.
func (c *Config) Validate() error {
	if c.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn must not be empty")
	}
	if c.Game.RTPTarget < 0 || c.Game.RTPTarget > 1 {
		return fmt.Errorf("game.rtp_target %s is outside [0, 1]", strconv.FormatFloat(c.Game.RTPTarget, 'f', -1, 64))
	}
	if _, err := c.Game.EngineParams(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	return nil
}

// EngineParams builds the validated engine parameters for the configured
// reels and paytable.
func (g GameConfig) EngineParams() (games.EngineParams, error) {
	reels := games.DefaultReels3x3()
	if g.Reels != nil {
		reels = g.Reels.Clone()
	}
	paytable := games.DefaultPaytable()
	if len(g.Paytable) > 0 {
		paytable = append(games.Paytable(nil), g.Paytable...)
	}
	return games.NewEngineParams(reels, paytable, g.RTPTarget)
}
