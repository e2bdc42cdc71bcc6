// Package config defines the top-level configuration for the Bertrand game
// server and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/leaderboard"
	"github.com/alanyoungcy/bertrand/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BERTRAND_* environment variables.
type Config struct {
	Store       StoreConfig       `toml:"store"`
	Postgres    PostgresConfig    `toml:"postgres"`
	SQLite      SQLiteConfig      `toml:"sqlite"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Game        GameConfig        `toml:"game"`
	Demand      DemandConfig      `toml:"demand"`
	Autopilot   AutopilotConfig   `toml:"autopilot"`
	Leaderboard LeaderboardConfig `toml:"leaderboard"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // memory, postgres or sqlite
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the database file for single-node deployments.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// every Redis-backed component.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// GameConfig is the default configuration applied to zero fields of a new
// session.
type GameConfig struct {
	TotalRounds    int      `toml:"total_rounds"`
	RoundTimeLimit duration `toml:"round_time_limit"`
	MinBid         float64  `toml:"min_bid"`
	MaxBid         float64  `toml:"max_bid"`
	CostPerUnit    float64  `toml:"cost_per_unit"`
	MaxPlayers     int      `toml:"max_players"`
	MarketSize     float64  `toml:"market_size"`
	Alpha          float64  `toml:"alpha"`
	DemandModel    string   `toml:"demand_model"`
	RivalryMode    string   `toml:"rivalry_mode"`
}

// Domain converts g to the session configuration type.
func (g GameConfig) Domain() domain.GameConfig {
	return domain.GameConfig{
		TotalRounds:    g.TotalRounds,
		RoundTimeLimit: g.RoundTimeLimit.Duration,
		MinBid:         g.MinBid,
		MaxBid:         g.MaxBid,
		CostPerUnit:    g.CostPerUnit,
		MaxPlayers:     g.MaxPlayers,
		MarketSize:     g.MarketSize,
		Alpha:          g.Alpha,
		DemandModel:    g.DemandModel,
		RivalryMode:    domain.RivalryMode(g.RivalryMode),
	}
}

// DemandConfig tunes the registered demand models.
type DemandConfig struct {
	// LinearChoke fixes the linear model's choke price. Zero uses twice the
	// session's max bid.
	LinearChoke float64 `toml:"linear_choke"`
}

// AutopilotConfig controls the background settlement loop.
type AutopilotConfig struct {
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// LeaderboardConfig holds the scoring table and the cache lifetime.
type LeaderboardConfig struct {
	Weights  leaderboard.Weights `toml:"weights"`
	CacheTTL duration            `toml:"cache_ttl"`
}

// ArchiveConfig controls event retention in the primary store.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per client IP per RateWindow; 0 disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// BidLimit is bids per player per BidWindow; 0 disables it.
	BidLimit  int      `toml:"bid_limit"`
	BidWindow duration `toml:"bid_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible defaults for a local
// single-process deployment.
func Defaults() Config {
	return Config{
		Store: StoreConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bertrand",
			User:          "bertrand",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "bertrand.db"},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "bertrand",
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         true,
			ForcePathStyle: true,
		},
		Game: GameConfig{
			TotalRounds:    10,
			RoundTimeLimit: duration{60 * time.Second},
			MinBid:         0,
			MaxBid:         100,
			CostPerUnit:    50,
			MaxPlayers:     32,
			MarketSize:     1000,
			Alpha:          0.1,
			DemandModel:    "logit",
			RivalryMode:    string(domain.RivalryRoundRobin),
		},
		Autopilot: AutopilotConfig{
			Interval: duration{2 * time.Second},
			LockTTL:  duration{30 * time.Second},
		},
		Leaderboard: LeaderboardConfig{
			Weights:  leaderboard.DefaultWeights(),
			CacheTTL: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
			BidLimit:    30,
			BidWindow:   duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"game_ended", "autopilot_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"autopilot": true,
	"archive":   true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: server, autopilot, archive, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store.Backend {
	case "memory":
		if mode == "autopilot" || mode == "archive" {
			add("store: backend memory cannot be shared with a separate %s process", mode)
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLite.Path) == "" {
			add("sqlite: path must not be empty")
		}
	default:
		add("store: unknown backend %q (valid: memory, postgres, sqlite)", c.Store.Backend)
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}
	if mode == "archive" && c.S3.Bucket == "" {
		add("s3: bucket is required for mode archive")
	}

	g := c.Game
	if g.TotalRounds < 1 {
		add("game: total_rounds must be >= 1")
	}
	if g.MaxBid <= g.MinBid {
		add("game: max_bid (%g) must exceed min_bid (%g)", g.MaxBid, g.MinBid)
	}
	if g.MaxPlayers < 2 {
		add("game: max_players must be >= 2")
	}
	if g.RoundTimeLimit.Duration <= 0 {
		add("game: round_time_limit must be positive")
	}
	if g.MarketSize <= 0 {
		add("game: market_size must be positive")
	}
	if g.Alpha <= 0 {
		add("game: alpha must be positive")
	}
	switch domain.RivalryMode(g.RivalryMode) {
	case domain.RivalryRoundRobin, domain.RivalryPairing:
	default:
		add("game: unknown rivalry_mode %q", g.RivalryMode)
	}
	if c.Demand.LinearChoke < 0 {
		add("demand: linear_choke must not be negative")
	}

	if c.Autopilot.Interval.Duration <= 0 {
		add("autopilot: interval must be positive")
	}
	if c.Archive.RetentionDays < 1 {
		add("archive: retention_days must be >= 1")
	}
	if _, err := pipeline.ParseSchedule(c.Archive.Cron); err != nil {
		add("archive: cron: %v", err)
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.BidLimit > 0 && c.Server.BidWindow.Duration <= 0 {
			add("server: bid_window must be positive when bid_limit is set")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
