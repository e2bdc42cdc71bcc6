package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BERTRAND_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from BERTRAND_* variables that
// are set and non-empty, so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Backend, "BERTRAND_STORE_BACKEND")
	setStr(&cfg.SQLite.Path, "BERTRAND_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BERTRAND_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "BERTRAND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BERTRAND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BERTRAND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BERTRAND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BERTRAND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BERTRAND_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BERTRAND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BERTRAND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BERTRAND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BERTRAND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BERTRAND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BERTRAND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BERTRAND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BERTRAND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BERTRAND_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BERTRAND_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BERTRAND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BERTRAND_S3_REGION")
	setStr(&cfg.S3.Bucket, "BERTRAND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BERTRAND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BERTRAND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BERTRAND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BERTRAND_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "BERTRAND_S3_PREFIX")

	// ── Game defaults ──
	setInt(&cfg.Game.TotalRounds, "BERTRAND_GAME_TOTAL_ROUNDS")
	setDuration(&cfg.Game.RoundTimeLimit, "BERTRAND_GAME_ROUND_TIME_LIMIT")
	setFloat64(&cfg.Game.MinBid, "BERTRAND_GAME_MIN_BID")
	setFloat64(&cfg.Game.MaxBid, "BERTRAND_GAME_MAX_BID")
	setFloat64(&cfg.Game.CostPerUnit, "BERTRAND_GAME_COST_PER_UNIT")
	setInt(&cfg.Game.MaxPlayers, "BERTRAND_GAME_MAX_PLAYERS")
	setFloat64(&cfg.Game.MarketSize, "BERTRAND_GAME_MARKET_SIZE")
	setFloat64(&cfg.Game.Alpha, "BERTRAND_GAME_ALPHA")
	setStr(&cfg.Game.DemandModel, "BERTRAND_GAME_DEMAND_MODEL")
	setStr(&cfg.Game.RivalryMode, "BERTRAND_GAME_RIVALRY_MODE")
	setFloat64(&cfg.Demand.LinearChoke, "BERTRAND_DEMAND_LINEAR_CHOKE")

	// ── Autopilot / leaderboard / archive ──
	setDuration(&cfg.Autopilot.Interval, "BERTRAND_AUTOPILOT_INTERVAL")
	setDuration(&cfg.Autopilot.LockTTL, "BERTRAND_AUTOPILOT_LOCK_TTL")
	setDuration(&cfg.Leaderboard.CacheTTL, "BERTRAND_LEADERBOARD_CACHE_TTL")
	setInt(&cfg.Archive.RetentionDays, "BERTRAND_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "BERTRAND_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BERTRAND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BERTRAND_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "BERTRAND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BERTRAND_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BERTRAND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BERTRAND_SERVER_RATE_WINDOW")
	setInt(&cfg.Server.BidLimit, "BERTRAND_SERVER_BID_LIMIT")
	setDuration(&cfg.Server.BidWindow, "BERTRAND_SERVER_BID_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BERTRAND_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BERTRAND_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BERTRAND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BERTRAND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BERTRAND_MODE")
	setStr(&cfg.LogLevel, "BERTRAND_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
