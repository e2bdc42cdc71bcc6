package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/bertrand/internal/blob/s3"
	"github.com/alanyoungcy/bertrand/internal/cache/redis"
	"github.com/alanyoungcy/bertrand/internal/config"
	"github.com/alanyoungcy/bertrand/internal/demand"
	"github.com/alanyoungcy/bertrand/internal/domain"
	"github.com/alanyoungcy/bertrand/internal/notify"
	"github.com/alanyoungcy/bertrand/internal/server/handler"
	"github.com/alanyoungcy/bertrand/internal/store/memory"
	"github.com/alanyoungcy/bertrand/internal/store/postgres"
	"github.com/alanyoungcy/bertrand/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional components are nil when not configured.
type Dependencies struct {
	// Stores
	Sessions domain.SessionStore
	Events   domain.EventLog

	// Redis-backed, optional except Feed, which falls back to in-process.
	Feed             domain.StateFeed
	LeaderboardCache domain.LeaderboardCache
	RateLimiter      domain.RateLimiter
	LockManager      domain.LockManager

	// Blob storage
	Archiver *s3blob.Archiver

	// Demand models available to sessions.
	Models *demand.Registry

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by backend name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Models: demand.DefaultRegistry().WithChoke(cfg.Demand.LinearChoke),
		Checks: map[string]handler.Check{},
	}

	// --- Session store ---
	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.Sessions = postgres.NewSessionStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

	case "sqlite":
		st, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Sessions = st
		deps.Events = st
		deps.Checks["sqlite"] = st.Ping

	default:
		st := memory.New()
		deps.Sessions = st
		deps.Events = st
	}
	logger.InfoContext(ctx, "session store ready", slog.String("backend", cfg.Store.Backend))

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Feed = redis.NewStateFeed(redis.NewSignalBus(redisClient), logger)
		deps.LeaderboardCache = redis.NewLeaderboardCache(redisClient, cfg.Leaderboard.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.Feed = memory.NewFeed()
		logger.InfoContext(ctx, "redis not configured; state feed is in-process and rate limits are off")
	}

	// --- S3 archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Events,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
