// Command janitor sweeps matches and bans the live engine left behind. It is
// meant to run on a schedule; a redis lock keeps concurrent runs apart.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nomercy/ranked-backend/internal/config"
	"github.com/nomercy/ranked-backend/internal/models"
	"github.com/nomercy/ranked-backend/pkg/distributed"
	"github.com/nomercy/ranked-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const lockKey = "janitor"

func main() {
	pendingAge := flag.Duration("pending-age", time.Hour, "cancel pending matches older than this")
	staleAge := flag.Duration("stale-age", 12*time.Hour, "cancel ready or in-progress matches untouched for this long")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not set, nothing to do")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.RedisURL != "" {
		release, err := acquire(ctx, cfg.RedisURL)
		if errors.Is(err, distributed.ErrLockNotAcquired) {
			logger.Info("Another janitor run is in progress")
			return
		}
		if err != nil {
			logger.Fatal("Failed to take janitor lock", "error", err)
		}
		defer release()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database pool", "error", err)
	}
	defer pool.Close()

	if err := run(ctx, pool, *pendingAge, *staleAge); err != nil {
		logger.Error("Janitor run failed", "error", err)
		os.Exit(1)
	}
}

func acquire(ctx context.Context, url string) (func(), error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	locks := distributed.NewRedisLockManager(client, "ranked:")
	lock, err := locks.AcquireLock(ctx, lockKey, uuid.NewString(), 5*time.Minute)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("Failed to release janitor lock", "error", err)
		}
		_ = client.Close()
	}, nil
}

func run(ctx context.Context, pool *pgxpool.Pool, pendingAge, staleAge time.Duration) error {
	tag, err := pool.Exec(ctx, `
		UPDATE ranked_matches
		SET status = $1, updated_at = NOW(), version = version + 1
		WHERE status = $2 AND created_at < NOW() - $3::interval`,
		string(models.MatchStatusCancelled), string(models.MatchStatusPending), interval(pendingAge))
	if err != nil {
		return fmt.Errorf("failed to cancel pending matches: %w", err)
	}
	logger.Info("Cancelled abandoned pending matches", "count", tag.RowsAffected())

	tag, err = pool.Exec(ctx, `
		UPDATE ranked_matches
		SET status = $1, updated_at = NOW(), version = version + 1
		WHERE status IN ($2, $3) AND updated_at < NOW() - $4::interval`,
		string(models.MatchStatusCancelled), string(models.MatchStatusReady), string(models.MatchStatusInProgress), interval(staleAge))
	if err != nil {
		return fmt.Errorf("failed to cancel stale matches: %w", err)
	}
	logger.Info("Cancelled stale matches", "count", tag.RowsAffected())

	tag, err = pool.Exec(ctx, `UPDATE ranked_bans SET lifted = TRUE WHERE NOT lifted AND expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("failed to lift expired bans: %w", err)
	}
	logger.Info("Lifted expired bans", "count", tag.RowsAffected())

	return nil
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d seconds", int64(d/time.Second))
}
