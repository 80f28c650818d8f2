package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nomercy/ranked-backend/internal/api"
	"github.com/nomercy/ranked-backend/internal/config"
	"github.com/nomercy/ranked-backend/internal/repository"
	"github.com/nomercy/ranked-backend/internal/service"
	"github.com/nomercy/ranked-backend/internal/websocket"
	"github.com/nomercy/ranked-backend/pkg/database"
	"github.com/nomercy/ranked-backend/pkg/distributed"
	jwtutil "github.com/nomercy/ranked-backend/pkg/jwt"
	"github.com/nomercy/ranked-backend/pkg/logger"
	"github.com/nomercy/ranked-backend/pkg/metrics"
	"github.com/nomercy/ranked-backend/pkg/presence"
	"github.com/nomercy/ranked-backend/pkg/ratelimit"
	"github.com/nomercy/ranked-backend/pkg/voice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix  = "ranked:"
	eventChannel = "ranked:events"
	onlineKey    = "ranked:online"
	leaderKey    = "engine-leader"
	tokenTTL     = 24 * time.Hour
	leaderTTL    = 15 * time.Second
	onlineTTL    = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting ranked backend",
		"port", cfg.Port,
		"env", cfg.Env,
		"modes", len(cfg.RankedModes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := service.Dependencies{
		Metrics: metrics.NewMatchmaking(registry),
		Clock:   clk,
		Logger:  logger.L(),
	}

	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to migrate database", "error", err)
		}
		deps.Matches = repository.NewMatchRepository(db)
		deps.Rankings = repository.NewRankingRepository(db)
		deps.Bans = repository.NewBanRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, matches and rankings are kept in memory")
		deps.Matches = repository.NewMemoryMatchRepository()
		deps.Rankings = repository.NewMemoryRankingRepository()
		deps.Bans = repository.NewMemoryBanRepository()
	}

	hub := websocket.NewHub(logger.L())
	deps.Events = hub

	var queueLimiter ratelimit.Limiter
	var cluster *websocket.ClusterPublisher
	var leader *distributed.Leader
	if cfg.RedisURL != "" {
		rdb, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to redis", "error", err)
		}
		defer rdb.Close()

		locks := distributed.NewRedisLockManager(rdb, redisPrefix)
		broadcaster := distributed.NewBroadcaster(rdb, eventChannel, logger.L())
		leader = distributed.NewLeader(locks, leaderKey, broadcaster.InstanceID(), leaderTTL, logger.L())
		deps.Once = locks
		deps.History = repository.NewRedisTeamHistory(
			distributed.NewRecentLog(rdb, redisPrefix+"history:", cfg.Matchmaking.HistorySize, cfg.Matchmaking.HistoryWindow),
			clk,
		)
		cluster = websocket.NewClusterPublisher(hub,
			broadcaster,
			distributed.NewOnlineSet(rdb, onlineKey, broadcaster.InstanceID(), onlineTTL),
			logger.L())
		deps.Events = cluster
		queueLimiter = ratelimit.NewRedisRateLimiter(rdb, clk, redisPrefix+"ratelimit:",
			cfg.QueueRateCapacity, refillWindow(cfg.QueueRateCapacity, cfg.QueueRateRefillRate))
		logger.Info("Redis connected, running in cluster mode")
	} else {
		local := ratelimit.NewRateLimiter(clk, cfg.QueueRateCapacity, cfg.QueueRateRefillRate)
		go local.Run(ctx)
		queueLimiter = local
	}

	if cfg.PresenceURL != "" {
		opts := []presence.Option{presence.WithTimeout(cfg.PresenceTimeout), presence.WithRetries(2)}
		if cfg.PresenceAPIKey != "" {
			opts = append(opts, presence.WithAPIKey(cfg.PresenceAPIKey))
		}
		deps.Presence = presence.NewClient(cfg.PresenceURL, opts...)
	}

	if cfg.DiscordToken != "" {
		provisioner, err := voice.NewDiscordProvisioner(cfg.DiscordToken, cfg.DiscordGuildID,
			cfg.DiscordCategoryPrefix, logger.L())
		if err != nil {
			logger.Fatal("Failed to set up voice provisioning", "error", err)
		}
		deps.Voice = provisioner
	}

	mm := service.NewMatchmakingService(deps, cfg.RankedModes, service.Options{
		CountdownDuration: cfg.Matchmaking.CountdownDuration,
		DraftTurnDuration: cfg.Matchmaking.DraftTurnDuration,
		MapVoteDuration:   cfg.Matchmaking.MapVoteDuration,
		QueueTimeout:      cfg.Matchmaking.QueueTimeout,
		SweepInterval:     cfg.Matchmaking.SweepInterval,
		FormationTimeout:  cfg.Matchmaking.FormationTimeout,
		HistoryWindow:     cfg.Matchmaking.HistoryWindow,
	})
	matches := service.NewMatchService(mm)

	go hub.Run(ctx)
	if cluster != nil {
		go func() {
			if err := cluster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event relay stopped", "error", err)
			}
		}()
	}

	var engineReady atomic.Bool
	startEngine := func() {
		if err := mm.Recover(ctx); err != nil {
			logger.Error("Failed to recover pending matches", "error", err)
		}
		mm.Start()
		engineReady.Store(true)
	}

	if leader == nil {
		startEngine()
	} else {
		logger.Info("Waiting for engine leadership")
		go func() {
			if err := leader.Campaign(ctx); err != nil {
				return
			}
			startEngine()
			if err := leader.Hold(ctx); errors.Is(err, distributed.ErrLockNotHeld) {
				logger.Fatal("Lost engine leadership, exiting so a standby can take over")
			}
		}()
	}

	router := api.SetupRouter(api.Dependencies{
		Env:                cfg.Env,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		JWT:                jwtutil.NewJWTManager(cfg.JWTSecret, tokenTTL),
		Matchmaking:        mm,
		Matches:            matches,
		Hub:                hub,
		QueueLimiter:       queueLimiter,
		Gatherer:           registry,
		EngineReady:        engineReady.Load,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	mm.Stop()
	if leader != nil {
		if err := leader.Resign(shutdownCtx); err != nil {
			logger.Warn("Failed to resign engine leadership", "error", err)
		}
	}

	logger.Info("Server exited")
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// refillWindow time for an empty bucket of capacity to refill at rate tokens
// per second.
func refillWindow(capacity, rate int64) time.Duration {
	if capacity <= 0 || rate <= 0 {
		return time.Minute
	}
	return time.Duration((capacity+rate-1)/rate) * time.Second
}
