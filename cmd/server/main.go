// Command server runs the operator service: the Hub client with its
// admission controls, the cross-operator transfer API, and the retry
// worker that drives confirmed transfers to completion.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"carpeta/internal/audit"
	"carpeta/internal/circuit"
	"carpeta/internal/events"
	"carpeta/internal/hub"
	hubmetrics "carpeta/internal/hub/metrics"
	"carpeta/internal/lock"
	"carpeta/internal/operators"
	"carpeta/internal/ops"
	"carpeta/internal/platform/config"
	"carpeta/internal/platform/httpserver"
	"carpeta/internal/platform/logger"
	"carpeta/internal/platform/postgres"
	platformredis "carpeta/internal/platform/redis"
	"carpeta/internal/ratelimit"
	"carpeta/internal/transfer"
	transferhandler "carpeta/internal/transfer/handler"
	transfermetrics "carpeta/internal/transfer/metrics"
)

const peerTokenTTL = 5 * time.Minute

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Backing stores. Every one is optional: without Redis the
	// admission controls and locks fall back to in-memory (single
	// instance only), without Postgres transfers live in memory,
	// without Kafka lifecycle events are dropped.
	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, using in-memory admission controls and locks")
	}

	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	} else {
		log.Warn("postgres not configured, transfers will not survive restarts")
	}

	var pub events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafka(ctx, cfg.KafkaBrokers, log)
		if err != nil {
			return err
		}
		defer kafka.Close()
		pub = kafka
	}

	// Hub client with its admission controls.
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient.Client, cfg.RateLimitPerMinute, log,
			ratelimit.WithFailClosed(cfg.RateLimitFailClosed))
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
	}

	breakers := circuit.NewRegistry(
		circuit.WithFailureThreshold(cfg.BreakerFailureThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)

	var idemCache hub.IdempotencyCache
	if redisClient != nil {
		idemCache = hub.NewRedisIdempotencyCache(redisClient.Client)
	} else {
		idemCache = hub.NewMemoryIdempotencyCache()
	}

	var auditStore audit.Store
	if db != nil {
		pgAudit := audit.NewPostgresStore(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			return err
		}
		auditStore = pgAudit
	} else {
		auditStore = audit.NewMemoryStore()
	}
	auditInbox := make(chan audit.HubCall, 256)
	auditWorker := audit.NewWorker(audit.NewPublisher(auditStore, pub), auditInbox, log)

	hubClient := hub.NewClient(cfg.HubBaseURL, limiter, breakers, log,
		hub.WithHTTPClient(&http.Client{Timeout: cfg.HubRequestTimeout}),
		hub.WithIdempotencyCache(idemCache),
		hub.WithAuditTrail(auditInbox),
		hub.WithMetrics(hubmetrics.New()),
		hub.WithRetryPolicy(cfg.HubMaxRetries, cfg.HubBackoffBase, cfg.HubBackoffFactor),
	)

	var operatorCache *redis.Client
	if redisClient != nil {
		operatorCache = redisClient.Client
	}
	directory := operators.NewDirectory(hubClient, operatorCache,
		cfg.Environment, cfg.AllowInsecureOperatorURL, log)

	var locks lock.Manager
	if redisClient != nil {
		locks = lock.NewRedisManager(redisClient.Client)
	} else {
		locks = lock.NewMemoryManager()
	}

	var store transfer.Store
	if db != nil {
		pgStore := transfer.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pgStore
	} else {
		store = transfer.NewMemoryStore()
	}

	b2bAuth := transferhandler.NewB2BAuth(cfg.B2BJWTSecret, cfg.OperatorID)
	peers := transfer.NewPeerClient(log,
		transfer.WithPeerTokenSource(func(operatorID string) (string, error) {
			return b2bAuth.MintToken(cfg.OperatorID, cfg.OperatorName, operatorID, peerTokenTTL)
		}))

	transferMetrics := transfermetrics.New()
	service := transfer.NewService(
		store, locks, hubClient, peers, directory, pub,
		cfg.OperatorID, cfg.OperatorName,
		cfg.PublicBaseURL+"/api/transferCitizenConfirm",
		log,
		transfer.WithLockTTL(cfg.LockTTL),
		transfer.WithMaxUnregisterRetries(cfg.MaxUnregisterRetries),
		transfer.WithServiceMetrics(transferMetrics),
	)
	retryWorker := transfer.NewWorker(service, cfg.WorkerInterval, log,
		transfer.WithWorkerMetrics(transferMetrics))

	var checks []ops.Check
	if redisClient != nil {
		checks = append(checks, ops.Check{Name: "redis", Probe: redisClient.Health})
	}
	if db != nil {
		checks = append(checks, ops.Check{Name: "postgres", Probe: db.PingContext})
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	transferhandler.New(service, b2bAuth, log).Register(router)
	ops.New(limiter, breakers, checks, log).Register(router)

	srv := httpserver.New(cfg.ListenAddr, router, log)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return auditWorker.Run(ctx)
	})
	group.Go(func() error {
		return retryWorker.Run(ctx)
	})
	group.Go(func() error {
		log.Info("server listening",
			"addr", cfg.ListenAddr, "operator_id", cfg.OperatorID, "hub", cfg.HubBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}
