// README: Entry point; loads config, wires the decision engine, starts HTTP server and the queue-drain job.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"lastmile/internal/config"
	"lastmile/internal/events"
	httptransport "lastmile/internal/http"
	"lastmile/internal/infra"
	"lastmile/internal/jobs"
	"lastmile/internal/maps"
	"lastmile/internal/modules/assignment"
	"lastmile/internal/modules/constraint"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/fleet"
	"lastmile/internal/modules/ranking"
	"lastmile/internal/modules/scoring"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("dispatch-api exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		return errors.New("DISPATCH_FIREBASE_PROJECT_ID is required")
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	metrics := infra.NewMetrics()
	retrier := infra.NewRetrier(cfg.Retry, logger)

	router, err := newRouter(cfg, logger)
	if err != nil {
		return err
	}
	policy := constraint.DefaultPolicy()
	policy.Gate = constraint.CapacityGate(cfg.Engine.CapacityGate)
	scorer, err := scoring.NewScorer(scoring.Weights{
		Capacity:  cfg.Engine.WeightCapacity,
		Route:     cfg.Engine.WeightRoute,
		SLABuffer: cfg.Engine.WeightSLABuffer,
	})
	if err != nil {
		return err
	}
	ranker := ranking.NewRanker(router, constraint.NewEvaluator(policy), scorer,
		ranking.WithRetrier(retrier),
		ranking.WithMetrics(metrics),
		ranking.WithLogger(logger),
		ranking.WithRouting(cfg.Engine.RoutingTimeout, cfg.Engine.RoutingConcurrency),
	)

	outbox := events.NewOutbox(events.NewStore(dbPool), events.NewStreamSink(redisClient, cfg.Events.Stream), cfg.Events, retrier, metrics, logger)
	go outbox.Run(context.WithoutCancel(ctx))

	lease, queue := coordination(cfg, redisClient)
	coordinator := assignment.NewCoordinator(assignment.ConfigFrom(cfg.Engine), assignment.Deps{
		Lease:     lease,
		Queue:     queue,
		Fleet:     fleet.NewStore(dbPool),
		Ranker:    ranker,
		Decisions: decision.NewStore(dbPool),
		Pending:   assignment.NewPendingStore(dbPool),
		Events:    outbox,
		Retrier:   retrier,
		Metrics:   metrics,
		Logger:    logger,
	})
	restored, err := coordinator.RestorePending(ctx)
	if err != nil {
		return err
	}
	logger.Info("pending queue restored", "entries", restored, "shadow_mode", cfg.Engine.ShadowMode)

	drainJob := jobs.NewQueueDrainJob(coordinator, cfg.Queue.DrainSpec, cfg.Queue.DrainBatch, logger)
	if err := drainJob.Start(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler := httptransport.NewRouter(httptransport.RouterDeps{
		Engine:   coordinator,
		Verifier: verifier,
		Metrics:  metrics,
		Logger:   logger,
	})
	serveErr := httptransport.NewServer(cfg.HTTP.Addr, handler, logger).Run(ctx, shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	drainJob.Stop(shutdownCtx)
	if err := outbox.Close(shutdownCtx); err != nil {
		logger.Warn("event outbox relay did not finish, undelivered events stay journaled", "error", err)
	}
	return serveErr
}

// newRouter picks Google Maps when a key is configured and the straight-line
// estimator otherwise, behind the estimate cache.
func newRouter(cfg config.Config, logger *slog.Logger) (ranking.Router, error) {
	var provider maps.Provider = maps.NewStraightLine()
	if cfg.Maps.APIKey != "" {
		svc, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return nil, err
		}
		provider = svc
	} else {
		logger.Warn("DISPATCH_MAPS_API_KEY not set, using straight-line route estimates")
	}
	return maps.NewCached(provider, cfg.Maps.CacheMax, cfg.Maps.CacheTTL), nil
}

func coordination(cfg config.Config, rdb *redis.Client) (assignment.Lease, assignment.Queue) {
	if cfg.Queue.Backend == "memory" {
		return assignment.NewMemoryLease(), assignment.NewMemoryQueue()
	}
	return assignment.NewRedisLease(rdb, "dispatch:lease"), assignment.NewRedisQueue(rdb, "dispatch:queue")
}
