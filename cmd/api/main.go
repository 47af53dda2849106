package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinal-relay/config"
	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/broker"
	"sentinal-relay/internal/events"
	"sentinal-relay/internal/handler"
	"sentinal-relay/internal/metrics"
	"sentinal-relay/internal/outbox"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/repository"
	"sentinal-relay/internal/scheduler"
	"sentinal-relay/internal/server"
	"sentinal-relay/internal/services"
	"sentinal-relay/pkg/database"
	"sentinal-relay/pkg/logger"
	"sentinal-relay/pkg/telemetry"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Errorf("api stopped with error: %v", err)
		l.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	telem, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-api", cfg.InstanceID, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	defer shutdown(l, "telemetry", telem.Shutdown)
	m := metrics.New()
	base := l.Named("api")

	if err := database.Migrate(cfg.PostgresURL()); err != nil {
		return err
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := redis.NewClient(redis.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisWriteTimeout,
	})
	defer rdb.Close()
	if err := redis.Ping(ctx, rdb); err != nil {
		l.Warnf("redis unavailable at startup, call rate limiting fails open: %v", err)
	}

	b, err := broker.New(cfg, rdb, base)
	if err != nil {
		return err
	}
	defer b.Close()

	uow := repository.NewUnitOfWork(db)
	calls := repository.NewCallRepository(db)
	var conversations repository.ConversationRepository = repository.NewConversationRepository(db)
	if cfg.ConversationCacheTTL > 0 {
		conversations = redis.NewConversationCache(rdb, conversations, cfg.ConversationCacheTTL, base)
	}
	outboxRepo := repository.NewOutboxRepository(db)

	topics := events.NewTopicResolver(cfg.TopicMessageEvents, cfg.TopicUserEvents)
	processor := outbox.NewProcessor(outboxRepo, b, topics, cfg.OutboxBatchSize, cfg.OutboxPublishTimeout, base, m)
	runner := outbox.NewRunner(processor, outboxRepo, cfg.OutboxInterval, cfg.OutboxRetention, cfg.OutboxRetentionInterval, base)

	callService := services.NewCallService(uow, calls, conversations, m, base)
	sweeper := services.NewCallTimeoutSweeper(uow, calls, cfg.CallRingTimeout, m, base)
	sweep := scheduler.NewTask("call-timeout", cfg.CallSweepInterval, sweeper.Tick, base)

	srv := server.New(cfg, l)
	srv.SetupRoutes(server.Routes{
		Calls:       handler.NewCallHandler(callService),
		CallLimiter: redis.NewRateLimiter(rdb, redis.RateLimitConfig{CallLimit: cfg.CallRateLimit, CallWindow: cfg.CallRateWindow}),
		Verifier:    auth.NewVerifier(cfg.JWTSecret, cfg.TrustGatewayHeaders),
		Health:      healthChecks(db, rdb),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return sweep.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	base.Info("api started",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("broker", cfg.BrokerDriver),
	)
	return g.Wait()
}

func healthChecks(db *sql.DB, rdb *goredis.Client) map[string]server.HealthCheck {
	return map[string]server.HealthCheck{
		"postgres": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		"redis":    func(ctx context.Context) error { return redis.Ping(ctx, rdb) },
	}
}

func shutdown(l *logger.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		l.Warnf("%s shutdown: %v", name, err)
	}
}
