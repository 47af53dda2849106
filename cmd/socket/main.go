package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinal-relay/config"
	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/broker"
	"sentinal-relay/internal/consumer"
	"sentinal-relay/internal/friends"
	"sentinal-relay/internal/metrics"
	"sentinal-relay/internal/presence"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/server"
	"sentinal-relay/internal/websocket"
	"sentinal-relay/pkg/logger"
	"sentinal-relay/pkg/telemetry"

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
		l.Errorf("socket stopped with error: %v", err)
		l.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	telem, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-socket", cfg.InstanceID, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telem.Shutdown(sctx); err != nil {
			l.Warnf("telemetry shutdown: %v", err)
		}
	}()
	m := metrics.New()
	base := l.Named("socket")

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
		l.Warnf("redis unavailable at startup, presence and dedup degrade: %v", err)
	}

	b, err := broker.New(cfg, rdb, base)
	if err != nil {
		return err
	}
	defer b.Close()

	wsLogger := websocket.NewLogger(base)
	registry := websocket.NewRegistry(m, wsLogger)
	tracker := presence.NewTracker(
		redis.NewPresenceStore(rdb),
		friends.NewClient(cfg.FriendsAPIURL, cfg.FriendsAPITimeout, base),
		registry,
		base,
	)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TrustGatewayHeaders)
	ws := websocket.NewHandler(registry, tracker, verifier, wsLogger)

	// Every instance consumes every message; markers are scoped per instance.
	dedup := redis.NewDedupStore(rdb).WithScope(cfg.InstanceID)
	consumers := []*consumer.Consumer{
		consumer.NewMessageConsumer(cfg.TopicMessageEvents, dedup, registry, m, base),
		consumer.NewUserConsumer(cfg.TopicUserEvents, dedup, registry, m, base),
	}

	srv := server.New(cfg, l)
	srv.SetupRoutes(server.Routes{
		WebSocket: ws.ServeWS,
		Health: map[string]server.HealthCheck{
			"redis": func(ctx context.Context) error { return redis.Ping(ctx, rdb) },
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Run(gctx, b) })
	}
	g.Go(func() error { return srv.Run(gctx) })

	base.Info("socket server started",
		zap.String("instance_id", cfg.InstanceID),
		zap.String("broker", cfg.BrokerDriver),
	)
	return g.Wait()
}
