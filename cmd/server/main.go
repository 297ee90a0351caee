package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/nats-io/nats.go"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/shortlink/config"
	appmodel "github.com/sifan077/shortlink/internal/app/model"
	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	appserver "github.com/sifan077/shortlink/internal/app/server"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/auth"
	inthttp "github.com/sifan077/shortlink/internal/http/handler"
	"github.com/sifan077/shortlink/internal/http/middleware"
	httpUtil "github.com/sifan077/shortlink/internal/http/util"
	"github.com/sifan077/shortlink/internal/infra/logger"
	infraNATS "github.com/sifan077/shortlink/internal/infra/nats"
	infraPostgres "github.com/sifan077/shortlink/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	infraRedis "github.com/sifan077/shortlink/internal/infra/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Bootstrap()
	defer func() { _ = logger.Flush() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if log, err = logger.Install(logger.FromConfig(cfg.Log)); err != nil {
		log = logger.Current()
		log.Fatal("Failed to configure logger", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("address", cfg.Server.Address),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("nats_enabled", cfg.NATS.Enabled),
		zap.String("reaper_policy", cfg.Reaper.Policy),
	)

	registry := prom.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infraPrometheus.NewMetrics(registry)

	checks := map[string]inthttp.Check{}

	var (
		linkRepo apprepository.LinkRepository
		gormDB   *gorm.DB
	)
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("Using in-memory link store; data is lost on restart")
		linkRepo = apprepository.NewMemoryLinkRepository()
	default:
		gormDB, err = infraPostgres.NewGorm(cfg.Postgres, log)
		if err != nil {
			log.Fatal("Failed to open GORM connection", zap.Error(err))
		}
		sqlDB, err := gormDB.DB()
		if err != nil {
			log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
		}
		defer sqlDB.Close()

		if err := infraPostgres.AutoMigrate(ctx, gormDB, &appmodel.Link{}, &appmodel.ClickEvent{}); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}

		pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer pool.Close()
		checks["postgres"] = func(ctx context.Context) error { return infraPostgres.Ping(ctx, pool) }

		linkRepo = apprepository.NewLinkRepository(gormDB)
		log.Info("Connected to Postgres successfully", zap.String("host", cfg.Postgres.Host))
	}

	var (
		redisClient *redis.Client
		locker      *redislock.Client
		counter     middleware.Counter
	)
	if cfg.Redis.Enabled {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		locker = infraRedis.NewLocker(redisClient)
		if cfg.RateLimit.Enabled {
			counter = middleware.NewRedisCounter(redisClient)
		}
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		log.Info("Connected to Redis successfully", zap.String("addr", infraRedis.Addr(cfg.Redis)))
	}

	var (
		natsConn  *nats.Conn
		js        nats.JetStreamContext
		publisher *service.ClickPublisher
	)
	if cfg.NATS.Enabled {
		natsConn, js, err = infraNATS.Connect(cfg.NATS, log.Named("nats"))
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Drain()
		if err := service.EnsureClickStream(js); err != nil {
			log.Fatal("Failed to prepare click stream", zap.Error(err))
		}
		publisher = service.NewClickPublisher(js, log.Named("clicks"))
		checks["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New("nats: not connected")
			}
			return nil
		}
		log.Info("Connected to NATS successfully", zap.String("url", infraNATS.URL(cfg.NATS)))
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var clickEvents apprepository.ClickEventRepository
	if gormDB != nil {
		clickEvents = apprepository.NewClickEventRepository(gormDB)
	}

	var consumer *service.ClickConsumer
	if js != nil && clickEvents != nil {
		consumer = service.NewClickConsumer(js, log.Named("clicks"), clickEvents)
		if err := consumer.Start(consumerCtx); err != nil {
			log.Fatal("Failed to start click consumer", zap.Error(err))
		}
	}

	tokenSecret := cfg.Auth.AccessTokenSecret
	if tokenSecret == "" {
		tokenSecret = cfg.Auth.JWTSecret
	}
	tokens := httpUtil.NewTokenSigner([]byte(tokenSecret), cfg.Auth.AccessTokenTTL)

	sc := cfg.ShortCode
	opts := service.Options{
		Policy: service.CodePolicy{
			Length:            sc.Length,
			FallbackLength:    sc.FallbackLength,
			MaxAttempts:       sc.MaxAttempts,
			AliasMinLength:    sc.AliasMinLength,
			AliasMaxLength:    sc.AliasMaxLength,
			AliasAllowSymbols: sc.AliasAllowSymbols,
			ReservedWords:     sc.ReservedWords,
		},
		DefaultExpiration: sc.DefaultExpiration,
		StoreTimeout:      cfg.Storage.Timeout,
		Hasher:            service.NewBcryptHasher(cfg.Auth.BcryptCost),
		AccessTokens:      tokens,
		Filter:            service.NewCodeFilter(sc.BloomCapacity, 0),
		ClickEvents:       clickEvents,
		Metrics:           metrics,
		Logger:            logger.Component(log, "links"),
	}
	linkService := service.NewLinkService(linkRepo, opts)

	var reaper *service.Reaper
	if cfg.Reaper.Enabled {
		reaper, err = service.NewReaper(linkRepo, service.ReaperOptions{
			Policy:              service.ReaperPolicy(cfg.Reaper.Policy),
			Schedule:            cfg.Reaper.Schedule,
			StoreTimeout:        cfg.Storage.Timeout,
			Locker:              locker,
			LockTTL:             cfg.Reaper.LockTTL,
			ClickEvents:         clickEvents,
			ClickEventRetention: cfg.ClickEvents.Retention,
			Metrics:             metrics,
			Logger:              logger.Component(log, "reaper"),
		})
		if err != nil {
			log.Fatal("Failed to configure reaper", zap.Error(err))
		}
		if err := reaper.Start(); err != nil {
			log.Fatal("Failed to start reaper", zap.Error(err))
		}
	}

	promServer := infraPrometheus.NewServer(cfg.Prometheus, registry)
	go func() {
		log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
		if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
		}
	}()

	server := appserver.New(appserver.Dependencies{
		Logger:         log,
		Server:         cfg.Server,
		Links:          linkService,
		Resolver:       service.NewResolver(linkRepo, opts),
		Bulk:           service.NewBulkService(linkService, cfg.Bulk.MaxItems, metrics),
		Tokens:         tokens,
		Auth:           auth.NewTokenAuthenticator(cfg.Auth.JWTSecret),
		ClickPublisher: publisher,
		RateLimiter:    counter,
		RateLimit: middleware.RateLimitConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
			KeyPrefix:   middleware.DefaultRateLimitConfig().KeyPrefix,
		},
		Checks: checks,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("address", cfg.Server.Address))
		serveErr <- server.Listen(cfg.Server.Address)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to shut down HTTP server", zap.Error(err))
	}
	if reaper != nil {
		reaper.Stop(shutdownCtx)
	}
	if consumer != nil {
		stopConsumer()
		select {
		case <-consumer.Done():
		case <-shutdownCtx.Done():
		}
	}
	if err := promServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to close Prometheus server", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
