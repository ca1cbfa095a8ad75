// Package main is the entry point for the tender-watch API server and
// crawl scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alqutdigital/tender-watch/internal/api"
	"github.com/alqutdigital/tender-watch/internal/api/handlers"
	"github.com/alqutdigital/tender-watch/internal/api/middleware"
	"github.com/alqutdigital/tender-watch/internal/browser"
	"github.com/alqutdigital/tender-watch/internal/config"
	"github.com/alqutdigital/tender-watch/internal/crawler"
	"github.com/alqutdigital/tender-watch/internal/detect"
	"github.com/alqutdigital/tender-watch/internal/notify"
	"github.com/alqutdigital/tender-watch/internal/realtime"
	"github.com/alqutdigital/tender-watch/internal/scheduler"
	"github.com/alqutdigital/tender-watch/internal/storage"
	"github.com/alqutdigital/tender-watch/pkg/logger"
	"github.com/alqutdigital/tender-watch/pkg/shutdown"
)

// Version information (set during build)
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.New(cfg.Log)
	log.SetDefault()
	handlers.Version = Version

	log.Info("starting tender-watch server",
		"version", Version,
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	shutdownHandler := shutdown.New(log.Logger, cfg.Server.ShutdownTimeout)
	health := map[string]handlers.HealthChecker{}

	// ============================
	// Initialize Database
	// ============================
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	db, err := storage.NewPostgres(initCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})
	health["postgres"] = db
	log.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	repo := storage.NewAnnouncementRepository(db.DB)
	if err := repo.Migrate(initCtx); err != nil {
		_ = shutdownHandler.Shutdown()
		return err
	}

	// ============================
	// Initialize Redis
	// ============================
	var (
		runs           *storage.RunStatusStore
		rateLimitStore middleware.RateLimitStore = middleware.NewMemoryRateLimitStore()
	)
	if cfg.Redis.Enabled {
		client, err := storage.NewRedisClient(initCtx, cfg.Redis.RedisConfig)
		if err != nil {
			log.Warn("failed to connect to Redis, run status disabled", "error", err)
		} else {
			log.Info("connected to Redis", "addr", cfg.Redis.Addr())
			shutdownHandler.RegisterNamed("redis", func(ctx context.Context) error {
				return client.Close()
			})
			runs = storage.NewRunStatusStore(client, cfg.Redis.RunTTL)
			rateLimitStore = middleware.NewRedisRateLimitStore(client, "tender-watch:ratelimit")
			health["redis"] = runs
		}
	}

	// ============================
	// Initialize Object Storage
	// ============================
	var archive *storage.SnapshotArchive
	if cfg.Storage.Enabled {
		a, err := storage.NewSnapshotArchive(cfg.Storage.MinIOConfig)
		if err == nil {
			err = a.InitBucket(initCtx)
		}
		if err != nil {
			log.Warn("failed to initialize object storage, snapshots disabled", "error", err)
		} else {
			log.Info("connected to object storage", "endpoint", cfg.Storage.Endpoint, "bucket", cfg.Storage.BucketName)
			archive = a
			health["storage"] = archive
		}
	}

	// ============================
	// Initialize NATS and WebSocket Hub
	// ============================
	var natsClient *realtime.NATSClient
	if cfg.NATS.Enabled {
		natsClient, err = realtime.NewNATSClient(cfg.NATS.NATSConfig, log.Logger)
		if err != nil {
			log.Warn("failed to connect to NATS, events stay in process", "error", err)
			natsClient = nil
		} else if err := natsClient.SetupStreams(initCtx); err != nil {
			log.Warn("failed to setup NATS streams, events stay in process", "error", err)
			_ = natsClient.Close()
			natsClient = nil
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
			shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
				if err := natsClient.Drain(); err != nil {
					log.Warn("failed to drain NATS", "error", err)
				}
				return natsClient.Close()
			})
			health["nats"] = natsClient
		}
	}

	var (
		wsHub     *realtime.WSHub
		publisher notify.Publisher
	)
	if natsClient != nil {
		wsHub = realtime.NewWSHub(natsClient, realtime.DefaultWSConfig(), log.Logger)
		publisher = natsClient
	} else {
		wsHub = realtime.NewWSHub(nil, realtime.DefaultWSConfig(), log.Logger)
		publisher = wsHub
	}
	if err := wsHub.Start(context.Background()); err != nil {
		_ = shutdownHandler.Shutdown()
		return fmt.Errorf("failed to start websocket hub: %w", err)
	}
	shutdownHandler.RegisterNamed("websocket-hub", func(ctx context.Context) error {
		return wsHub.Stop(ctx)
	})

	// ============================
	// Initialize Notification and Change Detection
	// ============================
	var sender notify.Sender
	if cfg.Notify.Enabled {
		sender = notify.NewDingTalk(cfg.Notify, log)
		log.Info("DingTalk notifications enabled")
	} else {
		log.Warn("DingTalk notifications disabled")
	}
	dispatcher := notify.NewDispatcher(sender, publisher, log)
	engine := detect.NewEngine(repo, dispatcher, log)

	// ============================
	// Initialize Crawler
	// ============================
	serviceOpts := []crawler.Option{crawler.WithPublisher(publisher)}
	if runs != nil {
		serviceOpts = append(serviceOpts, crawler.WithRunRecorder(runs))
	}
	if archive != nil {
		serviceOpts = append(serviceOpts, crawler.WithSnapshotArchive(archive))
	}
	launcher := crawler.BrowserLauncher(browser.NewLauncher(cfg.Browser, nil, log))
	service := crawler.NewService(launcher, nil, engine, cfg.Crawler, log, serviceOpts...)

	crawlCtx, cancelCrawls := context.WithCancel(context.Background())
	crawls := handlers.NewCrawlHandler(crawlCtx, service, log.Logger)
	shutdownHandler.RegisterNamed("crawls", func(ctx context.Context) error {
		cancelCrawls()
		return crawls.Wait(ctx)
	})

	// ============================
	// Initialize Scheduler
	// ============================
	if cfg.Schedule.Enabled {
		sched, err := scheduler.New(service, cfg.Schedule.Specs, nil, cfg.Schedule.RunTimeout, log)
		if err != nil {
			_ = shutdownHandler.Shutdown()
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		sched.Start()
		shutdownHandler.RegisterNamed("scheduler", sched.Stop)
	} else {
		log.Warn("scheduled crawls disabled")
	}

	// ============================
	// Setup API Router
	// ============================
	deps := api.Dependencies{
		Logger:         log,
		Announcements:  repo,
		Crawls:         crawls,
		Renotifier:     engine,
		Sender:         dispatcher,
		Health:         health,
		RateLimitStore: rateLimitStore,
		WSHub:          wsHub,
	}
	if runs != nil {
		deps.Runs = runs
	}

	routerConfig := api.DefaultRouterConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		routerConfig.AllowedOrigins = cfg.Server.AllowedOrigins
	}
	routerConfig.RateLimitConfig.Default.Requests = cfg.Server.RequestsPerMinute

	router := api.NewRouter(deps, routerConfig)

	// ============================
	// Initialize HTTP Server
	// ============================
	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Server.Port
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout

	server := api.NewServer(router, serverConfig, log)
	shutdownHandler.RegisterNamed("http-server", server.Shutdown)

	serveCtx, serverFailed := context.WithCancel(context.Background())
	defer serverFailed()
	go func() {
		if err := server.Start(); err != nil {
			log.Error("HTTP server error", "error", err)
			serverFailed()
		}
	}()

	err = shutdownHandler.Wait(serveCtx)
	log.Info("server stopped")
	return err
}
