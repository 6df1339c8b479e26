// Package main is the entry point for the stackpanel API server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stackpanel/stackpanel/internal/cloudstack"
	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
	"github.com/stackpanel/stackpanel/internal/repository/etcd"
	"github.com/stackpanel/stackpanel/internal/repository/postgres"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
	"github.com/stackpanel/stackpanel/internal/server"
	"github.com/stackpanel/stackpanel/internal/services/auth"
	"github.com/stackpanel/stackpanel/internal/services/cloudsync"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		println("stackpanel")
		println("Version:", version)
		println("Commit:", commit)
		println("Build Date:", buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Failed to load config:", err.Error())
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting stackpanel",
		zap.String("version", version),
		zap.String("commit", commit),
	)
	server.Version = version

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var opts []server.ServerOption

	var db *postgres.DB
	if cfg.Database.Enabled {
		var err error
		if db, err = postgres.NewDB(ctx, cfg.Database, logger); err != nil {
			return err
		}
		if err := db.CheckSchema(ctx, domain.AllKinds); err != nil {
			db.Close()
			return err
		}
		opts = append(opts, server.WithPostgreSQL(db))
	} else {
		logger.Warn("PostgreSQL disabled, records are kept in memory and lost on restart")
	}

	// entityCache stays a nil interface when redis is off
	var entityCache inventory.Cache
	var limiter auth.RateLimiter
	var cache *redis.Cache
	if cfg.Redis.Enabled {
		var err error
		if cache, err = redis.NewCache(cfg.Redis, logger); err != nil {
			return err
		}
		entityCache, limiter = cache, cache
		opts = append(opts, server.WithRedis(cache))
	}

	var etcdClient *etcd.Client
	if cfg.Etcd.Enabled {
		var err error
		if etcdClient, err = etcd.NewClient(cfg.Etcd, logger); err != nil {
			return err
		}
		opts = append(opts, server.WithEtcd(etcdClient))
	}

	reg := inventory.NewRegistry()
	stores := newStores(reg, db, entityCache, logger)

	jwtManager := auth.NewJWTManager(cfg.Auth)
	authService := auth.NewService(stores.users, stores.history, stores.tracks, limiter, jwtManager, cfg.Auth, logger)
	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	if cfg.CloudStack.URL != "" {
		syncOpts := []cloudsync.Option{}
		if cache != nil {
			syncOpts = append(syncOpts, cloudsync.WithPublisher(cache), cloudsync.WithInvalidator(cache))
		}
		if etcdClient != nil {
			syncOpts = append(syncOpts, cloudsync.WithLocker(etcdClient), cloudsync.WithStatusStore(etcdClient))

			leader, err := etcdClient.CampaignForLeader(ctx, "stackpanel-sync", func(isLeader bool) {
				logger.Info("Sync leadership changed", zap.Bool("leader", isLeader))
			})
			if err != nil {
				logger.Warn("Failed to start leader election", zap.Error(err))
			} else {
				syncOpts = append(syncOpts, cloudsync.WithLeader(leader))
				opts = append(opts, server.WithLeader(leader))
			}
		}

		client := cloudstack.NewClient(cfg.CloudStack, logger)
		if err := client.CheckAuth(ctx); err != nil {
			logger.Warn("CloudStack is not reachable, sync will retry on schedule", zap.Error(err))
		}

		syncer := cloudsync.NewSyncer(client, reg, stores.syncs, cfg.Sync, logger, syncOpts...)
		opts = append(opts, server.WithSyncer(syncer))
		syncer.Start(ctx)
	} else {
		logger.Warn("CloudStack URL not configured, sync disabled")
	}

	srv := server.New(cfg, reg, authService, logger, opts...)

	return srv.Run(ctx)
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(level)
	if cfg.Output != "" {
		zapConfig.OutputPaths = []string{cfg.Output}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}

	return logger
}
