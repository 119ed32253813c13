package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/soulline/lifeline/internal/api"
	"github.com/soulline/lifeline/internal/app"
	"github.com/soulline/lifeline/internal/audit"
	iauth "github.com/soulline/lifeline/internal/auth"
	"github.com/soulline/lifeline/internal/cache"
	"github.com/soulline/lifeline/internal/database"
	"github.com/soulline/lifeline/internal/escalation"
	"github.com/soulline/lifeline/internal/identity"
	"github.com/soulline/lifeline/internal/maintenance"
	"github.com/soulline/lifeline/internal/middleware"
	"github.com/soulline/lifeline/internal/monitoring"
	"github.com/soulline/lifeline/internal/monitoring/checks"
	"github.com/soulline/lifeline/internal/notify"
	"github.com/soulline/lifeline/internal/recording"
	"github.com/soulline/lifeline/internal/session"
	"github.com/soulline/lifeline/internal/signaling"
	"github.com/soulline/lifeline/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lifeline-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	var cacheStore cache.Store = dbStore
	if cfg.Cache.Redis.Enabled {
		redisStore, redisErr := cache.NewRedisStore(cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			TLS:      cfg.Cache.Redis.TLS,
			Timeout:  cfg.Cache.Redis.Timeout,
		})
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database cache", zap.Error(redisErr))
		} else {
			cacheStore = redisStore
			defer redisStore.Close()
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	auditSvc, err := audit.NewService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	chain, err := cfg.Chain()
	if err != nil {
		return err
	}

	directory := identity.NewMemoryDirectory()
	hub := notify.NewHub()

	manager, err := session.NewManager(db, auditSvc, chain, directory, hub)
	if err != nil {
		return fmt.Errorf("initialise session manager: %w", err)
	}

	engine := escalation.NewEngine(manager)
	manager.BindTimers(engine)

	relay := signaling.NewRelay(manager)
	manager.BindDropper(relay)

	blobStore, err := recording.NewFilesystemBlobStore(cfg.Recording.StorageDir)
	if err != nil {
		return fmt.Errorf("initialise recording store: %w", err)
	}
	authority, err := recording.NewAuthority(db, blobStore, manager,
		recording.WithPolicy(recording.Policy{RetentionDays: cfg.Recording.RetentionDays}))
	if err != nil {
		return fmt.Errorf("initialise recording authority: %w", err)
	}

	var cleaner *maintenance.Cleaner
	if cfg.Maintenance.Enabled {
		cleaner = maintenance.NewCleaner(authority, dbStore,
			maintenance.WithSchedule(cfg.Maintenance.Schedule),
			maintenance.WithChannelSweep(relay, manager))
		if err := cleaner.Start(); err != nil {
			return fmt.Errorf("start maintenance jobs: %w", err)
		}
		defer cleaner.Stop()
	}

	health := monitoring.NewRegistry()
	health.Register(checks.Database(db, 0))
	health.Register(checks.Cache(cacheStore, 0))
	health.Register(checks.Maintenance(cleaner, 0))

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		JWT:       jwtService,
		Manager:   manager,
		Relay:     relay,
		Hub:       hub,
		Audit:     auditSvc,
		Authority: authority,
		RateStore: middleware.NewCacheRateStore(cacheStore),
		Health:    health,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	driver, path, dsn, host, port, name, user, password := cfg.DatabaseSettings()
	db, err := database.OpenAndMigrate(database.Config{
		Driver:   driver,
		Path:     path,
		DSN:      dsn,
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if err := database.Close(db); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
