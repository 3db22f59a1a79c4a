package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomadCrew/nomad-crew-ledger/config"
	"github.com/NomadCrew/nomad-crew-ledger/db"
	"github.com/NomadCrew/nomad-crew-ledger/handlers"
	"github.com/NomadCrew/nomad-crew-ledger/internal/store"
	"github.com/NomadCrew/nomad-crew-ledger/internal/store/postgres"
	"github.com/NomadCrew/nomad-crew-ledger/internal/store/sqlite"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	expenseSvc "github.com/NomadCrew/nomad-crew-ledger/models/expense/service"
	"github.com/NomadCrew/nomad-crew-ledger/pkg/valueobjects"
	"github.com/NomadCrew/nomad-crew-ledger/router"
	"github.com/NomadCrew/nomad-crew-ledger/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// ledgerBackend is the selected store plus what the health check pings and
// what must be closed on shutdown.
type ledgerBackend struct {
	store  store.LedgerStore
	pinger services.Pinger
	close  func()
}

func main() {
	logger.InitLogger()
	log := logger.GetLogger()
	defer func() { _ = logger.Close() }()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openLedgerBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer backend.close()

	redisClient := redis.NewClient(config.ConfigureRedisOptions(&cfg.Redis))
	defer redisClient.Close()
	if err := config.TestRedisConnection(ctx, redisClient); err != nil {
		// Events and rate limiting degrade gracefully; the ledger still serves.
		log.Warnw("Redis unavailable at startup", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eventService := services.NewRedisEventService(
		redisClient,
		time.Duration(cfg.EventService.PublishTimeoutSeconds)*time.Second,
		registry,
	)
	expenseService := expenseSvc.NewExpenseService(
		backend.store,
		eventService,
		valueobjects.NewMoneyFromMinor(cfg.Ledger.ToleranceMinorUnits),
		registry,
	)
	healthService := services.NewHealthService(backend.pinger, cfg.Database.Driver, redisClient, cfg.Server.Version)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(router.Dependencies{
		Config:         cfg,
		ExpenseHandler: handlers.NewExpenseHandler(expenseService),
		HealthHandler:  handlers.NewHealthHandler(healthService),
		RedisClient:    redisClient,
		Gatherer:       registry,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "driver", cfg.Database.Driver, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received, draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Server shutdown did not complete cleanly", "error", err)
	}
	log.Info("Server stopped")
}

func openLedgerBackend(ctx context.Context, cfg *config.Config) (*ledgerBackend, error) {
	log := logger.GetLogger()

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Database.SQLitePath, cfg.Ledger.RosterStatuses)
		if err != nil {
			return nil, err
		}
		log.Infow("Using sqlite ledger store", "path", cfg.Database.SQLitePath)
		return &ledgerBackend{
			store:  s,
			pinger: s,
			close:  func() { _ = s.Close() },
		}, nil

	default:
		if cfg.Database.RunMigrations {
			if err := db.RunMigrations(cfg.Database.URL()); err != nil {
				return nil, err
			}
		}
		poolConfig, err := config.ConfigurePostgresPool(&cfg.Database)
		if err != nil {
			return nil, err
		}
		client := db.NewDatabaseClient(poolConfig)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		pool := client.GetPool()
		return &ledgerBackend{
			store:  postgres.NewLedgerStore(pool, cfg.Ledger.RosterStatuses),
			pinger: pool,
			close:  client.Close,
		}, nil
	}
}
