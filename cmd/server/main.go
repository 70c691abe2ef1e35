package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telbo/device-inventory/internal/adapter/alert"
	"github.com/telbo/device-inventory/internal/adapter/handler"
	"github.com/telbo/device-inventory/internal/adapter/lock"
	"github.com/telbo/device-inventory/internal/adapter/storage"
	"github.com/telbo/device-inventory/internal/config"
	"github.com/telbo/device-inventory/internal/core/domain"
	"github.com/telbo/device-inventory/internal/core/service"
	"github.com/telbo/device-inventory/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open mysql")
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("connected to redis")

	// Lock coordinator
	var locks port.LockRepository
	switch cfg.Lock.Backend {
	case "local":
		locks = lock.NewLocalLock(cfg.Lock.Wait)
		log.Warn().Msg("using in-process lock: run exactly one instance")
	default:
		locks = lock.NewRedisLock(rdb, lock.Options{
			Wait:          cfg.Lock.Wait,
			Lease:         cfg.Lock.Lease,
			RetryInterval: cfg.Lock.RetryInterval,
		})
	}

	// Alert publisher (RabbitMQ), optional
	var publisher port.AlertPublisher = noopPublisher{}
	var amqpConn *amqp.Connection
	if cfg.AMQP.Enabled {
		amqpConn, err = amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect rabbitmq")
		}
		publisher, err = alert.NewAMQPPublisher(amqpConn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up alert publisher")
		}
		log.Info().Msg("connected to rabbitmq")
	} else {
		log.Warn().Msg("amqp disabled, low-stock alerts will only be logged")
	}

	// Core services
	store := storage.NewMySQLAdapter(db)
	idempotency := storage.NewRedisAdapter(rdb)
	ledger := service.NewLedger(store, store, cfg.Reservation.EventBuffer)
	reservations := service.NewReservationService(locks, ledger, store, idempotency, cfg.Reservation.DefaultTTL)

	sweeper := service.NewSweeper(reservations, store, service.SweeperConfig{
		Interval:     cfg.Sweeper.Interval,
		BatchSize:    cfg.Sweeper.BatchSize,
		CycleTimeout: cfg.Sweeper.CycleTimeout,
	})
	sweeper.Start()

	monitor := service.NewLowStockMonitor(store, publisher, ledger.Events(), cfg.Monitor.ScanInterval)
	monitor.Start()

	// HTTP server
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	handler.NewHTTPHandler(reservations).Routes(router)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Address()).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	log.Info().Msg("http server stopped")

	sweeper.Stop()
	ledger.Close()
	monitor.Stop()
	log.Info().Msg("background workers stopped")

	if amqpConn != nil {
		amqpConn.Close()
	}
	rdb.Close()
	db.Close()
	log.Info().Msg("connections closed")
}

// noopPublisher stands in when AMQP is disabled; the monitor still logs
// every breach.
type noopPublisher struct{}

func (noopPublisher) PublishLowStock(ctx context.Context, a domain.LowStockAlert) error {
	return nil
}
