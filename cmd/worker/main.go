package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adjemin-bridge/internal/adjemin"
	"github.com/noah-isme/adjemin-bridge/internal/config"
	"github.com/noah-isme/adjemin-bridge/internal/events"
	"github.com/noah-isme/adjemin-bridge/internal/lock"
	"github.com/noah-isme/adjemin-bridge/internal/obs"
	"github.com/noah-isme/adjemin-bridge/internal/reconcile"
	"github.com/noah-isme/adjemin-bridge/internal/store"
)

// The worker owns the reconciliation sweep: payment attempts that never
// received a terminal notification are re-checked against the provider on
// a fixed schedule.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	bus := &events.Bus{Producer: "adjemin-bridge-worker"}
	bus.Publishers = append(bus.Publishers, events.LogPublisher{Logger: logger})
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaPub.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		bus.Publishers = append(bus.Publishers, kafkaPub)
	}

	orders := &store.Postgres{Pool: pool}
	attempts := &store.Attempts{Pool: pool}

	providerClient := adjemin.NewClient(cfg.AdjeminBaseURL, cfg.AdjeminClientID, cfg.AdjeminClientSecret, cfg.ProviderTimeout, logger)
	tokens := &adjemin.TokenSource{
		Upstream:   providerClient,
		DefaultTTL: cfg.TokenTTL,
		Leeway:     cfg.TokenLeeway,
	}
	statusClient := &adjemin.StatusClient{Client: providerClient, Tokens: tokens, Logger: logger}

	engine := &reconcile.Engine{
		Store:    orders,
		Status:   statusClient,
		Attempts: attempts,
		Events:   bus,
		Locker:   &lock.Locker{R: redisClient, RetryBackoff: cfg.LockBackoff},
		LockTTL:  cfg.LockTTL,
		Logger:   logger,
	}
	sweeper := &reconcile.Sweeper{
		Attempts: attempts,
		Status:   statusClient,
		Engine:   engine,
		MinAge:   cfg.SweepMinAge,
		Batch:    cfg.SweepBatch,
		Logger:   logger,
	}

	redisConn := asynq.RedisClientOpt{Addr: redisAddr(cfg.RedisURL)}

	scheduler := asynq.NewScheduler(redisConn, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register("@every "+cfg.SweepEvery.String(), reconcile.NewSweepTask()); err != nil {
		logger.Fatal().Err(err).Msg("register sweep schedule")
	}

	mux := asynq.NewServeMux()
	mux.Handle(reconcile.TaskSweep, sweeper)

	srv := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 1,
		Logger:      asynqLogger{logger},
	})

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
			stop()
		}
	}()

	logger.Info().Dur("every", cfg.SweepEvery).Msg("worker starting")
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		srv.Shutdown()
	}()
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func redisAddr(redisURL string) string {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return "localhost:6379"
	}
	return opts.Addr
}

// asynqLogger bridges asynq's logging interface onto zerolog.
type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...any) { a.l.Debug().Msgf("%v", args) }
func (a asynqLogger) Info(args ...any)  { a.l.Info().Msgf("%v", args) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn().Msgf("%v", args) }
func (a asynqLogger) Error(args ...any) { a.l.Error().Msgf("%v", args) }
func (a asynqLogger) Fatal(args ...any) { a.l.Fatal().Msgf("%v", args) }

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
