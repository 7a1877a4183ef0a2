package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/gidbecxa/triviarush-server/cmd/api"
	"github.com/gidbecxa/triviarush-server/database"
	"github.com/gidbecxa/triviarush-server/internal/cache"
	"github.com/gidbecxa/triviarush-server/internal/client/rabbitmq"
	"github.com/gidbecxa/triviarush-server/internal/config"
	"github.com/gidbecxa/triviarush-server/internal/consumer"
	"github.com/gidbecxa/triviarush-server/internal/handlers"
	"github.com/gidbecxa/triviarush-server/internal/hub"
	"github.com/gidbecxa/triviarush-server/internal/lock"
	"github.com/gidbecxa/triviarush-server/internal/queue"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/internal/scheduler"
	"github.com/gidbecxa/triviarush-server/internal/scoring"
	"github.com/gidbecxa/triviarush-server/internal/store"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load .env file for development environment
	// In production (Docker Swarm), this will fail silently and use Docker secrets instead
	err := godotenv.Load()
	if err != nil {
		// Only log as info since this is expected in production
		log.Printf("Info: .env file not loaded (this is normal in production): %v", err)
	} else {
		log.Printf("Development mode: loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// log to os standard output
	slogHandler := tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel, AddSource: true})
	logger := slog.New(slogHandler)
	slog.SetDefault(logger) // Set default for any library using slog's default logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		// Using standard log here to be absolutely sure it prints if slog itself had an issue
		log.Printf("CRITICAL ERROR from run(): %v\n", err)
		currentTrace := string(debug.Stack())
		log.Printf("Trace: %s\n", currentTrace)
		slog.Error("CRITICAL ERROR from run()", "error", err.Error(), "trace", currentTrace)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.RunMigrations {
		if err := database.Migrate(cfg.DBConnStr, logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	db, err := database.NewPool(cfg.DBConnStr)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("could not connect to Redis at %s: %w", cfg.Redis.Addr, err)
	}

	cacheStore := cache.NewRedisStore(redisClient)
	locker := lock.NewManager(lock.NewRedisBackend(redisClient), cfg.Lock, logger)

	// Without a broker every notification stays on this instance.
	var publisher hub.Publisher
	var rabbitClient *rabbitmq.RabbitMQClient
	exchange := cfg.Broker.Exchange
	if cfg.RabbitMQURL != "" {
		rabbitClient, err = rabbitmq.Dial(cfg.RabbitMQURL, cfg.Broker, logger)
		if err != nil {
			return fmt.Errorf("could not connect to RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = rabbitClient
		exchange = rabbitClient.Exchange()
	} else {
		logger.Warn("TRIVIA_RABBITMQ_URL not set, notifications are local to this instance")
	}

	sessions := hub.New(logger, publisher, exchange)
	if rabbitClient != nil {
		notifications := consumer.NewNotificationConsumer(rabbitClient, sessions, logger)
		if err := notifications.Start(ctx); err != nil {
			return fmt.Errorf("failed to start notification consumer: %w", err)
		}
	}

	roomManager := rooms.NewManager(st, cacheStore, locker, sessions, cfg.Rooms, logger)
	engine := scoring.NewEngine(st, logger)
	queues := queue.NewService(logger)
	defer queues.Close()

	joins := scheduler.NewJoinScheduler(queues.Joins, roomManager, sessions,
		cfg.Schedulers.JoinInterval, cfg.Schedulers.JoinBatchSize, logger)
	specialJoins := scheduler.NewSpecialJoinScheduler(queues.SpecialJoins, roomManager, sessions,
		cfg.Schedulers.SpecialInterval, cfg.Schedulers.SpecialBatchSize, logger)
	responses := scheduler.NewResponseScheduler(queues.Responses, engine, cacheStore, sessions,
		cfg.Schedulers.Response, logger)

	handlerRepo := handlers.NewHandlerRepo(logger, handlers.Dependencies{
		Sessions:  sessions,
		Rooms:     roomManager,
		Queues:    queues,
		Stats:     engine,
		Cache:     cacheStore,
		JoinGuard: cfg.IngestLease,
		Checks: map[string]handlers.HealthCheck{
			"postgres": db.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	app := api.NewApplication(&api.Config{HttpPort: cfg.HTTPPort}, logger, handlerRepo)
	app.Background(ctx, "join-scheduler", joins.Run)
	app.Background(ctx, "special-join-scheduler", specialJoins.Run)
	app.Background(ctx, "response-scheduler", responses.Run)

	// run HTTP server
	return app.Run(ctx)
}
