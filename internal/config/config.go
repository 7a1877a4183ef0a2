// Package config assembles the typed process configuration from environment
// variables (and Docker secrets) via pkg/env.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gidbecxa/triviarush-server/internal/client/rabbitmq"
	"github.com/gidbecxa/triviarush-server/internal/lock"
	"github.com/gidbecxa/triviarush-server/internal/rooms"
	"github.com/gidbecxa/triviarush-server/internal/scheduler"
	"github.com/gidbecxa/triviarush-server/pkg/env"
)

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Schedulers struct {
	JoinInterval     time.Duration
	JoinBatchSize    int
	SpecialInterval  time.Duration
	SpecialBatchSize int
	Response         scheduler.ResponseOptions
}

type Config struct {
	HTTPPort      int
	DBConnStr     string
	RunMigrations bool
	RabbitMQURL   string
	Broker        rabbitmq.Options
	LogLevel      slog.Level
	Redis         Redis
	Lock          lock.Options
	Rooms         rooms.Config
	Schedulers    Schedulers
	// IngestLease guards duplicate joinRoom clicks.
	IngestLease time.Duration
}

// Load reads every TRIVIA_* key. TRIVIA_DB_CONNSTR is required.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      env.GetInt("TRIVIA_HTTP_PORT", 8080),
		DBConnStr:     env.GetString("TRIVIA_DB_CONNSTR", ""),
		RunMigrations: env.GetBool("TRIVIA_RUN_MIGRATIONS", true),
		RabbitMQURL:   env.GetString("TRIVIA_RABBITMQ_URL", ""),
		Redis: Redis{
			Addr:     env.GetString("TRIVIA_REDIS_ADDR", "localhost:6379"),
			Password: env.GetString("TRIVIA_REDIS_PASSWORD", ""),
			DB:       env.GetInt("TRIVIA_REDIS_DB", 0),
		},
		IngestLease: env.GetDuration("TRIVIA_INGEST_LEASE", time.Second),
	}

	if cfg.DBConnStr == "" {
		return nil, errors.New("TRIVIA_DB_CONNSTR environment variable is not set")
	}

	broker := rabbitmq.DefaultOptions()
	cfg.Broker = rabbitmq.Options{
		Exchange:       env.GetString("TRIVIA_RABBITMQ_EXCHANGE", broker.Exchange),
		Prefetch:       env.GetInt("TRIVIA_RABBITMQ_PREFETCH", broker.Prefetch),
		PublishTimeout: env.GetDuration("TRIVIA_RABBITMQ_PUBLISH_TIMEOUT", broker.PublishTimeout),
		ConnectionName: env.GetString("TRIVIA_RABBITMQ_CONNECTION_NAME", broker.ConnectionName),
	}

	level, err := parseLevel(env.GetString("TRIVIA_LOG_LEVEL", "debug"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	lockDefaults := lock.DefaultOptions()
	cfg.Lock = lock.Options{
		RetryCount:      env.GetInt("TRIVIA_LOCK_RETRY_COUNT", lockDefaults.RetryCount),
		RetryDelay:      env.GetDuration("TRIVIA_LOCK_RETRY_DELAY", lockDefaults.RetryDelay),
		RetryJitter:     env.GetDuration("TRIVIA_LOCK_RETRY_JITTER", lockDefaults.RetryJitter),
		ExtendThreshold: env.GetDuration("TRIVIA_LOCK_EXTEND_THRESHOLD", lockDefaults.ExtendThreshold),
	}

	roomDefaults := rooms.DefaultConfig()
	cfg.Rooms = rooms.Config{
		Capacity:         env.GetInt("TRIVIA_ROOM_CAPACITY", roomDefaults.Capacity),
		MaxWaitingRooms:  env.GetInt("TRIVIA_MAX_WAITING_ROOMS", roomDefaults.MaxWaitingRooms),
		QuestionsPerRoom: env.GetInt("TRIVIA_QUESTIONS_PER_ROOM", roomDefaults.QuestionsPerRoom),
		SystemUserID:     int64(env.GetInt("TRIVIA_SYSTEM_USER_ID", int(roomDefaults.SystemUserID))),
		RoomLease:        env.GetDuration("TRIVIA_ROOM_LEASE", roomDefaults.RoomLease),
		ParticipantLease: env.GetDuration("TRIVIA_PARTICIPANT_LEASE", roomDefaults.ParticipantLease),
		MessageLease:     cfg.IngestLease,
		CacheTTL:         env.GetDuration("TRIVIA_CACHE_TTL", roomDefaults.CacheTTL),
		FlagTTL:          env.GetDuration("TRIVIA_FLAG_TTL", roomDefaults.FlagTTL),
	}
	if cfg.Rooms.Capacity < 1 {
		return nil, fmt.Errorf("TRIVIA_ROOM_CAPACITY must be positive, got %d", cfg.Rooms.Capacity)
	}
	if cfg.Rooms.MaxWaitingRooms < 1 {
		return nil, fmt.Errorf("TRIVIA_MAX_WAITING_ROOMS must be positive, got %d", cfg.Rooms.MaxWaitingRooms)
	}

	response := scheduler.DefaultResponseOptions()
	response.Pacing = env.GetDuration("TRIVIA_RESPONSE_PACING", response.Pacing)
	response.FlagTTL = cfg.Rooms.FlagTTL
	if path := env.GetString("TRIVIA_RESPONSE_TIERS_FILE", ""); path != "" {
		steps, err := scheduler.LoadStepTable(path)
		if err != nil {
			return nil, err
		}
		response.Steps = steps
	}

	cfg.Schedulers = Schedulers{
		JoinInterval:     env.GetDuration("TRIVIA_JOIN_INTERVAL", 5*time.Second),
		JoinBatchSize:    env.GetInt("TRIVIA_JOIN_BATCH_SIZE", 10),
		SpecialInterval:  env.GetDuration("TRIVIA_SPECIAL_INTERVAL", 5*time.Second),
		SpecialBatchSize: env.GetInt("TRIVIA_SPECIAL_BATCH_SIZE", 10),
		Response:         response,
	}
	if cfg.Schedulers.JoinBatchSize < 1 || cfg.Schedulers.SpecialBatchSize < 1 {
		return nil, errors.New("scheduler batch sizes must be positive")
	}

	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid TRIVIA_LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
