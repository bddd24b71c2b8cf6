package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/SirClappington/edgeq/internal/taskqueue"
)

// Lane is the env form of a taskqueue.Config. Its defaults differ per
// prefix and are filled in by Parse rather than by struct tags.
type Lane struct {
	MaxConcurrent   int           `env:"MAX_CONCURRENT"`
	ProcessingDelay time.Duration `env:"PROCESSING_DELAY"`
	MaxQueueSize    int           `env:"MAX_SIZE"`
	Timeout         time.Duration `env:"TIMEOUT"`
}

func (l Lane) TaskQueue() taskqueue.Config {
	return taskqueue.Config{
		MaxConcurrent:   l.MaxConcurrent,
		ProcessingDelay: l.ProcessingDelay,
		MaxQueueSize:    l.MaxQueueSize,
		Timeout:         l.Timeout,
	}
}

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	APIAddr  string `env:"API_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Optional backends: an empty DSN disables the /api/db routes, an
	// empty Redis address disables the stats mirror.
	PostgresDSN   string        `env:"POSTGRES_DSN"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	MirrorTTL     time.Duration `env:"REDIS_MIRROR_TTL" envDefault:"24h"`
	MigrationsDir string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	UpstreamBaseURL string        `env:"UPSTREAM_BASE_URL" envDefault:"https://voter.dev.box70000.com/api/admin/voter"`
	UpstreamToken   string        `env:"UPSTREAM_TOKEN"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	QueueDefaults Lane `envPrefix:"QUEUE_"`
	UserAPIQueue  Lane `envPrefix:"USER_API_QUEUE_"`
	DBQueue       Lane `envPrefix:"DB_QUEUE_"`

	IdleEvictAfter  time.Duration `env:"QUEUE_IDLE_EVICT_AFTER" envDefault:"0s"`
	EvictSchedule   string        `env:"QUEUE_EVICT_SCHEDULE" envDefault:"@every 5m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Parse reads an optional .env file and then the process environment.
// Variables already set in the environment win over .env.
func Parse() (Config, error) {
	_ = godotenv.Load()

	c := Config{
		QueueDefaults: Lane{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 100, Timeout: 30 * time.Second},
		UserAPIQueue:  Lane{MaxConcurrent: 1, ProcessingDelay: time.Second, MaxQueueSize: 50, Timeout: 30 * time.Second},
		DBQueue:       Lane{MaxConcurrent: 1, ProcessingDelay: 0, MaxQueueSize: 100, Timeout: 30 * time.Second},
	}
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load() Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}
	return c
}
