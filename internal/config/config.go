package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	StoreCRDB   = "crdb"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr       string
	StoreDriver    string
	CRDBDSN        string
	MongoURI       string
	RedisAddr      string
	RabbitURL      string
	JWTSecret      string
	TicketSecret   string
	IdempotencyTTL time.Duration
	OutboxInterval time.Duration
	OTLPEndpoint   string
	LogLevel       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		StoreDriver:    getenv("STORE_DRIVER", StoreCRDB),
		CRDBDSN:        os.Getenv("CRDB_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TicketSecret:   os.Getenv("TICKET_SECRET"),
		IdempotencyTTL: duration("IDEMPOTENCY_TTL", time.Hour),
		OutboxInterval: duration("OUTBOX_INTERVAL", 5*time.Second),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}

	if cfg.TicketSecret == "" {
		return nil, errors.New("TICKET_SECRET is required")
	}
	switch cfg.StoreDriver {
	case StoreMemory:
	case StoreCRDB:
		if cfg.CRDBDSN == "" {
			return nil, errors.New("CRDB_DSN is required for the crdb store")
		}
	default:
		return nil, errors.Newf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d == 0 {
		return def
	}
	return d
}
