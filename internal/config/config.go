package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTSecret    string
	JWTPublicKey string
	OTLPEndpoint string
	LogLevel     string

	// TraceSampleRatio is the fraction of root spans kept, 0..1.
	TraceSampleRatio float64

	CancellationWindow  time.Duration
	IdempotencyTTL      time.Duration
	RateLimitPerMinute  int
	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	WaitlistSweepPeriod time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     getString("HTTP_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getString("MONGO_DB", "bookings"),
		RedisAddr:    getString("REDIS_ADDR", "localhost:6379"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     getString("LOG_LEVEL", "info"),

		TraceSampleRatio: getRatio("OTEL_TRACES_SAMPLER_ARG", 1),

		CancellationWindow:  getDuration("CANCELLATION_WINDOW", 7*24*time.Hour),
		IdempotencyTTL:      getDuration("IDEMPOTENCY_TTL", time.Hour),
		RateLimitPerMinute:  getLimit("RATE_LIMIT_PER_MINUTE", 60),
		OutboxPollInterval:  getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:     getInt("OUTBOX_BATCH_SIZE", 10),
		WaitlistSweepPeriod: getDuration("WAITLIST_SWEEP_INTERVAL", time.Minute),
	}, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getLimit allows an explicit 0, which turns the limit off.
func getLimit(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getRatio(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return def
	}
	return f
}
