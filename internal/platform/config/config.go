package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the operator service reads from the
// environment. main stays lean: parse once, inject everywhere.
type Config struct {
	ListenAddr string

	// PublicBaseURL is where peer operators reach this service. Used
	// to build the confirmation callback URL handed to peers.
	PublicBaseURL string

	// Identity of this operator in the Hub ecosystem.
	OperatorID   string
	OperatorName string

	// Hub connectivity.
	HubBaseURL        string
	HubRequestTimeout time.Duration
	HubMaxRetries     int
	HubBackoffBase    time.Duration
	HubBackoffFactor  float64

	// Hub admission control.
	RateLimitPerMinute  int
	RateLimitFailClosed bool

	// Circuit breaker.
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Distributed locks. The TTL must exceed the worst-case Hub call
	// budget (HubMaxRetries x HubRequestTimeout plus backoff): the
	// unregister step runs a full retrying Hub call while holding the
	// transfer lock, and a lock expiring mid-section would let a
	// second actor in.
	LockTTL time.Duration

	// Transfer state machine.
	MaxUnregisterRetries int
	WorkerInterval       time.Duration

	// Backing stores.
	RedisURL    string
	DatabaseURL string

	// Transfer lifecycle events.
	KafkaBrokers []string

	// B2B peer authentication.
	B2BJWTSecret string

	Environment              string
	AllowInsecureOperatorURL bool
}

// FromEnv builds a Config from environment variables with defaults that
// work for local development.
func FromEnv() Config {
	return Config{
		ListenAddr:    envString("LISTEN_ADDR", ":8080"),
		PublicBaseURL: envString("PUBLIC_BASE_URL", "http://localhost:8080"),

		OperatorID:   envString("OPERATOR_ID", "operator-demo"),
		OperatorName: envString("OPERATOR_NAME", "Carpeta Demo"),

		HubBaseURL:        envString("HUB_BASE_URL", "https://hub.example.com"),
		HubRequestTimeout: envDuration("HUB_REQUEST_TIMEOUT", 30*time.Second),
		HubMaxRetries:     envInt("HUB_MAX_RETRIES", 3),
		HubBackoffBase:    envDuration("HUB_RETRY_BACKOFF_BASE", time.Second),
		HubBackoffFactor:  envFloat("HUB_RETRY_BACKOFF_FACTOR", 2.0),

		RateLimitPerMinute:  envInt("HUB_RATE_LIMIT_PER_MINUTE", 10),
		RateLimitFailClosed: envBool("HUB_RATE_LIMIT_FAIL_CLOSED", false),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         envDuration("BREAKER_COOLDOWN", 30*time.Second),

		LockTTL: envDuration("LOCK_TTL", 3*time.Minute),

		MaxUnregisterRetries: envInt("TRANSFER_MAX_UNREGISTER_RETRIES", 3),
		WorkerInterval:       envDuration("TRANSFER_WORKER_INTERVAL", 15*time.Second),

		RedisURL:    envString("REDIS_URL", ""),
		DatabaseURL: envString("DATABASE_URL", ""),

		KafkaBrokers: envList("KAFKA_BROKERS"),

		B2BJWTSecret: envString("B2B_JWT_SECRET", "dev-secret-change-in-production"),

		Environment:              envString("ENVIRONMENT", "development"),
		AllowInsecureOperatorURL: envBool("ALLOW_INSECURE_OPERATOR_URLS", true),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
