package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds
// to an environment variable.  Database settings are optional: when
// DB_HOST is unset the node runs memory-only, which is how offline
// channel nodes and the test environment operate.
type Config struct {
	Env              string        // application environment (e.g. "dev", "prod")
	Port             string        // HTTP port to listen on
	NodeID           string        // identity of this node in sync notifications
	DBUser           string        // database username (optional)
	DBPass           string        // database password (optional)
	DBHost           string        // database host; empty disables persistence
	DBPort           string        // database port
	DBName           string        // database name
	DBMaxConns       int           // max open and idle connections in the pool
	DBConnLifetime   time.Duration // recycle age for pooled connections
	JWTSecret        string        // secret used to sign channel tokens
	TokenTTLMin      int           // channel token lifetime in minutes
	ChannelKeys      string        // node:TYPE:bcrypt-hash credential triples, comma separated
	HoldTTL          time.Duration // default seat hold time-to-live
	SweepInterval    time.Duration // how often the expiry sweeper runs
	ConflictStrategy string        // last_write_wins | first_write_wins | manual
	ReplayBatchSize  int           // mutations drained per origin per replay pass
	RetryAttempts    int           // bounded retry budget for version races
	RetryBackoff     time.Duration // initial backoff between retry attempts
}

// Load reads configuration from environment variables.  Required
// variables are enforced by must(); missing values exit the process
// with a fatal log message.
func Load() Config {
	return Config{
		Env:              must("APP_ENV"),
		Port:             must("APP_PORT"),
		NodeID:           envStr("NODE_ID", "authority"),
		DBUser:           os.Getenv("DB_USER"),
		DBPass:           os.Getenv("DB_PASS"),
		DBHost:           os.Getenv("DB_HOST"),
		DBPort:           envStr("DB_PORT", "3306"),
		DBName:           os.Getenv("DB_NAME"),
		DBMaxConns:       envInt("DB_MAX_CONNS", 25),
		DBConnLifetime:   envDur("DB_CONN_LIFETIME", 30*time.Minute),
		JWTSecret:        must("JWT_SECRET"),
		TokenTTLMin:      envInt("TOKEN_TTL_MIN", 60),
		ChannelKeys:      os.Getenv("CHANNEL_KEYS"),
		HoldTTL:          envDur("HOLD_TTL", 15*time.Minute),
		SweepInterval:    envDur("SWEEP_INTERVAL", 5*time.Second),
		ConflictStrategy: envStr("CONFLICT_STRATEGY", "last_write_wins"),
		ReplayBatchSize:  envInt("REPLAY_BATCH_SIZE", 100),
		RetryAttempts:    envInt("RETRY_ATTEMPTS", 3),
		RetryBackoff:     envDur("RETRY_BACKOFF", 10*time.Millisecond),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}
