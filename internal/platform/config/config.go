package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr           string
	RequestTimeout time.Duration
	Log            LogConfig
	Database       DatabaseConfig
	Reconcile      ReconcileConfig
	Redis          RedisConfig
	Lock           LockConfig
	RateLimit      RateLimitConfig
	// CORSOrigins lists origins allowed to call the API from a browser. Empty
	// disables CORS headers.
	CORSOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DatabaseConfig selects and sizes the contact store.
type DatabaseConfig struct {
	// Dialect is sqlite, postgres or memory.
	Dialect      string
	Storage      string
	URL          string
	MaxOpenConns int
}

// ReconcileConfig bounds a single reconcile transaction.
type ReconcileConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// RedisConfig configures the optional Redis client used for identifier locks.
// An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// RateLimitConfig bounds POST /identify per client IP. Zero Requests disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	e := envReader{}
	cfg := Server{
		Addr:           e.str("RECONCILE_ADDR", ":8080"),
		RequestTimeout: e.duration("REQUEST_TIMEOUT", 30*time.Second),
		Log: LogConfig{
			Level:  strings.ToLower(e.str("LOG_LEVEL", "info")),
			Format: strings.ToLower(e.str("LOG_FORMAT", "json")),
		},
		Database: DatabaseConfig{
			Dialect:      strings.ToLower(e.str("DB_DIALECT", "sqlite")),
			Storage:      e.str("DB_STORAGE", "./contacts.db"),
			URL:          e.str("DATABASE_URL", ""),
			MaxOpenConns: e.int("DB_MAX_OPEN_CONNS", 0),
		},
		Reconcile: ReconcileConfig{
			Timeout:    e.duration("RECONCILE_TIMEOUT", 5*time.Second),
			MaxRetries: e.int("RECONCILE_MAX_RETRIES", 5),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.int("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.int("REDIS_MIN_IDLE_CONNS", 0),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Lock: LockConfig{
			TTL:  e.duration("LOCK_TTL", 10*time.Second),
			Wait: e.duration("LOCK_WAIT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Requests: e.int("RATE_LIMIT_REQUESTS", 0),
			Window:   e.duration("RATE_LIMIT_WINDOW", time.Minute),
		},
		CORSOrigins: e.list("CORS_ALLOWED_ORIGINS", "*"),
	}
	if e.err != nil {
		return Server{}, e.err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (s Server) Validate() error {
	if err := s.Database.Validate(); err != nil {
		return err
	}
	switch s.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", s.Log.Format)
	}
	if s.Reconcile.MaxRetries < 0 {
		return fmt.Errorf("RECONCILE_MAX_RETRIES must not be negative")
	}
	if s.RateLimit.Requests < 0 || (s.RateLimit.Requests > 0 && s.RateLimit.Window <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative and needs a positive RATE_LIMIT_WINDOW")
	}
	return nil
}

// Validate checks the dialect and that Postgres has somewhere to connect.
func (d DatabaseConfig) Validate() error {
	switch d.Dialect {
	case "sqlite", "memory":
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DIALECT=postgres")
		}
	default:
		return fmt.Errorf("DB_DIALECT must be sqlite, postgres or memory, got %q", d.Dialect)
	}
	return nil
}

// envReader keeps the first parse failure so FromEnv can report it once.
type envReader struct {
	err error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// list splits a comma-separated value. "none" yields an empty list.
func (e *envReader) list(key, def string) []string {
	raw := e.str(key, def)
	if strings.EqualFold(raw, "none") {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (e *envReader) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil && e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
	return v
}
