// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, credential verification, the realtime gateway, rate
// limiting, and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "consult-chat")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds the bearer credential verification settings.
type AuthConfig struct {
	JWTSecret string        // JWT_SECRET (required, HMAC key)
	Issuer    string        // JWT_ISSUER (optional, checked when set)
	Leeway    time.Duration // JWT_LEEWAY clock skew tolerance
}

// RedisConfig enables the revocation list and the cross-node broker.
type RedisConfig struct {
	URL    string // REDIS_URL, empty disables Redis entirely
	Prefix string // REDIS_PREFIX key namespace
}

// RealtimeConfig tunes the WebSocket session gateway.
type RealtimeConfig struct {
	AuthTimeout      time.Duration // WS_AUTH_TIMEOUT: window to present a credential
	PingPeriod       time.Duration // WS_PING_PERIOD
	PongWait         time.Duration // WS_PONG_WAIT: must exceed PingPeriod
	WriteWait        time.Duration // WS_WRITE_WAIT
	SendBuffer       int           // WS_SEND_BUFFER: outbound frames queued per session
	MaxFrameBytes    int64         // WS_MAX_FRAME_BYTES
	ReverifyInterval time.Duration // WS_REVERIFY_INTERVAL, 0 disables periodic checks
	FrameRPS         float64       // WS_FRAME_RPS inbound frames per second
	FrameBurst       int           // WS_FRAME_BURST
	AllowedOrigins   []string      // WS_ALLOWED_ORIGINS, empty allows any origin
	DispatchQueue    int           // DISPATCH_QUEUE pending fan-out jobs
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path (sqlite driver)
	DatabaseURL string // Postgres DSN (postgres driver)

	// Ledger
	RoomLockTimeout  time.Duration // bounded wait for a room's serialization point
	MaxBodyRunes     int           // message body limit after normalization
	HistoryPageLimit int           // max messages returned per history page

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Auth     AuthConfig
	Redis    RedisConfig
	Realtime RealtimeConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "consult.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Ledger
		RoomLockTimeout:  getdur("ROOM_LOCK_TIMEOUT", 2*time.Second),
		MaxBodyRunes:     getint("MAX_BODY_RUNES", 4000),
		HistoryPageLimit: getint("HISTORY_PAGE_LIMIT", 200),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			Issuer:    getenv("JWT_ISSUER", ""),
			Leeway:    getdur("JWT_LEEWAY", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:    getenv("REDIS_URL", ""),
			Prefix: getenv("REDIS_PREFIX", "consult"),
		},
		Realtime: RealtimeConfig{
			AuthTimeout:      getdur("WS_AUTH_TIMEOUT", 5*time.Second),
			PingPeriod:       getdur("WS_PING_PERIOD", 25*time.Second),
			PongWait:         getdur("WS_PONG_WAIT", 60*time.Second),
			WriteWait:        getdur("WS_WRITE_WAIT", 10*time.Second),
			SendBuffer:       getint("WS_SEND_BUFFER", 64),
			MaxFrameBytes:    int64(getint("WS_MAX_FRAME_BYTES", 16<<10)),
			ReverifyInterval: getdur("WS_REVERIFY_INTERVAL", time.Minute),
			FrameRPS:         getfloat("WS_FRAME_RPS", 10),
			FrameBurst:       getint("WS_FRAME_BURST", 20),
			AllowedOrigins:   splitCSV(getenv("WS_ALLOWED_ORIGINS", "")),
			DispatchQueue:    getint("DISPATCH_QUEUE", 1024),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "consult-chat"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RoomLockTimeout <= 0 {
		return cfg, errors.New("ROOM_LOCK_TIMEOUT must be > 0")
	}
	if cfg.MaxBodyRunes < 1 {
		return cfg, errors.New("MAX_BODY_RUNES must be >= 1")
	}
	if cfg.HistoryPageLimit < 1 {
		return cfg, errors.New("HISTORY_PAGE_LIMIT must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.Leeway < 0 {
		return cfg, errors.New("JWT_LEEWAY must be >= 0")
	}
	rt := cfg.Realtime
	if rt.AuthTimeout <= 0 || rt.PingPeriod <= 0 || rt.PongWait <= 0 || rt.WriteWait <= 0 {
		return cfg, errors.New("WS_* timeouts must be positive durations")
	}
	if rt.PingPeriod >= rt.PongWait {
		return cfg, errors.New("WS_PING_PERIOD must be shorter than WS_PONG_WAIT")
	}
	if rt.SendBuffer < 1 || rt.DispatchQueue < 1 {
		return cfg, errors.New("WS_SEND_BUFFER and DISPATCH_QUEUE must be >= 1")
	}
	if rt.MaxFrameBytes < 512 {
		return cfg, errors.New("WS_MAX_FRAME_BYTES must be >= 512")
	}
	if rt.ReverifyInterval < 0 {
		return cfg, errors.New("WS_REVERIFY_INTERVAL must be >= 0")
	}
	if rt.FrameRPS < 0 || rt.FrameBurst < 1 {
		return cfg, errors.New("WS_FRAME_RPS must be >= 0 and WS_FRAME_BURST >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
