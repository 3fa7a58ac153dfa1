// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// server, logging, storage, the moderation engine (quota, reminders, owner and
// destination channel), outbound delivery, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "postgate")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the gorm dialector and its connection target.
type DatabaseConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // Postgres DSN
}

// EngineConfig holds the moderation engine knobs.
type EngineConfig struct {
	OwnerID          int64          // OWNER_ID, the single owner account
	DefaultChannel   string         // CHANNEL_ID, seeded destination
	DailyPostLimit   int            // submissions per local day for free users
	QuotaLocation    *time.Location // local midnight boundary
	PublishTimeout   time.Duration  // bound on a single publish call
	UserRemindAfter  time.Duration
	AdminRemindAfter time.Duration
	ReminderInterval time.Duration
	ReminderDelay    time.Duration // initial delay before the first sweep
	NotifyTimeout    time.Duration // per-recipient bound during sweeps
	UsersPageSize    int
	RenewContact     string // RENEW_CONTACT, appended to expiry notices
}

// RabbitMQConfig configures the outbound broker. An empty URL selects the
// log-only backend.
type RabbitMQConfig struct {
	URL             string
	PublishQueue    string
	NotifyQueue     string
	QueueDurable    bool
	QueueAutoDelete bool
	PrefetchCount   int
	PublishRPS      float64 // outbound throttle toward the channel transport
	MemoryBacklog   int     // per-queue cap of the in-process backend
}

// MembershipConfig configures the channel-membership gate. An empty URL
// disables it.
type MembershipConfig struct {
	URL      string        // MEMBERSHIP_URL, front-end membership endpoint
	Timeout  time.Duration // per lookup
	CacheTTL time.Duration // how long a positive answer is trusted
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

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	DB         DatabaseConfig
	Engine     EngineConfig
	MQ         RabbitMQConfig
	Membership MembershipConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DatabaseConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "postgate.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		Engine: EngineConfig{
			OwnerID:          getint64("OWNER_ID", 0),
			DefaultChannel:   strings.TrimSpace(getenv("CHANNEL_ID", "")),
			DailyPostLimit:   getint("DAILY_POST_LIMIT", 30),
			PublishTimeout:   getdur("PUBLISH_TIMEOUT", 10*time.Second),
			UserRemindAfter:  getdur("USER_REMINDER_AFTER", 24*time.Hour),
			AdminRemindAfter: getdur("ADMIN_REMINDER_AFTER", 12*time.Hour),
			ReminderInterval: getdur("REMINDER_INTERVAL", 15*time.Minute),
			ReminderDelay:    getdur("REMINDER_INITIAL_DELAY", 5*time.Second),
			NotifyTimeout:    getdur("NOTIFY_TIMEOUT", 5*time.Second),
			UsersPageSize:    getint("USERS_PAGE_SIZE", 12),
			RenewContact:     strings.TrimSpace(getenv("RENEW_CONTACT", "")),
		},

		MQ: RabbitMQConfig{
			URL:             getenv("RABBITMQ_URL", ""),
			PublishQueue:    getenv("PUBLISH_QUEUE", "postgate.publications"),
			NotifyQueue:     getenv("NOTIFY_QUEUE", "postgate.notifications"),
			QueueDurable:    getbool("RABBITMQ_QUEUE_DURABLE", true),
			QueueAutoDelete: getbool("RABBITMQ_QUEUE_AUTO_DELETE", false),
			PrefetchCount:   getint("RABBITMQ_PREFETCH", 0),
			PublishRPS:      getfloat("PUBLISH_RPS", 20),
			MemoryBacklog:   getint("MQ_MEMORY_BACKLOG", 1000),
		},

		Membership: MembershipConfig{
			URL:      strings.TrimSpace(getenv("MEMBERSHIP_URL", "")),
			Timeout:  getdur("MEMBERSHIP_TIMEOUT", 3*time.Second),
			CacheTTL: getdur("MEMBERSHIP_CACHE_TTL", 5*time.Minute),
		},

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

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "postgate"),
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
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	loc, err := time.LoadLocation(getenv("QUOTA_TIMEZONE", "Local"))
	if err != nil {
		return cfg, errors.New("QUOTA_TIMEZONE must be a valid IANA time zone")
	}
	cfg.Engine.QuotaLocation = loc

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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Engine.OwnerID < 0 {
		return cfg, errors.New("OWNER_ID must be a positive account id")
	}
	if cfg.Engine.DailyPostLimit < 1 {
		return cfg, errors.New("DAILY_POST_LIMIT must be >= 1")
	}
	if cfg.Engine.PublishTimeout <= 0 || cfg.Engine.NotifyTimeout <= 0 {
		return cfg, errors.New("PUBLISH_TIMEOUT and NOTIFY_TIMEOUT must be > 0")
	}
	if cfg.Engine.UserRemindAfter <= 0 || cfg.Engine.AdminRemindAfter <= 0 {
		return cfg, errors.New("reminder thresholds must be > 0")
	}
	if cfg.Engine.ReminderInterval <= 0 {
		return cfg, errors.New("REMINDER_INTERVAL must be > 0")
	}
	if cfg.Engine.ReminderDelay < 0 {
		return cfg, errors.New("REMINDER_INITIAL_DELAY must be >= 0")
	}
	if cfg.Engine.UsersPageSize < 1 {
		return cfg, errors.New("USERS_PAGE_SIZE must be >= 1")
	}
	if cfg.MQ.PublishRPS < 0 {
		return cfg, errors.New("PUBLISH_RPS must be >= 0")
	}
	if cfg.MQ.MemoryBacklog < 1 {
		return cfg, errors.New("MQ_MEMORY_BACKLOG must be >= 1")
	}
	if cfg.Membership.URL != "" {
		if !strings.HasPrefix(cfg.Membership.URL, "http://") && !strings.HasPrefix(cfg.Membership.URL, "https://") {
			return cfg, errors.New("MEMBERSHIP_URL must be an http(s) URL")
		}
		if cfg.Membership.Timeout <= 0 || cfg.Membership.CacheTTL < 0 {
			return cfg, errors.New("MEMBERSHIP_TIMEOUT must be > 0 and MEMBERSHIP_CACHE_TTL >= 0")
		}
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
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
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
