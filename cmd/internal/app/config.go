package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string

	// TokenSecret signs access and refresh tokens. Minimum 32 bytes.
	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	// IdleWindow is how long a presence session survives without activity;
	// SweepInterval is how often the sweeper reclaims idle sessions.
	IdleWindow    time.Duration
	SweepInterval time.Duration

	// CORSAllowedOrigins is the browser origin allow-list. Patterns ending
	// in ":*" match any port. Empty disables CORS enforcement.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, RELAY_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and
	// refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("RELAY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("RELAY_LOG_LEVEL", "info"),
		LogFormat: EnvString("RELAY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("RELAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RELAY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("RELAY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("RELAY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("RELAY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("RELAY_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("RELAY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RELAY_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("RELAY_REDIS_ADDR", ""),
		RedisPassword: EnvString("RELAY_REDIS_PASSWORD", ""),

		TokenSecret: EnvString("RELAY_TOKEN_SECRET", ""),
		AccessTTL:   EnvDuration("RELAY_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:  EnvDuration("RELAY_REFRESH_TTL", 30*24*time.Hour),

		IdleWindow:    EnvDuration("RELAY_IDLE_WINDOW", 5*time.Minute),
		SweepInterval: EnvDuration("RELAY_SWEEP_INTERVAL", time.Minute),

		CORSAllowedOrigins:   EnvCSV("RELAY_CORS_ALLOWED_ORIGINS", "http://localhost:*,http://127.0.0.1:*"),
		CORSAllowCredentials: EnvBool("RELAY_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("RELAY_CORS_MAX_AGE_SECONDS", 600),

		ReadinessRequireDB: EnvBool("RELAY_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("RELAY_REQUIRE_TOKEN_HMAC", false),
	}
}
