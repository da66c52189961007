package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// AllowAnonymous lets requests without usable credentials through the
	// middleware as anonymous instead of 401. Off by default; every
	// deployment that wants open endpoints says so explicitly.
	AllowAnonymous bool

	TrustProxy   bool
	MaxBodyBytes int64

	// CookiesEnabled turns on the browser transport: the refresh token and
	// a CSRF token travel as cookies instead of the response body.
	CookiesEnabled bool

	RefreshCookieName string
	AccessCookieName  string
	CSRFCookieName    string
	CSRFHeaderName    string

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		AllowAnonymous: envBool("RELAY_AUTH_ALLOW_ANONYMOUS", false),
		TrustProxy:     envBool("RELAY_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("RELAY_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB

		CookiesEnabled:    envBool("RELAY_AUTH_COOKIES_ENABLED", true),
		RefreshCookieName: envString("RELAY_AUTH_REFRESH_COOKIE", "relay_refresh"),
		AccessCookieName:  envString("RELAY_AUTH_ACCESS_COOKIE", "relay_access"),
		CSRFCookieName:    envString("RELAY_AUTH_CSRF_COOKIE", "relay_csrf"),
		CSRFHeaderName:    envString("RELAY_AUTH_CSRF_HEADER", "X-Relay-CSRF"),

		CookiePath:     envString("RELAY_AUTH_COOKIE_PATH", "/"),
		CookieDomain:   envString("RELAY_AUTH_COOKIE_DOMAIN", ""),
		CookieSecure:   envBool("RELAY_AUTH_COOKIE_SECURE", true),
		CookieSameSite: parseSameSite(os.Getenv("RELAY_AUTH_COOKIE_SAMESITE")),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
