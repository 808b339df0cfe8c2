// Package config loads the server configuration from environment variables.
//
// Unset variables take their defaults. A variable that is set but cannot be
// parsed is an error, reported together with every failed validation rule,
// so a bad deploy fails once with the full list.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the storefront origins allowed to call the API. Empty
// allows any origin.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig controls trace export.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DatabaseConfig selects the persistence driver and its pool sizing.
type DatabaseConfig struct {
	Driver       string // DB_DRIVER: sqlite|mysql
	Path         string // DB_PATH (sqlite file)
	DSN          string // DB_DSN (mysql)
	MaxOpenConns int    // DB_MAX_OPEN_CONNS
	MaxIdleConns int    // DB_MAX_IDLE_CONNS
}

// RetryConfig controls the resilient query executor.
type RetryConfig struct {
	MaxAttempts int           // RETRY_MAX_ATTEMPTS (total attempts, >= 1)
	BaseDelay   time.Duration // RETRY_BASE_DELAY; delay = base * attempt
}

// DealerConfig describes the well-known dealer identity that is the
// counterparty of every negotiation, and the shared key staff clients send.
type DealerConfig struct {
	IdentityID  string // DEALER_IDENTITY_ID
	Name        string // DEALER_NAME
	StaffAPIKey string // STAFF_API_KEY (empty disables staff access)
}

// Config holds all configuration values for the server.
type Config struct {
	Port              string // PORT
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string // trace|debug|info|warn|error
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DB    DatabaseConfig
	Retry RetryConfig

	Dealer          DealerConfig
	MaxMessageRunes int           // MAX_MESSAGE_RUNES
	TypingTTL       time.Duration // TYPING_TTL

	RateRPS   float64 // RATE_RPS, tokens per second per caller and class
	RateBurst int     // RATE_BURST

	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// DefaultDealerIdentityID is the fixed id of the dealer identity record.
const DefaultDealerIdentityID = "00000000-0000-0000-0000-000000000001"

// Load reads the environment, applies defaults and validates the result.
// The returned error joins every problem found.
func Load() (Config, error) {
	var env envReader
	cfg := Config{
		Port:              env.str("PORT", "8080"),
		ReadTimeout:       env.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: env.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      env.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       env.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    env.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           ginMode(env.str("GIN_MODE", "release")),

		LogLevel:       logLevel(env.str("LOG_LEVEL", "info")),
		LogPretty:      env.bool("LOG_PRETTY", false),
		SwaggerEnabled: env.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(env.str("API_BASE_PATH", "/api/v1")),

		DB: DatabaseConfig{
			Driver:       strings.ToLower(env.str("DB_DRIVER", "sqlite")),
			Path:         env.str("DB_PATH", "app.db"),
			DSN:          env.str("DB_DSN", ""),
			MaxOpenConns: env.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: env.int("DB_MAX_IDLE_CONNS", 10),
		},
		Retry: RetryConfig{
			MaxAttempts: env.int("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   env.dur("RETRY_BASE_DELAY", 200*time.Millisecond),
		},

		Dealer: DealerConfig{
			IdentityID:  env.str("DEALER_IDENTITY_ID", DefaultDealerIdentityID),
			Name:        env.str("DEALER_NAME", "Dealer"),
			StaffAPIKey: env.str("STAFF_API_KEY", ""),
		},
		MaxMessageRunes: env.int("MAX_MESSAGE_RUNES", 2000),
		TypingTTL:       env.dur("TYPING_TTL", 4*time.Second),

		RateRPS:   env.float("RATE_RPS", 5.0),
		RateBurst: env.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(env.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: env.bool("ENABLE_HSTS", false),
			HSTSMaxAge: env.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     env.bool("OTEL_ENABLED", false),
			Endpoint:    env.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: env.str("OTEL_SERVICE_NAME", "dealer-negotiation-backend"),
			SampleRatio: env.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	return cfg, errors.Join(append(env.errs, cfg.Validate())...)
}

// Validate checks ranges and cross-field rules.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be one of: trace, debug, info, warn, error", c.LogLevel))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0, "timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "mysql":
		check(strings.TrimSpace(c.DB.DSN) != "", "DB_DSN must not be empty when DB_DRIVER=mysql")
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be one of: sqlite, mysql", c.DB.Driver))
	}
	check(c.DB.MaxOpenConns >= 1 && c.DB.MaxIdleConns >= 0, "DB_MAX_OPEN_CONNS must be >= 1 and DB_MAX_IDLE_CONNS >= 0")
	check(c.Retry.MaxAttempts >= 1, "RETRY_MAX_ATTEMPTS must be >= 1")
	check(c.Retry.BaseDelay >= 0, "RETRY_BASE_DELAY must be >= 0")

	check(strings.TrimSpace(c.Dealer.IdentityID) != "", "DEALER_IDENTITY_ID must not be empty")
	check(strings.TrimSpace(c.Dealer.Name) != "", "DEALER_NAME must not be empty")
	check(c.MaxMessageRunes >= 1, "MAX_MESSAGE_RUNES must be >= 1")
	check(c.TypingTTL > 0, "TYPING_TTL must be > 0")

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errors.Join(errs...)
}

// envReader reads typed variables and remembers the ones it could not parse.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) bad(k, v, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (r *envReader) str(k, def string) string {
	if v, ok := r.lookup(k); ok {
		return v
	}
	return def
}

func (r *envReader) int(k string, def int) int {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.bad(k, v, "integer")
		return def
	}
	return n
}

func (r *envReader) float(k string, def float64) float64 {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.bad(k, v, "number")
		return def
	}
	return f
}

func (r *envReader) bool(k string, def bool) bool {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	r.bad(k, v, "boolean")
	return def
}

func (r *envReader) dur(k string, def time.Duration) time.Duration {
	v, ok := r.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.bad(k, v, "duration")
		return def
	}
	return d
}

// ginMode falls back to release for anything gin would not accept.
func ginMode(m string) string {
	switch m = strings.ToLower(m); m {
	case "debug", "release", "test":
		return m
	}
	return "release"
}

func logLevel(l string) string {
	l = strings.ToLower(l)
	if l == "warning" {
		return "warn"
	}
	return l
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones, except
// for the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
