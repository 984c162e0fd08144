// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, database paths, partner credential provisioning, authentication
// mode, replay-window and idempotency settings, rate limiting, and
// observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Authentication modes accepted in AUTH_MODE. They decide how bearer tokens
// presented by partners are turned into user identities.
const (
	// AuthModeVerify validates the token signature against TOKEN_SECRET
	// before trusting any claim. This is the default and the only mode
	// suitable for production.
	AuthModeVerify = "verify"
	// AuthModeTrustedIssuer extracts claims without verifying the token
	// signature. Only valid when an upstream gateway has already verified
	// the token; enabling it is logged loudly at startup.
	AuthModeTrustedIssuer = "trusted-issuer"
	// AuthModeBypass skips token handling entirely and impersonates a fixed
	// development identity. Refused outside debug mode.
	AuthModeBypass = "bypass"
)

// AccessCredential is a provisioned partner AK/SK pair scoped to a tenant.
// Credentials are read-only from the gateway's perspective; provisioning
// happens out of band.
type AccessCredential struct {
	TenantID  string
	AccessKey string
	SecretKey string
}

// Agent describes an entry of the read-only agent directory exposed on
// GET /agents.
type Agent struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "northbound-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig groups the request-authentication settings.
type AuthConfig struct {
	Mode            string             // verify | trusted-issuer | bypass
	TokenSecret     string             // HS256 issuer secret (required in verify mode)
	SignatureWindow time.Duration      // max |now - X-Timestamp| tolerated
	DefaultTenant   string             // fallback when user→tenant row is absent
	BypassUserID    string             // identity used in bypass mode
	BypassTenantID  string             // tenant used in bypass mode
	Credentials     []AccessCredential // provisioned partner AK/SK pairs
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

	// App
	DBPath string  // SQLite path
	Agents []Agent // provisioned agent directory

	// Authentication
	Auth AuthConfig

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
	creds, err := parseCredentials(getenv("PARTNER_CREDENTIALS", ""))
	if err != nil {
		return Config{}, err
	}
	agents, err := parseAgents(getenv("AGENTS", ""))
	if err != nil {
		return Config{}, err
	}

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

		// App
		DBPath: getenv("DB_PATH", "northbound.db"),
		Agents: agents,

		// Authentication
		Auth: AuthConfig{
			Mode:            strings.ToLower(getenv("AUTH_MODE", AuthModeVerify)),
			TokenSecret:     getenv("TOKEN_SECRET", ""),
			SignatureWindow: getdur("SIGNATURE_WINDOW", 300*time.Second),
			DefaultTenant:   getenv("DEFAULT_TENANT", "default"),
			BypassUserID:    getenv("BYPASS_USER_ID", "dev-user"),
			BypassTenantID:  getenv("BYPASS_TENANT_ID", "dev-tenant"),
			Credentials:     creds,
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
			ServiceName: getenv("OTEL_SERVICE_NAME", "northbound-gateway"),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	switch cfg.Auth.Mode {
	case AuthModeVerify:
		if strings.TrimSpace(cfg.Auth.TokenSecret) == "" {
			return cfg, errors.New("TOKEN_SECRET is required when AUTH_MODE=verify")
		}
	case AuthModeTrustedIssuer:
	case AuthModeBypass:
		if cfg.GinMode != "debug" {
			return cfg, errors.New("AUTH_MODE=bypass requires GIN_MODE=debug")
		}
	default:
		return cfg, errors.New("AUTH_MODE must be one of: verify, trusted-issuer, bypass")
	}
	if cfg.Auth.SignatureWindow <= 0 {
		return cfg, errors.New("SIGNATURE_WINDOW must be > 0")
	}
	if strings.TrimSpace(cfg.Auth.DefaultTenant) == "" {
		return cfg, errors.New("DEFAULT_TENANT must not be empty")
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

// parseCredentials parses PARTNER_CREDENTIALS, a comma-separated list of
// tenant:access_key:secret_key triples, e.g.
//
//	PARTNER_CREDENTIALS="acme:ak1:s3cr3t,globex:ak2:hunter2"
//
// Access keys must be unique across tenants since the verifier resolves the
// tenant from the presented key.
func parseCredentials(raw string) ([]AccessCredential, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var out []AccessCredential
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("PARTNER_CREDENTIALS entry %q must be tenant:access_key:secret_key", entry)
		}
		if _, dup := seen[parts[1]]; dup {
			return nil, fmt.Errorf("PARTNER_CREDENTIALS access key %q provisioned twice", parts[1])
		}
		seen[parts[1]] = struct{}{}
		out = append(out, AccessCredential{TenantID: parts[0], AccessKey: parts[1], SecretKey: parts[2]})
	}
	return out, nil
}

// parseAgents parses AGENTS, a comma-separated list of code:name pairs, e.g.
//
//	AGENTS="support:Support Copilot,sales:Sales Assistant"
func parseAgents(raw string) ([]Agent, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []Agent
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("AGENTS entry %q must be code:name", entry)
		}
		out = append(out, Agent{Code: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1])})
	}
	return out, nil
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
