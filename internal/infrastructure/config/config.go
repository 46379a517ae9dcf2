package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App          AppSettings
	HTTP         HTTPSettings
	Auth         AuthSettings
	Log          LogSettings
	Database     DatabaseSettings
	Audit        AuditSettings
	Sequence     SequenceSettings
	Signing      SigningSettings
	Composer     ComposerSettings
	Certificates CertificateSettings
	DGII         DGIISettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RequestTimeout bounds one issuance or transmission request.
	RequestTimeout time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	ClockSkew   time.Duration
	BypassPaths []string
	// TenantClaim names the JWT claim that must match the tenant in the path.
	TenantClaim string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	URL             string
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
}

type SequenceSettings struct {
	// CounterScope is "shared" (E and B numbers draw from one counter) or "per_mode".
	CounterScope string
}

type SigningSettings struct {
	Workers          int
	IdentityCacheTTL time.Duration
	// Selector names the element that receives the signature; empty signs the root.
	Selector string
}

type ComposerSettings struct {
	VerificationURL string
	TimeZone        string
}

type CertificateSettings struct {
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// S3Enabled reports whether containers may live in object storage.
func (c CertificateSettings) S3Enabled() bool {
	return c.S3Bucket != ""
}

type DGIISettings struct {
	Enabled            bool
	BaseURL            string
	APITimeout         time.Duration
	MaxConcurrent      int
	BreakerMaxFailures int
	BreakerFailureRate float64
	BreakerCooldown    time.Duration
	TokenSkew          time.Duration
}

// Load resolves the application configuration from environment variables.
// A .env file is read first when present; real environment variables win.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ecfcore"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("HTTP_REQUEST_TIMEOUT", 45*time.Second),
		},
		Auth: AuthSettings{
			Enabled:     getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:   strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:   strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths: getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/api/v1/health"}),
			TenantClaim: getEnv("AUTH_TENANT_CLAIM", "tenant_id"),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			URL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ecfcore"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			MigrateOnStart:  getEnvAsBool("DB_MIGRATE_ON_START", true),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", false),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", true),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		Sequence: SequenceSettings{
			CounterScope: getEnv("SEQUENCE_COUNTER_SCOPE", "shared"),
		},
		Signing: SigningSettings{
			Workers:          getEnvAsInt("SIGNING_WORKERS", 4),
			IdentityCacheTTL: getEnvAsDuration("SIGNING_IDENTITY_CACHE_TTL", 15*time.Minute),
			Selector:         strings.TrimSpace(os.Getenv("SIGNING_SELECTOR")),
		},
		Composer: ComposerSettings{
			VerificationURL: strings.TrimSpace(os.Getenv("ECF_VERIFICATION_URL")),
			TimeZone:        getEnv("ECF_TIME_ZONE", "America/Santo_Domingo"),
		},
		Certificates: CertificateSettings{
			S3Bucket:       strings.TrimSpace(os.Getenv("CERT_S3_BUCKET")),
			S3Prefix:       strings.TrimSpace(os.Getenv("CERT_S3_PREFIX")),
			S3Region:       getEnv("CERT_S3_REGION", "us-east-1"),
			S3Endpoint:     strings.TrimSpace(os.Getenv("CERT_S3_ENDPOINT")),
			S3AccessKey:    strings.TrimSpace(os.Getenv("CERT_S3_ACCESS_KEY")),
			S3SecretKey:    strings.TrimSpace(os.Getenv("CERT_S3_SECRET_KEY")),
			S3UsePathStyle: getEnvAsBool("CERT_S3_USE_PATH_STYLE", false),
		},
		DGII: DGIISettings{
			Enabled:            getEnvAsBool("DGII_ENABLED", false),
			BaseURL:            strings.TrimSpace(getEnv("DGII_BASE_URL", "https://ecf.dgii.gov.do/testecf")),
			APITimeout:         getEnvAsDuration("DGII_API_TIMEOUT", 30*time.Second),
			MaxConcurrent:      getEnvAsInt("DGII_MAX_CONCURRENT", 20),
			BreakerMaxFailures: getEnvAsInt("DGII_BREAKER_MAX_FAILURES", 5),
			BreakerFailureRate: getEnvAsFloat("DGII_BREAKER_FAILURE_RATE", 0.5),
			BreakerCooldown:    getEnvAsDuration("DGII_BREAKER_COOLDOWN", 30*time.Second),
			TokenSkew:          getEnvAsDuration("DGII_TOKEN_SKEW", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg AppConfig) validate() error {
	switch cfg.Sequence.CounterScope {
	case "shared", "per_mode":
	default:
		return fmt.Errorf("invalid config: SEQUENCE_COUNTER_SCOPE must be 'shared' or 'per_mode', got %q", cfg.Sequence.CounterScope)
	}

	if cfg.Signing.Workers <= 0 {
		return errors.New("invalid config: SIGNING_WORKERS must be greater than 0")
	}

	if _, err := time.LoadLocation(cfg.Composer.TimeZone); err != nil {
		return fmt.Errorf("invalid config: ECF_TIME_ZONE %q: %w", cfg.Composer.TimeZone, err)
	}

	if cfg.Certificates.S3Bucket == "" && cfg.Certificates.S3Endpoint != "" {
		return errors.New("invalid config: CERT_S3_BUCKET is required when CERT_S3_ENDPOINT is set")
	}

	if cfg.DGII.Enabled {
		if cfg.DGII.BaseURL == "" {
			return errors.New("invalid config: DGII_BASE_URL is required when DGII_ENABLED=true")
		}
		if cfg.DGII.MaxConcurrent <= 0 {
			return errors.New("invalid config: DGII_MAX_CONCURRENT must be greater than 0")
		}
		if cfg.DGII.BreakerFailureRate <= 0 || cfg.DGII.BreakerFailureRate > 1 {
			return errors.New("invalid config: DGII_BREAKER_FAILURE_RATE must be in (0, 1]")
		}
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}
	return nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

// Location returns the configured time zone. Load has already validated it.
func (c ComposerSettings) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
