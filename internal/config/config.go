package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	HTTPAddr string

	// Tax authority endpoints and credentials.
	AuthorityBaseURL   string
	AuthorityCAFAPIURL string
	CertSubject        string
	CertKeyRef         string

	LogLevel  string
	LogFormat string

	// DefaultCompanyID, when set, gets the standard tax catalog
	// seeded on startup.
	DefaultCompanyID int64

	RateLimit RateLimitConfig
	SMTP      SMTPConfig
}

// RateLimitConfig gates document emission through redis token buckets.
type RateLimitConfig struct {
	Enabled           bool
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	EmitRate          float64
	EmitBurst         int
	CancelLockTTLSecs int64
}

// SMTPConfig is the outbound mail relay used for document delivery.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "dte"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "dte"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 25)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		AuthorityBaseURL:   getenv("AUTHORITY_BASE_URL", "https://maullin.sii.cl"),
		AuthorityCAFAPIURL: getenv("AUTHORITY_CAF_API_URL", "https://apicaf.cl/api"),
		CertSubject:        getenv("CERT_SUBJECT", ""),
		CertKeyRef:         getenv("CERT_KEY_REF", ""),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		DefaultCompanyID: getenvInt64("DEFAULT_COMPANY_ID", 0),

		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:         getenv("RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword:     getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:           int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			EmitRate:          getenvFloat64("RATE_LIMIT_EMIT_RATE", 10),
			EmitBurst:         int(getenvInt64("RATE_LIMIT_EMIT_BURST", 20)),
			CancelLockTTLSecs: getenvInt64("RATE_LIMIT_CANCEL_LOCK_TTL", 30),
		},

		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getenv("SMTP_PORT", "587"),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", ""),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat64(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
