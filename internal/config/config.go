package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	AuthJWTSecret string
	AdminUserIDs  []string

	LogLevel  string
	LogFormat string

	OTelEnabled       bool
	OTLPEndpoint      string
	OTelProtocol      string
	OTelSamplingRatio float64

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
	DBConnMaxIdleTime int
	DBSlowQuery       time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Webhook WebhookConfig

	PlatformFeePercent  string
	OutboxRelayInterval time.Duration
	OutboxMaxAttempts   int
}

// WebhookConfig carries the shared provider secret and the ingress limits.
type WebhookConfig struct {
	Secret          string
	ProviderSecrets map[string]string
	RateLimitRPS    float64
	RateLimitBurst  int
}

// SecretFor returns the provider override when configured, the shared secret otherwise.
func (w WebhookConfig) SecretFor(provider string) string {
	if secret, ok := w.ProviderSecrets[strings.ToUpper(strings.TrimSpace(provider))]; ok && secret != "" {
		return secret
	}
	return w.Secret
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	providerSecrets := map[string]string{}
	if secret := strings.TrimSpace(getenv("WEBHOOK_SECRET_TAZAPAY", "")); secret != "" {
		providerSecrets["TAZAPAY"] = secret
	}
	if secret := strings.TrimSpace(getenv("WEBHOOK_SECRET_MOCK", "")); secret != "" {
		providerSecrets["MOCK"] = secret
	}

	otelProtocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		otelProtocol = traces
	}

	return Config{
		AppName:       getenv("APP_SERVICE", "escrow"),
		AppVersion:    getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:   getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		AdminUserIDs:  splitList(getenv("ADMIN_USER_IDS", "")),

		LogLevel:  strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat: strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),

		OTelEnabled:       getenvBool("OTEL_ENABLED", true),
		OTLPEndpoint:      strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
		OTelProtocol:      strings.ToLower(strings.TrimSpace(otelProtocol)),
		OTelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "escrow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Webhook: WebhookConfig{
			Secret:          strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),
			ProviderSecrets: providerSecrets,
			RateLimitRPS:    getenvFloat("WEBHOOK_RATE_LIMIT_RPS", 20),
			RateLimitBurst:  getenvInt("WEBHOOK_RATE_LIMIT_BURST", 40),
		},

		PlatformFeePercent:  getenv("PLATFORM_FEE_PERCENT", "0"),
		OutboxRelayInterval: getenvDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:   getenvInt("OUTBOX_MAX_ATTEMPTS", 20),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
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

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
