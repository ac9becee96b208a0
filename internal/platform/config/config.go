package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr                string
	DatabaseURL         string
	JWTSecret           string
	DataEncryptionKey   string
	DataEncryptionKeyV  int
	PseudonymSalt       string
	Environment         string
	SeedAdminEmail      string
	SeedAdminPassword   string
	EmailFrom           string
	EmailEnabled        bool
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPassword        string
	SMTPUseTLS          bool
	RedisAddr           string
	RedisPassword       string
	AlertEventChannel   string
	RunMigrations       bool
	RunSeed             bool
	MaxBodyBytes        int64
	RateLimitPerMinute  int
	RetentionInterval   time.Duration
	RetentionBatchSize  int
	AnomalySweepEvery   time.Duration
	BulkAccessThreshold int
	ExportThreshold     int
	DistinctIPThreshold int
	FailedLoginLimit    int
	IPWindowMinutes     int
	MetricsEnabled      bool
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:                getEnv("APP_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		DataEncryptionKey:   getEnv("DATA_ENCRYPTION_KEY", ""),
		DataEncryptionKeyV:  getEnvInt("DATA_ENCRYPTION_KEY_VERSION", 1),
		PseudonymSalt:       getEnv("PSEUDONYM_SALT", ""),
		Environment:         getEnv("APP_ENV", "development"),
		SeedAdminEmail:      getEnv("SEED_ADMIN_EMAIL", ""),
		SeedAdminPassword:   getEnv("SEED_ADMIN_PASSWORD", ""),
		EmailFrom:           getEnv("EMAIL_FROM", "no-reply@example.com"),
		EmailEnabled:        getEnvBool("EMAIL_ENABLED", false),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnvInt("SMTP_PORT", 587),
		SMTPUser:            getEnv("SMTP_USER", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SMTPUseTLS:          getEnvBool("SMTP_USE_TLS", true),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		AlertEventChannel:   getEnv("ALERT_EVENT_CHANNEL", "compliance.alerts"),
		RunMigrations:       getEnvBool("RUN_MIGRATIONS", true),
		RunSeed:             getEnvBool("RUN_SEED", true),
		MaxBodyBytes:        int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		RetentionInterval:   getEnvDuration("RETENTION_INTERVAL", 24*time.Hour),
		RetentionBatchSize:  getEnvInt("RETENTION_BATCH_SIZE", 5000),
		AnomalySweepEvery:   getEnvDuration("ANOMALY_SWEEP_INTERVAL", time.Hour),
		BulkAccessThreshold: getEnvInt("ANOMALY_BULK_ACCESS_THRESHOLD", 50),
		ExportThreshold:     getEnvInt("ANOMALY_EXPORT_THRESHOLD", 5),
		DistinctIPThreshold: getEnvInt("ANOMALY_DISTINCT_IP_THRESHOLD", 3),
		FailedLoginLimit:    getEnvInt("ANOMALY_FAILED_LOGIN_LIMIT", 5),
		IPWindowMinutes:     getEnvInt("ANOMALY_IP_WINDOW_MINUTES", 15),
		MetricsEnabled:      getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
