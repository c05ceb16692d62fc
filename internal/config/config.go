package config

import (
	"os"
	"strconv"
)

type Config struct {
	HTTPAddr string

	StoreBackend string // "postgres" or "memory"
	DBUser       string
	DBPassword   string
	DBHost       string
	DBPort       string
	DBName       string

	RedisAddr string
	RedisPass string

	KafkaBrokers string

	AuthEnabled bool
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	RequireVerifiedDocs bool
}

func Load() *Config {
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		StoreBackend: getEnv("STORE_BACKEND", "postgres"),
		DBUser:       getEnv("DB_USER", "escrow"),
		DBPassword:   getEnv("DB_PASSWORD", "escrow"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBName:       getEnv("DB_NAME", "escrow"),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisPass: getEnv("REDIS_PASS", ""),

		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),

		AuthEnabled: getEnvBool("AUTH_ENABLED", false),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "escrow-service"),
		JWTAudience: getEnv("JWT_AUDIENCE", "escrow-clients"),

		RequireVerifiedDocs: getEnvBool("REQUIRE_VERIFIED_DOCS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
