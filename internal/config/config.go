package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime settings, sourced from the environment with an
// optional .env file for local development.
type Config struct {
	ListenAddr  string
	DatabaseDSN string
	RedisAddr   string

	StagingDir     string
	MaxUploadBytes int64

	EngineCommand string
	EngineScript  string
	EngineTimeout time.Duration

	JWTSecret   string
	JWTAudience string
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=tailorfit port=5432 sslmode=disable"),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		StagingDir:     getEnv("STAGING_DIR", "uploads"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		EngineCommand:  getEnv("ENGINE_COMMAND", "python3"),
		EngineScript:   getEnv("ENGINE_SCRIPT", "scripts/body_measurement.py"),
		EngineTimeout:  getEnvDuration("ENGINE_TIMEOUT", 30*time.Second),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
