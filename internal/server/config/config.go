package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string
	DatabaseURL          string
	StoragePath          string
	StagingPath          string
	ThumbWidth           int
	UploadWorkers        int
	MaxFileSize          int64
	StagingTTL           time.Duration
	CleanupInterval      time.Duration
	RateLimitRPS         float64
	RateLimitBurst       int
	UploaderName         string
	UploaderPasswordHash string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first; variables already set win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to read .env file", "error", err)
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", "sqlite://./storage/photos.db"),
		StoragePath:          getEnv("STORAGE_PATH", "./storage/photos"),
		StagingPath:          getEnv("STAGING_PATH", "./storage/staging"),
		ThumbWidth:           getEnvInt("THUMB_WIDTH", 162),
		UploadWorkers:        getEnvInt("UPLOAD_WORKERS", 4),
		MaxFileSize:          getEnvInt64("MAX_FILE_SIZE", 64*1024*1024), // 64MB
		StagingTTL:           getEnvDuration("STAGING_TTL_HOURS", 24*time.Hour),
		CleanupInterval:      getEnvDuration("CLEANUP_INTERVAL_HOURS", 1*time.Hour),
		RateLimitRPS:         getEnvFloat64("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 20),
		UploaderName:         getEnv("UPLOADER_NAME", "uploader"),
		UploaderPasswordHash: os.Getenv("UPLOADER_PASSWORD_HASH"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration reads a number of hours.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if hours, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(hours * float64(time.Hour))
		}
	}
	return fallback
}
