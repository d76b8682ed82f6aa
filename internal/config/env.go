package config

import (
	"os"
	"strconv"
)

// LoadFromEnv overrides configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("CONTINUITY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if logLevel := os.Getenv("CONTINUITY_LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if mode := os.Getenv("CONTINUITY_STORAGE_MODE"); mode != "" {
		cfg.Backup.StorageMode = mode
	}
	if path := os.Getenv("CONTINUITY_LOCAL_STORAGE_PATH"); path != "" {
		cfg.Backup.LocalPath = path
	}

	if key := os.Getenv("CONTINUITY_S3_ACCESS_KEY"); key != "" {
		cfg.Backup.S3.AccessKey = key
	}
	if secret := os.Getenv("CONTINUITY_S3_SECRET_KEY"); secret != "" {
		cfg.Backup.S3.SecretKey = secret
	}
	if bucket := os.Getenv("CONTINUITY_S3_BUCKET"); bucket != "" {
		cfg.Backup.S3.Bucket = bucket
	}

	if pass := os.Getenv("CONTINUITY_DB_PASSWORD"); pass != "" {
		cfg.Database.Password = pass
	}
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
