package config

import (
	"os"
	"strconv"
	"time"
)

type LinkCodeConfig struct {
	CodeLength           int
	CodeTimeout          time.Duration
	MaxGenerationPerUser int
	RateLimitWindow      time.Duration
	HashIterations       int
}

func LoadLinkCodeConfig() *LinkCodeConfig {
	return &LinkCodeConfig{
		CodeLength:           getEnvAsInt("LINK_CODE_LENGTH", 8),
		CodeTimeout:          getEnvAsDuration("LINK_CODE_TIMEOUT", 24*time.Hour),
		MaxGenerationPerUser: getEnvAsInt("LINK_MAX_GEN_PER_USER", 5),
		RateLimitWindow:      getEnvAsDuration("LINK_RATE_LIMIT_WINDOW", 1*time.Hour),
		HashIterations:       getEnvAsInt("LINK_HASH_ITERATIONS", 10000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
