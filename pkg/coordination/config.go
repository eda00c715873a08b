package coordination

import (
	"os"
	"strconv"
	"time"
)

// Config holds Redis connection configuration
type Config struct {
	// URL takes precedence over the discrete fields when set,
	// e.g. redis://:password@localhost:6379/0
	URL string

	Host     string
	Port     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() Config {
	db, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	poolSize, _ := strconv.Atoi(getEnvOrDefault("REDIS_POOL_SIZE", "10"))

	return Config{
		URL:          os.Getenv("REDIS_URL"),
		Host:         getEnvOrDefault("REDIS_HOST", "localhost"),
		Port:         getEnvOrDefault("REDIS_PORT", "6379"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		PingTimeout:  10 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
