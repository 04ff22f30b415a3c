package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Storage
	StorageType      string
	DataSourceName   string
	LocalStoragePath string
	S3BucketName     string
	RedisURL         string
	RedisKeyPrefix   string

	JWTSecret string

	SaveInterval      time.Duration
	StoreTimeout      time.Duration
	MaxHttpBufferSize int64
	CORSOrigins       []string
}

func Load() Config {
	return Config{
		StorageType:       strings.ToLower(getenv("STORAGE_TYPE", "memory")),
		DataSourceName:    getenv("DATA_SOURCE_NAME", "cowrite.db"),
		LocalStoragePath:  getenv("LOCAL_STORAGE_PATH", "./data/documents"),
		S3BucketName:      getenv("S3_BUCKET_NAME", ""),
		RedisURL:          getenv("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:    getenv("REDIS_KEY_PREFIX", "cowrite"),
		JWTSecret:         getenv("JWT_SECRET", ""),
		SaveInterval:      getenvDuration("SAVE_INTERVAL", 2*time.Second),
		StoreTimeout:      getenvDuration("STORE_TIMEOUT", 10*time.Second),
		MaxHttpBufferSize: int64(getenvInt("MAX_HTTP_BUFFER_SIZE", 5000000)),
		CORSOrigins:       getenvList("CORS_ORIGINS"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
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

// getenvDuration accepts Go durations ("1500ms") or whole seconds ("2").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func getenvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
