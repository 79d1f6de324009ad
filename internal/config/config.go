// Package config parses the process environment into a typed
// configuration, the way the original service loaded a .env file at
// startup and treated missing required variables as fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full environment-derived configuration shared by the
// apiserver, pull, and worker binaries. Not every binary uses every
// field; each cmd/* main reads only what it needs.
type Config struct {
	AppHost string
	AppPort int

	StorageRoot string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDBIndex  int

	IsDebug bool

	PullSleep              time.Duration
	MaxTasksPerUser        int
	MaxInputArgsMegabytes  int
	FileStoreGraceDuration time.Duration
}

// Load reads a .env file if present (ignored if absent, matching
// dotenv.load_dotenv's best-effort semantics) and then the process
// environment, failing fast on any missing required variable.
func Load() (Config, error) {
	_ = godotenv.Load() // optional: a missing .env file is not fatal

	var cfg Config
	var missing []string

	cfg.AppHost = requireString("APP_HOST", &missing)
	cfg.AppPort = requireInt("APP_PORT", &missing)
	cfg.StorageRoot = requireString("STORAGE_ROOT", &missing)
	cfg.RedisHost = requireString("REDIS_HOST", &missing)
	cfg.RedisPort = requireInt("REDIS_PORT", &missing)
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD") // allowed to be empty
	cfg.RedisDBIndex = requireInt("REDIS_DB_INDEX", &missing)

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	cfg.IsDebug = parseBoolDefault(os.Getenv("IS_DEBUG"), false)
	cfg.PullSleep = time.Duration(parseIntDefault("PULL_SLEEP_SECONDS", 10)) * time.Second
	cfg.MaxTasksPerUser = parseIntDefault("MAX_TASKS_PER_USER", 200)
	cfg.MaxInputArgsMegabytes = parseIntDefault("MAX_INPUT_ARGS_MEGABYTES", 1024)
	cfg.FileStoreGraceDuration = time.Duration(parseIntDefault("FILESTORE_GRACE_SECONDS", 30)) * time.Second

	return cfg, nil
}

func requireString(key string, missing *[]string) string {
	v := os.Getenv(key)
	if v == "" {
		*missing = append(*missing, key)
	}
	return v
}

func requireInt(key string, missing *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		*missing = append(*missing, key)
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*missing = append(*missing, key)
		return 0
	}
	return v
}

func parseIntDefault(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseBoolDefault(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
