package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Defaults used when the environment does not override them.
const (
	DefaultPort          = "8080"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultBucketSeconds = 60
	DefaultSQLitePath    = "data/tally.db"
)

var (
	// ErrInvalidBucket is returned when BUCKET_SECONDS is not a positive integer.
	ErrInvalidBucket = errors.New("BUCKET_SECONDS must be a positive integer")

	// ErrInvalidBackend is returned for an unknown STORE_BACKEND.
	ErrInvalidBackend = errors.New("STORE_BACKEND must be memory or sqlite")
)

// Settings is the service configuration.
type Settings struct {
	Port          string
	LogLevel      string
	LogFormat     string
	BucketSeconds int
	StoreBackend  string
	SQLitePath    string
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv builds Settings from the environment and validates them.
func FromEnv() (Settings, error) {
	s := Settings{
		Port:          GetEnv("PORT", DefaultPort),
		LogLevel:      GetEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:     GetEnv("LOG_FORMAT", DefaultLogFormat),
		StoreBackend:  strings.ToLower(GetEnv("STORE_BACKEND", BackendMemory)),
		SQLitePath:    GetEnv("SQLITE_PATH", DefaultSQLitePath),
		BucketSeconds: DefaultBucketSeconds,
	}

	if raw := os.Getenv("BUCKET_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Settings{}, fmt.Errorf("%w: %q", ErrInvalidBucket, raw)
		}
		s.BucketSeconds = n
	}

	switch s.StoreBackend {
	case BackendMemory, BackendSQLite:
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrInvalidBackend, s.StoreBackend)
	}

	return s, nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
