package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBSource    string
	Port        string
	Env         string
	LockTimeout time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	lockTimeout := 3 * time.Second
	if raw := os.Getenv("LOCK_TIMEOUT_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("LOCK_TIMEOUT_MS must be a positive integer, got %q", raw)
		}
		lockTimeout = time.Duration(ms) * time.Millisecond
	}

	return &Config{
		DBSource:    dbSource,
		Port:        port,
		Env:         env,
		LockTimeout: lockTimeout,
	}, nil
}
