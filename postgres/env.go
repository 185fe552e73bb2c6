package postgres

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// getenvOrDefault returns the raw value of key, or defaultValue when the
// variable is unset or blank after trimming whitespace.
func getenvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}

	return value
}

// getenvIntOrDefault parses key as a base-10 integer, falling back to
// defaultValue when the variable is unset, blank, or not a number.
func getenvIntOrDefault(key string, defaultValue int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// getenvDurationOrDefault parses key as a Go duration string ("30m", "10s"),
// falling back to defaultValue when unset, blank, or unparseable.
func getenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}
