package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringFromEnv returns the trimmed value of key, or defaultValue when unset or blank.
func StringFromEnv(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	return value
}

// IntFromEnv reads an integer value.
func IntFromEnv(key string, defaultValue int) (int, error) {
	raw := StringFromEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q: %w", key, raw, err)
	}
	return value, nil
}

// Float64FromEnv reads a float value.
func Float64FromEnv(key string, defaultValue float64) (float64, error) {
	raw := StringFromEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float env %s=%q: %w", key, raw, err)
	}
	return value, nil
}

// DurationFromEnv reads a Go duration string such as "10s" or "300ms".
func DurationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := StringFromEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration env %s=%q: %w", key, raw, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("negative duration env %s=%q", key, raw)
	}
	return value, nil
}

// BoolFromEnv accepts true/1/yes/y and false/0/no/n.
func BoolFromEnv(key string, defaultValue bool) (bool, error) {
	raw := StringFromEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool env %s=%q", key, raw)
	}
}

// StringListFromEnv splits on commas and whitespace.
func StringListFromEnv(key string, defaultValue []string) []string {
	raw := StringFromEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}
