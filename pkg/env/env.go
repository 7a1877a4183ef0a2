// Package env reads typed settings from the process environment, falling back
// to Docker secrets mounted as files, so the same keys work with a .env file
// in development and with swarm secrets in production.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// SecretsDir holds one file per secret, named after the key.
var SecretsDir = "/run/secrets"

// lookup prefers a set variable, even an empty one, over a secret file. An
// empty or unreadable secret counts as unset.
func lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	data, err := os.ReadFile(filepath.Join(SecretsDir, key))
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(data))
	return v, v != ""
}

func GetString(key, defaultValue string) string {
	if v, ok := lookup(key); ok {
		return v
	}
	return defaultValue
}

// parse converts a non-empty value with fn. A value that does not parse is a
// deployment error, so it panics with the offending key.
func parse[T any](key string, defaultValue T, fn func(string) (T, error)) T {
	v, ok := lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	out, err := fn(v)
	if err != nil {
		panic(fmt.Sprintf("env: invalid %s=%q: %v", key, v, err))
	}
	return out
}

func GetInt(key string, defaultValue int) int {
	return parse(key, defaultValue, strconv.Atoi)
}

func GetBool(key string, defaultValue bool) bool {
	return parse(key, defaultValue, strconv.ParseBool)
}

// GetDuration parses values such as "250ms" or "5s".
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	return parse(key, defaultValue, time.ParseDuration)
}
