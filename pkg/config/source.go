// pkg/config/source.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Source is the single configuration lookup contract. Components resolve
// their settings through a Source once at construction, so env-backed and
// static (test) configuration collapse into one code path.
type Source interface {
	Get(key string) string
}

// Env reads from process environment variables.
type Env struct{}

func (Env) Get(key string) string { return strings.TrimSpace(os.Getenv(key)) }

// Static is a fixed map Source, mostly for tests.
type Static map[string]string

func (s Static) Get(key string) string { return strings.TrimSpace(s[key]) }

// Str returns the value for key, or def when unset.
func Str(src Source, key, def string) string {
	if v := src.Get(key); v != "" {
		return v
	}
	return def
}

// Int returns the integer value for key, or def when unset or unparseable.
func Int(src Source, key string, def int) int {
	if v := src.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Seconds reads key as a whole number of seconds.
func Seconds(src Source, key string, def time.Duration) time.Duration {
	if v := src.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// Bool treats "true" and "1" as true, anything else as false.
func Bool(src Source, key string) bool {
	v := strings.ToLower(src.Get(key))
	return v == "true" || v == "1"
}

// List splits a comma-separated value, dropping empty entries.
func List(src Source, key string) []string {
	v := src.Get(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
