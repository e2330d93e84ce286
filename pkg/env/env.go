// Package env reads the few process settings that are needed before
// config.Load runs.
package env

import (
	"os"
	"strings"
)

// Lookup returns the trimmed value of the first key that is set to a
// non-blank value.
func Lookup(keys ...string) (string, bool) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, true
		}
	}
	return "", false
}

// Get returns the trimmed value of key, or fallback when it is unset or blank.
func Get(key, fallback string) string {
	if v, ok := Lookup(key); ok {
		return v
	}
	return fallback
}
