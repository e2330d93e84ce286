// Package instance names the running process for lock tokens and logs.
package instance

import (
	"os"

	"github.com/angelmondragon/storyline-backend/pkg/env"
)

const fallbackID = "storyline-0"

// GetID prefers STORYLINE_WORKER_ID, then POD_NAME, then the hostname.
func GetID() string {
	if id, ok := env.Lookup("STORYLINE_WORKER_ID", "POD_NAME"); ok {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
