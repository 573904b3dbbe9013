package instance

import (
	"os"

	"github.com/lastbite/lastbite-backend/pkg/env"
)

// GetID identifies the running process in logs. Heroku-style DYNO names win
// over an explicit LASTBITE_INSTANCE_ID, then the hostname.
func GetID() string {
	if id := env.First("", "DYNO", "LASTBITE_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
