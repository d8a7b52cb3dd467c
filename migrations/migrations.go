// Package migrations embeds the PostgreSQL schema of the results store.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed *.sql
var files embed.FS

// Load returns the schema script for direction "up" or "down"
func Load(direction string) (string, error) {
	switch direction {
	case "up", "down":
	default:
		return "", fmt.Errorf("invalid migration direction %q, expected up or down", direction)
	}

	content, err := files.ReadFile(fmt.Sprintf("001_create_schema.%s.sql", direction))
	if err != nil {
		return "", fmt.Errorf("failed to read migration: %w", err)
	}
	return string(content), nil
}
