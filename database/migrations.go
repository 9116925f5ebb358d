package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

// postgresFS embeds the PostgreSQL schema migrations.
//
//go:embed sql/*.sql
var postgresFS embed.FS

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *Pool) error {
	entries, err := fs.ReadDir(postgresFS, "sql")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	slices.Sort(files)

	for _, file := range files {
		data, err := fs.ReadFile(postgresFS, "sql/"+file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("applying migration %s: %w", file, err)
		}
	}

	return nil
}
