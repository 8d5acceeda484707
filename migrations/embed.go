// Package migrations embeds the SQL migration files so the host can create
// its schema without the files present on disk.
package migrations

import (
	"embed"

	"github.com/alproj/sidecar-host/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
