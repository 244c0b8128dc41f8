// Package migrations embeds the DeviceLink schema so the binary can migrate
// without SQL files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/devicelink/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
