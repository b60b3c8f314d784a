// Package migrations embeds the server's goose SQL migrations.
package migrations

import "embed"

// FS holds the versioned SQL files applied by internal/migrate.
//
//go:embed *.sql
var FS embed.FS
