// Package migrations embeds the SQL schema migrations cmd/migrate and
// storage.NewMigrator discover at process start.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
