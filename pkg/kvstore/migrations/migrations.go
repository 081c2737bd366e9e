// Package migrations embeds the SQL migrations for the durable key-value
// store so they ship inside the binary.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
