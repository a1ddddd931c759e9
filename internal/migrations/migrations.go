// Package migrations embeds the coordinator's goose SQL migrations so the
// binary carries its own schema instead of depending on an external
// migrations module.
package migrations

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
