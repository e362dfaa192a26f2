// Package migrations embeds the versioned SQL schema applied by
// "habms-server migrate up".
package migrations

import "embed"

// FS holds every NNN_name.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
