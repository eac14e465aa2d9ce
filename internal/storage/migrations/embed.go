// Package migrations holds the goose migrations for the sqlite job history.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
