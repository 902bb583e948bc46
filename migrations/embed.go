// Package migrations holds the numbered SQL migrations applied by
// "hms-server migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
