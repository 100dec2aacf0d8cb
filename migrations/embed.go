// Package migrations embeds the goose SQL migrations so both cmd/migrate and
// the integration tests run the same schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
