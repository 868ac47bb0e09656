package appfs

import "embed"

// FS holds the goose migrations of the application database.
//go:embed migrations
var FS embed.FS
