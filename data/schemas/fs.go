package schemas

import (
	"embed"
	"io/fs"
)

//go:embed sqlite_??_*.sql
var dbfs embed.FS

// SchemaFS returns the sqlite DDL files, applied in name order.
func SchemaFS() fs.FS {
	return &dbfs
}
