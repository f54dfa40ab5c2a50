package htdocs

import (
	"embed"
	"io/fs"
)

//go:embed index.html
var static embed.FS

// FS returns the pages served at the site root.
func FS() fs.FS {
	return &static
}
