// Package dashboard embeds the small status page served by the API at /.
package dashboard

import (
	"embed"
	"io/fs"
)

//go:embed all:dist
var distFS embed.FS

// FS returns the dashboard files rooted at dist/.
func FS() fs.FS {
	sub, err := fs.Sub(distFS, "dist")
	if err != nil {
		// dist is embedded at build time, so this cannot fail.
		panic(err)
	}
	return sub
}
