package popx

import (
	"embed"
	"io/fs"
)

// AssetsPrefix is the URL prefix static assets are served under.
const AssetsPrefix = "/assets"

//go:embed data/sql/migrations
var migrationsFS embed.FS

//go:embed views
var viewsFS embed.FS

//go:embed public
var publicFS embed.FS

// MigrationsFS returns the SQL migrations rooted at the migrations folder.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// ViewsFS returns the HTML templates rooted at the views folder.
func ViewsFS() fs.FS {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return sub
}

// PublicFS returns the static assets rooted at the public folder.
func PublicFS() fs.FS {
	sub, err := fs.Sub(publicFS, "public")
	if err != nil {
		panic(err)
	}
	return sub
}
