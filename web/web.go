// Package web embeds the HTML templates and static assets.
package web

import "embed"

// Templates holds the page templates. Each page defines "<name>-body",
// rendered into "layout".
//
//go:embed templates/*.tmpl
var Templates embed.FS

// Static holds stylesheets served under /static/.
//
//go:embed static
var Static embed.FS
