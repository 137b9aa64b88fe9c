// Package web embeds the song roulette page templates and browser assets.
package web

import "embed"

// TemplatesFS holds layouts, partials and pages, rooted at "templates".
//
//go:embed all:templates
var TemplatesFS embed.FS

// StaticFS holds app.js and style.css, rooted at "static".
//
//go:embed all:static
var StaticFS embed.FS
