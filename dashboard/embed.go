// Package dashboard provides the embedded dashboard UI assets.
// The checked-in dist/ holds a minimal status page; a full SPA build
// placed there before compiling replaces it in the binary.
package dashboard

import "embed"

// DistFS holds the embedded dashboard/dist files.
//
//go:embed all:dist
var DistFS embed.FS
