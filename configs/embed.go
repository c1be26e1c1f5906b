// Package configs provides the embedded configuration template for notesync.
//
// The template is embedded at build time with go:embed so it ships inside
// every binary. `notesync init` writes it out as the project's notesync.yaml;
// the load order afterwards is defaults, then the file, then NOTESYNC_*
// environment variables (see internal/config.Load).
package configs

import _ "embed"

// ConfigTemplate is the annotated starting configuration written by
// `notesync init`. Every key mirrors a field of internal/config.Config.
//
//go:embed config.example.yaml
var ConfigTemplate string
