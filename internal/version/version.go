// Package version holds build metadata set via -ldflags.
package version

// Version is overridden at build time with -X managervnc/internal/version.Version=...
var Version = "dev"
