// Package buildinfo exposes values stamped at link time.
package buildinfo

// Version is set with -ldflags "-X grape/internal/support/buildinfo.Version=...".
var Version = "0.1.0-dev"
