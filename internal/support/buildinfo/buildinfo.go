// Package buildinfo carries version metadata stamped at build time via
// -ldflags "-X townboot/internal/support/buildinfo.Version=...".
package buildinfo

var Version = "dev"
