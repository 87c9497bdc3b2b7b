// Package internal holds build metadata shared by the binaries.
package internal

// Version is the build version, overridden at build time with
// -ldflags "-X github.com/meridianpay/gipswitch/internal.Version=...".
var Version = "dev"
