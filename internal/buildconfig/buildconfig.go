package buildconfig

import "github.com/carlmjohnson/versioninfo"

// Build-time variables injected via ldflags. When unset they fall back to
// the VCS info the Go toolchain embeds in the binary.
var (
	version = ""
	commit  = ""
)

// Version returns the build version
func Version() string {
	if version != "" {
		return version
	}
	return versioninfo.Short()
}

// Commit returns the git commit hash
func Commit() string {
	if commit != "" {
		return commit
	}
	return versioninfo.Revision
}

// VersionInfo returns full version information
func VersionInfo() map[string]string {
	return map[string]string{
		"version": Version(),
		"commit":  Commit(),
	}
}
