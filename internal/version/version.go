// Package version reports the build version of the binaries.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Populated at build time via -ldflags "-X".
var (
	Version = "v0.0.0-in-progress"
	Commit  = "unknown"
)

// String returns the semantic version. In development it defaults to
// v0.0.0-in-progress.
func String() string {
	return Version
}

// Revision returns the VCS revision, preferring the ldflags value and falling
// back to the build info embedded by the go tool.
func Revision() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return s.Value
			}
		}
	}
	return Commit
}

// Full returns a one-line description for `version` commands.
func Full(binary string) string {
	return fmt.Sprintf("%s %s (%s, %s/%s)", binary, String(), Revision(), runtime.GOOS, runtime.GOARCH)
}
