package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/soyeahso/netplug/internal/version.Version=1.0.0
//	  -X github.com/soyeahso/netplug/internal/version.Commit=abc123
//	  -X github.com/soyeahso/netplug/internal/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns a formatted version string. Dynamic plugins must be built
// with the same Go toolchain, so it is included.
func Info() string {
	return fmt.Sprintf("netplug %s (commit: %s, built: %s, %s, %s/%s)",
		Version, short(Commit), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies netplug to remote services.
func UserAgent() string {
	return "netplug/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
