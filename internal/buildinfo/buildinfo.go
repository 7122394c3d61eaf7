// Package buildinfo holds the version and build-date strings stamped into
// the nxy, nxyd, and nxy-agent binaries at link time, so $/status and
// --version report a real build rather than a placeholder.
package buildinfo

import "fmt"

// Version and BuildDate are overridden at link time via:
//
//	go build -ldflags "-X github.com/nxyio/nxy/internal/buildinfo.Version=... -X github.com/nxyio/nxy/internal/buildinfo.BuildDate=..."
//
// Unstamped builds (e.g. `go run`, ad-hoc local builds) keep the
// placeholders below.
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// String renders the version line printed by --version and logged by nxyd
// at startup; $/status reports Version alone.
func String() string {
	return fmt.Sprintf("%s (built %s)", Version, BuildDate)
}
