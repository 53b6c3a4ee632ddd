// Package version holds build-time version identifiers reported by the
// GETVER runtime command.
package version

// These are overridable at link time with -ldflags
// "-X github.com/crinit-go/crinit/internal/version.Major=...".
var (
	Major   = "1"
	Minor   = "0"
	Micro   = "0"
	BuildID = "dev"
)

// Strings returns the four version fields in GETVER response order.
func Strings() (major, minor, micro, buildID string) {
	return Major, Minor, Micro, BuildID
}
