package version

import "fmt"

// Build-time injected information.
var (
	Version    string
	CommitHash string
	BuildTime  string
)

// GetVersion returns the version in a human consumable form, used for the
// --version output and the User-Agent header.
func GetVersion() string {
	if Version == "" {
		return "development"
	}
	if CommitHash != "" {
		return fmt.Sprintf("%s(%s)", Version, CommitHash)
	}
	return Version
}
