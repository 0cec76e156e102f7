// Package version holds build information for tangle.
package version

// Overridden at build time:
// go build -ldflags "-X tangle/internal/version.Version=1.2.0 -X tangle/internal/version.Commit=abc123"
var (
	// Version is the semantic version of tangle
	Version = "0.4.0"

	// Commit is the git commit hash (set at build time)
	Commit = "unknown"

	// BuildDate is the build timestamp (set at build time)
	BuildDate = "unknown"
)

// ToolName is used in reports and SARIF output.
const ToolName = "tangle"

// InformationURI points report consumers at the project.
const InformationURI = "https://github.com/tangle-dev/tangle"

// Info returns the version with an abbreviated commit when one is known.
func Info() string {
	if Commit != "unknown" && len(Commit) > 7 {
		return Version + " (" + Commit[:7] + ")"
	}
	return Version
}

// Full returns complete version information
func Full() string {
	return ToolName + " version " + Version + "\n" +
		"Commit: " + Commit + "\n" +
		"Built: " + BuildDate
}
