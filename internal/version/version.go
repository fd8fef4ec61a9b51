package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time.
	Version = "dev"
	// Commit is the git commit hash. Overridden at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Overridden at build time.
	BuildDate = "unknown"
)

// UserAgent is sent with outbound HTTP requests to news and quote providers.
func UserAgent() string {
	return fmt.Sprintf("catalyst-catcher/%s", Version)
}
