// Package version holds build metadata injected through -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
	BuiltBy = ""
)

// Full returns the version line for the named binary.
func Full(binary string) string {
	result := fmt.Sprintf("%s %s, commit %s, built at %s", binary, Version, Commit, Date)
	if BuiltBy != "" {
		result += fmt.Sprintf(" by %s", BuiltBy)
	}
	return result
}
