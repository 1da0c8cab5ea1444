// Package version exposes build metadata stamped in via ldflags:
//
//	go build -ldflags "-X github.com/phiacta/phiacta/version.Version=v0.3.0 \
//	  -X github.com/phiacta/phiacta/version.Commit=$(git rev-parse HEAD) \
//	  -X github.com/phiacta/phiacta/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the semantic version of a tagged release.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// Date is the UTC build timestamp.
	Date = "unknown"
)

// Info bundles the stamped values with runtime facts.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information for the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("phiacta %s (commit %s, built %s)", i.Version, i.ShortCommit(), i.Date)
}

// ShortCommit abbreviates the commit hash for display.
func (i Info) ShortCommit() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}
