// Package version exposes build metadata for the pricewatch binary.
//
// The variables are set at build time:
//
//	go build -ldflags "-X github.com/jmylchreest/pricewatch/internal/version.Version=1.2.0 -X ...Commit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strings"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	Dirty     = "false"
	BuildDate = "unknown"
)

// Info is the structured form printed by `pricewatch version --format json`.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Dirty     bool   `json:"dirty" yaml:"dirty"`
	BuildDate string `json:"build_date" yaml:"build_date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Dirty:     Dirty == "true",
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns the version, suffixed with -dirty for modified trees.
func String() string {
	if Dirty == "true" {
		return Version + "-dirty"
	}
	return Version
}

// Full returns a multi-line description of the build.
func Full() string {
	i := Get()
	var sb strings.Builder
	fmt.Fprintf(&sb, "pricewatch %s\n", String())
	fmt.Fprintf(&sb, "  commit:   %s\n", i.Commit)
	fmt.Fprintf(&sb, "  built:    %s\n", i.BuildDate)
	fmt.Fprintf(&sb, "  go:       %s\n", i.GoVersion)
	fmt.Fprintf(&sb, "  platform: %s", i.Platform)
	return sb.String()
}
