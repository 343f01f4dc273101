package version

import (
	"fmt"

	"github.com/fatih/color"
)

// Build metadata for the mxprec CLI; overridable with -ldflags.
var (
	Major = "0"
	Minor = "3"
	Patch = "0"
	Pre   = "dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)
)

// Version returns the plain semantic version.
func Version() string {
	v := fmt.Sprintf("%s.%s.%s", Major, Minor, Patch)
	if Pre != "" {
		v += "-" + Pre
	}
	return v
}

// Colored returns the version with each component colored. Color output
// follows color.NoColor.
func Colored() string {
	v := versionMajorColor.Sprint(Major) + "." + versionMinorColor.Sprint(Minor) + "." + versionPatchColor.Sprint(Patch)
	if Pre != "" {
		v += "-" + Pre
	}
	return v
}

// Info is the JSON form printed by `mxprec version --format json`.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

func Current() Info {
	return Info{Version: Version(), GitCommit: GitCommit, BuildDate: BuildDate}
}
