package version

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestVersionDefault(t *testing.T) {
	if got := Version(); got != "0.3.0-dev" {
		t.Errorf("Version() = %q", got)
	}
}

func TestVersionOverride(t *testing.T) {
	origMajor, origPre, origCommit := Major, Pre, GitCommit
	defer func() { Major, Pre, GitCommit = origMajor, origPre, origCommit }()

	Major, Pre, GitCommit = "1", "", "abc123"
	info := Current()
	if info.Version != "1.3.0" || info.GitCommit != "abc123" {
		t.Errorf("Current() = %+v", info)
	}
}

func TestColoredRespectsNoColor(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = true
	if got := Colored(); got != Version() {
		t.Errorf("Colored() = %q with NoColor", got)
	}
	color.NoColor = false
	if got := Colored(); !strings.Contains(got, "\x1b[") {
		t.Errorf("Colored() = %q, expected escapes", got)
	}
}
