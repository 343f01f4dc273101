package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mxprec/internal/diag"
	"mxprec/internal/diagfmt"
	"mxprec/internal/driver"
	"mxprec/internal/source"
)

type reportOptions struct {
	format string // text|json
	color  bool
	quiet  bool
	max    int
	runID  string
}

func readReportOptions(cmd *cobra.Command, format string) (reportOptions, error) {
	flags := cmd.Root().PersistentFlags()
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return reportOptions{}, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	maxDiagnostics, err := flags.GetInt("max-diagnostics")
	if err != nil {
		return reportOptions{}, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	format = strings.ToLower(format)
	switch format {
	case "text", "json":
	default:
		return reportOptions{}, fmt.Errorf("unsupported format %q (must be text or json)", format)
	}
	return reportOptions{format: format, color: useColor(cmd), quiet: quiet, max: maxDiagnostics}, nil
}

// printDiagnostics writes bag to w. Quiet runs drop info diagnostics
// except timings.
func printDiagnostics(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts reportOptions) error {
	if opts.quiet {
		bag = withoutInfo(bag)
	}
	bag.Sort()
	if opts.format == "json" {
		return diagfmt.JSON(w, bag, fs, opts.runID, diagfmt.JSONOpts{
			IncludePositions: true,
			Max:              opts.max,
			IncludeNotes:     true,
		})
	}
	diagfmt.Pretty(w, bag, fs, diagfmt.PrettyOpts{
		Color:     opts.color,
		Context:   true,
		ShowNotes: !opts.quiet,
	})
	return nil
}

func withoutInfo(bag *diag.Bag) *diag.Bag {
	out := diag.NewBag(bag.Len())
	for _, d := range bag.Items() {
		if d.Severity > diag.SevInfo || d.Code == diag.ObsTimings {
			out.Add(d)
		}
	}
	return out
}

// loadForCommand parses path; on failure the diagnostics are printed and
// errDiagnostics is returned.
func loadForCommand(cmd *cobra.Command, path string, opts reportOptions) (*driver.Loaded, error) {
	l, err := driver.LoadModule(path, opts.max)
	if err != nil {
		if perr := printDiagnostics(cmd.ErrOrStderr(), l.Bag, l.FileSet, opts); perr != nil {
			return nil, perr
		}
		return nil, errDiagnostics
	}
	return l, nil
}
