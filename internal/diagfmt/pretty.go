package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"mxprec/internal/diag"
	"mxprec/internal/source"
)

// Pretty renders diagnostics as
//
//	<path>:<line>:<col>: <severity> <CODE>: <message>
//
// followed by the IR line with a caret underline and any notes. The bag is
// expected to be sorted.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	p := newPalette(opts.Color)
	for _, d := range bag.Items() {
		loc := location(fs, d.Primary, opts.PathMode)
		fmt.Fprintf(w, "%s: %s %s: %s\n",
			p.loc.Sprint(loc),
			p.severity(d.Severity).Sprint(d.Severity.Label()),
			p.code.Sprint(d.Code.ID()),
			d.Message)
		if opts.Context && hasFile(fs, d.Primary) {
			writeContext(w, fs, d.Primary, p)
		}
		if opts.ShowNotes || d.Code == diag.ObsTimings {
			for _, n := range d.Notes {
				if hasFile(fs, n.Span) && !n.Span.Empty() {
					fmt.Fprintf(w, "  %s %s: %s\n", p.note.Sprint("note"), location(fs, n.Span, opts.PathMode), n.Msg)
				} else {
					fmt.Fprintf(w, "  %s: %s\n", p.note.Sprint("note"), n.Msg)
				}
			}
		}
	}
}

type palette struct {
	loc, code, note, err, warn, info, caret *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		loc:   mk(color.Bold),
		code:  mk(color.FgHiBlack),
		note:  mk(color.FgCyan, color.Bold),
		err:   mk(color.FgRed, color.Bold),
		warn:  mk(color.FgYellow, color.Bold),
		info:  mk(color.FgBlue, color.Bold),
		caret: mk(color.FgGreen, color.Bold),
	}
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	}
	return p.info
}

func location(fs *source.FileSet, sp source.Span, mode PathMode) string {
	if !hasFile(fs, sp) {
		return "mxprec"
	}
	path := displayPath(fs, sp.File, mode)
	start, _ := fs.Resolve(sp)
	return fmt.Sprintf("%s:%d:%d", path, start.Line, start.Col)
}

func writeContext(w io.Writer, fs *source.FileSet, sp source.Span, p palette) {
	start, end := fs.Resolve(sp)
	line := fs.Get(sp.File).GetLine(start.Line)
	if line == "" {
		return
	}
	width := 1
	if end.Line == start.Line && end.Col > start.Col {
		width = int(end.Col - start.Col)
	}
	pad := strings.Repeat(" ", int(start.Col-1))
	fmt.Fprintf(w, "  | %s\n  | %s%s\n", line, pad, p.caret.Sprint("^"+strings.Repeat("~", width-1)))
}
