package diagfmt

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"mxprec/internal/diag"
	"mxprec/internal/source"
)

func sample() (*diag.Bag, *source.FileSet) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("m.ll", []byte("define void @f() {\n  %1 = frob double %x\n}\n"))
	bag := diag.NewBag(10)
	bag.Add(diag.NewError(diag.PrsUnknownOpcode, source.Span{File: id, Start: 26, End: 30}, "unknown instruction \"frob\"").
		WithNote(source.Span{File: id, Start: 0, End: 6}, "in function @f"))
	bag.Add(diag.New(diag.SevWarning, diag.CfgUnboundTarget, source.Span{File: 99}, "no local x@g"))
	return bag, fs
}

func TestPrettyPlain(t *testing.T) {
	bag, fs := sample()
	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{Context: true, ShowNotes: true})
	out := buf.String()

	for _, want := range []string{
		"m.ll:2:8: error PRS2006: unknown instruction \"frob\"",
		"  |   %1 = frob double %x\n",
		"  |        ^~~~\n",
		"note m.ll:1:1: in function @f",
		"mxprec: warning CFG3004: no local x@g",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("color escape in plain output")
	}
}

func TestJSONOutput(t *testing.T) {
	bag, fs := sample()
	var buf bytes.Buffer
	if err := JSON(&buf, bag, fs, "run-1", JSONOpts{IncludePositions: true, IncludeNotes: true}); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	var out DiagnosticsOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 2 || out.RunID != "run-1" {
		t.Fatalf("count=%d run=%q", out.Count, out.RunID)
	}
	first := out.Diagnostics[0]
	if first.Code != "PRS2006" || first.Location == nil || first.Location.StartLine != 2 || first.Location.StartCol != 8 {
		t.Errorf("first = %+v loc=%+v", first, first.Location)
	}
	if out.Diagnostics[1].Location != nil {
		t.Errorf("expected no location for out-of-range file")
	}
}
