package diag

import (
	"testing"

	"mxprec/internal/source"
)

func TestBagLimitAndErrors(t *testing.T) {
	b := NewBag(2)
	r := &BagReporter{Bag: b}
	r.Report(RwrUnhandledKind, SevWarning, source.Span{}, "select", nil)
	if b.HasErrors() {
		t.Fatal("warning counted as error")
	}
	r.Report(ResConflict, SevError, source.Span{Start: 4, End: 9}, "depth 1 vs 2", nil)
	r.Report(ResConflict, SevError, source.Span{}, "dropped", nil)
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	if !b.HasErrors() {
		t.Fatal("expected error")
	}
}

func TestCodeIDs(t *testing.T) {
	tests := map[Code]string{
		IOLoadFileError:    "IO1001",
		PrsUnexpectedToken: "PRS2001",
		CfgUnknownToken:    "CFG3003",
		RwrUnhandledKind:   "RWR4001",
		ResConflict:        "RES5001",
		Code(9999):         "E0000",
	}
	for code, want := range tests {
		if got := code.ID(); got != want {
			t.Errorf("%d.ID() = %q, want %q", code, got, want)
		}
	}
	if Code(4999).Title() != "Unknown error" {
		t.Errorf("unknown title = %q", Code(4999).Title())
	}
}

func TestSortAndDedup(t *testing.T) {
	b := NewBag(10)
	b.Add(NewError(PrsUndefinedValue, source.Span{Start: 20, End: 22}, "%x"))
	b.Add(New(SevWarning, RwrUnhandledKind, source.Span{Start: 5, End: 6}, "w"))
	b.Add(NewError(PrsUndefinedValue, source.Span{Start: 20, End: 22}, "%x"))
	b.Dedup()
	b.Sort()
	if b.Len() != 2 {
		t.Fatalf("Len = %d after dedup", b.Len())
	}
	if b.Items()[0].Code != RwrUnhandledKind {
		t.Errorf("first = %s", b.Items()[0].Code.ID())
	}
}

func TestDedupReporter(t *testing.T) {
	b := NewBag(10)
	r := NewDedupReporter(&BagReporter{Bag: b})
	for i := 0; i < 3; i++ {
		r.Report(RwrUnhandledKind, SevWarning, source.Span{Start: 1, End: 2}, "phi", nil)
	}
	ReportError(r, ResConflict, source.Span{}, "conflict").WithNote(source.Span{Start: 3}, "here").Emit()
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	if len(b.Items()[1].Notes) != 1 {
		t.Errorf("note lost")
	}
}
