package source

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSetVersioning(t *testing.T) {
	fs := NewFileSet()

	id1 := fs.Add("a.ll", []byte("define void @f() {\n}\n"), 0)
	id2 := fs.Add("a.ll", []byte("; changed\n"), 0)
	if id1 == id2 {
		t.Fatalf("expected distinct ids, got %d twice", id1)
	}
	latest, ok := fs.GetLatest("a.ll")
	if !ok || latest != id2 {
		t.Fatalf("GetLatest = %d,%v; want %d,true", latest, ok, id2)
	}
	if got := string(fs.Get(id1).Content); got != "define void @f() {\n}\n" {
		t.Errorf("old content lost: %q", got)
	}
}

func TestResolveLineCol(t *testing.T) {
	fs := NewFileSet()
	id := fs.AddVirtual("m.ll", []byte("a\nbc\n"))

	tests := []struct {
		off  uint32
		want LineCol
	}{
		{0, LineCol{1, 1}},
		{1, LineCol{1, 2}},
		{2, LineCol{2, 1}},
		{3, LineCol{2, 2}},
		{5, LineCol{3, 1}},
	}
	for _, tt := range tests {
		start, _ := fs.Resolve(Span{File: id, Start: tt.off, End: tt.off})
		if start != tt.want {
			t.Errorf("offset %d: got %+v, want %+v", tt.off, start, tt.want)
		}
	}
	if fs.Get(id).Flags&FileVirtual == 0 {
		t.Error("expected FileVirtual flag")
	}
}

func TestGetLine(t *testing.T) {
	f := &File{Content: []byte("one\ntwo\nthree")}
	f.LineIdx = buildLineIndex(f.Content)
	for n, want := range map[uint32]string{1: "one", 2: "two", 3: "three", 4: "", 0: ""} {
		if got := f.GetLine(n); got != want {
			t.Errorf("GetLine(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestLoadNormalizesCRLFAndBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.ll")
	if err := os.WriteFile(path, []byte("\xEF\xBB\xBFa\r\nb\r\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fs := NewFileSet()
	id, err := fs.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	f := fs.Get(id)
	if string(f.Content) != "a\nb\n" {
		t.Errorf("content = %q", f.Content)
	}
	if f.Flags&FileHadBOM == 0 || f.Flags&FileNormalizedCRLF == 0 {
		t.Errorf("flags = %b", f.Flags)
	}
}

func TestSpanCover(t *testing.T) {
	a := Span{File: 1, Start: 10, End: 20}
	if got := a.Cover(Span{File: 1, Start: 5, End: 12}); got != (Span{File: 1, Start: 5, End: 20}) {
		t.Errorf("Cover = %v", got)
	}
	if got := a.Cover(Span{File: 2, Start: 0, End: 50}); got != a {
		t.Errorf("cross-file Cover changed span: %v", got)
	}
}

func TestOffsetInvertsResolve(t *testing.T) {
	fs := NewFileSet()
	id := fs.AddVirtual("r.json", []byte("{\n  \"op\": []\n}\n"))
	f := fs.Get(id)
	for off := uint32(0); off < uint32(len(f.Content)); off++ {
		lc, _ := fs.Resolve(Span{File: id, Start: off, End: off})
		if got := f.Offset(lc); got != off {
			t.Errorf("Offset(%+v) = %d, want %d", lc, got, off)
		}
	}
	if got := f.Offset(LineCol{Line: 40, Col: 1}); got != uint32(len(f.Content)) {
		t.Errorf("past the end: got %d", got)
	}
}
