package observ

import (
	"errors"
	"strings"
	"testing"
)

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	if err := tm.Track("parse", func() error { return nil }); err != nil {
		t.Fatalf("Track: %v", err)
	}
	boom := errors.New("boom")
	if err := tm.Track("rewrite", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Track returned %v", err)
	}
	tm.End(42, "ignored")

	r := tm.Report()
	if len(r.Phases) != 2 || r.Phases[1].Note != "failed" {
		t.Fatalf("report = %+v", r)
	}
	s := tm.Summary()
	if !strings.Contains(s, "parse") || !strings.Contains(s, "// failed") || !strings.Contains(s, "total") {
		t.Errorf("summary = %q", s)
	}
}
