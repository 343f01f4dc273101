package ui

import (
	"errors"
	"math"
	"strings"
	"testing"

	"mxprec/internal/driver"
)

func TestApplyEvent(t *testing.T) {
	m := NewProgressModel("rewrite", []string{"a.ll", "b.ll"}, nil).(*progressModel)

	m.applyEvent(driver.Event{File: "a.ll", Stage: driver.StageRewrite, Status: driver.StatusWorking})
	if got := m.items[0].status; got != "rewriting" {
		t.Fatalf("status = %q, want rewriting", got)
	}
	m.applyEvent(driver.Event{File: "b.ll", Stage: driver.StageParse, Status: driver.StatusError, Err: errors.New("no such file")})
	if got := m.percent(); math.Abs(got-0.7) > 1e-9 {
		t.Errorf("percent = %v, want 0.7", got)
	}
	m.applyEvent(driver.Event{File: "a.ll", Stage: driver.StageEmit, Status: driver.StatusDone})
	if got := m.percent(); got != 1.0 {
		t.Errorf("percent = %v, want 1", got)
	}
	m.applyEvent(driver.Event{File: "unknown.ll", Stage: driver.StageParse, Status: driver.StatusWorking})

	view := m.View()
	for _, want := range []string{"a.ll", "b.ll", "no such file"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q\n%s", want, view)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short.ll", 20, "short.ll"},
		{"a/very/long/path/to/module.ll", 12, "a/very..."},
		{"abcdef", 3, "abc"},
		{"模块模块.ll", 8, "模..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
