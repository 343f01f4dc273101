package lower_test

import (
	"context"
	"strings"
	"testing"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/lower"
	"mxprec/internal/testkit"
)

func run(t *testing.T, src string) (string, lower.Stats, *diag.Bag) {
	t.Helper()
	m, err := ir.ParseString("lower", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	bag := diag.NewBag(10)
	st := lower.Lower(context.Background(), m, &diag.BagReporter{Bag: bag})
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Fatalf("invariants: %v\n%s", err, m)
	}
	return m.String(), st, bag
}

func TestLower(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		want  []string
		gone  []string
		stats lower.Stats
	}{
		{
			name: "both_widened",
			src: `define double @f(float %x, float %y) {
entry:
  %a = fpext float %x to double
  %b = fpext float %y to double
  %s = fadd double %a, %b
  ret double %s
}
`,
			want:  []string{"%0 = fadd float %x, %y", "%s = fpext float %0 to double", "ret double %s"},
			gone:  []string{"%a = ", "%b = "},
			stats: lower.Stats{Lowered: 1, Erased: 3},
		},
		{
			name: "mixed_sources",
			src: `define double @f(half %h, float %x) {
entry:
  %a = fpext half %h to double
  %b = fpext float %x to double
  %m = fmul double %a, %b
  ret double %m
}
`,
			want:  []string{"%0 = fpext half %h to float", "%1 = fmul float %0, %x", "%m = fpext float %1 to double"},
			stats: lower.Stats{Lowered: 1, Erased: 3},
		},
		{
			name: "sitofp",
			src: `define float @g(i32 %n, double %d) {
entry:
  %c = fptrunc double %d to float
  %i = sitofp i32 %n to float
  %r = fmul float %c, %i
  ret float %r
}
`,
			want:  []string{"%0 = sitofp i32 %n to double", "%1 = fmul double %d, %0", "%r = fptrunc double %1 to float"},
			gone:  []string{"%c = ", "%i = "},
			stats: lower.Stats{Lowered: 1, SIToFP: 1, Erased: 3},
		},
		{
			name: "operand_already_wide",
			src: `define double @f(float %x, double %z) {
entry:
  %a = fpext float %x to double
  %s = fadd double %a, %z
  ret double %s
}
`,
			want: []string{"%a = fpext float %x to double", "%s = fadd double %a, %z"},
		},
		{
			name: "cast_kept_for_other_reader",
			src: `define double @f(float %x, float %y, double %z) {
entry:
  %a = fpext float %x to double
  %b = fpext float %y to double
  %s = fsub double %a, %b
  %t = fmul double %a, %z
  %u = fadd double %s, %t
  ret double %u
}
`,
			want:  []string{"%a = fpext float %x to double", "%0 = fsub float %x, %y", "%s = fpext float %0 to double", "%t = fmul double %a, %z", "%u = fadd double %s, %t"},
			stats: lower.Stats{Lowered: 1, Erased: 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, st, bag := run(t, tt.src)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output lacks %q\n%s", w, out)
				}
			}
			for _, g := range tt.gone {
				if strings.Contains(out, g) {
					t.Errorf("output still has %q\n%s", g, out)
				}
			}
			if st != tt.stats {
				t.Errorf("stats = %+v, want %+v", st, tt.stats)
			}
			if want := min(tt.stats.Lowered, 1); bag.Count(diag.RwrLowered) != want {
				t.Errorf("%d lowering notes, want %d", bag.Count(diag.RwrLowered), want)
			}
		})
	}
}

func TestLowerChains(t *testing.T) {
	src := `define double @f(float %x, float %y, float %z) {
entry:
  %a = fpext float %x to double
  %b = fpext float %y to double
  %s = fadd double %a, %b
  %c = fpext float %z to double
  %m = fmul double %s, %c
  ret double %m
}
`
	out, st, _ := run(t, src)
	if st.Lowered != 2 {
		t.Fatalf("Lowered = %d, want 2\n%s", st.Lowered, out)
	}
	for _, w := range []string{"%0 = fadd float %x, %y", "%1 = fmul float %0, %z", "%m = fpext float %1 to double"} {
		if !strings.Contains(out, w) {
			t.Errorf("output lacks %q\n%s", w, out)
		}
	}
}
