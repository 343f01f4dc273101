package resolve_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/resolve"
)

func parse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := ir.ParseString(t.Name(), src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func findInst(t *testing.T, f *ir.Function, name string) *ir.Instruction {
	t.Helper()
	for _, inst := range f.Instructions() {
		if inst.Name() == name {
			return inst
		}
	}
	t.Fatalf("%%%s not found in @%s", name, f.Name())
	return nil
}

// nestedCalls builds n wrappers around a leaf that loads a double through
// its pointer argument; @l<n> is the outermost.
func nestedCalls(n int) string {
	var sb strings.Builder
	sb.WriteString("define double @l0(ptr %p) {\n  %v = load double, ptr %p, align 8\n  ret double %v\n}\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "\ndefine double @l%d(ptr %%p) {\n", i)
		sb.WriteString("  %p.addr = alloca ptr, align 8\n")
		sb.WriteString("  store ptr %p, ptr %p.addr, align 8\n")
		sb.WriteString("  %q = load ptr, ptr %p.addr, align 8\n")
		fmt.Fprintf(&sb, "  %%v = call double @l%d(ptr %%q)\n  ret double %%v\n}\n", i-1)
	}
	return sb.String()
}

func TestResolveStableAcrossCallDepth(t *testing.T) {
	want := prec.PtrDep{Base: ir.Double, Depth: 1}
	for n := 0; n <= 6; n++ {
		m := parse(t, nestedCalls(n))
		r := resolve.New(context.Background())
		got, err := r.Resolve(m.Func(fmt.Sprintf("l%d", n)).Params[0])
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		if !got.Equal(want) {
			t.Errorf("n=%d: got %s depth %d, want double depth 1", n, got, got.Depth)
		}
	}
}

func TestResolveSpilledPointer(t *testing.T) {
	m := parse(t, nestedCalls(1))
	f := m.Func("l1")
	r := resolve.New(context.Background())
	got, err := r.Resolve(findInst(t, f, "p.addr"))
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "double**" {
		t.Errorf("spill slot resolved to %s", got)
	}
}

func TestResolveOrigins(t *testing.T) {
	m := parse(t, `%struct.S = type { i32, double }

@arr = global [4 x double] zeroinitializer, align 16

define void @f(ptr %s) {
  %x = alloca float, align 4
  %f1 = getelementptr inbounds %struct.S, ptr %s, i32 0, i32 1
  store double 1.000000e+00, ptr %f1, align 8
  ret void
}
`)
	f := m.Func("f")
	tests := []struct {
		name string
		v    ir.Value
		want string
	}{
		{"global_array", m.Global("arr"), "double[4]*"},
		{"alloca", findInst(t, f, "x"), "float*"},
		{"struct_field_gep", findInst(t, f, "f1"), "double*"},
		{"struct_arg", f.Params[0], "%struct.S*"},
		{"scalar", ir.NewConstFloat(ir.Half, 1), "half"},
	}
	r := resolve.New(context.Background())
	for _, tt := range tests {
		got, err := r.Resolve(tt.v)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got.String() != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestResolveConflict(t *testing.T) {
	m := parse(t, `define void @bad(ptr %p) {
  %a = load double, ptr %p, align 8
  %q = load ptr, ptr %p, align 8
  %b = load double, ptr %q, align 8
  ret void
}
`)
	_, err := resolve.New(context.Background()).Resolve(m.Func("bad").Params[0])
	var rc *resolve.ResolutionConflict
	if !errors.As(err, &rc) {
		t.Fatalf("expected ResolutionConflict, got %v", err)
	}
	if len(rc.Candidates) != 2 || rc.Candidates[0].Depth == rc.Candidates[1].Depth {
		t.Errorf("candidates %v", rc.Candidates)
	}
	if !strings.Contains(rc.Error(), "%p") {
		t.Errorf("error does not name the value: %v", rc)
	}
}

func TestResolveRecursiveCallTerminates(t *testing.T) {
	m := parse(t, `define double @rec(ptr %p, i32 %n) {
entry:
  %c = icmp sgt i32 %n, 0
  br i1 %c, label %go, label %stop

go:
  %m = sub i32 %n, 1
  %r = call double @rec(ptr %p, i32 %m)
  ret double %r

stop:
  %v = load double, ptr %p, align 8
  ret double %v
}
`)
	got, err := resolve.New(context.Background()).Resolve(m.Func("rec").Params[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "double*" {
		t.Errorf("got %s", got)
	}
}

func TestResolveFallback(t *testing.T) {
	m := parse(t, `define void @f(ptr %p) {
  call void @ext(ptr %p)
  ret void
}

declare void @ext(ptr)
`)
	r := resolve.New(context.Background())
	p := m.Func("f").Params[0]
	got, err := r.Resolve(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Depth != 0 || got.Base != ir.Ptr || !r.Fallback(p) {
		t.Errorf("got %s (fallback %v)", got, r.Fallback(p))
	}
}

func TestResolveFallbackKeepsStorage(t *testing.T) {
	m := parse(t, `@g = global ptr null, align 8

define void @f() {
  %slot = alloca ptr, align 8
  call void @ext(ptr %slot)
  ret void
}

declare void @ext(ptr)
`)
	r := resolve.New(context.Background())
	for _, v := range []ir.Value{m.Global("g"), findInst(t, m.Func("f"), "slot")} {
		got, err := r.Resolve(v)
		if err != nil {
			t.Fatal(err)
		}
		if got.String() != "ptr*" || got.Depth != 1 || !r.Fallback(v) {
			t.Errorf("%s: got %s depth %d (fallback %v)", ir.Ref(v), got, got.Depth, r.Fallback(v))
		}
	}
}
