package rewrite_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/rewrite"
	"mxprec/internal/testkit"
)

func parse(t *testing.T, name, src string) *ir.Module {
	t.Helper()
	m, err := ir.ParseString(name, src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func local(t *testing.T, m *ir.Module, fn, name string) *ir.Instruction {
	t.Helper()
	f := m.Func(fn)
	if f == nil {
		t.Fatalf("@%s not found", fn)
	}
	for _, inst := range f.Instructions() {
		if inst.Name() == name {
			return inst
		}
	}
	t.Fatalf("%%%s not found in @%s", name, fn)
	return nil
}

func byID(t *testing.T, m *ir.Module, id string) *ir.Instruction {
	t.Helper()
	for _, inst := range m.Instructions() {
		if inst.ChangeID() == id {
			return inst
		}
	}
	t.Fatalf("no instruction tagged %q", id)
	return nil
}

func scalar(t *ir.Type) []prec.PtrDep { return []prec.PtrDep{{Base: t}} }

func apply(t *testing.T, m *ir.Module, opts rewrite.Options, req rewrite.Request) *rewrite.Outcome {
	t.Helper()
	out, err := rewrite.NewEngine(m, opts).ApplyChange(context.Background(), req)
	if err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Fatalf("invariants after %s: %v\n%s", req.Kind, err, m)
	}
	return out
}

const scenarioA = `define double @main() {
entry:
  %x = alloca double, align 8
  store double 2.000000e+00, ptr %x, align 8
  %0 = load double, ptr %x, align 8
  %add = fadd double %0, 1.000000e+00
  store double %add, ptr %x, align 8
  %1 = load double, ptr %x, align 8
  ret double %1
}
`

const scenarioB = `@__const.main.a = private unnamed_addr constant [4 x double] [double 1.000000e+00, double 0x3FB999999999999A, double 2.500000e+00, double 3.000000e+00], align 16

define i32 @main() {
entry:
  %a = alloca [4 x double], align 16
  call void @llvm.memcpy.p0.p0.i64(ptr align 16 %a, ptr align 16 @__const.main.a, i64 32, i1 false)
  %arrayidx = getelementptr inbounds [4 x double], ptr %a, i64 0, i64 1
  %0 = load double, ptr %arrayidx, align 8
  %conv = fptosi double %0 to i32
  ret i32 %conv
}

declare void @llvm.memcpy.p0.p0.i64(ptr, ptr, i64, i1)
`

const scenarioC = `define float @f(double %x) {
entry:
  %call = call double @sqrt(double %x), !mxprec.id !0
  %conv = fptrunc double %call to float
  ret float %conv
}

declare double @sqrt(double)

!0 = !{!"call-1"}
`

func TestScenarios(t *testing.T) {
	tests := []struct {
		name string
		src  string
		req  func(*testing.T, *ir.Module) rewrite.Request
	}{
		{"scenario_a", scenarioA, func(t *testing.T, m *ir.Module) rewrite.Request {
			return rewrite.Request{ID: "x", Kind: rewrite.LocalVar, Target: local(t, m, "main", "x"), Types: scalar(ir.Float), Field: -1}
		}},
		{"scenario_b", scenarioB, func(t *testing.T, m *ir.Module) rewrite.Request {
			return rewrite.Request{ID: "a", Kind: rewrite.LocalVar, Target: local(t, m, "main", "a"), Types: scalar(ir.Half), Field: -1}
		}},
		{"scenario_c", scenarioC, func(t *testing.T, m *ir.Module) rewrite.Request {
			return rewrite.Request{ID: "call-1", Kind: rewrite.Call, Target: byID(t, m, "call-1"),
				Types: []prec.PtrDep{{Base: ir.Float}, {Base: ir.Float}}, Field: -1}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := parse(t, tt.name, tt.src)
			out := apply(t, m, rewrite.Options{}, tt.req(t, m))
			if out.NoOp {
				t.Fatalf("request reported as no-op")
			}
			g := goldie.New(t,
				goldie.WithFixtureDir("testdata/golden"),
				goldie.WithNameSuffix(".golden"),
			)
			g.Assert(t, tt.name, []byte(m.String()))
		})
	}
}

func TestApplyTwiceIsNoOp(t *testing.T) {
	m := parse(t, "again", scenarioA)
	req := func() rewrite.Request {
		return rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "main", "x"), Types: scalar(ir.Float), Field: -1}
	}
	apply(t, m, rewrite.Options{}, req())
	before := m.String()

	bag := diag.NewBag(10)
	out := apply(t, m, rewrite.Options{Reporter: &diag.BagReporter{Bag: bag}}, req())
	if !out.NoOp {
		t.Fatalf("second application changed the module")
	}
	if m.String() != before {
		t.Errorf("no-op request modified the module")
	}
	if bag.Len() != 1 || bag.Items()[0].Code != diag.RwrNoop {
		t.Errorf("expected one RwrNoop diagnostic, got %d", bag.Len())
	}
}

const escaping = `define double @f(i1 %c, ptr %q) {
entry:
  %x = alloca double, align 8
  store double 1.000000e+00, ptr %x, align 8
  %s = select i1 %c, ptr %x, ptr %q
  %v = load double, ptr %x, align 8
  call void @use(ptr %x)
  ret double %v
}

declare void @use(ptr)
`

func TestUseCountConserved(t *testing.T) {
	for _, del := range []bool{false, true} {
		m := parse(t, "uses", escaping)
		x := local(t, m, "f", "x")
		before := x.NumUses()
		bag := diag.NewBag(10)
		out := apply(t, m, rewrite.Options{DeleteUnhandled: del, Reporter: &diag.BagReporter{Bag: bag}},
			rewrite.Request{Kind: rewrite.LocalVar, Target: x, Types: scalar(ir.Float), Field: -1})
		if got, want := out.NewValue.NumUses(), before-out.Stats.Dropped; got != want {
			t.Errorf("delete=%v: new storage has %d uses, want %d", del, got, want)
		}
		// a select of the retyped address cannot read it through a conversion
		if out.Stats.Dropped != 1 {
			t.Errorf("delete=%v: dropped %d uses, want 1", del, out.Stats.Dropped)
		}
		if strings.Contains(m.String(), "select") {
			t.Errorf("delete=%v: select still reads the retyped address:\n%s", del, m)
		}
		if len(out.Unhandled) != 1 || out.Unhandled[0].Op != ir.OpSelect {
			t.Errorf("delete=%v: unhandled = %v", del, out.Unhandled)
		}
		codes := map[diag.Code]int{}
		for _, d := range bag.Items() {
			codes[d.Code]++
		}
		if codes[diag.RwrUnhandledKind] != 1 || codes[diag.RwrEscape] != 1 {
			t.Errorf("delete=%v: diagnostics %v", del, codes)
		}
		if !strings.Contains(m.String(), "bitcast ptr %x to ptr") {
			t.Errorf("escaping address not marked:\n%s", m)
		}
	}
}

func TestStrictStopsOnUnhandled(t *testing.T) {
	m := parse(t, "strict", escaping)
	_, err := rewrite.NewEngine(m, rewrite.Options{Strict: true}).ApplyChange(context.Background(),
		rewrite.Request{ID: "x", Kind: rewrite.LocalVar, Target: local(t, m, "f", "x"), Types: scalar(ir.Float), Field: -1})
	if !errors.Is(err, rewrite.ErrUnhandledKind) {
		t.Fatalf("err = %v, want ErrUnhandledKind", err)
	}
	var uk *rewrite.UnhandledKindError
	if !errors.As(err, &uk) || uk.Op != ir.OpSelect {
		t.Fatalf("err = %#v", err)
	}
	if !strings.Contains(uk.User, "select") || !strings.Contains(uk.Value, "%x") {
		t.Errorf("error lacks context: %v", uk)
	}
}

func TestMultiplyAddFeedsDivision(t *testing.T) {
	m := parse(t, "fma", `define double @f(double %b, double %c) {
entry:
  %a = alloca double, align 8
  store double 2.000000e+00, ptr %a, align 8
  %0 = load double, ptr %a, align 8
  %1 = call double @llvm.fmuladd.f64(double %0, double %b, double %c)
  %div = fdiv double %1, 3.000000e+00
  ret double %div
}

declare double @llvm.fmuladd.f64(double, double, double)
`)
	apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "f", "a"), Types: scalar(ir.Float), Field: -1})
	out := m.String()
	for _, want := range []string{
		"%1 = fptrunc double %b to float",
		"%2 = fptrunc double %c to float",
		"%3 = call float @llvm.fmuladd.f32(float %0, float %1, float %2)",
		"%div = fdiv float %3, 3.000000e+00",
		"%4 = fpext float %div to double",
		"declare float @llvm.fmuladd.f32(float, float, float)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
}

func TestStructField(t *testing.T) {
	src := `%struct.S = type { i32, double }

define double @f() {
entry:
  %s = alloca %struct.S, align 8
  %i = getelementptr inbounds %struct.S, ptr %s, i32 0, i32 0
  store i32 7, ptr %i, align 8
  %d = getelementptr inbounds %struct.S, ptr %s, i32 0, i32 1
  store double 1.500000e+00, ptr %d, align 8
  %v = load double, ptr %d, align 8
  ret double %v
}
`
	m := parse(t, "field", src)
	apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "f", "s"), Types: scalar(ir.Float), Field: 1})
	out := m.String()
	for _, want := range []string{
		"%struct.S.0 = type { i32, float }",
		"%s = alloca %struct.S.0, align 4",
		"%i = getelementptr inbounds %struct.S.0, ptr %s, i32 0, i32 0",
		"store i32 7, ptr %i, align 8",
		"%d = getelementptr inbounds %struct.S.0, ptr %s, i32 0, i32 1",
		"store float 1.500000e+00, ptr %d, align 4",
		"%v = load float, ptr %d, align 4",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}

	m = parse(t, "notstruct", scenarioA)
	_, err := rewrite.NewEngine(m, rewrite.Options{}).ApplyChange(context.Background(),
		rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "main", "x"), Types: scalar(ir.Float), Field: 0})
	if !errors.Is(err, rewrite.ErrNotStruct) {
		t.Errorf("field change on double: %v", err)
	}
}

func TestPointerDepthLocal(t *testing.T) {
	m := parse(t, "ptrdep", `define double @f(ptr %p) {
entry:
  %p.addr = alloca ptr, align 8
  store ptr %p, ptr %p.addr, align 8
  %0 = load ptr, ptr %p.addr, align 8
  %arrayidx = getelementptr inbounds double, ptr %0, i64 2
  %1 = load double, ptr %arrayidx, align 8
  ret double %1
}
`)
	out := apply(t, m, rewrite.Options{}, rewrite.Request{
		Kind:   rewrite.LocalVar,
		Target: local(t, m, "f", "p.addr"),
		Types:  []prec.PtrDep{{Base: ir.Float, Depth: 1}},
		Field:  -1,
	})
	if out.OldType != "double**" || out.NewType != "float**" {
		t.Errorf("shapes %s -> %s", out.OldType, out.NewType)
	}
	text := m.String()
	for _, want := range []string{
		"%arrayidx = getelementptr inbounds float, ptr %0, i64 2",
		"%1 = load float, ptr %arrayidx, align 4",
		"%2 = fpext float %1 to double",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}
}

func TestGlobalVar(t *testing.T) {
	m := parse(t, "global", `@g = global double 1.500000e+00, align 8

define double @f() {
entry:
  %0 = load double, ptr @g, align 8
  %m = fmul double %0, 2.000000e+00
  store double %m, ptr @g, align 8
  ret double %m
}
`)
	apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.GlobalVar, Target: m.Global("g"), Types: scalar(ir.Float), Field: -1})
	text := m.String()
	for _, want := range []string{
		"@g = global float 1.500000e+00, align 4",
		"%0 = load float, ptr @g, align 4",
		"%m = fmul float %0, 2.000000e+00",
		"store float %m, ptr @g, align 4",
		"%1 = fpext float %m to double",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}
	if n := len(m.Globals); n != 1 {
		t.Errorf("%d globals left, want 1", n)
	}
}

func TestOperatorRequest(t *testing.T) {
	m := parse(t, "op", `define double @f(double %a, double %b) {
entry:
  %mul = fmul double %a, %b, !mxprec.id !0
  %conv = fptrunc double %mul to float
  %r = fadd double %mul, 1.000000e+00
  %e = fpext float %conv to double
  %s = fadd double %r, %e
  ret double %s
}

!0 = !{!"op-1"}
`)
	out := apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.Op, Target: byID(t, m, "op-1"), Types: scalar(ir.Float)})
	if out.OldType != "double" || out.NewType != "float" {
		t.Errorf("types %s -> %s", out.OldType, out.NewType)
	}
	text := m.String()
	for _, want := range []string{
		"%0 = fptrunc double %a to float",
		"%1 = fptrunc double %b to float",
		"%mul = fmul float %0, %1, !mxprec.id !0",
		"%2 = fpext float %mul to double",
		"%r = fadd double %2, 1.000000e+00",
		"%e = fpext float %mul to double",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}
	if strings.Contains(text, "%conv") {
		t.Errorf("narrowing cast not collapsed\n%s", text)
	}
}

func TestCallSwitch(t *testing.T) {
	src := `define float @f(double %x) {
entry:
  %call = call double @sqrt(double %x), !mxprec.id !0
  %conv = fptrunc double %call to float
  ret float %conv
}

declare double @sqrt(double)
%s

!0 = !{!"call-1"}
`
	req := func(m *ir.Module) rewrite.Request {
		return rewrite.Request{ID: "call-1", Kind: rewrite.Call, Target: byID(t, m, "call-1"),
			Types: []prec.PtrDep{{Base: ir.Float}, {Base: ir.Float}}, Field: -1, Switch: "sqrtf"}
	}

	m := parse(t, "switch", strings.Replace(src, "%s\n", "", 1))
	apply(t, m, rewrite.Options{}, req(m))
	text := m.String()
	for _, want := range []string{
		"%call = call float @sqrtf(float %0), !mxprec.id !0",
		"declare float @sqrtf(float)",
		"ret float %call",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}

	m = parse(t, "mismatch", strings.Replace(src, "%s\n", "\ndeclare double @sqrtf(double)\n", 1))
	_, err := rewrite.NewEngine(m, rewrite.Options{}).ApplyChange(context.Background(), req(m))
	if !errors.Is(err, rewrite.ErrSignature) {
		t.Errorf("mismatched switch: %v", err)
	}
}

func TestBadTargets(t *testing.T) {
	m := parse(t, "bad", scenarioA)
	load := m.Func("main").Entry().Insts[2]
	tests := []struct {
		name string
		req  rewrite.Request
		want error
	}{
		{"op_on_load", rewrite.Request{Kind: rewrite.Op, Target: load, Types: scalar(ir.Float), Field: -1}, rewrite.ErrBadTarget},
		{"local_on_load", rewrite.Request{Kind: rewrite.LocalVar, Target: load, Types: scalar(ir.Float), Field: -1}, rewrite.ErrBadTarget},
		{"call_on_load", rewrite.Request{Kind: rewrite.Call, Target: load, Types: scalar(ir.Float), Field: -1}, rewrite.ErrBadTarget},
		{"no_target", rewrite.Request{Kind: rewrite.LocalVar, Types: scalar(ir.Float), Field: -1}, rewrite.ErrBadTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rewrite.NewEngine(m, rewrite.Options{}).ApplyChange(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Errorf("rejected requests left the module broken: %v", err)
	}
}

func TestReclaimCutsCyclesAndMetadata(t *testing.T) {
	m := parse(t, "reclaim", `define void @f(i1 %c) {
entry:
  %x = alloca double, align 8
    #dbg_declare(ptr %x, !0, !DIExpression(), !1)
  br label %loop

loop:
  %p = phi double [ 0.000000e+00, %entry ], [ %n, %loop ]
  %n = fadd double %p, 1.000000e+00
  br i1 %c, label %loop, label %exit

exit:
  ret void
}

!0 = !DILocalVariable(name: "x")
!1 = !DILocation(line: 1, column: 1)
`)
	x, p, n := local(t, m, "f", "x"), local(t, m, "f", "p"), local(t, m, "f", "n")
	var r rewrite.Reclaimer
	if got := r.Reclaim([]*ir.Instruction{x, p}); got != 3 {
		t.Errorf("reclaimed %d instructions, want 3", got)
	}
	if !x.Erased() || !p.Erased() || !n.Erased() {
		t.Errorf("erased: x=%v p=%v n=%v", x.Erased(), p.Erased(), n.Erased())
	}
	if got := r.Reclaim([]*ir.Instruction{x, p}); got != 0 {
		t.Errorf("second reclaim erased %d", got)
	}
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Fatal(err)
	}
	if text := m.String(); !strings.Contains(text, "metadata ptr undef") {
		t.Errorf("debug declare not detached:\n%s", text)
	}
}

func TestPointerCastForwardsStorage(t *testing.T) {
	m := parse(t, "bitcast", `define double @f() {
entry:
  %x = alloca double, align 8
  store double 1.000000e+00, ptr %x, align 8
  %b = bitcast ptr %x to ptr
  %v = load double, ptr %b, align 8
  ret double %v
}
`)
	apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "f", "x"), Types: scalar(ir.Float), Field: -1})
	text := m.String()
	for _, want := range []string{
		"%x = alloca float, align 4",
		"%b = bitcast ptr %x to ptr",
		"%v = load float, ptr %b, align 4",
		"fpext float %v to double",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}
	if strings.Contains(text, "load double") {
		t.Errorf("load through the cast still reads double\n%s", text)
	}
}

func TestPointerCompareKeepsAddress(t *testing.T) {
	m := parse(t, "icmp", `define double @f() {
entry:
  %x = alloca double, align 8
  store double 1.000000e+00, ptr %x, align 8
  %nil = icmp eq ptr %x, null
  %v = load double, ptr %x, align 8
  %r = select i1 %nil, double 0.000000e+00, double %v
  ret double %r
}
`)
	out := apply(t, m, rewrite.Options{Strict: true}, rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "f", "x"), Types: scalar(ir.Float), Field: -1})
	if out.Stats.Dropped != 0 || len(out.Unhandled) != 0 {
		t.Fatalf("comparison dropped: %+v %v", out.Stats, out.Unhandled)
	}
	if text := m.String(); !strings.Contains(text, "%nil = icmp eq ptr %x, null") {
		t.Errorf("comparison lost\n%s", text)
	}
}

func TestMemcpyPartialCopy(t *testing.T) {
	m := parse(t, "partial", `@__const.main.a = private unnamed_addr constant [4 x double] [double 1.000000e+00, double 2.000000e+00, double 3.000000e+00, double 4.000000e+00], align 16

define double @main() {
entry:
  %a = alloca [4 x double], align 16
  call void @llvm.memcpy.p0.p0.i64(ptr align 16 %a, ptr align 16 @__const.main.a, i64 16, i1 false)
  %hi = getelementptr inbounds i8, ptr %a, i64 16
  %0 = load double, ptr %hi, align 8
  ret double %0
}

declare void @llvm.memcpy.p0.p0.i64(ptr, ptr, i64, i1)
`)
	apply(t, m, rewrite.Options{}, rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "main", "a"), Types: scalar(ir.Half), Field: -1})
	text := m.String()
	for _, want := range []string{
		"@__const.main.a = private unnamed_addr constant [4 x half] [half 0xH3C00, half 0xH4000, half 0xH4200, half 0xH4400], align 2",
		"%a = alloca [4 x half], align 2",
		"call void @llvm.memcpy.p0.p0.i64(ptr align 2 %a, ptr align 2 @__const.main.a, i64 4, i1 false)",
		"%hi = getelementptr inbounds i8, ptr %a, i64 4",
		"%0 = load half, ptr %hi, align 2",
		"%1 = fpext half %0 to double",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output lacks %q\n%s", want, text)
		}
	}
}

func TestMisalignedByteOffsetIsUnhandled(t *testing.T) {
	m := parse(t, "misaligned", `define i8 @f() {
entry:
  %a = alloca [2 x double], align 16
  %mid = getelementptr inbounds i8, ptr %a, i64 3
  %0 = load i8, ptr %mid, align 1
  ret i8 %0
}
`)
	_, err := rewrite.NewEngine(m, rewrite.Options{Strict: true}).ApplyChange(context.Background(),
		rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "f", "a"), Types: scalar(ir.Float), Field: -1})
	var uk *rewrite.UnhandledKindError
	if !errors.As(err, &uk) || uk.Op != ir.OpGEP {
		t.Fatalf("err = %v, want an unhandled getelementptr", err)
	}
}

// nestedCalls passes the pointer stored in %q.addr down depth calls before
// it is loaded as double.
func nestedCalls(depth int) string {
	var sb strings.Builder
	sb.WriteString("define double @l0(ptr %p) {\nentry:\n  %0 = load double, ptr %p, align 8\n  ret double %0\n}\n")
	for i := 1; i <= depth; i++ {
		fmt.Fprintf(&sb, "\ndefine double @l%d(ptr %%p) {\nentry:\n  %%0 = call double @l%d(ptr %%p)\n  ret double %%0\n}\n", i, i-1)
	}
	fmt.Fprintf(&sb, `
define double @main(ptr %%q) {
entry:
  %%q.addr = alloca ptr, align 8
  store ptr %%q, ptr %%q.addr, align 8
  %%0 = load ptr, ptr %%q.addr, align 8
  %%1 = call double @l%d(ptr %%0)
  ret double %%1
}
`, depth)
	return sb.String()
}

func TestPointerDepthStableAcrossCalls(t *testing.T) {
	for depth := 0; depth <= 4; depth++ {
		t.Run(fmt.Sprintf("depth_%d", depth), func(t *testing.T) {
			m := parse(t, "nested", nestedCalls(depth))
			req := func(base *ir.Type) rewrite.Request {
				return rewrite.Request{Kind: rewrite.LocalVar, Target: local(t, m, "main", "q.addr"),
					Types: []prec.PtrDep{{Base: base, Depth: 1}}, Field: -1}
			}
			same := apply(t, m, rewrite.Options{}, req(ir.Double))
			if !same.NoOp || same.OldType != "double**" {
				t.Fatalf("double* request: noop=%v old=%s", same.NoOp, same.OldType)
			}
			bag := diag.NewBag(10)
			out := apply(t, m, rewrite.Options{Reporter: &diag.BagReporter{Bag: bag}}, req(ir.Float))
			if out.OldType != "double**" || out.NewType != "float**" {
				t.Errorf("shapes %s -> %s", out.OldType, out.NewType)
			}
			if bag.Count(diag.RwrEscape) != 1 {
				t.Errorf("expected the call to be flagged, got %d escape diagnostics", bag.Count(diag.RwrEscape))
			}
		})
	}
}

func TestCallRequestRollsBackCasts(t *testing.T) {
	m := parse(t, "rollback", `define double @f(double %x, ptr %p) {
entry:
  %call = call double @h(double %x, ptr %p), !mxprec.id !0
  ret double %call
}

declare double @h(double, ptr)

!0 = !{!"call-1"}
`)
	before := m.String()
	_, err := rewrite.NewEngine(m, rewrite.Options{}).ApplyChange(context.Background(), rewrite.Request{
		ID: "call-1", Kind: rewrite.Call, Target: byID(t, m, "call-1"),
		Types: []prec.PtrDep{{Base: ir.Float}, {Base: ir.Float}, {Base: ir.Float}}, Field: -1, Switch: "hf",
	})
	if !errors.Is(err, rewrite.ErrNoConversion) {
		t.Fatalf("err = %v, want ErrNoConversion", err)
	}
	if after := m.String(); after != before {
		t.Errorf("failed request left changes behind\n--- got ---\n%s\n--- want ---\n%s", after, before)
	}
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Fatal(err)
	}
}
