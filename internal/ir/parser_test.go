package ir_test

import (
	"errors"
	"strings"
	"testing"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/source"
	"mxprec/internal/testkit"
)

const canonical = `; ModuleID = 'roundtrip'
source_filename = "t.c"

@g = global double 1.500000e+00, align 8
@arr = internal constant [2 x half] [half 0xH3C00, half 0xH4000], align 2

define double @f(double %x, ptr %p) {
entry:
  %0 = alloca double, align 8
  store double %x, ptr %0, align 8
  %1 = load double, ptr %0, align 8
  %add = fadd double %1, 1.000000e+00
  %cmp = fcmp olt double %add, %x
  br i1 %cmp, label %then, label %exit

then:
  %t = fptrunc double %add to float
  br label %exit

exit:
  %r = phi double [ %add, %entry ], [ %x, %then ]
  ret double %r
}

declare double @llvm.sqrt.f64(double)
`

func TestParsePrintRoundTrip(t *testing.T) {
	m, err := ir.ParseString("roundtrip", canonical)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := m.String(); got != canonical {
		t.Errorf("round trip mismatch\n--- got ---\n%s\n--- want ---\n%s", got, canonical)
	}
}

func TestParseForwardReferences(t *testing.T) {
	src := `define void @loop(i32 %n) {
entry:
  br label %head

head:
  %i = phi i32 [ 0, %entry ], [ %next, %head ]
  %next = add i32 %i, 1
  %c = icmp slt i32 %next, %n
  br i1 %c, label %head, label %done

done:
  call void @later()
  ret void
}

define void @later() {
  ret void
}
`
	m, err := ir.ParseString("fwd", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	f := m.Func("loop")
	var next *ir.Instruction
	for _, inst := range f.Instructions() {
		if inst.Name() == "next" {
			next = inst
		}
	}
	if next == nil {
		t.Fatalf("%%next not found")
	}
	if n := next.NumUses(); n != 2 {
		t.Errorf("%%next has %d uses, want 2", n)
	}
	later := m.Func("later")
	if n := later.NumUses(); n != 1 {
		t.Errorf("@later has %d uses, want 1", n)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code diag.Code
	}{
		{"undefined_value", "define void @f() {\n  ret double %x\n}\n", diag.PrsUndefinedValue},
		{"unknown_opcode", "define void @f() {\n  frob void\n}\n", diag.PrsUnknownOpcode},
		{"undefined_label", "define void @f() {\n  br label %nowhere\n}\n", diag.PrsUndefinedBlock},
		{"redefinition", "define void @f() {\n  %a = alloca i32\n  %a = alloca i32\n  ret void\n}\n", diag.PrsRedefinition},
		{"unterminated_string", "source_filename = \"abc\n", diag.PrsUnterminated},
		{"unknown_type", "@g = global quad 0\n", diag.PrsUnknownType},
		{"undefined_metadata", "define void @f() {\n  ret void, !dbg !9\n}\n", diag.PrsUndefinedMD},
		{"undefined_global", "define void @f() {\n  call void @g()\n  ret void\n}\n", diag.PrsUndefinedValue},
		{"const_expr", "@p = global ptr getelementptr (i8, ptr @p, i64 1)\n", diag.PrsUnsupportedConst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ir.ParseString(tt.name, tt.src)
			var pe *ir.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ir.ParseError, got %v", err)
			}
			if pe.Code != tt.code {
				t.Errorf("code = %s, want %s (%s)", pe.Code.ID(), tt.code.ID(), pe.Msg)
			}
		})
	}
}

func TestParseReportsSpan(t *testing.T) {
	fs := source.NewFileSet()
	src := "define void @f() {\n  ret double %missing\n}\n"
	id := fs.AddVirtual("bad.ll", []byte(src))
	bag := diag.NewBag(10)
	_, err := ir.Parse(fs, id, &diag.BagReporter{Bag: bag})
	if err == nil {
		t.Fatalf("expected an error")
	}
	if bag.Len() != 1 {
		t.Fatalf("bag has %d diagnostics, want 1", bag.Len())
	}
	d := bag.Items()[0]
	if d.Code != diag.PrsUndefinedValue {
		t.Errorf("code = %s", d.Code.ID())
	}
	if got := src[d.Primary.Start:d.Primary.End]; got != "%missing" {
		t.Errorf("span covers %q", got)
	}
}

func TestParseSpansOrdered(t *testing.T) {
	fs := source.NewFileSet()
	id := fs.AddVirtual("roundtrip.ll", []byte(canonical))
	m, err := ir.Parse(fs, id, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := testkit.CheckSpanInvariants(m, fs.Get(id)); err != nil {
		t.Fatal(err)
	}
	f := m.Func("f")
	if f == nil {
		t.Fatal("@f missing")
	}
	first := f.Blocks[0].Insts[0]
	if got := canonical[first.Span.Start:first.Span.End]; !strings.HasPrefix(got, "%0 = alloca double") {
		t.Errorf("alloca span covers %q", got)
	}
}

func TestParseDebugRecord(t *testing.T) {
	src := `define void @f() {
  %x = alloca double, align 8
    #dbg_declare(ptr %x, !3, !DIExpression(), !4)
  ret void
}

!3 = !DILocalVariable(name: "x", type: !5)
!4 = !DILocation(line: 2, column: 3, scope: !6)
!5 = !DIBasicType(name: "double", size: 64, encoding: DW_ATE_float)
!6 = distinct !DISubprogram(name: "f", spFlags: DISPFlagDefinition | DISPFlagOptimized)
`
	m, err := ir.ParseString("dbg", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	out := m.String()
	for _, want := range []string{
		"call void @llvm.dbg.declare(metadata ptr %x, metadata !3, metadata !DIExpression()), !dbg !4",
		"declare void @llvm.dbg.declare(metadata, metadata, metadata)",
		`!3 = !DILocalVariable(name: "x", type: !5)`,
		`!6 = distinct !DISubprogram(name: "f", spFlags: DISPFlagDefinition | DISPFlagOptimized)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
	if id := m.NewMetadata("DIBasicType").ID; id != 7 {
		t.Errorf("next metadata id = %d, want 7", id)
	}
}

func TestParseVariadicCallAndStructs(t *testing.T) {
	src := `%struct.P = type { double, i32 }

@fmt = private unnamed_addr constant [4 x i8] c"%f\0A\00", align 1
@pt = global %struct.P { double 2.500000e-01, i32 3 }, align 8

define i32 @main() {
  %1 = load double, ptr @pt, align 8
  %2 = call i32 (ptr, ...) @printf(ptr @fmt, double %1)
  ret i32 0
}

declare i32 @printf(ptr, ...)
`
	m, err := ir.ParseString("va", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	st := m.Struct("struct.P")
	if st == nil || len(st.Fields) != 2 {
		t.Fatalf("struct.P not parsed: %v", st)
	}
	out := m.String()
	for _, want := range []string{
		"%struct.P = type { double, i32 }",
		`@fmt = private unnamed_addr constant [4 x i8] c"%f\0A\00", align 1`,
		"@pt = global %struct.P { double 2.500000e-01, i32 3 }, align 8",
		"call i32 (ptr, ...) @printf(ptr @fmt, double %1)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
}
