package debuginfo_test

import (
	"context"
	"strings"
	"testing"

	"mxprec/internal/debuginfo"
	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/rewrite"
	"mxprec/internal/testkit"
)

const localSrc = `define double @f() {
entry:
  %x = alloca double, align 8
    #dbg_declare(ptr %x, !3, !DIExpression(), !4)
  store double 1.000000e+00, ptr %x, align 8
  %0 = load double, ptr %x, align 8
  ret double %0
}

!3 = !DILocalVariable(name: "x", type: !5)
!4 = !DILocation(line: 2, column: 3, scope: !6)
!5 = !DIBasicType(name: "double", size: 64, encoding: DW_ATE_float)
!6 = distinct !DISubprogram(name: "f", spFlags: DISPFlagDefinition)
`

func retype(t *testing.T, src string, req func(*ir.Module) rewrite.Request) (*ir.Module, *debuginfo.Updater) {
	t.Helper()
	m, err := ir.ParseString("dbg", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	up := debuginfo.New(m)
	e := rewrite.NewEngine(m, rewrite.Options{Retyped: up.Retyped})
	if _, err := e.ApplyChange(context.Background(), req(m)); err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}
	if err := testkit.CheckRewriteInvariants(m); err != nil {
		t.Fatalf("invariants: %v\n%s", err, m)
	}
	return m, up
}

func firstAlloca(m *ir.Module) *ir.Instruction {
	for _, inst := range m.Instructions() {
		if inst.Op == ir.OpAlloca {
			return inst
		}
	}
	return nil
}

func TestLocalDeclareFollowsNewAlloca(t *testing.T) {
	m, up := retype(t, localSrc, func(m *ir.Module) rewrite.Request {
		return rewrite.Request{Kind: rewrite.LocalVar, Target: firstAlloca(m), Field: -1,
			Types: []prec.PtrDep{{Base: ir.Float}}}
	})
	if up.Retargeted != 1 {
		t.Errorf("Retargeted = %d, want 1", up.Retargeted)
	}
	out := m.String()
	for _, want := range []string{
		"%x = alloca float, align 4",
		"call void @llvm.dbg.declare(metadata ptr %x, metadata !8, metadata !DIExpression()), !dbg !4",
		`!7 = !DIBasicType(name: "float", size: 32, encoding: DW_ATE_float)`,
		`!8 = !DILocalVariable(name: "x", type: !7)`,
		`!3 = !DILocalVariable(name: "x", type: !5)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
}

func TestArrayDescriptor(t *testing.T) {
	src := strings.Replace(localSrc, "%x = alloca double, align 8", "%x = alloca [4 x double], align 16", 1)
	src = strings.Replace(src, "store double 1.000000e+00, ptr %x, align 8\n  %0 = load double, ptr %x, align 8\n  ret double %0",
		"%p = getelementptr inbounds [4 x double], ptr %x, i64 0, i64 1\n  %0 = load double, ptr %p, align 8\n  ret double %0", 1)
	m, _ := retype(t, src, func(m *ir.Module) rewrite.Request {
		return rewrite.Request{Kind: rewrite.LocalVar, Target: firstAlloca(m), Field: -1,
			Types: []prec.PtrDep{{Base: ir.Float}}}
	})
	out := m.String()
	for _, want := range []string{
		`!7 = !DIBasicType(name: "float", size: 32, encoding: DW_ATE_float)`,
		"!9 = !DISubrange(count: 4)",
		"!8 = !{!9}",
		"!10 = !DICompositeType(tag: DW_TAG_array_type, baseType: !7, size: 128, elements: !8)",
		`!11 = !DILocalVariable(name: "x", type: !10)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
}

func TestGlobalVariableRetyped(t *testing.T) {
	src := `@g = global double 1.000000e+00, align 8, !dbg !0

define double @f() {
  %1 = load double, ptr @g, align 8
  ret double %1
}

!0 = !DIGlobalVariableExpression(var: !1, expr: !DIExpression())
!1 = distinct !DIGlobalVariable(name: "g", type: !2)
!2 = !DIBasicType(name: "double", size: 64, encoding: DW_ATE_float)
`
	m, up := retype(t, src, func(m *ir.Module) rewrite.Request {
		return rewrite.Request{Kind: rewrite.GlobalVar, Target: m.Global("g"), Field: -1,
			Types: []prec.PtrDep{{Base: ir.Half}}}
	})
	if up.Retargeted != 1 {
		t.Errorf("Retargeted = %d, want 1", up.Retargeted)
	}
	out := m.String()
	for _, want := range []string{
		"@g = global half 0xH3C00, align 2, !dbg !0",
		`!1 = distinct !DIGlobalVariable(name: "g", type: !3)`,
		`!3 = !DIBasicType(name: "_Float16", size: 16, encoding: DW_ATE_float)`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q\n%s", want, out)
		}
	}
}

func TestPointerStorageKeepsVariable(t *testing.T) {
	src := `define void @f(ptr %a) {
entry:
  %p = alloca ptr, align 8
    #dbg_declare(ptr %p, !3, !DIExpression(), !4)
  store ptr %a, ptr %p, align 8
  %0 = load ptr, ptr %p, align 8
  store double 1.000000e+00, ptr %0, align 8
  ret void
}

!3 = !DILocalVariable(name: "p", type: !5)
!4 = !DILocation(line: 2, column: 3, scope: !6)
!5 = !DIDerivedType(tag: DW_TAG_pointer_type, size: 64)
!6 = distinct !DISubprogram(name: "f", spFlags: DISPFlagDefinition)
`
	m, up := retype(t, src, func(m *ir.Module) rewrite.Request {
		return rewrite.Request{Kind: rewrite.LocalVar, Target: firstAlloca(m), Field: -1,
			Types: []prec.PtrDep{{Base: ir.Float, Depth: 1}}}
	})
	if up.Retargeted != 1 {
		t.Errorf("Retargeted = %d, want 1", up.Retargeted)
	}
	out := m.String()
	if !strings.Contains(out, "call void @llvm.dbg.declare(metadata ptr %p, metadata !3, metadata !DIExpression()), !dbg !4") {
		t.Errorf("declare not retargeted with its variable\n%s", out)
	}
	if strings.Contains(out, "DIBasicType") {
		t.Errorf("pointer storage got a basic type descriptor\n%s", out)
	}
}
