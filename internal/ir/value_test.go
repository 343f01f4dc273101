package ir_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"mxprec/internal/ir"
)

func buildAddOne(t *testing.T) (*ir.Module, *ir.Function, *ir.Instruction, *ir.Instruction) {
	t.Helper()
	m := ir.NewModule("uses")
	f := m.AddFunc(ir.NewFunction("f", ir.FuncOf(ir.Double, []*ir.Type{ir.Double}, false), "x"))
	b := ir.AtEnd(f.AddBlock("entry"))
	slot := b.Alloca(ir.Double, 8)
	slot.SetName("x.addr")
	b.Store(f.Params[0], slot, 8)
	ld := b.Load(ir.Double, slot, 8)
	add := b.Binary(ir.OpFAdd, ld, ir.NewConstFloat(ir.Double, 1))
	b.Insert(ir.NewRet(add))
	return m, f, slot, add
}

func TestUseLists(t *testing.T) {
	m, f, slot, add := buildAddOne(t)
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n := slot.NumUses(); n != 2 {
		t.Fatalf("alloca has %d uses, want 2", n)
	}
	for _, u := range slot.Uses() {
		user := u.User().(*ir.Instruction)
		if user.Operand(u.Index()) != slot {
			t.Errorf("%s operand %d does not read the alloca", user.Op, u.Index())
		}
	}

	repl := ir.Before(slot).Alloca(ir.Double, 8)
	ir.ReplaceAllUsesWith(slot, repl)
	if slot.NumUses() != 0 || repl.NumUses() != 2 {
		t.Fatalf("RAUW moved %d/%d uses", slot.NumUses(), repl.NumUses())
	}
	if err := slot.EraseFromParent(); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := slot.EraseFromParent(); err != nil {
		t.Errorf("second erase: %v", err)
	}
	if err := add.EraseFromParent(); !errors.Is(err, ir.ErrHasUses) {
		t.Errorf("erasing a used value: %v, want ErrHasUses", err)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("verify after RAUW: %v", err)
	}
	if got := len(f.Entry().Insts); got != 5 {
		t.Errorf("entry has %d instructions, want 5", got)
	}
}

func TestTakeNameAndUsers(t *testing.T) {
	_, f, slot, _ := buildAddOne(t)
	repl := ir.Before(slot).Alloca(ir.Float, 4)
	ir.TakeName(repl, slot)
	if repl.Name() != "x.addr" || slot.Name() != "" {
		t.Errorf("TakeName: %q / %q", repl.Name(), slot.Name())
	}
	if got := len(ir.Users(slot)); got != 2 {
		t.Errorf("Users = %d, want 2", got)
	}
	if f.Entry().Insts[0] != repl {
		t.Errorf("Before did not insert at the front")
	}
}

func TestVerifyReportsProblems(t *testing.T) {
	m := ir.NewModule("bad")
	f := m.AddFunc(ir.NewFunction("g", ir.FuncOf(ir.Float, nil, false)))
	b := ir.AtEnd(f.AddBlock("entry"))
	x := b.Alloca(ir.Double, 8)
	ld := b.Load(ir.Double, x, 8)
	b.Insert(ir.NewRet(ld))
	f.AddBlock("dangling")

	err := ir.Verify(m)
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"unterminated block", "ret: value is double, want float"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestFormatFloat(t *testing.T) {
	tests := []struct {
		ty   *ir.Type
		v    float64
		want string
	}{
		{ir.Double, 1, "1.000000e+00"},
		{ir.Double, 0.1, "1.000000e-01"},
		{ir.Double, -2.5, "-2.500000e+00"},
		{ir.Float, float64(float32(0.1)), "0x3FB99999A0000000"},
		{ir.Double, math.Inf(1), "0x7FF0000000000000"},
		{ir.Half, 1, "0xH3C00"},
		{ir.Half, -2, "0xHC000"},
		{ir.X86FP80, 1, "0xK3FFF8000000000000000"},
		{ir.X86FP80, 0, "0xK00000000000000000000"},
	}
	for _, tt := range tests {
		if got := ir.FormatFloat(tt.ty, tt.v); got != tt.want {
			t.Errorf("FormatFloat(%s, %v) = %s, want %s", tt.ty, tt.v, got, tt.want)
		}
	}
}

func TestFloatLiteralsParseBack(t *testing.T) {
	for _, lit := range []string{"0x3FB99999A0000000", "0xK4000C000000000000000", "0xH3555"} {
		ty := ir.Float
		switch lit[2] {
		case 'K':
			ty = ir.X86FP80
		case 'H':
			ty = ir.Half
		}
		src := "@g = global " + ty.String() + " " + lit + "\n"
		m, err := ir.ParseString("lit", src)
		if err != nil {
			t.Fatalf("%s: %v", lit, err)
		}
		c := m.Global("g").Init.(*ir.ConstFloat)
		if got := ir.FormatFloat(ty, c.Val); got != lit {
			t.Errorf("%s printed back as %s", lit, got)
		}
	}
}

func TestTypeLayout(t *testing.T) {
	tests := []struct {
		ty    *ir.Type
		size  int64
		align int
		str   string
	}{
		{ir.Half, 2, 2, "half"},
		{ir.Double, 8, 8, "double"},
		{ir.X86FP80, 16, 16, "x86_fp80"},
		{ir.ArrayOf(ir.Half, 4), 8, 2, "[4 x half]"},
		{ir.ArrayOf(ir.ArrayOf(ir.Float, 3), 2), 24, 4, "[2 x [3 x float]]"},
		{ir.StructOf(ir.I8, ir.Double), 16, 8, "{ i8, double }"},
		{ir.Ptr, 8, 8, "ptr"},
	}
	for _, tt := range tests {
		if got := ir.SizeOf(tt.ty); got != tt.size {
			t.Errorf("SizeOf(%s) = %d, want %d", tt.str, got, tt.size)
		}
		if got := ir.AlignOf(tt.ty); got != tt.align {
			t.Errorf("AlignOf(%s) = %d, want %d", tt.str, got, tt.align)
		}
		if got := tt.ty.String(); got != tt.str {
			t.Errorf("String() = %s, want %s", got, tt.str)
		}
	}
	if !ir.Equal(ir.ArrayOf(ir.Float, 2), ir.ArrayOf(ir.Float, 2)) {
		t.Errorf("structurally equal arrays compare unequal")
	}
	if ir.FloatRank(ir.Half) >= ir.FloatRank(ir.Float) || ir.FloatRank(ir.Float) >= ir.FloatRank(ir.Double) {
		t.Errorf("float ranks out of order")
	}
}
