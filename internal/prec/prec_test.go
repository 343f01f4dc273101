package prec_test

import (
	"errors"
	"math"
	"testing"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
)

func TestPrecisionOrder(t *testing.T) {
	if !prec.Half.Less(prec.Float) || !prec.Float.Less(prec.Double) || prec.Double.Less(prec.Half) {
		t.Fatalf("lattice order broken")
	}
	for _, p := range []prec.Precision{prec.Half, prec.Float, prec.Double, prec.Extended} {
		got, ok := prec.FromType(p.Type())
		if !ok || got != p {
			t.Errorf("FromType(%s.Type()) = %s, %v", p, got, ok)
		}
	}
	if _, ok := prec.FromType(ir.I32); ok {
		t.Errorf("i32 reported as a float precision")
	}
}

func TestConvOp(t *testing.T) {
	tests := []struct {
		from, to *ir.Type
		want     ir.Opcode
		ok       bool
	}{
		{ir.Double, ir.Float, ir.OpFPTrunc, true},
		{ir.Half, ir.Double, ir.OpFPExt, true},
		{ir.I32, ir.Half, ir.OpSIToFP, true},
		{ir.Float, ir.I64, ir.OpFPToSI, true},
		{ir.Float, ir.Float, ir.OpInvalid, false},
		{ir.Ptr, ir.Float, ir.OpInvalid, false},
	}
	for _, tt := range tests {
		op, ok := prec.ConvOp(tt.from, tt.to)
		if op != tt.want || ok != tt.ok {
			t.Errorf("ConvOp(%s, %s) = %s, %v; want %s, %v", tt.from, tt.to, op, ok, tt.want, tt.ok)
		}
	}
}

func TestPtrDep(t *testing.T) {
	p := prec.PtrDep{Base: ir.Double, Depth: 1}
	if got := p.Add(1).String(); got != "double**" {
		t.Errorf("Add(1) = %s", got)
	}
	if got := p.Sub(3); got.Depth != 0 {
		t.Errorf("Sub clamps at zero, got depth %d", got.Depth)
	}
	if !p.Equal(prec.PtrDep{Base: ir.Double, Depth: 1}) || p.Equal(prec.PtrDep{Base: ir.Float, Depth: 1}) {
		t.Errorf("Equal compares base and depth")
	}
	if p.Type() != ir.Ptr || p.Deref().Type() != ir.Double || p.Pointee() != ir.Double {
		t.Errorf("depth 1 of double: type %s, deref %s", p.Type(), p.Deref().Type())
	}
	if got := p.Add(1).Pointee(); got != ir.Ptr {
		t.Errorf("double** points at %s", got)
	}
	arr := prec.PtrDep{Base: ir.ArrayOf(ir.ArrayOf(ir.Half, 3), 2), Depth: 1}
	if got := arr.String(); got != "half[2][3]*" {
		t.Errorf("array spelling %s", got)
	}
	if f, ok := p.Flat(); !ok || !f.Addr || f.T != ir.Double {
		t.Errorf("Flat() = %v, %v", f, ok)
	}
	if _, ok := p.Add(1).Flat(); ok {
		t.Errorf("depth 2 has no flat form")
	}
}

func TestFlatShape(t *testing.T) {
	a := prec.FlatAddr(ir.Float)
	if a.Type() != ir.Ptr || a.Deref().Type() != ir.Float || a.Deref().Pointee() != nil {
		t.Errorf("flat address of float misbehaves")
	}
	if got := a.WithPointee(ir.Half); !got.Equal(prec.FlatAddr(ir.Half)) {
		t.Errorf("WithPointee = %s", got)
	}
	if got := prec.FlatValue(ir.Float).AddrOf(); !got.Equal(a) {
		t.Errorf("AddrOf = %s", got)
	}
	if got := a.Value(ir.I32); got.Addr || got.T != ir.I32 {
		t.Errorf("Value(i32) = %s", got)
	}
	if got := (prec.PtrDep{Base: ir.Double, Depth: 2}).Value(ir.Half); got.Depth != 0 || got.Base != ir.Half {
		t.Errorf("PtrDep.Value = %s", got)
	}
}

func TestIndexedType(t *testing.T) {
	st := ir.StructOf(ir.I32, ir.ArrayOf(ir.Double, 4))
	zero := ir.NewConstInt(ir.I64, 0)
	one := ir.NewConstInt(ir.I32, 1)
	got, ok := prec.IndexedType(st, []ir.Value{zero, one, zero})
	if !ok || got != ir.Double {
		t.Errorf("IndexedType = %s, %v", got, ok)
	}
	if _, ok := prec.IndexedType(st, []ir.Value{zero, ir.NewConstInt(ir.I32, 7)}); ok {
		t.Errorf("out of range field accepted")
	}
}

func TestConvertRounding(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		to   *ir.Type
		want float64
	}{
		{"double_to_float", 0.1, ir.Float, float64(float32(0.1))},
		{"half_one", 1, ir.Half, 1},
		{"half_tenth", 0.1, ir.Half, 0.0999755859375},
		{"half_overflow", 1e6, ir.Half, math.Inf(1)},
		{"half_below_threshold", 65519.9999, ir.Half, 65504},
		{"half_tie_to_even", 1 + math.Ldexp(1, -11), ir.Half, 1},
		{"half_above_tie", 1 + math.Ldexp(1, -11) + math.Ldexp(1, -40), ir.Half, 1 + math.Ldexp(1, -10)},
		{"double_unchanged", 0.1, ir.Double, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := prec.Convert(tt.v, tt.to); got != tt.want {
				t.Errorf("Convert(%v, %s) = %v, want %v", tt.v, tt.to, got, tt.want)
			}
		})
	}
}

// Narrowing to half and widening back stays within half an ulp of half.
func TestHalfRoundTripBound(t *testing.T) {
	for _, v := range []float64{0.1, 1.0 / 3, 2.718281828, 1234.5678, 6e-5, -42.42} {
		back := float64(prec.ToHalf(v).Float32())
		exp := math.Floor(math.Log2(math.Abs(v)))
		ulp := math.Ldexp(1, int(max(exp, -14))-10)
		if d := math.Abs(back - v); d > ulp/2 {
			t.Errorf("%v -> %v: error %g exceeds %g", v, back, d, ulp/2)
		}
	}
}

func TestReencodeArray(t *testing.T) {
	src := ir.NewConstArray(ir.Double, []ir.Constant{
		ir.NewConstFloat(ir.Double, 1),
		ir.NewConstFloat(ir.Double, 0.1),
		ir.NewConstFloat(ir.Double, 2.5),
		ir.NewConstFloat(ir.Double, 3),
	})
	out, err := prec.ReencodeArray(src, ir.ArrayOf(ir.Half, 4))
	if err != nil {
		t.Fatalf("ReencodeArray: %v", err)
	}
	want := []string{"0xH3C00", "0xH2E66", "0xH4100", "0xH4200"}
	for i, e := range out.Elems {
		c := e.(*ir.ConstFloat)
		if got := ir.FormatFloat(c.Type(), c.Val); got != want[i] {
			t.Errorf("element %d = %s, want %s", i, got, want[i])
		}
	}

	nested := ir.NewConstArray(src.Type(), []ir.Constant{src, ir.NewZero(src.Type())})
	to := prec.WithScalar(nested.Type(), ir.Float)
	if got := to.String(); got != "[2 x [4 x float]]" {
		t.Fatalf("WithScalar = %s", got)
	}
	out, err = prec.ReencodeArray(nested, to)
	if err != nil {
		t.Fatalf("nested: %v", err)
	}
	if _, ok := out.Elems[1].(*ir.ConstZero); !ok {
		t.Errorf("zeroinitializer row became %T", out.Elems[1])
	}

	if _, err := prec.ReencodeArray(src, ir.ArrayOf(ir.Half, 3)); !errors.Is(err, prec.ErrNotConvertible) {
		t.Errorf("length mismatch: %v", err)
	}
}

func TestAlignment(t *testing.T) {
	for _, tt := range []struct {
		ty   *ir.Type
		want int
	}{
		{ir.Half, 2}, {ir.Float, 4}, {ir.Double, 8}, {ir.X86FP80, 16},
		{ir.ArrayOf(ir.Half, 8), 2}, {ir.Ptr, 8}, {ir.I32, 4},
	} {
		if got := prec.Alignment(tt.ty); got != tt.want {
			t.Errorf("Alignment(%s) = %d, want %d", tt.ty, got, tt.want)
		}
	}
}

func TestConvertConstToInt(t *testing.T) {
	for _, tt := range []struct {
		v    float64
		to   *ir.Type
		want int64
		ok   bool
	}{
		{2.9, ir.I32, 2, true},
		{-2.9, ir.I32, -2, true},
		{127.5, ir.I8, 127, true},
		{128, ir.I8, 0, false},
		{-128, ir.I8, -128, true},
		{math.NaN(), ir.I32, 0, false},
		{math.Inf(1), ir.I64, 0, false},
		{9.3e18, ir.I64, 0, false},
		{-0x1p63, ir.I64, math.MinInt64, true},
	} {
		got, err := prec.ConvertConst(ir.NewConstFloat(ir.Double, tt.v), tt.to)
		if !tt.ok {
			if !errors.Is(err, prec.ErrNotConvertible) {
				t.Errorf("%v to %s: err = %v, want ErrNotConvertible", tt.v, tt.to, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v to %s: %v", tt.v, tt.to, err)
			continue
		}
		if c, ok := got.(*ir.ConstInt); !ok || c.Val != tt.want {
			t.Errorf("%v to %s = %v, want %d", tt.v, tt.to, got, tt.want)
		}
	}
}
