// Package prec holds the floating-point precision lattice, the
// pointer-depth type used to describe indirect values, and the numeric
// re-encoding of constants between precisions.
package prec

import (
	"mxprec/internal/ir"
)

// Precision is a floating-point format ordered by mantissa width.
type Precision uint8

const (
	Invalid Precision = iota
	Half
	Float
	Double
	Extended // x86_fp80, the `longdouble` token
)

var precNames = [...]string{
	Invalid:  "invalid",
	Half:     "half",
	Float:    "float",
	Double:   "double",
	Extended: "longdouble",
}

func (p Precision) String() string {
	if int(p) < len(precNames) {
		return precNames[p]
	}
	return "invalid"
}

// Rank orders precisions; Invalid ranks below everything.
func (p Precision) Rank() int { return int(p) }

// Less reports whether p is strictly narrower than q.
func (p Precision) Less(q Precision) bool { return p.Rank() < q.Rank() }

// Type returns the IR type of p.
func (p Precision) Type() *ir.Type {
	switch p {
	case Half:
		return ir.Half
	case Float:
		return ir.Float
	case Double:
		return ir.Double
	case Extended:
		return ir.X86FP80
	}
	return nil
}

// Bits is the storage width in bits.
func (p Precision) Bits() int {
	switch p {
	case Half:
		return 16
	case Float:
		return 32
	case Double:
		return 64
	case Extended:
		return 80
	}
	return 0
}

// FromType returns the precision of a float type.
func FromType(t *ir.Type) (Precision, bool) {
	if t == nil {
		return Invalid, false
	}
	switch t.Kind {
	case ir.HalfKind:
		return Half, true
	case ir.FloatKind:
		return Float, true
	case ir.DoubleKind:
		return Double, true
	case ir.X86FP80Kind:
		return Extended, true
	}
	return Invalid, false
}

// Of returns the precision of the scalar element of t (arrays are looked
// through).
func Of(t *ir.Type) Precision {
	p, _ := FromType(t.ScalarElem())
	return p
}

// ConvOp picks the conversion from one type to another: fpext when widening,
// fptrunc when narrowing, sitofp/fptosi across int and float. It reports
// false when no conversion is needed or none exists.
func ConvOp(from, to *ir.Type) (ir.Opcode, bool) {
	if ir.Equal(from, to) {
		return ir.OpInvalid, false
	}
	fp, fok := FromType(from)
	tp, tok := FromType(to)
	switch {
	case fok && tok && fp.Less(tp):
		return ir.OpFPExt, true
	case fok && tok:
		return ir.OpFPTrunc, true
	case from.IsInt() && tok:
		return ir.OpSIToFP, true
	case fok && to.IsInt():
		return ir.OpFPToSI, true
	}
	return ir.OpInvalid, false
}

// Alignment is the natural alignment of t used for loads, stores and
// allocas of retyped storage.
func Alignment(t *ir.Type) int {
	switch t.Kind {
	case ir.HalfKind:
		return 2
	case ir.FloatKind:
		return 4
	case ir.DoubleKind:
		return 8
	case ir.X86FP80Kind:
		return 16
	case ir.ArrayKind:
		return Alignment(t.Elem)
	}
	return ir.AlignOf(t)
}

// WithScalar rebuilds t with its innermost array element replaced by s, so
// [4 x [2 x double]] with float becomes [4 x [2 x float]].
func WithScalar(t, s *ir.Type) *ir.Type {
	if t.IsArray() {
		return ir.ArrayOf(WithScalar(t.Elem, s), t.Len)
	}
	return s
}
