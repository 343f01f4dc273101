package prec

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"

	"mxprec/internal/ir"
)

// ErrNotConvertible is returned for constants that have no numeric
// re-encoding at the requested type.
var ErrNotConvertible = errors.New("constant cannot be converted")

const maxHalf = 65504.0

// Convert rounds v onto the value set of a float type with
// round-to-nearest-even. Non-float types return v unchanged.
func Convert(v float64, to *ir.Type) float64 {
	switch to.Kind {
	case ir.FloatKind:
		return float64(float32(v))
	case ir.HalfKind:
		return float64(ToHalf(v).Float32())
	}
	return v
}

// ToHalf encodes v as binary16. Going through float32 alone can round
// twice, so the float32 candidate is corrected against its neighbours.
func ToHalf(v float64) float16.Float16 {
	h := float16.Fromfloat32(float32(v))
	if math.IsNaN(v) || math.IsInf(v, 0) || float64(float32(v)) == v {
		return h
	}
	if h.IsInf(0) {
		if math.Abs(v) < maxHalf+16 { // below the rounding threshold 65520
			return float16.Fromfloat32(float32(math.Copysign(maxHalf, v)))
		}
		return h
	}
	best := h
	bestDist := math.Abs(float64(h.Float32()) - v)
	for _, delta := range []int{-1, 1} {
		c, ok := halfStep(h, delta)
		if !ok {
			continue
		}
		d := math.Abs(float64(c.Float32()) - v)
		if d < bestDist || d == bestDist && c.Bits()&1 == 0 {
			best, bestDist = c, d
		}
	}
	return best
}

// halfStep moves h by one unit in the last place of its magnitude.
func halfStep(h float16.Float16, delta int) (float16.Float16, bool) {
	bits := int(h.Bits())
	sign := bits & 0x8000
	mag := bits&0x7FFF + delta
	if mag < 0 || mag >= 0x7C00 {
		return 0, false
	}
	return float16.Frombits(uint16(sign | mag)), true
}

// ConvertConst re-encodes a constant at type to. Floats are rounded,
// integers become floats (and floats integers) with the usual casts,
// arrays and structs are converted element by element.
func ConvertConst(c ir.Constant, to *ir.Type) (ir.Constant, error) {
	switch c := c.(type) {
	case *ir.ConstFloat:
		switch {
		case to.IsFloat():
			return ir.NewConstFloat(to, Convert(c.Val, to)), nil
		case to.IsInt():
			v, ok := truncToInt(c.Val, to.Bits)
			if !ok {
				return nil, fmt.Errorf("%w: %s %v out of range for %s", ErrNotConvertible, c.Type(), c.Val, to)
			}
			return ir.NewConstInt(to, v), nil
		}
	case *ir.ConstInt:
		switch {
		case to.IsFloat():
			return ir.NewConstFloat(to, Convert(float64(c.Val), to)), nil
		case to.IsInt():
			return ir.NewConstInt(to, c.Val), nil
		}
	case *ir.ConstZero:
		return ir.NewZero(to), nil
	case *ir.Undef:
		return ir.NewUndef(to), nil
	case *ir.ConstArray:
		if to.IsArray() {
			return ReencodeArray(c, to)
		}
	case *ir.ConstStruct:
		if to.IsStruct() && len(to.Fields) == len(c.Fields) {
			fields := make([]ir.Constant, len(c.Fields))
			for i, f := range c.Fields {
				nf, err := ConvertConst(f, to.Fields[i])
				if err != nil {
					return nil, fmt.Errorf("field %d: %w", i, err)
				}
				fields[i] = nf
			}
			return ir.NewConstStruct(to, fields), nil
		}
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrNotConvertible, c.Type(), to)
}

// ReencodeArray builds a new constant array of type to whose elements are
// the elements of a correctly rounded to the new element type. Nested
// arrays are handled recursively.
func ReencodeArray(a *ir.ConstArray, to *ir.Type) (*ir.ConstArray, error) {
	if !to.IsArray() || to.Len != len(a.Elems) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNotConvertible, a.Type(), to)
	}
	elems := make([]ir.Constant, len(a.Elems))
	for i, e := range a.Elems {
		ne, err := ConvertConst(e, to.Elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		elems[i] = ne
	}
	return ir.NewConstArray(to.Elem, elems), nil
}

// truncToInt rounds v toward zero as fptosi does. NaN and values outside
// the signed range of a bits-wide integer have no result.
func truncToInt(v float64, bits int) (int64, bool) {
	if math.IsNaN(v) || bits <= 0 || bits > 64 {
		return 0, false
	}
	t := math.Trunc(v)
	limit := math.Ldexp(1, bits-1)
	if t < -limit || t >= limit {
		return 0, false
	}
	return int64(t), true
}
