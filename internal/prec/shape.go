package prec

import (
	"strconv"
	"strings"

	"mxprec/internal/ir"
)

// Shape describes what a rewritten value carries. The dispatcher is
// generic over it: Flat distinguishes only addresses from plain values,
// PtrDep tracks the full indirection depth.
type Shape[S any] interface {
	// Type is the IR type of a value of this shape.
	Type() *ir.Type
	// Pointee is the type loaded from or stored through a value of this
	// shape; nil when the value is not an address.
	Pointee() *ir.Type
	// Deref is the shape of a load through the value.
	Deref() S
	// AddrOf is the shape of an address that holds a value of this shape.
	AddrOf() S
	// WithPointee replaces the pointee, keeping the indirection.
	WithPointee(t *ir.Type) S
	// Value is the shape of a plain (non-address) value of type t.
	Value(t *ir.Type) S
	Equal(S) bool
	String() string
}

// Flat is an address of T (Addr) or a plain value of T.
type Flat struct {
	T    *ir.Type
	Addr bool
}

// FlatValue is a plain value of type t.
func FlatValue(t *ir.Type) Flat { return Flat{T: t} }

// FlatAddr is an address of storage of type t.
func FlatAddr(t *ir.Type) Flat { return Flat{T: t, Addr: true} }

func (f Flat) Type() *ir.Type {
	if f.Addr {
		return ir.Ptr
	}
	return f.T
}

func (f Flat) Pointee() *ir.Type {
	if f.Addr {
		return f.T
	}
	return nil
}

func (f Flat) Deref() Flat { return Flat{T: f.T} }

// AddrOf of a flat value is an address of it; flat shapes do not nest, so
// an address of an address stays an address of ptr.
func (f Flat) AddrOf() Flat {
	if f.Addr {
		return Flat{T: ir.Ptr, Addr: true}
	}
	return Flat{T: f.T, Addr: true}
}

func (f Flat) WithPointee(t *ir.Type) Flat {
	if !f.Addr {
		return f
	}
	return Flat{T: t, Addr: true}
}

func (Flat) Value(t *ir.Type) Flat { return FlatValue(t) }

func (f Flat) Equal(o Flat) bool { return f.Addr == o.Addr && ir.Equal(f.T, o.T) }

func (f Flat) String() string {
	if f.Addr {
		return f.T.String() + "*"
	}
	return f.T.String()
}

// PtrDep is a base scalar or aggregate type plus the number of indirection
// levels separating a value from it. Depth 0 is the bare value.
type PtrDep struct {
	Base  *ir.Type
	Depth int
}

// Add returns p with n more levels of indirection.
func (p PtrDep) Add(n int) PtrDep { return PtrDep{Base: p.Base, Depth: p.Depth + n} }

// Sub returns p with n fewer levels; depth does not go below zero.
func (p PtrDep) Sub(n int) PtrDep { return PtrDep{Base: p.Base, Depth: max(p.Depth-n, 0)} }

func (p PtrDep) Equal(o PtrDep) bool { return p.Depth == o.Depth && ir.Equal(p.Base, o.Base) }

// Type is ptr for any positive depth.
func (p PtrDep) Type() *ir.Type {
	if p.Depth > 0 {
		return ir.Ptr
	}
	return p.Base
}

func (p PtrDep) Pointee() *ir.Type {
	switch {
	case p.Depth == 1:
		return p.Base
	case p.Depth > 1:
		return ir.Ptr
	}
	return nil
}

func (p PtrDep) Deref() PtrDep  { return p.Sub(1) }
func (p PtrDep) AddrOf() PtrDep { return p.Add(1) }

func (p PtrDep) WithPointee(t *ir.Type) PtrDep {
	if p.Depth == 1 {
		return PtrDep{Base: t, Depth: 1}
	}
	return p
}

func (PtrDep) Value(t *ir.Type) PtrDep { return PtrDep{Base: t} }

// String renders the C-like spelling used in change records, e.g. double**.
func (p PtrDep) String() string {
	if p.Base == nil {
		return "<unresolved>"
	}
	return TypeToken(p.Base) + strings.Repeat("*", p.Depth)
}

// Flat converts p to a flat shape when its depth is 0 or 1.
func (p PtrDep) Flat() (Flat, bool) {
	switch p.Depth {
	case 0:
		return FlatValue(p.Base), true
	case 1:
		return FlatAddr(p.Base), true
	}
	return Flat{}, false
}

// TypeToken spells t in the change-record vocabulary: scalars by name,
// arrays as T[N][M].
func TypeToken(t *ir.Type) string {
	switch t.Kind {
	case ir.HalfKind:
		return "half"
	case ir.FloatKind:
		return "float"
	case ir.DoubleKind:
		return "double"
	case ir.X86FP80Kind:
		return "longdouble"
	case ir.ArrayKind:
		var sb strings.Builder
		sb.WriteString(TypeToken(arrayScalar(t)))
		for _, d := range t.ArrayDims() {
			sb.WriteString("[" + strconv.Itoa(d) + "]")
		}
		return sb.String()
	}
	return t.String()
}

func arrayScalar(t *ir.Type) *ir.Type {
	for t.IsArray() {
		t = t.Elem
	}
	return t
}

// IndexedType is the type a GEP with source type src and the given indices
// addresses. The first index steps over src itself.
func IndexedType(src *ir.Type, idx []ir.Value) (*ir.Type, bool) {
	t := src
	for i, v := range idx {
		if i == 0 {
			continue
		}
		switch t.Kind {
		case ir.ArrayKind:
			t = t.Elem
		case ir.StructKind:
			c, ok := v.(*ir.ConstInt)
			if !ok || c.Val < 0 || int(c.Val) >= len(t.Fields) {
				return nil, false
			}
			t = t.Fields[c.Val]
		default:
			return nil, false
		}
	}
	return t, true
}
