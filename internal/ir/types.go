package ir

import (
	"fmt"
	"strings"
)

// TypeKind enumerates the shapes a Type can take.
type TypeKind uint8

const (
	VoidKind TypeKind = iota
	HalfKind
	FloatKind
	DoubleKind
	X86FP80Kind
	IntKind
	PtrKind
	ArrayKind
	StructKind
	FuncKind
	LabelKind
	MetadataKind
)

// Type describes an IR type. Primitive types are shared singletons; aggregate
// and function types are built on demand and compared structurally with Equal.
type Type struct {
	Kind     TypeKind
	Bits     int     // IntKind width
	Elem     *Type   // ArrayKind element
	Len      int     // ArrayKind length
	Fields   []*Type // StructKind fields
	Name     string  // named struct, without the leading '%'
	Ret      *Type   // FuncKind result
	Params   []*Type // FuncKind parameters
	Variadic bool
}

var (
	Void     = &Type{Kind: VoidKind}
	Half     = &Type{Kind: HalfKind}
	Float    = &Type{Kind: FloatKind}
	Double   = &Type{Kind: DoubleKind}
	X86FP80  = &Type{Kind: X86FP80Kind}
	Ptr      = &Type{Kind: PtrKind}
	Label    = &Type{Kind: LabelKind}
	Metadata = &Type{Kind: MetadataKind}

	I1  = &Type{Kind: IntKind, Bits: 1}
	I8  = &Type{Kind: IntKind, Bits: 8}
	I16 = &Type{Kind: IntKind, Bits: 16}
	I32 = &Type{Kind: IntKind, Bits: 32}
	I64 = &Type{Kind: IntKind, Bits: 64}
)

// IntType returns the integer type of the given width.
func IntType(bits int) *Type {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	}
	return &Type{Kind: IntKind, Bits: bits}
}

// ArrayOf builds [n x elem].
func ArrayOf(elem *Type, n int) *Type {
	return &Type{Kind: ArrayKind, Elem: elem, Len: n}
}

// StructOf builds a literal struct type.
func StructOf(fields ...*Type) *Type {
	return &Type{Kind: StructKind, Fields: fields}
}

// NamedStruct builds an identified struct type.
func NamedStruct(name string, fields []*Type) *Type {
	return &Type{Kind: StructKind, Name: name, Fields: fields}
}

// FuncOf builds a function signature type.
func FuncOf(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Kind: FuncKind, Ret: ret, Params: params, Variadic: variadic}
}

func (t *Type) IsVoid() bool   { return t != nil && t.Kind == VoidKind }
func (t *Type) IsInt() bool    { return t != nil && t.Kind == IntKind }
func (t *Type) IsPtr() bool    { return t != nil && t.Kind == PtrKind }
func (t *Type) IsArray() bool  { return t != nil && t.Kind == ArrayKind }
func (t *Type) IsStruct() bool { return t != nil && t.Kind == StructKind }
func (t *Type) IsFunc() bool   { return t != nil && t.Kind == FuncKind }

// IsFloat reports whether t is one of the floating-point types.
func (t *Type) IsFloat() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case HalfKind, FloatKind, DoubleKind, X86FP80Kind:
		return true
	}
	return false
}

// FloatRank orders floating-point types by mantissa width. Non-float types rank 0.
func FloatRank(t *Type) int {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case HalfKind:
		return 1
	case FloatKind:
		return 2
	case DoubleKind:
		return 3
	case X86FP80Kind:
		return 4
	}
	return 0
}

// ScalarElem strips every array level and returns the innermost element type.
func (t *Type) ScalarElem() *Type {
	for t != nil && t.Kind == ArrayKind {
		t = t.Elem
	}
	return t
}

// ArrayDims returns the lengths of nested array levels, outermost first.
func (t *Type) ArrayDims() []int {
	var dims []int
	for t != nil && t.Kind == ArrayKind {
		dims = append(dims, t.Len)
		t = t.Elem
	}
	return dims
}

// Equal compares two types structurally. Identified structs compare by name.
func Equal(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case IntKind:
		return a.Bits == b.Bits
	case ArrayKind:
		return a.Len == b.Len && Equal(a.Elem, b.Elem)
	case StructKind:
		if a.Name != "" || b.Name != "" {
			return a.Name == b.Name && fieldsEqual(a.Fields, b.Fields)
		}
		return fieldsEqual(a.Fields, b.Fields)
	case FuncKind:
		return a.Variadic == b.Variadic && Equal(a.Ret, b.Ret) && fieldsEqual(a.Params, b.Params)
	}
	return true
}

func fieldsEqual(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// String renders the type in IR syntax.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case VoidKind:
		return "void"
	case HalfKind:
		return "half"
	case FloatKind:
		return "float"
	case DoubleKind:
		return "double"
	case X86FP80Kind:
		return "x86_fp80"
	case IntKind:
		return fmt.Sprintf("i%d", t.Bits)
	case PtrKind:
		return "ptr"
	case LabelKind:
		return "label"
	case MetadataKind:
		return "metadata"
	case ArrayKind:
		return fmt.Sprintf("[%d x %s]", t.Len, t.Elem)
	case StructKind:
		if t.Name != "" {
			return "%" + t.Name
		}
		return structBody(t)
	case FuncKind:
		parts := make([]string, 0, len(t.Params)+1)
		for _, p := range t.Params {
			parts = append(parts, p.String())
		}
		if t.Variadic {
			parts = append(parts, "...")
		}
		return fmt.Sprintf("%s (%s)", t.Ret, strings.Join(parts, ", "))
	}
	return "?"
}

func structBody(t *Type) string {
	if len(t.Fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// SizeOf returns the allocation size of t in bytes.
func SizeOf(t *Type) int64 {
	if t == nil {
		return 0
	}
	switch t.Kind {
	case HalfKind:
		return 2
	case FloatKind:
		return 4
	case DoubleKind, PtrKind:
		return 8
	case X86FP80Kind:
		return 16
	case IntKind:
		switch {
		case t.Bits <= 8:
			return 1
		case t.Bits <= 16:
			return 2
		case t.Bits <= 32:
			return 4
		default:
			return int64((t.Bits + 63) / 64 * 8)
		}
	case ArrayKind:
		return int64(t.Len) * SizeOf(t.Elem)
	case StructKind:
		var off int64
		maxAlign := int64(1)
		for _, f := range t.Fields {
			a := int64(AlignOf(f))
			if a > maxAlign {
				maxAlign = a
			}
			off = roundUp(off, a) + SizeOf(f)
		}
		return roundUp(off, maxAlign)
	}
	return 0
}

// AlignOf returns the ABI alignment of t in bytes.
func AlignOf(t *Type) int {
	if t == nil {
		return 1
	}
	switch t.Kind {
	case HalfKind:
		return 2
	case FloatKind:
		return 4
	case DoubleKind, PtrKind:
		return 8
	case X86FP80Kind:
		return 16
	case IntKind:
		s := SizeOf(t)
		if s > 8 {
			return 8
		}
		return int(s)
	case ArrayKind:
		return AlignOf(t.Elem)
	case StructKind:
		a := 1
		for _, f := range t.Fields {
			a = max(a, AlignOf(f))
		}
		return a
	}
	return 1
}

func roundUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	if r := n % align; r != 0 {
		return n + align - r
	}
	return n
}
