package ir

// Constant is a value with no operands whose content is known statically.
// Constants are not uniqued: each use site may hold its own instance.
type Constant interface {
	Value
	isConstant()
}

// ConstFloat is a floating-point literal. Val holds the exact value of the
// typed constant: a float constant stores a value representable as float32.
type ConstFloat struct {
	valueBase
	Val float64
}

// ConstInt is an integer literal.
type ConstInt struct {
	valueBase
	Val int64
}

// ConstArray is `[ T v0, T v1, ... ]`.
type ConstArray struct {
	valueBase
	Elems []Constant
}

// ConstStruct is `{ T v0, T v1 }`.
type ConstStruct struct {
	valueBase
	Fields []Constant
}

// ConstBytes is a `c"..."` byte-string initializer of type [N x i8].
type ConstBytes struct {
	valueBase
	Data []byte
}

// ConstZero is `zeroinitializer`.
type ConstZero struct{ valueBase }

// ConstNull is the null pointer.
type ConstNull struct{ valueBase }

// Undef is `undef` of some type. The reclaimer substitutes it for dangling
// metadata operands.
type Undef struct{ valueBase }

func (*ConstFloat) isConstant()  {}
func (*ConstInt) isConstant()    {}
func (*ConstArray) isConstant()  {}
func (*ConstStruct) isConstant() {}
func (*ConstBytes) isConstant()  {}
func (*ConstZero) isConstant()   {}
func (*ConstNull) isConstant()   {}
func (*Undef) isConstant()       {}

// Globals and functions are link-time constant addresses.
func (*Global) isConstant()   {}
func (*Function) isConstant() {}

// NewConstFloat returns a float literal of type ty.
func NewConstFloat(ty *Type, v float64) *ConstFloat {
	c := &ConstFloat{Val: v}
	c.ty = ty
	return c
}

// NewConstInt returns an integer literal of type ty.
func NewConstInt(ty *Type, v int64) *ConstInt {
	c := &ConstInt{Val: v}
	c.ty = ty
	return c
}

// NewConstArray returns an array constant; its type is [len(elems) x elem].
func NewConstArray(elem *Type, elems []Constant) *ConstArray {
	c := &ConstArray{Elems: elems}
	c.ty = ArrayOf(elem, len(elems))
	return c
}

// NewConstStruct returns a struct constant of type ty.
func NewConstStruct(ty *Type, fields []Constant) *ConstStruct {
	c := &ConstStruct{Fields: fields}
	c.ty = ty
	return c
}

// NewConstBytes returns a c"..." constant.
func NewConstBytes(data []byte) *ConstBytes {
	c := &ConstBytes{Data: data}
	c.ty = ArrayOf(I8, len(data))
	return c
}

// NewZero returns zeroinitializer of ty.
func NewZero(ty *Type) *ConstZero {
	c := &ConstZero{}
	c.ty = ty
	return c
}

// NewNull returns the null pointer.
func NewNull() *ConstNull {
	c := &ConstNull{}
	c.ty = Ptr
	return c
}

// NewUndef returns undef of ty.
func NewUndef(ty *Type) *Undef {
	c := &Undef{}
	c.ty = ty
	return c
}

// IsConstant reports whether v is a Constant.
func IsConstant(v Value) bool {
	_, ok := v.(Constant)
	return ok
}
