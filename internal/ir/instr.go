package ir

import (
	"errors"
	"slices"

	"mxprec/internal/source"
)

// Opcode identifies the kind of an instruction.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpFNeg
	OpFCmp
	OpICmp
	OpFPTrunc
	OpFPExt
	OpSIToFP
	OpUIToFP
	OpFPToSI
	OpFPToUI
	OpBitcast
	OpSExt
	OpZExt
	OpTrunc
	OpCall
	OpRet
	OpBr
	OpPhi
	OpSelect
)

var opNames = [...]string{
	OpInvalid: "<invalid>",
	OpAlloca:  "alloca",
	OpLoad:    "load",
	OpStore:   "store",
	OpGEP:     "getelementptr",
	OpFAdd:    "fadd",
	OpFSub:    "fsub",
	OpFMul:    "fmul",
	OpFDiv:    "fdiv",
	OpFRem:    "frem",
	OpAdd:     "add",
	OpSub:     "sub",
	OpMul:     "mul",
	OpSDiv:    "sdiv",
	OpFNeg:    "fneg",
	OpFCmp:    "fcmp",
	OpICmp:    "icmp",
	OpFPTrunc: "fptrunc",
	OpFPExt:   "fpext",
	OpSIToFP:  "sitofp",
	OpUIToFP:  "uitofp",
	OpFPToSI:  "fptosi",
	OpFPToUI:  "fptoui",
	OpBitcast: "bitcast",
	OpSExt:    "sext",
	OpZExt:    "zext",
	OpTrunc:   "trunc",
	OpCall:    "call",
	OpRet:     "ret",
	OpBr:      "br",
	OpPhi:     "phi",
	OpSelect:  "select",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return opNames[OpInvalid]
}

// LookupOpcode maps a mnemonic to its opcode.
func LookupOpcode(name string) (Opcode, bool) {
	for i, n := range opNames {
		if i != int(OpInvalid) && n == name {
			return Opcode(i), true
		}
	}
	return OpInvalid, false
}

// IsFloatBinary reports fadd/fsub/fmul/fdiv/frem.
func (op Opcode) IsFloatBinary() bool { return op >= OpFAdd && op <= OpFRem }

// IsBinary reports any two-operand arithmetic opcode.
func (op Opcode) IsBinary() bool { return op >= OpFAdd && op <= OpSDiv }

// IsCast reports the conversion opcodes.
func (op Opcode) IsCast() bool { return op >= OpFPTrunc && op <= OpTrunc }

// IsTerminator reports ret and br.
func (op Opcode) IsTerminator() bool { return op == OpRet || op == OpBr }

// ErrHasUses is returned when erasing a value that is still referenced.
var ErrHasUses = errors.New("value still has uses")

// Attachment is an instruction metadata attachment such as `!dbg !7`.
type Attachment struct {
	Kind string
	Node *MDNode
}

// IDAttachment is the attachment kind that names operators and call sites
// for change records.
const IDAttachment = "mxprec.id"

// Instruction is a Value that consumes operands. Operand layout per opcode:
//
//	load    [ptr]
//	store   [value, ptr]
//	gep     [ptr, idx...]
//	call    [args..., callee]
//	br      [] or [cond]
//	phi     [incoming...] parallel to Blocks
//	select  [cond, a, b]
type Instruction struct {
	userBase
	Op       Opcode
	Pred     string // fcmp/icmp predicate
	AllocTy  *Type  // alloca
	SrcElem  *Type  // gep source element type
	Align    int
	InBounds bool
	FnTy     *Type // call signature
	ArgAlign []int // call: `align N` on pointer arguments, 0 when absent
	Blocks   []*Block
	Attach   []Attachment
	Span     source.Span

	parent *Block
	erased bool
}

func newInst(op Opcode, ty *Type, ops ...Value) *Instruction {
	inst := &Instruction{Op: op}
	inst.ty = ty
	for _, v := range ops {
		inst.appendOperand(inst, v)
	}
	return inst
}

// Parent returns the containing block, nil once erased or before insertion.
func (i *Instruction) Parent() *Block { return i.parent }

// Func returns the containing function.
func (i *Instruction) Func() *Function {
	if i.parent == nil {
		return nil
	}
	return i.parent.parent
}

// Erased reports whether EraseFromParent succeeded on i.
func (i *Instruction) Erased() bool { return i.erased }

// Operands returns a copy of the operand values.
func (i *Instruction) Operands() []Value {
	out := make([]Value, len(i.ops))
	for k, u := range i.ops {
		out[k] = u.val
	}
	return out
}

// Callee returns the called value of a call.
func (i *Instruction) Callee() Value {
	if i.Op != OpCall || len(i.ops) == 0 {
		return nil
	}
	return i.ops[len(i.ops)-1].val
}

// CalledFunction returns the callee when it is a direct call.
func (i *Instruction) CalledFunction() *Function {
	f, _ := i.Callee().(*Function)
	return f
}

// Args returns the call arguments.
func (i *Instruction) Args() []Value {
	if i.Op != OpCall {
		return nil
	}
	return i.Operands()[:len(i.ops)-1]
}

// NumArgs returns the number of call arguments.
func (i *Instruction) NumArgs() int {
	if i.Op != OpCall {
		return 0
	}
	return len(i.ops) - 1
}

// PointerOperand returns the address operand of load, store and gep.
func (i *Instruction) PointerOperand() Value {
	switch i.Op {
	case OpLoad, OpGEP:
		return i.Operand(0)
	case OpStore:
		return i.Operand(1)
	}
	return nil
}

// ValueOperand returns the stored value of a store.
func (i *Instruction) ValueOperand() Value {
	if i.Op != OpStore {
		return nil
	}
	return i.Operand(0)
}

// Indices returns the gep index operands.
func (i *Instruction) Indices() []Value {
	if i.Op != OpGEP {
		return nil
	}
	return i.Operands()[1:]
}

// Metadata returns the attachment of the given kind.
func (i *Instruction) Metadata(kind string) *MDNode {
	for _, a := range i.Attach {
		if a.Kind == kind {
			return a.Node
		}
	}
	return nil
}

// SetMetadata replaces or adds an attachment.
func (i *Instruction) SetMetadata(kind string, n *MDNode) {
	for k := range i.Attach {
		if i.Attach[k].Kind == kind {
			i.Attach[k].Node = n
			return
		}
	}
	i.Attach = append(i.Attach, Attachment{Kind: kind, Node: n})
}

// ChangeID returns the string carried by the `!mxprec.id` attachment.
func (i *Instruction) ChangeID() string {
	n := i.Metadata(IDAttachment)
	if n == nil || len(n.Elems) == 0 || n.Elems[0].Kind != MDString {
		return ""
	}
	return n.Elems[0].Str
}

// CopyMetadata copies every attachment of src onto i.
func (i *Instruction) CopyMetadata(src *Instruction) {
	for _, a := range src.Attach {
		i.SetMetadata(a.Kind, a.Node)
	}
	i.Span = src.Span
}

// InsertBefore links i immediately before pos.
func (i *Instruction) InsertBefore(pos *Instruction) {
	b := pos.parent
	idx := slices.Index(b.Insts, pos)
	b.Insts = slices.Insert(b.Insts, idx, i)
	i.parent = b
}

// InsertAfter links i immediately after pos.
func (i *Instruction) InsertAfter(pos *Instruction) {
	b := pos.parent
	idx := slices.Index(b.Insts, pos)
	b.Insts = slices.Insert(b.Insts, idx+1, i)
	i.parent = b
}

// EraseFromParent drops the operands of i and unlinks it. It fails with
// ErrHasUses while anything still reads i. Erasing twice is a no-op.
func (i *Instruction) EraseFromParent() error {
	if i.erased {
		return nil
	}
	if len(i.uses) > 0 {
		return ErrHasUses
	}
	i.dropOperands()
	if b := i.parent; b != nil {
		if idx := slices.Index(b.Insts, i); idx >= 0 {
			b.Insts = slices.Delete(b.Insts, idx, idx+1)
		}
	}
	i.parent = nil
	i.erased = true
	return nil
}

// NewAlloca builds `alloca ty, align n`.
func NewAlloca(ty *Type, align int) *Instruction {
	inst := newInst(OpAlloca, Ptr)
	inst.AllocTy = ty
	inst.Align = align
	return inst
}

// NewLoad builds `load ty, ptr p`.
func NewLoad(ty *Type, p Value, align int) *Instruction {
	inst := newInst(OpLoad, ty, p)
	inst.Align = align
	return inst
}

// NewStore builds `store v, ptr p`.
func NewStore(v, p Value, align int) *Instruction {
	inst := newInst(OpStore, Void, v, p)
	inst.Align = align
	return inst
}

// NewBinary builds a two-operand arithmetic instruction typed after a.
func NewBinary(op Opcode, a, b Value) *Instruction {
	return newInst(op, a.Type(), a, b)
}

// NewFNeg builds `fneg a`.
func NewFNeg(a Value) *Instruction {
	return newInst(OpFNeg, a.Type(), a)
}

// NewFCmp builds `fcmp pred a, b`.
func NewFCmp(pred string, a, b Value) *Instruction {
	inst := newInst(OpFCmp, I1, a, b)
	inst.Pred = pred
	return inst
}

// NewICmp builds `icmp pred a, b`.
func NewICmp(pred string, a, b Value) *Instruction {
	inst := newInst(OpICmp, I1, a, b)
	inst.Pred = pred
	return inst
}

// NewGEP builds `getelementptr src, ptr p, idx...`.
func NewGEP(src *Type, p Value, idx []Value, inBounds bool) *Instruction {
	inst := newInst(OpGEP, Ptr, append([]Value{p}, idx...)...)
	inst.SrcElem = src
	inst.InBounds = inBounds
	return inst
}

// NewCast builds a conversion of v to ty.
func NewCast(op Opcode, v Value, ty *Type) *Instruction {
	return newInst(op, ty, v)
}

// NewCall builds a call through callee with signature fnTy.
func NewCall(fnTy *Type, callee Value, args []Value) *Instruction {
	inst := newInst(OpCall, fnTy.Ret, append(slices.Clone(args), callee)...)
	inst.FnTy = fnTy
	return inst
}

// NewRet builds `ret v`, or `ret void` when v is nil.
func NewRet(v Value) *Instruction {
	if v == nil {
		return newInst(OpRet, Void)
	}
	return newInst(OpRet, Void, v)
}

// NewBr builds an unconditional branch.
func NewBr(dest *Block) *Instruction {
	inst := newInst(OpBr, Void)
	inst.Blocks = []*Block{dest}
	return inst
}

// NewCondBr builds `br i1 cond, label t, label f`.
func NewCondBr(cond Value, t, f *Block) *Instruction {
	inst := newInst(OpBr, Void, cond)
	inst.Blocks = []*Block{t, f}
	return inst
}

// NewPhi builds a phi; vals and preds are parallel.
func NewPhi(ty *Type, vals []Value, preds []*Block) *Instruction {
	inst := newInst(OpPhi, ty, vals...)
	inst.Blocks = slices.Clone(preds)
	return inst
}

// NewSelect builds `select i1 c, a, b`.
func NewSelect(c, a, b Value) *Instruction {
	return newInst(OpSelect, a.Type(), c, a, b)
}
