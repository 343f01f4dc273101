package ir

// Builder inserts new instructions at a fixed position: before a given
// instruction, or at the end of a block.
type Builder struct {
	block  *Block
	before *Instruction
}

// Before positions a builder immediately before inst.
func Before(inst *Instruction) *Builder {
	return &Builder{block: inst.parent, before: inst}
}

// AtEnd positions a builder at the end of b.
func AtEnd(b *Block) *Builder {
	return &Builder{block: b}
}

// Insert links inst at the builder position.
func (b *Builder) Insert(inst *Instruction) *Instruction {
	if b.before != nil {
		inst.InsertBefore(b.before)
		return inst
	}
	return b.block.Append(inst)
}

func (b *Builder) Alloca(ty *Type, align int) *Instruction {
	return b.Insert(NewAlloca(ty, align))
}

func (b *Builder) Load(ty *Type, p Value, align int) *Instruction {
	return b.Insert(NewLoad(ty, p, align))
}

func (b *Builder) Store(v, p Value, align int) *Instruction {
	return b.Insert(NewStore(v, p, align))
}

func (b *Builder) Binary(op Opcode, x, y Value) *Instruction {
	return b.Insert(NewBinary(op, x, y))
}

func (b *Builder) FNeg(x Value) *Instruction {
	return b.Insert(NewFNeg(x))
}

func (b *Builder) FCmp(pred string, x, y Value) *Instruction {
	return b.Insert(NewFCmp(pred, x, y))
}

func (b *Builder) GEP(src *Type, p Value, idx []Value, inBounds bool) *Instruction {
	return b.Insert(NewGEP(src, p, idx, inBounds))
}

func (b *Builder) Cast(op Opcode, v Value, ty *Type) *Instruction {
	return b.Insert(NewCast(op, v, ty))
}

func (b *Builder) Call(fnTy *Type, callee Value, args []Value) *Instruction {
	return b.Insert(NewCall(fnTy, callee, args))
}

// FPCast converts a float value to ty with fpext or fptrunc, returning v
// itself when no conversion is needed. Integer sources use sitofp, integer
// destinations fptosi.
func (b *Builder) FPCast(v Value, ty *Type) Value {
	from := v.Type()
	if Equal(from, ty) {
		return v
	}
	switch {
	case from.IsFloat() && ty.IsFloat():
		if FloatRank(from) < FloatRank(ty) {
			return b.Cast(OpFPExt, v, ty)
		}
		return b.Cast(OpFPTrunc, v, ty)
	case from.IsInt() && ty.IsFloat():
		return b.Cast(OpSIToFP, v, ty)
	case from.IsFloat() && ty.IsInt():
		return b.Cast(OpFPToSI, v, ty)
	}
	return b.Cast(OpBitcast, v, ty)
}
