package ir

import (
	"slices"
	"strconv"
	"strings"
)

// Block is a labelled straight-line instruction sequence.
type Block struct {
	Name  string
	Insts []*Instruction

	parent *Function
}

// Parent returns the owning function.
func (b *Block) Parent() *Function { return b.parent }

// Append links inst at the end of b.
func (b *Block) Append(inst *Instruction) *Instruction {
	b.Insts = append(b.Insts, inst)
	inst.parent = b
	return inst
}

// Terminator returns the last instruction when it is a terminator.
func (b *Block) Terminator() *Instruction {
	if len(b.Insts) == 0 {
		return nil
	}
	if last := b.Insts[len(b.Insts)-1]; last.Op.IsTerminator() {
		return last
	}
	return nil
}

// Function is a definition or declaration. As a value it is the function's
// address and has type ptr.
type Function struct {
	valueBase
	Sig     *Type // FuncKind
	Params  []*Argument
	Blocks  []*Block
	Linkage string // raw prefix such as "dso_local" or "internal"
	Attach  []Attachment

	parent *Module
}

// NewFunction builds a function with parameters named after names (which may
// be shorter than the signature).
func NewFunction(name string, sig *Type, names ...string) *Function {
	f := &Function{Sig: sig}
	f.ty = Ptr
	f.name = name
	for i, pt := range sig.Params {
		a := &Argument{parent: f, index: i}
		a.ty = pt
		if i < len(names) {
			a.name = names[i]
		}
		f.Params = append(f.Params, a)
	}
	return f
}

// Parent returns the module.
func (f *Function) Parent() *Module { return f.parent }

// IsDeclaration reports a function without a body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// IsIntrinsic reports names in the llvm.* namespace.
func (f *Function) IsIntrinsic() bool { return strings.HasPrefix(f.name, "llvm.") }

// Entry returns the first block.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddBlock appends a new block.
func (f *Function) AddBlock(name string) *Block {
	b := &Block{Name: name, parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Instructions returns every instruction in block order.
func (f *Function) Instructions() []*Instruction {
	var out []*Instruction
	for _, b := range f.Blocks {
		out = append(out, b.Insts...)
	}
	return out
}

// Global is a module-level variable. As a value it is the variable's
// address and has type ptr.
type Global struct {
	valueBase
	ValueTy     *Type
	Init        Constant // nil for external declarations
	Const       bool
	Linkage     string
	UnnamedAddr bool
	Align       int
	Attach      []Attachment

	parent *Module
}

// NewGlobal builds a global of type ty.
func NewGlobal(name string, ty *Type, init Constant) *Global {
	g := &Global{ValueTy: ty, Init: init}
	g.ty = Ptr
	g.name = name
	return g
}

// Parent returns the module.
func (g *Global) Parent() *Module { return g.parent }

// NamedMD is a module-level named metadata list, e.g. `!llvm.dbg.cu = !{!0}`.
type NamedMD struct {
	Name  string
	Nodes []*MDNode
}

// Module is the unit the engine rewrites.
type Module struct {
	Name           string
	SourceFilename string
	DataLayout     string
	Triple         string
	Structs        []*Type
	Globals        []*Global
	Funcs          []*Function
	Metadata       []*MDNode
	Named          []*NamedMD

	nextMD int
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// Func finds a function by name.
func (m *Module) Func(name string) *Function {
	for _, f := range m.Funcs {
		if f.name == name {
			return f
		}
	}
	return nil
}

// Global finds a global by name.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Struct finds a named struct type.
func (m *Module) Struct(name string) *Type {
	for _, s := range m.Structs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AddFunc appends f.
func (m *Module) AddFunc(f *Function) *Function {
	f.parent = m
	m.Funcs = append(m.Funcs, f)
	return f
}

// AddGlobal appends g.
func (m *Module) AddGlobal(g *Global) *Global {
	g.parent = m
	m.Globals = append(m.Globals, g)
	return g
}

// InsertGlobalAfter places g right after pos, keeping textual order stable
// when a rewrite replaces a global.
func (m *Module) InsertGlobalAfter(g, pos *Global) *Global {
	idx := slices.Index(m.Globals, pos)
	if idx < 0 {
		return m.AddGlobal(g)
	}
	g.parent = m
	m.Globals = slices.Insert(m.Globals, idx+1, g)
	return g
}

// RemoveGlobal unlinks g. It fails with ErrHasUses while g is referenced.
func (m *Module) RemoveGlobal(g *Global) error {
	if g.NumUses() > 0 {
		return ErrHasUses
	}
	if idx := slices.Index(m.Globals, g); idx >= 0 {
		m.Globals = slices.Delete(m.Globals, idx, idx+1)
	}
	g.parent = nil
	return nil
}

// AddStruct registers a named struct, renaming it with a numeric suffix
// when the name is taken.
func (m *Module) AddStruct(t *Type) *Type {
	base := t.Name
	for n := 0; m.Struct(t.Name) != nil; n++ {
		t.Name = base + "." + strconv.Itoa(n)
	}
	m.Structs = append(m.Structs, t)
	return t
}

// GetOrInsertFunc returns the function called name, declaring it with sig
// when absent.
func (m *Module) GetOrInsertFunc(name string, sig *Type) *Function {
	if f := m.Func(name); f != nil {
		return f
	}
	return m.AddFunc(NewFunction(name, sig))
}

// NewMetadata creates a numbered metadata node.
func (m *Module) NewMetadata(kind string) *MDNode {
	n := &MDNode{ID: m.nextMD, Kind: kind}
	m.nextMD++
	m.Metadata = append(m.Metadata, n)
	return n
}

// ChangeIDNode returns a numbered `!{!"id"}` tuple for use as an
// `!mxprec.id` attachment.
func (m *Module) ChangeIDNode(id string) *MDNode {
	n := m.NewMetadata("")
	n.Elems = []MDOperand{{Kind: MDString, Str: id}}
	return n
}

// NamedMetadata returns the named list, creating it when needed.
func (m *Module) NamedMetadata(name string) *NamedMD {
	for _, n := range m.Named {
		if n.Name == name {
			return n
		}
	}
	n := &NamedMD{Name: name}
	m.Named = append(m.Named, n)
	return n
}

// Instructions returns every instruction of every defined function.
func (m *Module) Instructions() []*Instruction {
	var out []*Instruction
	for _, f := range m.Funcs {
		out = append(out, f.Instructions()...)
	}
	return out
}
