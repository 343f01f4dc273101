package ir

import "slices"

// Value is a typed node of the IR graph. Every value keeps the list of use
// edges that currently point at it.
type Value interface {
	Type() *Type
	Name() string
	SetName(name string)
	// Uses returns a snapshot of the use edges; mutating the graph while
	// ranging over the snapshot is safe.
	Uses() []*Use
	NumUses() int
	base() *valueBase
}

// User is a value that reads other values through operand slots.
type User interface {
	Value
	NumOperands() int
	Operand(i int) Value
	SetOperand(i int, v Value)
}

// Use is the edge "User reads Value at operand slot Index".
type Use struct {
	val   Value
	user  User
	index int
}

// Value returns the value the edge points at.
func (u *Use) Value() Value { return u.val }

// User returns the consumer.
func (u *Use) User() User { return u.user }

// Index returns the operand slot.
func (u *Use) Index() int { return u.index }

// Set repoints the edge at v, moving it between use lists.
func (u *Use) Set(v Value) {
	if u.val == v {
		return
	}
	if u.val != nil {
		u.val.base().removeUse(u)
	}
	u.val = v
	if v != nil {
		v.base().addUse(u)
	}
}

type valueBase struct {
	ty   *Type
	name string
	uses []*Use
}

func (v *valueBase) Type() *Type         { return v.ty }
func (v *valueBase) Name() string        { return v.name }
func (v *valueBase) SetName(name string) { v.name = name }
func (v *valueBase) Uses() []*Use        { return slices.Clone(v.uses) }
func (v *valueBase) NumUses() int        { return len(v.uses) }
func (v *valueBase) base() *valueBase    { return v }

func (v *valueBase) addUse(u *Use) { v.uses = append(v.uses, u) }

func (v *valueBase) removeUse(u *Use) {
	if i := slices.Index(v.uses, u); i >= 0 {
		v.uses = slices.Delete(v.uses, i, i+1)
	}
}

// Users returns the distinct consumers of v in use-list order.
func Users(v Value) []User {
	seen := make(map[User]bool, v.NumUses())
	out := make([]User, 0, v.NumUses())
	for _, u := range v.base().uses {
		if !seen[u.user] {
			seen[u.user] = true
			out = append(out, u.user)
		}
	}
	return out
}

// ReplaceAllUsesWith repoints every use of old at repl.
func ReplaceAllUsesWith(old, repl Value) {
	if old == repl {
		return
	}
	for _, u := range old.Uses() {
		u.Set(repl)
	}
}

// ReplaceUsesOfWith repoints the operands of user that read old.
func ReplaceUsesOfWith(user User, old, repl Value) {
	for i := 0; i < user.NumOperands(); i++ {
		if user.Operand(i) == old {
			user.SetOperand(i, repl)
		}
	}
}

// TakeName moves the name of src onto dst and clears src.
func TakeName(dst, src Value) {
	name := src.Name()
	src.SetName("")
	dst.SetName(name)
}

// Argument is a formal parameter of a function.
type Argument struct {
	valueBase
	parent *Function
	index  int
}

// Parent returns the owning function.
func (a *Argument) Parent() *Function { return a.parent }

// Index returns the parameter position.
func (a *Argument) Index() int { return a.index }

// userBase implements operand bookkeeping shared by instructions and
// metadata wrappers.
type userBase struct {
	valueBase
	ops []*Use
}

func (u *userBase) NumOperands() int { return len(u.ops) }

func (u *userBase) Operand(i int) Value {
	if i < 0 || i >= len(u.ops) {
		return nil
	}
	return u.ops[i].val
}

// OperandUse returns the edge at slot i.
func (u *userBase) OperandUse(i int) *Use { return u.ops[i] }

func (u *userBase) SetOperand(i int, v Value) { u.ops[i].Set(v) }

func (u *userBase) appendOperand(self User, v Value) {
	use := &Use{user: self, index: len(u.ops)}
	u.ops = append(u.ops, use)
	use.Set(v)
}

// dropOperands detaches every operand edge.
func (u *userBase) dropOperands() {
	for _, use := range u.ops {
		use.Set(nil)
	}
}

// MetadataValue wraps a value so it can be passed as a metadata argument,
// as in `call void @llvm.dbg.declare(metadata ptr %x, ...)`. It is a user of
// the wrapped value but not an instruction.
type MetadataValue struct {
	userBase
	Node *MDNode
}

// WrapValue builds `metadata <ty> <v>`.
func WrapValue(v Value) *MetadataValue {
	m := &MetadataValue{}
	m.ty = Metadata
	m.appendOperand(m, v)
	return m
}

// WrapNode builds `metadata !N`.
func WrapNode(n *MDNode) *MetadataValue {
	m := &MetadataValue{Node: n}
	m.ty = Metadata
	return m
}

// Wrapped returns the value this wrapper refers to, or nil for node wrappers.
func (m *MetadataValue) Wrapped() Value {
	if len(m.ops) == 0 {
		return nil
	}
	return m.ops[0].val
}
