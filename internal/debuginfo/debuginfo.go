// Package debuginfo keeps debug descriptors attached to retyped storage in
// step with the new type.
package debuginfo

import (
	"errors"
	"fmt"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
)

// ErrNoDescriptor is returned when a variable record carries no usable
// node to update.
var ErrNoDescriptor = errors.New("no debug variable descriptor")

var basicNames = map[ir.TypeKind]string{
	ir.HalfKind:    "_Float16",
	ir.FloatKind:   "float",
	ir.DoubleKind:  "double",
	ir.X86FP80Kind: "long double",
}

// Updater retargets debug records from retyped storage to its replacement.
// Type descriptors are created once per type and shared.
type Updater struct {
	mod   *ir.Module
	types map[string]*ir.MDNode

	// Retargeted counts the debug records moved to new storage.
	Retargeted int
}

func New(m *ir.Module) *Updater {
	return &Updater{mod: m, types: make(map[string]*ir.MDNode)}
}

// Retyped moves the debug records of old onto new, whose storage now has
// type t. Its signature matches rewrite.Options.Retyped.
func (up *Updater) Retyped(old, new ir.Value, t *ir.Type) error {
	if g, ok := new.(*ir.Global); ok {
		return up.global(g, t)
	}
	var errs []error
	for _, u := range old.Uses() {
		w, ok := u.User().(*ir.MetadataValue)
		if !ok {
			continue
		}
		u.Set(new)
		for _, wu := range w.Uses() {
			call, ok := wu.User().(*ir.Instruction)
			if !ok || wu.Index() != 0 || !isDebugRecord(call) {
				continue
			}
			up.Retargeted++
			if err := up.retypeVariable(call, t); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", ir.Ref(new), err))
			}
		}
	}
	return errors.Join(errs...)
}

func isDebugRecord(call *ir.Instruction) bool {
	if call.Op != ir.OpCall {
		return false
	}
	f := call.CalledFunction()
	return f != nil && (f.Name() == "llvm.dbg.declare" || f.Name() == "llvm.dbg.value")
}

// retypeVariable points the record at a copy of its variable whose type is
// the descriptor of t. Records of pointer storage keep their variable.
func (up *Updater) retypeVariable(call *ir.Instruction, t *ir.Type) error {
	desc := up.descriptor(t)
	if desc == nil {
		return nil
	}
	w, ok := call.Operand(1).(*ir.MetadataValue)
	if !ok || w.Node == nil || w.Node.Kind != "DILocalVariable" {
		return ErrNoDescriptor
	}
	nv := up.mod.NewMetadata("")
	w.Node.CloneInto(nv)
	nv.SetField("type", ir.RefOperand(desc))
	call.SetOperand(1, ir.WrapNode(nv))
	return nil
}

// global updates the variable behind the `!dbg` expression of g in place;
// the global it described has been replaced by g.
func (up *Updater) global(g *ir.Global, t *ir.Type) error {
	desc := up.descriptor(t)
	if desc == nil {
		return nil
	}
	for _, a := range g.Attach {
		if a.Kind != "dbg" || a.Node == nil || a.Node.Kind != "DIGlobalVariableExpression" {
			continue
		}
		v, ok := a.Node.Field("var")
		if !ok || v.Node == nil || v.Node.Kind != "DIGlobalVariable" {
			return ErrNoDescriptor
		}
		v.Node.SetField("type", ir.RefOperand(desc))
		up.Retargeted++
	}
	return nil
}

// descriptor returns the type descriptor for t: a DIBasicType for float
// scalars and an array DICompositeType for float arrays. Other types have
// none.
func (up *Updater) descriptor(t *ir.Type) *ir.MDNode {
	if !t.ScalarElem().IsFloat() {
		return nil
	}
	key := prec.TypeToken(t)
	if n, ok := up.types[key]; ok {
		return n
	}
	var n *ir.MDNode
	if t.IsFloat() {
		n = up.mod.NewMetadata("DIBasicType")
		n.SetField("name", ir.StringOperand(basicNames[t.Kind]))
		n.SetField("size", ir.IntOperand(ir.SizeOf(t)*8))
		n.SetField("encoding", ir.IdentOperand("DW_ATE_float"))
	} else {
		base := up.descriptor(t.ScalarElem())
		elems := up.mod.NewMetadata("")
		for _, d := range t.ArrayDims() {
			sr := up.mod.NewMetadata("DISubrange")
			sr.SetField("count", ir.IntOperand(int64(d)))
			elems.Elems = append(elems.Elems, ir.RefOperand(sr))
		}
		n = up.mod.NewMetadata("DICompositeType")
		n.SetField("tag", ir.IdentOperand("DW_TAG_array_type"))
		n.SetField("baseType", ir.RefOperand(base))
		n.SetField("size", ir.IntOperand(ir.SizeOf(t)*8))
		n.SetField("elements", ir.RefOperand(elems))
	}
	up.types[key] = n
	return n
}
