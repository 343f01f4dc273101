package config

import (
	"errors"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/rewrite"
)

var (
	// ErrUnbound is returned when no value of the module matches a record.
	ErrUnbound = errors.New("change record target not found")
	// ErrNotStruct is returned for a field change on a value that is not a
	// struct.
	ErrNotStruct = rewrite.ErrNotStruct
	// ErrBadSwitch is returned when a call record redirects to a name that
	// is not a function.
	ErrBadSwitch = errors.New("call switch is not a function")
)

// Binder resolves records against the current state of a module. Records
// are bound one at a time right before they are applied, so a record sees
// the values created by the records applied before it.
type Binder struct {
	mod *ir.Module
	rep diag.Reporter
	ids map[string]*ir.Instruction
}

func NewBinder(m *ir.Module, rep diag.Reporter) *Binder {
	return &Binder{mod: m, rep: rep}
}

// Bind turns rec into a request. Failures are reported to the binder's
// reporter and returned.
func (b *Binder) Bind(rec Record) (rewrite.Request, error) {
	req := rewrite.Request{
		ID:     rec.Key(),
		Kind:   rec.Kind,
		Types:  rec.Types,
		Field:  rec.Field,
		Switch: rec.Switch,
		Span:   rec.Span,
	}
	target, err := b.target(rec)
	if err == nil {
		err = b.check(rec, target)
	}
	if err != nil {
		diag.ReportError(b.rep, codeOf(err), rec.Span, fmt.Sprintf("%s %s: %v", rec.Kind, rec.Key(), err)).Emit()
		return req, err
	}
	req.Target = target
	return req, nil
}

func codeOf(err error) diag.Code {
	switch {
	case errors.Is(err, ErrNotStruct):
		return diag.CfgNotStruct
	case errors.Is(err, rewrite.ErrFieldRange):
		return diag.CfgFieldOutOfRange
	case errors.Is(err, ErrBadSwitch):
		return diag.CfgBadSwitch
	}
	return diag.CfgUnboundTarget
}

func (b *Binder) target(rec Record) (ir.Value, error) {
	switch rec.Kind {
	case rewrite.GlobalVar:
		if g := b.global(rec.Name); g != nil {
			return g, nil
		}
		return nil, fmt.Errorf("%w: @%s", ErrUnbound, rec.Name)
	case rewrite.LocalVar:
		return b.local(rec.Name, rec.Function)
	case rewrite.Op, rewrite.Call:
		inst := b.byID(rec.ID)
		if inst == nil {
			return nil, fmt.Errorf("%w: no instruction tagged %q", ErrUnbound, rec.ID)
		}
		return inst, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnbound, rec.Kind)
}

func sameName(irName, want string) bool {
	return irName == want || norm.NFC.String(irName) == want
}

func (b *Binder) global(name string) *ir.Global {
	if g := b.mod.Global(name); g != nil {
		return g
	}
	for _, g := range b.mod.Globals {
		if sameName(g.Name(), name) {
			return g
		}
	}
	return nil
}

func (b *Binder) function(name string) *ir.Function {
	if f := b.mod.Func(name); f != nil {
		return f
	}
	for _, f := range b.mod.Funcs {
		if sameName(f.Name(), name) {
			return f
		}
	}
	return nil
}

// local finds the alloca called name in fn. An argument name stands for
// the alloca its value is spilled into.
func (b *Binder) local(name, fn string) (ir.Value, error) {
	f := b.function(fn)
	if f == nil || f.IsDeclaration() {
		return nil, fmt.Errorf("%w: no function @%s", ErrUnbound, fn)
	}
	for _, inst := range f.Instructions() {
		if inst.Op == ir.OpAlloca && sameName(inst.Name(), name) {
			return inst, nil
		}
	}
	for _, a := range f.Params {
		if !sameName(a.Name(), name) {
			continue
		}
		if slot := spillSlot(a); slot != nil {
			return slot, nil
		}
		return nil, fmt.Errorf("%w: argument %%%s of @%s is never stored to a local", ErrUnbound, name, fn)
	}
	return nil, fmt.Errorf("%w: no local %%%s in @%s", ErrUnbound, name, fn)
}

func spillSlot(a *ir.Argument) *ir.Instruction {
	for _, u := range a.Uses() {
		st, ok := u.User().(*ir.Instruction)
		if !ok || st.Op != ir.OpStore || u.Index() != 0 {
			continue
		}
		if slot, ok := st.PointerOperand().(*ir.Instruction); ok && slot.Op == ir.OpAlloca {
			return slot
		}
	}
	return nil
}

// byID looks up a tagged instruction. The index is rebuilt when an entry
// was retired by an earlier request.
func (b *Binder) byID(id string) *ir.Instruction {
	if inst, ok := b.ids[id]; ok && !inst.Erased() && inst.Parent() != nil && inst.ChangeID() == id {
		return inst
	}
	b.ids = make(map[string]*ir.Instruction)
	for _, inst := range b.mod.Instructions() {
		if tag := inst.ChangeID(); tag != "" {
			tag = norm.NFC.String(tag)
			if _, dup := b.ids[tag]; !dup {
				b.ids[tag] = inst
			}
		}
	}
	return b.ids[id]
}

// check rejects field changes that cannot apply to the storage of target.
// Pointer-valued storage is left to the engine, which resolves the pointee.
func (b *Binder) check(rec Record, target ir.Value) error {
	if rec.Kind == rewrite.Call && rec.Switch != "" {
		if b.mod.Global(rec.Switch) != nil {
			return fmt.Errorf("%w: @%s is a global variable", ErrBadSwitch, rec.Switch)
		}
	}
	if rec.Field < 0 || rec.Types[0].Depth != 0 {
		return nil
	}
	var storage *ir.Type
	switch v := target.(type) {
	case *ir.Global:
		storage = v.ValueTy
	case *ir.Instruction:
		if v.Op == ir.OpAlloca {
			storage = v.AllocTy
		}
	}
	if storage == nil || storage.IsPtr() {
		return nil
	}
	st := storage.ScalarElem()
	if !st.IsStruct() {
		return fmt.Errorf("%w: %s", ErrNotStruct, storage)
	}
	if rec.Field >= len(st.Fields) {
		return fmt.Errorf("%w: field %d of %s", rewrite.ErrFieldRange, rec.Field, st)
	}
	return nil
}
