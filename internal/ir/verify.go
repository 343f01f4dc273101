package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Verify checks module invariants: every block is terminated, every operand
// is live and recorded in its value's use list, and operand types agree with
// the instruction that reads them.
func Verify(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f.IsDeclaration() {
			continue
		}
		if err := verifyFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function @%s: %w", f.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func verifyFunc(f *Function) error {
	var errs []error
	if err := verifyTerminators(f); err != nil {
		errs = append(errs, err)
	}
	if err := verifyOperands(f); err != nil {
		errs = append(errs, err)
	}
	if err := verifyTypes(f); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func blockLabel(f *Function, b *Block) string {
	if b.Name != "" {
		return "%" + b.Name
	}
	return fmt.Sprintf("block #%d", slices.Index(f.Blocks, b))
}

func verifyTerminators(f *Function) error {
	var errs []error
	for _, b := range f.Blocks {
		if b.parent != f {
			errs = append(errs, fmt.Errorf("%s: wrong parent", blockLabel(f, b)))
		}
		if b.Terminator() == nil {
			errs = append(errs, fmt.Errorf("%s: unterminated block", blockLabel(f, b)))
		}
		for i, inst := range b.Insts {
			if inst.parent != b {
				errs = append(errs, fmt.Errorf("%s: %s has wrong parent", blockLabel(f, b), inst.Op))
			}
			if inst.Op.IsTerminator() && i != len(b.Insts)-1 {
				errs = append(errs, fmt.Errorf("%s: terminator %s in the middle of the block", blockLabel(f, b), inst.Op))
			}
			for _, t := range inst.Blocks {
				if t.parent != f || !slices.Contains(f.Blocks, t) {
					errs = append(errs, fmt.Errorf("%s: %s targets a block outside the function", blockLabel(f, b), inst.Op))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// verifyOperands reports nil, erased or unresolved operands and use edges
// missing from their value's use list.
func verifyOperands(f *Function) error {
	var errs []error
	check := func(where string, u *Use) {
		switch v := u.val.(type) {
		case nil:
			errs = append(errs, fmt.Errorf("%s: operand %d is nil", where, u.index))
			return
		case *placeholder:
			errs = append(errs, fmt.Errorf("%s: operand %d is an unresolved forward reference", where, u.index))
		case *Instruction:
			if v.erased {
				errs = append(errs, fmt.Errorf("%s: operand %d refers to an erased %s", where, u.index, v.Op))
			} else if v.Func() != f {
				errs = append(errs, fmt.Errorf("%s: operand %d refers to an instruction of another function", where, u.index))
			}
		case *Argument:
			if v.parent != f {
				errs = append(errs, fmt.Errorf("%s: operand %d refers to an argument of another function", where, u.index))
			}
		}
		if !slices.Contains(u.val.base().uses, u) {
			errs = append(errs, fmt.Errorf("%s: operand %d missing from the use list of its value", where, u.index))
		}
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			where := fmt.Sprintf("%s: %s", blockLabel(f, b), inst.Op)
			for _, u := range inst.ops {
				check(where, u)
				if mv, ok := u.val.(*MetadataValue); ok {
					for _, inner := range mv.ops {
						check(where+" metadata", inner)
					}
				}
			}
			for _, u := range inst.uses {
				if ui, ok := u.user.(*Instruction); ok && ui.erased {
					errs = append(errs, fmt.Errorf("%s: still used by an erased %s", where, ui.Op))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func verifyTypes(f *Function) error {
	var errs []error
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if err := verifyInstType(f, inst); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", blockLabel(f, b), err))
			}
		}
	}
	return errors.Join(errs...)
}

func verifyInstType(f *Function, inst *Instruction) error {
	for _, v := range inst.Operands() {
		if v == nil {
			return nil // reported by verifyOperands
		}
	}
	op := inst.Op
	mismatch := func(what string, got, want *Type) error {
		return fmt.Errorf("%s: %s is %s, want %s", op, what, got, want)
	}
	switch {
	case op == OpLoad:
		if !inst.Operand(0).Type().IsPtr() {
			return mismatch("address", inst.Operand(0).Type(), Ptr)
		}
	case op == OpStore:
		if !inst.Operand(1).Type().IsPtr() {
			return mismatch("address", inst.Operand(1).Type(), Ptr)
		}
	case op == OpGEP:
		if !inst.Operand(0).Type().IsPtr() {
			return mismatch("base", inst.Operand(0).Type(), Ptr)
		}
	case op.IsBinary():
		a, b := inst.Operand(0).Type(), inst.Operand(1).Type()
		if !Equal(a, inst.Type()) {
			return mismatch("lhs", a, inst.Type())
		}
		if !Equal(b, inst.Type()) {
			return mismatch("rhs", b, inst.Type())
		}
		if op.IsFloatBinary() != inst.Type().IsFloat() {
			return fmt.Errorf("%s: operands of type %s", op, inst.Type())
		}
	case op == OpFNeg:
		if !Equal(inst.Operand(0).Type(), inst.Type()) || !inst.Type().IsFloat() {
			return mismatch("operand", inst.Operand(0).Type(), inst.Type())
		}
	case op == OpFCmp || op == OpICmp:
		a, b := inst.Operand(0).Type(), inst.Operand(1).Type()
		if !Equal(a, b) {
			return mismatch("rhs", b, a)
		}
		if op == OpFCmp && !a.IsFloat() {
			return fmt.Errorf("fcmp: operands of type %s", a)
		}
	case op == OpFPExt || op == OpFPTrunc:
		from, to := inst.Operand(0).Type(), inst.Type()
		if !from.IsFloat() || !to.IsFloat() {
			return fmt.Errorf("%s: %s to %s is not a float conversion", op, from, to)
		}
		if op == OpFPExt && FloatRank(from) >= FloatRank(to) {
			return fmt.Errorf("fpext: %s to %s does not widen", from, to)
		}
		if op == OpFPTrunc && FloatRank(from) <= FloatRank(to) {
			return fmt.Errorf("fptrunc: %s to %s does not narrow", from, to)
		}
	case op == OpSIToFP || op == OpUIToFP:
		if !inst.Operand(0).Type().IsInt() || !inst.Type().IsFloat() {
			return fmt.Errorf("%s: %s to %s", op, inst.Operand(0).Type(), inst.Type())
		}
	case op == OpFPToSI || op == OpFPToUI:
		if !inst.Operand(0).Type().IsFloat() || !inst.Type().IsInt() {
			return fmt.Errorf("%s: %s to %s", op, inst.Operand(0).Type(), inst.Type())
		}
	case op == OpCall:
		return verifyCall(inst)
	case op == OpRet:
		want := f.Sig.Ret
		if inst.NumOperands() == 0 {
			if !want.IsVoid() {
				return fmt.Errorf("ret void in a function returning %s", want)
			}
			return nil
		}
		if got := inst.Operand(0).Type(); !Equal(got, want) {
			return mismatch("value", got, want)
		}
	case op == OpBr:
		if inst.NumOperands() == 1 && !Equal(inst.Operand(0).Type(), I1) {
			return mismatch("condition", inst.Operand(0).Type(), I1)
		}
	case op == OpPhi:
		for i, v := range inst.Operands() {
			if !Equal(v.Type(), inst.Type()) {
				return mismatch(fmt.Sprintf("incoming value %d", i), v.Type(), inst.Type())
			}
		}
	case op == OpSelect:
		if !Equal(inst.Operand(0).Type(), I1) {
			return mismatch("condition", inst.Operand(0).Type(), I1)
		}
		if !Equal(inst.Operand(1).Type(), inst.Operand(2).Type()) {
			return mismatch("false value", inst.Operand(2).Type(), inst.Operand(1).Type())
		}
	}
	return nil
}

func verifyCall(inst *Instruction) error {
	fnTy := inst.FnTy
	args := inst.Args()
	if len(args) < len(fnTy.Params) || !fnTy.Variadic && len(args) != len(fnTy.Params) {
		return fmt.Errorf("call: %d arguments for %d parameters", len(args), len(fnTy.Params))
	}
	for i, p := range fnTy.Params {
		if !Equal(args[i].Type(), p) {
			return fmt.Errorf("call: argument %d is %s, want %s", i, args[i].Type(), p)
		}
	}
	if fn := inst.CalledFunction(); fn != nil && !Equal(fn.Sig, fnTy) && !fn.Sig.Variadic {
		return fmt.Errorf("call: @%s has type %s, called as %s", fn.Name(), fn.Sig, fnTy)
	}
	return nil
}
