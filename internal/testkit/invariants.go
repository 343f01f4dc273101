package testkit

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"mxprec/internal/ir"
	"mxprec/internal/source"
)

// CheckSpanInvariants checks the spans the parser attached to a module:
// 1) every non-empty instruction span points at sf and lies within its content
// 2) the instructions of a block appear in increasing span order
// Instructions built by a rewrite either carry the span of the instruction
// they replace or none, so the checks also hold after rewriting.
func CheckSpanInvariants(m *ir.Module, sf *source.File) error {
	if m == nil || sf == nil {
		return fmt.Errorf("nil module or file")
	}
	lenContent, err := safecast.Conv[uint32](len(sf.Content))
	if err != nil {
		return fmt.Errorf("len content overflow: %w", err)
	}
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			var prev uint32
			for _, inst := range b.Insts {
				sp := inst.Span
				if sp.Empty() {
					continue
				}
				if sp.File != sf.ID {
					return fmt.Errorf("@%s: %s span file mismatch: got=%d want=%d", f.Name(), inst.Op, sp.File, sf.ID)
				}
				if sp.End < sp.Start || sp.End > lenContent {
					return fmt.Errorf("@%s: %s span %v outside content of %d bytes", f.Name(), inst.Op, sp, lenContent)
				}
				// spans are shared with the instruction a rewrite replaced
				if sp.Start < prev {
					return fmt.Errorf("@%s: %s span %v precedes the previous instruction", f.Name(), inst.Op, sp)
				}
				prev = sp.Start
			}
		}
	}
	return nil
}

// CheckRewriteInvariants runs the structural checks every rewrite must
// preserve:
// 1) the module verifies (operands live, use lists consistent, types agree)
// 2) no instruction is reachable from a block after being erased
// 3) no global or function reads an unlinked global
// 4) global names are unique
func CheckRewriteInvariants(m *ir.Module) error {
	if m == nil {
		return fmt.Errorf("nil module")
	}
	var errs []error
	if err := ir.Verify(m); err != nil {
		errs = append(errs, err)
	}
	linked := make(map[ir.Value]bool, len(m.Globals)+len(m.Funcs))
	names := make(map[string]bool, len(m.Globals))
	for _, g := range m.Globals {
		linked[g] = true
		if g.Name() == "" {
			continue
		}
		if names[g.Name()] {
			errs = append(errs, fmt.Errorf("duplicate global @%s", g.Name()))
		}
		names[g.Name()] = true
	}
	for _, f := range m.Funcs {
		linked[f] = true
	}
	for _, f := range m.Funcs {
		for _, inst := range f.Instructions() {
			if inst.Erased() {
				errs = append(errs, fmt.Errorf("@%s: erased %s still linked", f.Name(), inst.Op))
			}
			for i, v := range inst.Operands() {
				switch v.(type) {
				case *ir.Global, *ir.Function:
					if !linked[v] {
						errs = append(errs, fmt.Errorf("@%s: %s operand %d reads unlinked @%s", f.Name(), inst.Op, i, v.Name()))
					}
				}
			}
		}
	}
	for _, g := range m.Globals {
		if g.Init == nil {
			continue
		}
		if err := checkConst(g.Init, linked); err != nil {
			errs = append(errs, fmt.Errorf("@%s initializer: %w", g.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func checkConst(c ir.Constant, linked map[ir.Value]bool) error {
	switch c := c.(type) {
	case *ir.ConstArray:
		for _, e := range c.Elems {
			if err := checkConst(e, linked); err != nil {
				return err
			}
		}
	case *ir.ConstStruct:
		for _, f := range c.Fields {
			if err := checkConst(f, linked); err != nil {
				return err
			}
		}
	case *ir.Global, *ir.Function:
		if !linked[c] {
			return fmt.Errorf("reads unlinked @%s", c.Name())
		}
	}
	return nil
}
