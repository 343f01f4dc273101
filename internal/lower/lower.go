// Package lower moves float arithmetic down to the narrowest precision its
// inputs were converted from.
//
// After a rewrite, arithmetic often reads values that were widened only to
// meet the operator's type:
//
//	%a = fpext float %x to double
//	%b = fpext float %y to double
//	%s = fadd double %a, %b
//
// Lower computes such an operator in the wider of its unconverted source
// types and converts the result back once, so the example becomes an fadd
// on float followed by a single fpext. An operator that pairs a sitofp with
// a converted value computes the sitofp at that value's source type.
package lower

import (
	"context"
	"fmt"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/rewrite"
	"mxprec/internal/source"
	"mxprec/internal/trace"
)

// Stats counts what Lower changed.
type Stats struct {
	Lowered int // operators recomputed at a narrower or wider type
	SIToFP  int // of which through the sitofp pattern
	Erased  int
}

func lowerable(op ir.Opcode) bool {
	return op == ir.OpFAdd || op == ir.OpFSub || op == ir.OpFMul || op == ir.OpFDiv
}

func isFPCast(v ir.Value) (*ir.Instruction, bool) {
	c, ok := v.(*ir.Instruction)
	if !ok || c.Op != ir.OpFPExt && c.Op != ir.OpFPTrunc {
		return nil, false
	}
	return c, true
}

func isSIToFP(v ir.Value) (*ir.Instruction, bool) {
	c, ok := v.(*ir.Instruction)
	return c, ok && c.Op == ir.OpSIToFP
}

// Lower rewrites every defined function of m.
func Lower(ctx context.Context, m *ir.Module, rep diag.Reporter) Stats {
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "lower")
	var st Stats
	for _, f := range m.Funcs {
		if f.IsDeclaration() {
			continue
		}
		n := st.Lowered
		lowerFunc(ctx, f, &st)
		if d := st.Lowered - n; d > 0 {
			diag.ReportInfo(rep, diag.RwrLowered, funcSpan(f),
				fmt.Sprintf("@%s: %d operators lowered", f.Name(), d)).Emit()
		}
	}
	span.End(fmt.Sprintf("lowered=%d erased=%d", st.Lowered, st.Erased))
	return st
}

func funcSpan(f *ir.Function) source.Span {
	for _, inst := range f.Instructions() {
		if !inst.Span.Empty() {
			return inst.Span
		}
	}
	return source.Span{}
}

func lowerFunc(ctx context.Context, f *ir.Function, st *Stats) {
	tracer, parent := trace.FromContext(ctx), trace.CurrentSpan(ctx)
	var reclaim rewrite.Reclaimer
	for _, bin := range f.Instructions() {
		if bin.Erased() || !lowerable(bin.Op) {
			continue
		}
		var (
			repl  ir.Value
			feeds []*ir.Instruction
		)
		if s, c, ok := sitofpPair(bin); ok {
			repl = lowerSIToFP(bin, s, c)
			feeds = []*ir.Instruction{s, c}
			st.SIToFP++
		} else {
			repl, feeds = lowerCasts(bin)
		}
		if repl == nil {
			continue
		}
		trace.Point(tracer, trace.ScopeRewrite, "lower", parent,
			fmt.Sprintf("@%s: %s", f.Name(), ir.InstString(bin)))
		ir.ReplaceAllUsesWith(bin, repl)
		if n := bin.Name(); n != "" {
			ir.TakeName(repl, bin)
		}
		st.Lowered++
		st.Erased += reclaim.Reclaim([]*ir.Instruction{bin})
		for _, c := range feeds {
			if !c.Erased() && c.NumUses() == 0 {
				st.Erased += reclaim.Reclaim([]*ir.Instruction{c})
			}
		}
	}
}

// sitofpPair matches an operator whose operands are a sitofp and a float
// conversion.
func sitofpPair(bin *ir.Instruction) (s, c *ir.Instruction, ok bool) {
	x, y := bin.Operand(0), bin.Operand(1)
	if s, ok := isSIToFP(x); ok {
		if c, ok := isFPCast(y); ok {
			return s, c, true
		}
	}
	if s, ok := isSIToFP(y); ok {
		if c, ok := isFPCast(x); ok {
			return s, c, true
		}
	}
	return nil, nil, false
}

func lowerSIToFP(bin, s, c *ir.Instruction) ir.Value {
	src := c.Operand(0)
	b := ir.Before(bin)
	ns := b.Cast(ir.OpSIToFP, s.Operand(0), src.Type())
	ns.Span = bin.Span
	x, y := src, ir.Value(ns)
	if bin.Operand(0) == s {
		x, y = ns, src
	}
	return rebuild(bin, x, y)
}

// lowerCasts strips one fpext or fptrunc from each operand. It gives up
// when nothing was stripped or when an operand already has the operator's
// type.
func lowerCasts(bin *ir.Instruction) (ir.Value, []*ir.Instruction) {
	x, y := bin.Operand(0), bin.Operand(1)
	var feeds []*ir.Instruction
	if c, ok := isFPCast(x); ok {
		x = c.Operand(0)
		feeds = append(feeds, c)
	}
	if c, ok := isFPCast(y); ok {
		y = c.Operand(0)
		feeds = append(feeds, c)
	}
	t := bin.Type()
	if len(feeds) == 0 || ir.Equal(x.Type(), t) || ir.Equal(y.Type(), t) {
		return nil, nil
	}
	wide := x.Type()
	if ir.FloatRank(y.Type()) > ir.FloatRank(wide) {
		wide = y.Type()
	}
	b := ir.Before(bin)
	x, y = spanned(b.FPCast(x, wide), bin), spanned(b.FPCast(y, wide), bin)
	return rebuild(bin, x, y), feeds
}

// rebuild emits bin's operator on x and y and converts the result back to
// bin's type.
func rebuild(bin *ir.Instruction, x, y ir.Value) ir.Value {
	b := ir.Before(bin)
	nb := b.Binary(bin.Op, x, y)
	nb.Span = bin.Span
	nb.CopyMetadata(bin)
	return spanned(b.FPCast(nb, bin.Type()), bin)
}

func spanned(v ir.Value, at *ir.Instruction) ir.Value {
	if inst, ok := v.(*ir.Instruction); ok && inst.Span.Empty() {
		inst.Span = at.Span
	}
	return v
}
