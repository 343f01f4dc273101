package rewrite

import (
	"fmt"
	"strings"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/trace"
)

// libmFamilies maps C math library names onto the intrinsic family that
// computes the same function.
var libmFamilies = map[string]string{
	"sqrt": "sqrt", "sqrtf": "sqrt", "sqrtl": "sqrt",
	"fabs": "fabs", "fabsf": "fabs", "fabsl": "fabs",
	"fma": "fma", "fmaf": "fma", "fmal": "fma",
}

// intrinsicArity lists the precision-generic intrinsic families the
// library rules know, with their operand counts.
var intrinsicArity = map[string]int{
	"sqrt":    1,
	"fabs":    1,
	"fma":     3,
	"fmuladd": 3,
}

// MathFamily returns the intrinsic family f computes ("sqrt", "fabs",
// "fma" or "fmuladd"), for both `llvm.` intrinsics and libm names.
func MathFamily(f *ir.Function) (string, bool) {
	if f == nil {
		return "", false
	}
	name := f.Name()
	if rest, ok := strings.CutPrefix(name, "llvm."); ok {
		base, _, _ := strings.Cut(rest, ".")
		_, known := intrinsicArity[base]
		return base, known
	}
	base, ok := libmFamilies[name]
	return base, ok
}

func isMemcpy(f *ir.Function) bool {
	return f != nil && (strings.HasPrefix(f.Name(), "llvm.memcpy.") || f.Name() == "memcpy")
}

// intrinsicSuffix spells t in intrinsic names, e.g. f32 for float.
func intrinsicSuffix(t *ir.Type) string {
	switch t.Kind {
	case ir.HalfKind:
		return "f16"
	case ir.FloatKind:
		return "f32"
	case ir.DoubleKind:
		return "f64"
	case ir.X86FP80Kind:
		return "f80"
	}
	return t.String()
}

// Intrinsic returns the declaration of family at precision t, adding it to
// m when missing.
func Intrinsic(m *ir.Module, family string, t *ir.Type) (*ir.Function, error) {
	n, ok := intrinsicArity[family]
	if !ok || !t.IsFloat() {
		return nil, fmt.Errorf("%w: %s at %s", ErrNoRetarget, family, t)
	}
	params := make([]*ir.Type, n)
	for i := range params {
		params[i] = t
	}
	return m.GetOrInsertFunc("llvm."+family+"."+intrinsicSuffix(t), ir.FuncOf(t, params, false)), nil
}

func (d *Dispatcher[S]) call(p pending[S]) (bool, error) {
	u := p.user
	if p.index >= u.NumArgs() {
		d.swap(p, p.new)
		return true, nil
	}
	callee := u.CalledFunction()
	if isMemcpy(callee) && p.index < 2 {
		return d.memcpy(p)
	}
	if family, ok := MathFamily(callee); ok {
		return d.mathCall(p, family)
	}
	return d.plainCall(p)
}

// mathCall moves a math call onto the intrinsic of the new operand's
// precision. All float operands are brought to that precision; consumers
// of the result follow through the worklist, so a division reading a
// multiply-add result is rebuilt at the new precision as well.
func (d *Dispatcher[S]) mathCall(p pending[S], family string) (bool, error) {
	u := p.user
	work := p.new.Type()
	if !work.IsFloat() {
		return d.plainCall(p)
	}
	if ir.Equal(work, p.old.Type()) {
		d.swap(p, p.new)
		return true, nil
	}
	fn, err := Intrinsic(d.mod, family, work)
	if err != nil {
		return d.plainCall(p)
	}
	args, err := d.operands(u, p, u.Args(), work)
	if err != nil {
		return d.unhandled(p)
	}
	nc := ir.Before(u).Call(fn.Sig, fn, args)
	nc.Span = u.Span
	trace.Point(d.tracer, trace.ScopeRewrite, "rewrite:math", d.span,
		fmt.Sprintf("@%s -> @%s", u.CalledFunction().Name(), fn.Name()))
	d.supersede(u, nc, p.oldS.Value(u.Type()), p.newS.Value(work))
	return false, nil
}

// memcpy retargets a bulk copy whose source or destination changed. A
// constant global source is re-encoded at the new element type and the
// byte length keeps its element count at the new element size.
func (d *Dispatcher[S]) memcpy(p pending[S]) (bool, error) {
	u := p.user
	oldP, newP := p.oldS.Pointee(), p.newS.Pointee()
	d.swap(p, p.new)
	if oldP == nil || newP == nil || ir.Equal(oldP, newP) {
		return true, nil
	}
	d.setArgAlign(u, p.index, prec.Alignment(newP))
	if p.index == 0 {
		if g, ok := u.Operand(1).(*ir.Global); ok && g.Const && g.Init != nil && ir.Equal(g.ValueTy, oldP) {
			ng, err := d.reencodeGlobal(g, newP)
			if err != nil {
				return d.unhandled(p)
			}
			u.SetOperand(1, ng)
			d.setArgAlign(u, 1, ng.Align)
		}
	}
	if n, ok := u.Operand(2).(*ir.ConstInt); ok {
		if size, ok := scaleLength(n.Val, oldP, newP); ok {
			u.SetOperand(2, ir.NewConstInt(n.Type(), size))
		}
	}
	return true, nil
}

// scaleLength converts a byte count over elements of oldP into the same
// element count over newP. Counts that do not cover whole elements keep
// their value unless they span the whole old storage.
func scaleLength(n int64, oldP, newP *ir.Type) (int64, bool) {
	if n == ir.SizeOf(oldP) {
		return ir.SizeOf(newP), true
	}
	oldE, newE := ir.SizeOf(oldP.ScalarElem()), ir.SizeOf(newP.ScalarElem())
	if oldE <= 0 || newE <= 0 || oldE == newE || n%oldE != 0 {
		return n, false
	}
	return n / oldE * newE, true
}

func (d *Dispatcher[S]) setArgAlign(u *ir.Instruction, i, align int) {
	if i < len(u.ArgAlign) && u.ArgAlign[i] > 0 {
		u.ArgAlign[i] = align
	}
}

// reencodeGlobal returns a copy of the constant global g holding its
// initializer converted to type to. A global with no other reader is
// replaced outright and keeps its name.
func (d *Dispatcher[S]) reencodeGlobal(g *ir.Global, to *ir.Type) (*ir.Global, error) {
	init, err := prec.ConvertConst(g.Init, to)
	if err != nil {
		return nil, err
	}
	ng := ir.NewGlobal(g.Name()+"."+prec.TypeToken(to.ScalarElem()), to, init)
	ng.Linkage, ng.Const, ng.UnnamedAddr = g.Linkage, g.Const, g.UnnamedAddr
	ng.Align = prec.Alignment(to)
	d.mod.InsertGlobalAfter(ng, g)
	if g.NumUses() == 1 {
		ir.TakeName(ng, g)
		ir.ReplaceAllUsesWith(g, ng)
		if err := d.mod.RemoveGlobal(g); err != nil {
			return nil, err
		}
	}
	trace.Point(d.tracer, trace.ScopeRewrite, "rewrite:reencode", d.span, "@"+ng.Name())
	return ng, nil
}

// plainCall passes the new value to a call with no library rule. Floats are
// converted to the parameter type. An address whose storage changed is
// handed over through a bitcast that marks the pun, and a warning is
// emitted, since the callee still assumes the old layout.
func (d *Dispatcher[S]) plainCall(p pending[S]) (bool, error) {
	u := p.user
	want := p.old.Type()
	if p.index < len(u.FnTy.Params) {
		want = u.FnTy.Params[p.index]
	}
	if !ir.Equal(p.new.Type(), want) {
		v, err := d.coerce(p.new, want, u)
		if err != nil {
			return d.unhandled(p)
		}
		d.swap(p, v)
		return true, nil
	}
	callee := u.CalledFunction()
	if p.new.Type().IsPtr() && !p.oldS.Equal(p.newS) && (callee == nil || !callee.IsIntrinsic()) {
		pun := ir.Before(u).Cast(ir.OpBitcast, p.new, ir.Ptr)
		pun.Span = u.Span
		d.swap(p, pun)
		name := "indirect callee"
		if callee != nil {
			name = "@" + callee.Name()
		}
		trace.Point(d.tracer, trace.ScopeRewrite, "rewrite:pun", d.span, name)
		diag.ReportWarning(d.opts.Reporter, diag.RwrEscape, u.Span,
			fmt.Sprintf("%s now points at %s but is passed to %s", ir.Ref(p.new), p.newS, name)).Emit()
		return true, nil
	}
	d.swap(p, p.new)
	return true, nil
}
