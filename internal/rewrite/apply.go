package rewrite

import (
	"context"
	"fmt"
	"slices"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/resolve"
	"mxprec/internal/source"
	"mxprec/internal/trace"
)

// Kind classifies a change request by the value it retypes.
type Kind uint8

const (
	GlobalVar Kind = iota + 1
	LocalVar
	Op
	Call
)

var kindNames = [...]string{
	GlobalVar: "globalVar",
	LocalVar:  "localVar",
	Op:        "op",
	Call:      "call",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind maps a record section name onto its Kind.
func ParseKind(s string) (Kind, bool) {
	for k, n := range kindNames {
		if n != "" && n == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// Request asks for one value to be retyped.
type Request struct {
	ID     string
	Kind   Kind
	Target ir.Value
	// Types holds the new type. Call requests list the return type first
	// and then the parameters.
	Types []prec.PtrDep
	// Field selects a struct field to retype; -1 retypes the whole value.
	Field int
	// Switch names the function a call request is redirected to.
	Switch string
	// Span locates the change record.
	Span source.Span
}

// Options control how the engine treats the cases it cannot rewrite.
type Options struct {
	// Strict turns consumers without a rule into an UnhandledKindError that
	// stops the request.
	Strict bool
	// DeleteUnhandled deletes consumers without a rule instead of feeding
	// them the new value converted back to the old type.
	DeleteUnhandled bool
	// Retyped is called once storage old has its replacement new of type t,
	// before old is erased.
	Retyped  func(old, new ir.Value, t *ir.Type) error
	Reporter diag.Reporter
}

// Outcome describes what ApplyChange did.
type Outcome struct {
	ID        string
	Kind      Kind
	NoOp      bool
	NewValue  ir.Value
	OldType   string
	NewType   string
	Stats     Stats
	Unhandled []*UnhandledKindError
}

// Engine applies change requests to one module, one at a time.
type Engine struct {
	mod  *ir.Module
	opts Options
}

func NewEngine(m *ir.Module, opts Options) *Engine {
	return &Engine{mod: m, opts: opts}
}

// ApplyChange executes req to completion, including the reclamation of
// every instruction it retired.
func (e *Engine) ApplyChange(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := trace.Start(ctx, trace.ScopeRequest, "apply "+req.Kind.String())
	if len(req.Types) == 0 || req.Types[0].Base == nil {
		span.End("no type")
		return nil, fmt.Errorf("%s: no target type", req.ID)
	}
	if req.Target == nil {
		span.End("no target")
		return nil, fmt.Errorf("%w: %s has no target", ErrBadTarget, req.ID)
	}
	var (
		out *Outcome
		err error
	)
	switch req.Kind {
	case GlobalVar:
		out, err = e.globalVar(ctx, req)
	case LocalVar:
		out, err = e.localVar(ctx, req)
	case Op:
		out, err = e.op(ctx, req)
	case Call:
		out, err = e.call(ctx, req)
	default:
		err = fmt.Errorf("%w: unknown kind %s", ErrBadTarget, req.Kind)
	}
	if err != nil {
		span.End(err.Error())
		return nil, fmt.Errorf("%s %s: %w", req.Kind, req.ID, err)
	}
	out.ID, out.Kind = req.ID, req.Kind
	if out.NoOp {
		diag.ReportInfo(e.opts.Reporter, diag.RwrNoop, req.Span,
			fmt.Sprintf("%s already has type %s", req.ID, out.NewType)).Emit()
	}
	span.End(fmt.Sprintf("%s -> %s", out.OldType, out.NewType))
	return out, nil
}

func noop(t string) *Outcome { return &Outcome{NoOp: true, OldType: t, NewType: t} }

// storageType is the type retyped storage takes: want itself, old arrays
// with want as their element, or the old struct type (possibly inside
// arrays) with one field replaced.
func storageType(m *ir.Module, old, want *ir.Type, field int) (*ir.Type, error) {
	if field < 0 {
		if old.IsArray() && !want.IsArray() {
			return prec.WithScalar(old, want), nil
		}
		return want, nil
	}
	st := old.ScalarElem()
	if !st.IsStruct() {
		return nil, fmt.Errorf("%w: %s", ErrNotStruct, old)
	}
	if field >= len(st.Fields) {
		return nil, fmt.Errorf("%w: field %d of %s", ErrFieldRange, field, st)
	}
	if ir.Equal(st.Fields[field], want) {
		return old, nil
	}
	fields := slices.Clone(st.Fields)
	fields[field] = want
	var ns *ir.Type
	if st.Name != "" {
		ns = m.AddStruct(ir.NamedStruct(st.Name, fields))
	} else {
		ns = ir.StructOf(fields...)
	}
	return prec.WithScalar(old, ns), nil
}

// retype drives a dispatcher from old storage to new storage.
func retype[S prec.Shape[S]](ctx context.Context, e *Engine, old, new ir.Value, oldS, newS S, t *ir.Type) (*Outcome, error) {
	d := NewDispatcher[S](ctx, e.mod, e.opts)
	if err := d.Rewrite(old, new, oldS, newS); err != nil {
		return nil, err
	}
	if e.opts.Retyped != nil {
		if err := e.opts.Retyped(old, new, t); err != nil {
			diag.ReportWarning(e.opts.Reporter, diag.RwrDebugInfo, spanOf(old), err.Error()).Emit()
		}
	}
	if inst, ok := old.(*ir.Instruction); ok {
		d.kill(inst)
	}
	return &Outcome{
		NewValue:  new,
		OldType:   oldS.String(),
		NewType:   newS.String(),
		Stats:     d.Finish(),
		Unhandled: d.Skipped(),
	}, nil
}

func spanOf(v ir.Value) source.Span {
	if inst, ok := v.(*ir.Instruction); ok {
		return inst.Span
	}
	return source.Span{}
}

func (e *Engine) localVar(ctx context.Context, req Request) (*Outcome, error) {
	alloca, ok := req.Target.(*ir.Instruction)
	if !ok || alloca.Op != ir.OpAlloca {
		return nil, fmt.Errorf("%w: %s is not a local variable", ErrBadTarget, ir.Ref(req.Target))
	}
	want := req.Types[0]
	if want.Depth == 0 {
		newT, err := storageType(e.mod, alloca.AllocTy, want.Base, req.Field)
		if err != nil {
			return nil, err
		}
		if ir.Equal(newT, alloca.AllocTy) {
			return noop(prec.FlatAddr(newT).String()), nil
		}
		na := ir.NewAlloca(newT, prec.Alignment(newT))
		na.Span = alloca.Span
		na.InsertBefore(alloca)
		ir.TakeName(na, alloca)
		return retype(ctx, e, alloca, na, prec.FlatAddr(alloca.AllocTy), prec.FlatAddr(newT), newT)
	}

	oldS, err := resolve.New(ctx).Resolve(alloca)
	if err != nil {
		return nil, err
	}
	newS := want.Add(1)
	if req.Field >= 0 {
		base, err := storageType(e.mod, oldS.Base, want.Base, req.Field)
		if err != nil {
			return nil, err
		}
		newS = prec.PtrDep{Base: base, Depth: oldS.Depth}
	}
	if oldS.Equal(newS) {
		return noop(oldS.String()), nil
	}
	na := ir.NewAlloca(ir.Ptr, prec.Alignment(ir.Ptr))
	na.Span = alloca.Span
	na.InsertBefore(alloca)
	ir.TakeName(na, alloca)
	return retype(ctx, e, alloca, na, oldS, newS, newS.Deref().Type())
}

func (e *Engine) globalVar(ctx context.Context, req Request) (*Outcome, error) {
	g, ok := req.Target.(*ir.Global)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a global variable", ErrBadTarget, ir.Ref(req.Target))
	}
	want := req.Types[0]
	var (
		oldS, newS prec.PtrDep
		newT       *ir.Type
	)
	if want.Depth == 0 {
		t, err := storageType(e.mod, g.ValueTy, want.Base, req.Field)
		if err != nil {
			return nil, err
		}
		newT = t
		oldS, newS = prec.PtrDep{Base: g.ValueTy, Depth: 1}, prec.PtrDep{Base: newT, Depth: 1}
	} else {
		s, err := resolve.New(ctx).Resolve(g)
		if err != nil {
			return nil, err
		}
		oldS, newS, newT = s, want.Add(1), ir.Ptr
	}
	if oldS.Equal(newS) {
		return noop(oldS.String()), nil
	}

	init := g.Init
	if init != nil && !ir.Equal(init.Type(), newT) {
		c, err := prec.ConvertConst(g.Init, newT)
		if err != nil {
			return nil, err
		}
		init = c
	}
	ng := ir.NewGlobal("", newT, init)
	ng.Linkage, ng.Const, ng.UnnamedAddr = g.Linkage, g.Const, g.UnnamedAddr
	ng.Align = prec.Alignment(newT)
	ng.Attach = slices.Clone(g.Attach)
	e.mod.InsertGlobalAfter(ng, g)
	ir.TakeName(ng, g)

	var (
		out *Outcome
		err error
	)
	if f, ok := oldS.Flat(); ok && want.Depth == 0 {
		nf, _ := newS.Flat()
		out, err = retype(ctx, e, g, ng, f, nf, newT)
	} else {
		out, err = retype(ctx, e, g, ng, oldS, newS, newT)
	}
	if err != nil {
		return nil, err
	}
	e.dropGlobal(g, ng)
	return out, nil
}

// dropGlobal moves whatever still refers to g onto ng, including other
// globals' initializers, and unlinks g.
func (e *Engine) dropGlobal(g, ng *ir.Global) {
	for _, other := range e.mod.Globals {
		if other.Init != nil {
			other.Init = replaceConst(other.Init, g, ng)
		}
	}
	ir.ReplaceAllUsesWith(g, ng)
	if err := e.mod.RemoveGlobal(g); err != nil {
		diag.ReportWarning(e.opts.Reporter, diag.RwrApplyFailed, source.Span{},
			fmt.Sprintf("@%s kept: %v", ng.Name(), err)).Emit()
	}
}

func replaceConst(c ir.Constant, old, repl ir.Constant) ir.Constant {
	switch c := c.(type) {
	case *ir.ConstArray:
		for i, el := range c.Elems {
			c.Elems[i] = replaceConst(el, old, repl)
		}
	case *ir.ConstStruct:
		for i, f := range c.Fields {
			c.Fields[i] = replaceConst(f, old, repl)
		}
	default:
		if c == old {
			return repl
		}
	}
	return c
}

func (e *Engine) op(ctx context.Context, req Request) (*Outcome, error) {
	u, ok := req.Target.(*ir.Instruction)
	if !ok || !(u.Op.IsFloatBinary() || u.Op == ir.OpFNeg || u.Op == ir.OpFCmp) {
		return nil, fmt.Errorf("%w: %s is not a float operator", ErrBadTarget, ir.Ref(req.Target))
	}
	t := req.Types[0].Base
	if !t.IsFloat() || req.Types[0].Depth != 0 {
		return nil, fmt.Errorf("%w: %s is not a float type", ErrBadTarget, req.Types[0])
	}
	cur := u.Operand(0).Type()
	if ir.Equal(cur, t) {
		return noop(prec.TypeToken(t)), nil
	}
	d := NewDispatcher[prec.Flat](ctx, e.mod, e.opts)
	ops := make([]ir.Value, u.NumOperands())
	for i, v := range u.Operands() {
		c, err := d.coerce(v, t, u)
		if err != nil {
			d.Finish()
			return nil, err
		}
		ops[i] = c
	}
	b := ir.Before(u)
	var ni *ir.Instruction
	switch {
	case u.Op == ir.OpFNeg:
		ni = b.FNeg(ops[0])
	case u.Op == ir.OpFCmp:
		ni = b.FCmp(u.Pred, ops[0], ops[1])
	default:
		ni = b.Binary(u.Op, ops[0], ops[1])
	}
	ni.Span = u.Span
	ir.TakeName(ni, u)
	ni.CopyMetadata(u)
	if ir.Equal(ni.Type(), u.Type()) {
		ir.ReplaceAllUsesWith(u, ni)
	} else if err := d.compensate(u, ni); err != nil {
		return nil, err
	}
	d.kill(u)
	return &Outcome{
		NewValue: ni,
		OldType:  prec.TypeToken(cur),
		NewType:  prec.TypeToken(t),
		Stats:    d.Finish(),
	}, nil
}

// compensate moves the readers of old onto new. A cast reader producing
// new's type collapses onto new; the rest share one conversion back to the
// old type placed right after new.
func (d *Dispatcher[S]) compensate(old, new *ir.Instruction) error {
	var back *ir.Instruction
	for _, u := range old.Uses() {
		user, ok := u.User().(*ir.Instruction)
		if ok && user.Op.IsCast() && ir.Equal(user.Type(), new.Type()) {
			ir.ReplaceAllUsesWith(user, new)
			d.kill(user)
			continue
		}
		if back == nil {
			op, ok := prec.ConvOp(new.Type(), old.Type())
			if !ok {
				return fmt.Errorf("%w: %s to %s", ErrNoConversion, new.Type(), old.Type())
			}
			back = ir.NewCast(op, new, old.Type())
			back.Span = new.Span
			back.InsertAfter(new)
			d.casts = append(d.casts, back)
			d.stats.Casts++
		}
		u.Set(back)
	}
	return nil
}

func (e *Engine) call(ctx context.Context, req Request) (*Outcome, error) {
	u, ok := req.Target.(*ir.Instruction)
	if !ok || u.Op != ir.OpCall {
		return nil, fmt.Errorf("%w: %s is not a call", ErrBadTarget, ir.Ref(req.Target))
	}
	ret := req.Types[0].Type()
	if u.Type().IsVoid() {
		ret = ir.Void
	}
	params := make([]*ir.Type, u.NumArgs())
	for i, a := range u.Args() {
		switch {
		case i+1 < len(req.Types):
			params[i] = req.Types[i+1].Type()
		case a.Type().IsFloat() && ret.IsFloat():
			params[i] = ret
		default:
			params[i] = a.Type()
		}
	}
	sig := ir.FuncOf(ret, params, false)
	if ir.Equal(sig, u.FnTy) && req.Switch == "" {
		return noop(prec.TypeToken(ret)), nil
	}

	var callee *ir.Function
	declare := false
	if req.Switch != "" {
		callee = e.mod.Func(req.Switch)
		if callee == nil {
			callee, declare = ir.NewFunction(req.Switch, sig), true
		} else if !ir.Equal(callee.Sig, sig) {
			return nil, fmt.Errorf("%w: @%s is %s, want %s", ErrSignature, req.Switch, callee.Sig, sig)
		}
	} else {
		family, ok := MathFamily(u.CalledFunction())
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoRetarget, ir.Ref(u.Callee()))
		}
		fn, err := Intrinsic(e.mod, family, ret)
		if err != nil {
			return nil, err
		}
		callee = fn
	}
	if callee == u.CalledFunction() {
		return noop(prec.TypeToken(ret)), nil
	}

	d := NewDispatcher[prec.Flat](ctx, e.mod, e.opts)
	args := make([]ir.Value, len(params))
	for i, a := range u.Args() {
		c, err := d.coerce(a, callee.Sig.Params[i], u)
		if err != nil {
			d.Finish()
			return nil, err
		}
		args[i] = c
	}
	if declare {
		e.mod.AddFunc(callee)
	}
	nc := ir.Before(u).Call(callee.Sig, callee, args)
	nc.Span = u.Span
	ir.TakeName(nc, u)
	nc.CopyMetadata(u)
	switch {
	case ret.IsVoid(), ir.Equal(ret, u.Type()):
		ir.ReplaceAllUsesWith(u, nc)
	default:
		if err := d.compensate(u, nc); err != nil {
			return nil, err
		}
	}
	d.kill(u)
	return &Outcome{
		NewValue: nc,
		OldType:  prec.TypeToken(u.Type()),
		NewType:  prec.TypeToken(ret),
		Stats:    d.Finish(),
	}, nil
}
