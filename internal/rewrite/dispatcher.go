// Package rewrite retypes values of an IR module and repairs every consumer
// so the graph stays well typed.
//
// A Dispatcher walks the use edges of a replaced value with an explicit
// worklist. Each edge is handled by the rule for its consumer's opcode:
// some rules move the operand in place, others build a retyped copy of the
// consumer and queue that copy's uses in turn. Superseded instructions are
// collected and erased by the Reclaimer once the worklist drains.
package rewrite

import (
	"context"
	"fmt"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/trace"
)

// Stats counts what one dispatcher did.
type Stats struct {
	Visited   int // use edges dispatched
	Rebuilt   int // consumers replaced by a retyped copy
	Casts     int // conversions inserted
	Erased    int // instructions removed by Finish
	Unhandled int
	Dropped   int // root uses removed without a replacement
}

type pending[S any] struct {
	user  *ir.Instruction
	index int
	old   ir.Value
	new   ir.Value
	oldS  S
	newS  S
}

type visitKey struct {
	user  *ir.Instruction
	index int
	old   ir.Value
}

type replacement[S any] struct {
	old, new   ir.Value
	oldS, newS S
}

// Dispatcher rewrites use edges for one change. S is the shape carried
// along the edges: prec.Flat for scalar storage, prec.PtrDep when the
// indirection depth matters.
type Dispatcher[S prec.Shape[S]] struct {
	mod    *ir.Module
	opts   Options
	tracer trace.Tracer
	span   uint64
	root   ir.Value

	work    []pending[S]
	visited map[visitKey]bool
	// repl maps superseded values to their replacements so new code never
	// reads a value that is about to be erased.
	repl map[ir.Value]ir.Value
	jobs []replacement[S]

	dead    []*ir.Instruction
	deadSet map[*ir.Instruction]bool
	casts   []*ir.Instruction

	skipped []*UnhandledKindError
	stats   Stats
}

// NewDispatcher returns a dispatcher editing m. The tracer and parent span
// are taken from ctx.
func NewDispatcher[S prec.Shape[S]](ctx context.Context, m *ir.Module, opts Options) *Dispatcher[S] {
	return &Dispatcher[S]{
		mod:     m,
		opts:    opts,
		tracer:  trace.FromContext(ctx),
		span:    trace.CurrentSpan(ctx),
		visited: make(map[visitKey]bool),
		repl:    make(map[ir.Value]ir.Value),
		deadSet: make(map[*ir.Instruction]bool),
	}
}

// Rewrite moves every use of old onto new, whose shape changed from oldS to
// newS, and drains the resulting worklist.
func (d *Dispatcher[S]) Rewrite(old, new ir.Value, oldS, newS S) error {
	if d.root == nil {
		d.root = old
	}
	d.follow(old, new, oldS, newS)
	return d.drain()
}

// RewriteUse reconciles the single edge u, which reads old, against new.
// It reports false when the consumer was superseded and has been scheduled
// for deletion. Follow-up edges are drained before it returns.
func (d *Dispatcher[S]) RewriteUse(u *ir.Use, new ir.Value, oldS, newS S) (bool, error) {
	user, ok := u.User().(*ir.Instruction)
	if !ok {
		return false, fmt.Errorf("%w: use by a non-instruction", ErrBadTarget)
	}
	p := pending[S]{user: user, index: u.Index(), old: u.Value(), new: new, oldS: oldS, newS: newS}
	d.visited[visitKey{user, p.index, p.old}] = true
	handled, err := d.rewriteUse(p)
	if err != nil {
		return false, err
	}
	if !handled {
		d.kill(user)
	}
	return handled, d.drain()
}

// Skipped lists the consumers no rule covered.
func (d *Dispatcher[S]) Skipped() []*UnhandledKindError { return d.skipped }

// Finish erases every superseded instruction and then the inserted
// conversions nothing reads any more.
func (d *Dispatcher[S]) Finish() Stats {
	var r Reclaimer
	d.stats.Erased += r.Reclaim(d.dead)
	d.dead = nil
	clear(d.deadSet)
	d.stats.Erased += sweepCasts(d.casts)
	d.casts = nil
	return d.stats
}

func (d *Dispatcher[S]) drain() error {
	for {
		for len(d.work) > 0 {
			p := d.work[len(d.work)-1]
			d.work = d.work[:len(d.work)-1]
			if err := d.step(p); err != nil {
				return err
			}
		}
		if !d.rescan() {
			return nil
		}
	}
}

// follow records that new replaces old and queues the uses of old. Uses
// are pushed in reverse so they pop in use-list order.
func (d *Dispatcher[S]) follow(old, new ir.Value, oldS, newS S) {
	d.jobs = append(d.jobs, replacement[S]{old: old, new: new, oldS: oldS, newS: newS})
	if old != new {
		d.repl[old] = new
	}
	uses := old.Uses()
	for i := len(uses) - 1; i >= 0; i-- {
		d.push(uses[i], old, new, oldS, newS)
	}
}

func (d *Dispatcher[S]) push(u *ir.Use, old, new ir.Value, oldS, newS S) bool {
	user, ok := u.User().(*ir.Instruction)
	if !ok || d.deadSet[user] || user.Erased() {
		return false
	}
	if d.visited[visitKey{user, u.Index(), old}] {
		return false
	}
	d.work = append(d.work, pending[S]{user: user, index: u.Index(), old: old, new: new, oldS: oldS, newS: newS})
	return true
}

// rescan queues uses of replaced values that appeared after the
// replacement was recorded, such as compensation casts built from an old
// operand.
func (d *Dispatcher[S]) rescan() bool {
	found := false
	for _, j := range d.jobs {
		if j.old == j.new {
			continue
		}
		for _, u := range j.old.Uses() {
			if d.push(u, j.old, j.new, j.oldS, j.newS) {
				found = true
			}
		}
	}
	return found
}

func (d *Dispatcher[S]) step(p pending[S]) error {
	key := visitKey{p.user, p.index, p.old}
	if d.visited[key] {
		return nil
	}
	d.visited[key] = true
	if p.user.Erased() || d.deadSet[p.user] || p.user.Operand(p.index) != p.old {
		return nil
	}
	trace.Point(d.tracer, trace.ScopeUse, "use", d.span,
		fmt.Sprintf("%s operand %d: %s -> %s", p.user.Op, p.index, p.oldS, p.newS))
	handled, err := d.rewriteUse(p)
	if err != nil {
		return err
	}
	if !handled {
		d.kill(p.user)
	}
	return nil
}

// rewriteUse applies the rule for the consumer's kind. Exactly one rule
// fires per edge.
func (d *Dispatcher[S]) rewriteUse(p pending[S]) (bool, error) {
	d.stats.Visited++
	switch op := p.user.Op; {
	case op == ir.OpLoad:
		return d.load(p)
	case op == ir.OpStore:
		return d.store(p)
	case op.IsFloatBinary():
		return d.binary(p)
	case op == ir.OpFNeg:
		return d.fneg(p)
	case op == ir.OpFCmp:
		return d.fcmp(p)
	case op == ir.OpICmp && p.new.Type().IsPtr():
		// address comparisons never read the storage
		d.swap(p, p.new)
		return true, nil
	case op == ir.OpGEP:
		return d.gep(p)
	case op.IsCast():
		return d.cast(p)
	case op == ir.OpCall:
		return d.call(p)
	case op == ir.OpRet:
		return d.ret(p)
	}
	return d.unhandled(p)
}

func (d *Dispatcher[S]) swap(p pending[S], v ir.Value) {
	p.user.SetOperand(p.index, v)
}

func (d *Dispatcher[S]) kill(inst *ir.Instruction) {
	if d.deadSet[inst] {
		return
	}
	d.deadSet[inst] = true
	d.dead = append(d.dead, inst)
}

// supersede retires old in favour of new. When the shape is unchanged the
// uses move directly; otherwise they go through the worklist.
func (d *Dispatcher[S]) supersede(old, new *ir.Instruction, oldS, newS S) {
	ir.TakeName(new, old)
	new.CopyMetadata(old)
	d.stats.Rebuilt++
	if oldS.Equal(newS) && ir.Equal(old.Type(), new.Type()) {
		d.repl[old] = new
		ir.ReplaceAllUsesWith(old, new)
		return
	}
	d.follow(old, new, oldS, newS)
}

// current looks through recorded replacements.
func (d *Dispatcher[S]) current(v ir.Value) ir.Value {
	for {
		r, ok := d.repl[v]
		if !ok || r == v {
			return v
		}
		v = r
	}
}

// coerce returns v converted to t, inserting a cast before at when needed.
// Constants are re-encoded and a widening cast whose source already has
// type t is looked through.
func (d *Dispatcher[S]) coerce(v ir.Value, t *ir.Type, at *ir.Instruction) (ir.Value, error) {
	v = d.current(v)
	if ir.Equal(v.Type(), t) {
		return v, nil
	}
	switch c := v.(type) {
	case *ir.Global, *ir.Function:
	case ir.Constant:
		return prec.ConvertConst(c, t)
	case *ir.Instruction:
		if c.Op == ir.OpFPExt && ir.Equal(c.Operand(0).Type(), t) {
			return c.Operand(0), nil
		}
	}
	op, ok := prec.ConvOp(v.Type(), t)
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoConversion, v.Type(), t)
	}
	c := ir.Before(at).Cast(op, v, t)
	c.Span = at.Span
	d.casts = append(d.casts, c)
	d.stats.Casts++
	return c, nil
}

// unhandled deals with a consumer no rule covers: an error in strict mode,
// otherwise the consumer is fed the new value converted back to the old
// type, or scheduled for deletion when that is impossible (always for a
// retyped address) or requested.
func (d *Dispatcher[S]) unhandled(p pending[S]) (bool, error) {
	e := &UnhandledKindError{Op: p.user.Op, User: ir.InstString(p.user), Value: ir.Ref(p.new)}
	d.stats.Unhandled++
	trace.Point(d.tracer, trace.ScopeRewrite, "rewrite:unhandled", d.span, e.Error())
	if d.opts.Strict {
		return true, e
	}
	d.skipped = append(d.skipped, e)
	if !d.opts.DeleteUnhandled {
		if v, err := d.convertBack(p); err == nil {
			d.swap(p, v)
			diag.ReportWarning(d.opts.Reporter, diag.RwrUnhandledKind, p.user.Span,
				fmt.Sprintf("%s reads %s through a conversion back to %s", p.user.Op, ir.Ref(p.new), p.old.Type())).Emit()
			return true, nil
		}
	}
	if p.old == d.root {
		d.stats.Dropped++
	}
	diag.ReportWarning(d.opts.Reporter, diag.RwrUnhandledKind, p.user.Span,
		fmt.Sprintf("%s scheduled for deletion: no rule for its use of %s", p.user.Op, ir.Ref(p.new))).Emit()
	return false, nil
}

// convertBack converts the new value to the old operand type. A phi takes
// the conversion at the end of the incoming block. An address whose
// storage changed has no conversion back: every pointer type is ptr, so
// the consumer would read the old element type from the new storage.
func (d *Dispatcher[S]) convertBack(p pending[S]) (ir.Value, error) {
	if p.new.Type().IsPtr() && !p.oldS.Equal(p.newS) {
		return nil, fmt.Errorf("%w: address of %s storage read as %s", ErrNoConversion, p.newS, p.oldS)
	}
	at := p.user
	if p.user.Op == ir.OpPhi {
		term := p.user.Blocks[p.index].Terminator()
		if term == nil {
			return nil, fmt.Errorf("%w: incoming block has no terminator", ErrNoConversion)
		}
		at = term
	}
	return d.coerce(p.new, p.old.Type(), at)
}
