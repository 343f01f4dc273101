// Package resolve infers the element type flowing through opaque pointers.
//
// A pointer is resolved from the way it is produced when that is
// conclusive (an alloca, global or typed GEP of non-pointer storage) and
// otherwise from its consumers: loads, stores, typed indexing and the
// parameters of called function bodies. The walk uses an explicit stack
// with an on-stack set, so cyclic load/store and call graphs terminate.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/trace"
)

// ResolutionConflict reports consumers of one pointer that disagree on its
// indirection depth.
type ResolutionConflict struct {
	Value      ir.Value
	Candidates []prec.PtrDep
}

func (e *ResolutionConflict) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = fmt.Sprintf("%s (depth %d)", c, c.Depth)
	}
	return fmt.Sprintf("conflicting pointee depths for %s: %s", describe(e.Value), strings.Join(parts, ", "))
}

func describe(v ir.Value) string {
	switch v := v.(type) {
	case *ir.Global, *ir.Function:
		return "@" + v.Name()
	case *ir.Argument:
		if v.Name() != "" {
			return "%" + v.Name()
		}
		return fmt.Sprintf("argument %d of @%s", v.Index(), v.Parent().Name())
	case *ir.Instruction:
		if v.Name() != "" {
			return "%" + v.Name()
		}
		return v.Op.String()
	}
	return v.Type().String()
}

type result struct {
	dep      prec.PtrDep
	resolved bool
}

// edge asks for the resolution of target, shifted by delta levels.
type edge struct {
	target ir.Value
	delta  int
}

type frame struct {
	v     ir.Value
	edges []edge
	next  int
	cands []prec.PtrDep
	// partial is set when an edge was cut because its target was still on
	// the stack; such answers are not memoized.
	partial bool
}

// Resolver memoizes resolutions for one module state. Results go stale
// once the module is rewritten; use a fresh Resolver per request.
type Resolver struct {
	memo   map[ir.Value]result
	tracer trace.Tracer
	parent uint64
}

// New builds a resolver that logs through the tracer carried by ctx.
func New(ctx context.Context) *Resolver {
	return &Resolver{
		memo:   make(map[ir.Value]result),
		tracer: trace.FromContext(ctx),
		parent: trace.CurrentSpan(ctx),
	}
}

// Resolve returns the (base, depth) pair of v. Values that are not
// pointers resolve to their own type at depth 0. Pointers no consumer
// explains fall back to Static: ptr at depth 1 for globals and allocas
// holding a pointer, ptr at depth 0 otherwise.
func (r *Resolver) Resolve(v ir.Value) (prec.PtrDep, error) {
	if res, ok := r.lookup(v); ok {
		return res.dep, nil
	}
	stack := []*frame{r.open(v)}
	onStack := map[ir.Value]bool{v: true}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next < len(top.edges) {
			e := top.edges[top.next]
			top.next++
			if res, ok := r.lookup(e.target); ok {
				top.add(res, e.delta)
				continue
			}
			if onStack[e.target] {
				top.partial = true
				continue
			}
			onStack[e.target] = true
			stack = append(stack, r.open(e.target))
			continue
		}

		res, err := r.close(top)
		if err != nil {
			return prec.PtrDep{}, err
		}
		delete(onStack, top.v)
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			r.memo[top.v] = res
			return res.dep, nil
		}
		if !top.partial {
			r.memo[top.v] = res
		}
		parent := stack[len(stack)-1]
		parent.partial = parent.partial || top.partial
		parent.add(res, parent.edges[parent.next-1].delta)
	}
	return prec.PtrDep{}, nil
}

// Fallback reports whether v was resolved to its static type because no
// consumer gave a usable candidate.
func (r *Resolver) Fallback(v ir.Value) bool {
	res, ok := r.memo[v]
	return ok && !res.resolved
}

func (f *frame) add(res result, delta int) {
	if !res.resolved {
		return
	}
	d := res.dep
	d.Depth += delta
	f.cands = append(f.cands, d)
}

// lookup answers from the memo or from the producer of v.
func (r *Resolver) lookup(v ir.Value) (result, bool) {
	if res, ok := r.memo[v]; ok {
		return res, true
	}
	if dep, ok := origin(v); ok {
		res := result{dep: dep, resolved: true}
		r.memo[v] = res
		return res, true
	}
	return result{}, false
}

// origin resolves v from its declaration when that is conclusive.
func origin(v ir.Value) (prec.PtrDep, bool) {
	if !v.Type().IsPtr() {
		return prec.PtrDep{Base: v.Type()}, true
	}
	switch v := v.(type) {
	case *ir.Global:
		if !v.ValueTy.IsPtr() {
			return prec.PtrDep{Base: v.ValueTy, Depth: 1}, true
		}
	case *ir.Instruction:
		switch v.Op {
		case ir.OpAlloca:
			if !v.AllocTy.IsPtr() {
				return prec.PtrDep{Base: v.AllocTy, Depth: 1}, true
			}
		case ir.OpGEP:
			if isByteType(v.SrcElem) {
				break
			}
			if t, ok := prec.IndexedType(v.SrcElem, v.Indices()); ok && !t.IsPtr() {
				return prec.PtrDep{Base: t, Depth: 1}, true
			}
		}
	}
	return prec.PtrDep{}, false
}

// Static is the pair v's declaration alone gives. A global or alloca is
// the address of its declared storage; any other value is its own type.
func Static(v ir.Value) prec.PtrDep {
	switch v := v.(type) {
	case *ir.Global:
		return prec.PtrDep{Base: v.ValueTy, Depth: 1}
	case *ir.Instruction:
		if v.Op == ir.OpAlloca {
			return prec.PtrDep{Base: v.AllocTy, Depth: 1}
		}
	}
	return prec.PtrDep{Base: v.Type()}
}

func isByteType(t *ir.Type) bool { return t.IsInt() && t.Bits == 8 }

// open collects the consumers of v into direct candidates and edges.
func (r *Resolver) open(v ir.Value) *frame {
	f := &frame{v: v}
	for _, u := range v.Uses() {
		inst, ok := u.User().(*ir.Instruction)
		if !ok {
			continue // metadata wrappers carry no type information
		}
		switch inst.Op {
		case ir.OpLoad:
			if t := inst.Type(); !t.IsPtr() {
				f.cands = append(f.cands, prec.PtrDep{Base: t, Depth: 1})
			} else {
				f.edges = append(f.edges, edge{target: inst, delta: 1})
			}
		case ir.OpStore:
			if u.Index() == 0 {
				f.edges = append(f.edges, edge{target: inst.PointerOperand(), delta: -1})
				continue
			}
			if t := inst.ValueOperand().Type(); !t.IsPtr() {
				f.cands = append(f.cands, prec.PtrDep{Base: t, Depth: 1})
			} else {
				f.edges = append(f.edges, edge{target: inst.ValueOperand(), delta: 1})
			}
		case ir.OpGEP:
			if u.Index() != 0 {
				continue
			}
			if src := inst.SrcElem; !src.IsPtr() && !isByteType(src) {
				f.cands = append(f.cands, prec.PtrDep{Base: src, Depth: 1})
			} else {
				f.edges = append(f.edges, edge{target: inst, delta: 0})
			}
		case ir.OpCall:
			callee := inst.CalledFunction()
			if u.Index() >= inst.NumArgs() || callee == nil || callee.IsDeclaration() || u.Index() >= len(callee.Params) {
				r.skip(v, inst, "no body to follow")
				continue
			}
			f.edges = append(f.edges, edge{target: callee.Params[u.Index()], delta: 0})
		default:
			r.skip(v, inst, "consumer kind not followed")
		}
	}
	return f
}

// close picks the answer for a finished frame. Every frame is a pointer,
// so candidates below depth 1 are noise, as are pointer and void bases;
// the rest must agree on depth.
func (r *Resolver) close(f *frame) (result, error) {
	var kept []prec.PtrDep
	for _, c := range f.cands {
		if c.Base == nil || c.Base.IsPtr() || c.Base.IsVoid() || c.Depth < 1 {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		trace.Point(r.tracer, trace.ScopeRewrite, "resolve:fallback", r.parent, describe(f.v))
		return result{dep: Static(f.v)}, nil
	}
	for _, c := range kept[1:] {
		if c.Depth != kept[0].Depth {
			return result{}, &ResolutionConflict{Value: f.v, Candidates: kept}
		}
	}
	return result{dep: kept[0], resolved: true}, nil
}

func (r *Resolver) skip(v ir.Value, user *ir.Instruction, why string) {
	trace.Point(r.tracer, trace.ScopeRewrite, "resolve:skip", r.parent,
		fmt.Sprintf("%s used by %s: %s", describe(v), user.Op, why))
}
