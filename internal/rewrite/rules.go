package rewrite

import (
	"mxprec/internal/ir"
	"mxprec/internal/prec"
)

// counterpart maps t, a type found inside the old storage type oldP, to the
// type at the same position of newP. Only whole storage and array elements
// at any nesting level have a counterpart.
func counterpart(t, oldP, newP *ir.Type) (*ir.Type, bool) {
	for oldP != nil && newP != nil {
		if ir.Equal(t, oldP) {
			return newP, true
		}
		if !oldP.IsArray() || !newP.IsArray() {
			break
		}
		oldP, newP = oldP.Elem, newP.Elem
	}
	return nil, false
}

func (d *Dispatcher[S]) load(p pending[S]) (bool, error) {
	u := p.user
	oldP, newP := p.oldS.Pointee(), p.newS.Pointee()
	t, ok := counterpart(u.Type(), oldP, newP)
	if !ok {
		return d.unhandled(p)
	}
	oldD, newD := p.oldS.Value(u.Type()), p.newS.Value(t)
	if ir.Equal(u.Type(), oldP) {
		oldD, newD = p.oldS.Deref(), p.newS.Deref()
	}
	if ir.Equal(t, u.Type()) {
		d.swap(p, p.new)
		if !oldD.Equal(newD) {
			d.follow(u, u, oldD, newD)
		}
		return true, nil
	}
	nl := ir.Before(u).Load(t, p.new, prec.Alignment(t))
	d.supersede(u, nl, oldD, newD)
	return false, nil
}

func (d *Dispatcher[S]) store(p pending[S]) (bool, error) {
	u := p.user
	if p.index == 0 {
		if p.new.Type().IsPtr() {
			d.swap(p, p.new)
			// the slot now holds an address of the new shape
			if slot := u.PointerOperand(); slot != p.old && !p.oldS.Equal(p.newS) {
				d.follow(slot, slot, p.oldS.AddrOf(), p.newS.AddrOf())
			}
			return true, nil
		}
		v, err := d.coerce(p.new, p.old.Type(), u)
		if err != nil {
			return d.unhandled(p)
		}
		d.swap(p, v)
		return true, nil
	}

	val := u.ValueOperand()
	t, ok := counterpart(val.Type(), p.oldS.Pointee(), p.newS.Pointee())
	if !ok {
		return d.unhandled(p)
	}
	if ir.Equal(t, val.Type()) {
		d.swap(p, p.new)
		return true, nil
	}
	nv, err := d.coerce(val, t, u)
	if err != nil {
		return d.unhandled(p)
	}
	ns := ir.Before(u).Store(nv, p.new, prec.Alignment(t))
	ns.CopyMetadata(u)
	d.stats.Rebuilt++
	return false, nil
}

// operands returns the operands of u converted to t, reading new in place
// of old.
func (d *Dispatcher[S]) operands(u *ir.Instruction, p pending[S], vals []ir.Value, t *ir.Type) ([]ir.Value, error) {
	out := make([]ir.Value, len(vals))
	for i, v := range vals {
		if v == p.old {
			v = p.new
		}
		c, err := d.coerce(v, t, u)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (d *Dispatcher[S]) binary(p pending[S]) (bool, error) {
	u := p.user
	work := p.new.Type()
	if !work.IsFloat() {
		return d.unhandled(p)
	}
	if ir.Equal(work, u.Type()) {
		d.swap(p, p.new)
		return true, nil
	}
	ops, err := d.operands(u, p, u.Operands(), work)
	if err != nil {
		return d.unhandled(p)
	}
	nb := ir.Before(u).Binary(u.Op, ops[0], ops[1])
	d.supersede(u, nb, p.oldS.Value(u.Type()), p.newS.Value(work))
	return false, nil
}

func (d *Dispatcher[S]) fneg(p pending[S]) (bool, error) {
	u := p.user
	work := p.new.Type()
	if !work.IsFloat() {
		return d.unhandled(p)
	}
	if ir.Equal(work, u.Type()) {
		d.swap(p, p.new)
		return true, nil
	}
	nn := ir.Before(u).FNeg(p.new)
	d.supersede(u, nn, p.oldS.Value(u.Type()), p.newS.Value(work))
	return false, nil
}

// fcmp compares at the precision of the new operand. The result stays i1,
// so the comparison is updated in place.
func (d *Dispatcher[S]) fcmp(p pending[S]) (bool, error) {
	u := p.user
	work := p.new.Type()
	if !work.IsFloat() {
		return d.unhandled(p)
	}
	ops, err := d.operands(u, p, u.Operands(), work)
	if err != nil {
		return d.unhandled(p)
	}
	for i, v := range ops {
		if u.Operand(i) != v {
			u.SetOperand(i, v)
		}
	}
	return true, nil
}

func gepShape[S prec.Shape[S]](s S, t *ir.Type) S {
	if pt := s.Pointee(); pt != nil && pt.IsPtr() {
		return s
	}
	return s.WithPointee(t)
}

func (d *Dispatcher[S]) gep(p pending[S]) (bool, error) {
	u := p.user
	if p.index != 0 {
		v, err := d.coerce(p.new, p.old.Type(), u)
		if err != nil {
			return d.unhandled(p)
		}
		d.swap(p, v)
		return true, nil
	}
	src, ok := counterpart(u.SrcElem, p.oldS.Pointee(), p.newS.Pointee())
	if !ok {
		return d.byteGEP(p)
	}
	idx := u.Indices()
	oldT, ok1 := prec.IndexedType(u.SrcElem, idx)
	newT, ok2 := prec.IndexedType(src, idx)
	if !ok1 || !ok2 {
		return d.unhandled(p)
	}
	oldR, newR := gepShape(p.oldS, oldT), gepShape(p.newS, newT)
	if ir.Equal(src, u.SrcElem) {
		d.swap(p, p.new)
		if !oldR.Equal(newR) {
			d.follow(u, u, oldR, newR)
		}
		return true, nil
	}
	ng := ir.Before(u).GEP(src, p.new, idx, u.InBounds)
	d.supersede(u, ng, oldR, newR)
	return false, nil
}

// byteGEP rebuilds an i8 offset into retyped storage so it lands on the
// same element. The result addresses that element. Offsets that do not
// fall on an element boundary have no counterpart.
func (d *Dispatcher[S]) byteGEP(p pending[S]) (bool, error) {
	u := p.user
	idx := u.Indices()
	oldP, newP := p.oldS.Pointee(), p.newS.Pointee()
	if !ir.Equal(u.SrcElem, ir.I8) || len(idx) != 1 || oldP == nil || newP == nil {
		return d.unhandled(p)
	}
	off, ok := idx[0].(*ir.ConstInt)
	if !ok {
		return d.unhandled(p)
	}
	oldE, newE := oldP.ScalarElem(), newP.ScalarElem()
	oldSize, newSize := ir.SizeOf(oldE), ir.SizeOf(newE)
	if oldSize <= 0 || newSize <= 0 || off.Val%oldSize != 0 {
		return d.unhandled(p)
	}
	oldR, newR := p.oldS.WithPointee(oldE), p.newS.WithPointee(newE)
	if oldSize == newSize {
		d.swap(p, p.new)
		if !oldR.Equal(newR) {
			d.follow(u, u, oldR, newR)
		}
		return true, nil
	}
	at := ir.NewConstInt(off.Type(), off.Val/oldSize*newSize)
	ng := ir.Before(u).GEP(ir.I8, p.new, []ir.Value{at}, u.InBounds)
	d.supersede(u, ng, oldR, newR)
	return false, nil
}

func (d *Dispatcher[S]) cast(p pending[S]) (bool, error) {
	u := p.user
	from := p.new.Type()
	if ir.Equal(from, p.old.Type()) {
		d.swap(p, p.new)
		// a pointer cast forwards the address, so its readers see the new storage
		if u.Type().IsPtr() && !p.oldS.Equal(p.newS) {
			d.follow(u, u, p.oldS, p.newS)
		}
		return true, nil
	}
	if ir.Equal(from, u.Type()) {
		d.repl[u] = p.new
		ir.ReplaceAllUsesWith(u, p.new)
		return false, nil
	}
	op, ok := prec.ConvOp(from, u.Type())
	if !ok {
		return d.unhandled(p)
	}
	nc := ir.Before(u).Cast(op, p.new, u.Type())
	d.supersede(u, nc, p.oldS.Value(u.Type()), p.newS.Value(u.Type()))
	return false, nil
}

func (d *Dispatcher[S]) ret(p pending[S]) (bool, error) {
	u := p.user
	v, err := d.coerce(p.new, u.Func().Sig.Ret, u)
	if err != nil {
		return d.unhandled(p)
	}
	d.swap(p, v)
	return true, nil
}
