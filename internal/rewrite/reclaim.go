package rewrite

import "mxprec/internal/ir"

// Reclaimer erases instructions retired by a rewrite. Instruction users of
// a retired instruction are erased before it; any other reader, such as a
// debug metadata wrapper, is pointed at undef instead. Reclaiming an
// instruction twice is a no-op.
type Reclaimer struct{}

type reclaimFrame struct {
	inst *ir.Instruction
	done bool
}

// Reclaim erases every instruction of dead together with the instructions
// reading them, and returns how many were erased.
func (Reclaimer) Reclaim(dead []*ir.Instruction) int {
	erased := 0
	onStack := make(map[*ir.Instruction]bool)
	for _, root := range dead {
		if root.Erased() {
			continue
		}
		stack := []reclaimFrame{{inst: root}}
		onStack[root] = true
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			inst := top.inst
			if !top.done {
				top.done = true
				for _, u := range inst.Uses() {
					user, ok := u.User().(*ir.Instruction)
					switch {
					case !ok:
						u.Set(ir.NewUndef(inst.Type()))
					case user.Erased():
					case onStack[user]:
						// a cycle through phis; cut it here
						u.Set(ir.NewUndef(inst.Type()))
					default:
						onStack[user] = true
						stack = append(stack, reclaimFrame{inst: user})
					}
				}
				continue
			}
			stack = stack[:len(stack)-1]
			delete(onStack, inst)
			if inst.Erased() {
				continue
			}
			for _, u := range inst.Uses() {
				u.Set(ir.NewUndef(inst.Type()))
			}
			if err := inst.EraseFromParent(); err == nil {
				erased++
			}
		}
	}
	return erased
}

// sweepCasts erases the conversions in casts that ended up unread, and the
// conversions feeding only those, until nothing changes.
func sweepCasts(casts []*ir.Instruction) int {
	erased := 0
	for changed := true; changed; {
		changed = false
		for _, c := range casts {
			if c.Erased() || c.NumUses() > 0 {
				continue
			}
			if c.EraseFromParent() == nil {
				erased++
				changed = true
			}
		}
	}
	return erased
}
