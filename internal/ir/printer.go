package ir

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/x448/float16"
)

// Print writes m in textual form.
func Print(w io.Writer, m *Module) error {
	_, err := io.WriteString(w, m.String())
	return err
}

// String renders m in textual form.
func (m *Module) String() string {
	p := &printer{m: m, globals: make(map[Value]string)}
	p.module()
	return p.sb.String()
}

type printer struct {
	sb      strings.Builder
	m       *Module
	globals map[Value]string
	locals  map[Value]string
	labels  map[*Block]string
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(&p.sb, format, args...)
}

func (p *printer) module() {
	m := p.m
	if m.Name != "" {
		p.printf("; ModuleID = '%s'\n", m.Name)
	}
	if m.SourceFilename != "" {
		p.printf("source_filename = %s\n", quote(m.SourceFilename))
	}
	if m.DataLayout != "" {
		p.printf("target datalayout = %s\n", quote(m.DataLayout))
	}
	if m.Triple != "" {
		p.printf("target triple = %s\n", quote(m.Triple))
	}
	p.nameGlobals()

	if len(m.Structs) > 0 {
		p.sb.WriteString("\n")
		for _, s := range m.Structs {
			p.printf("%%%s = type %s\n", identName(s.Name), structBody(s))
		}
	}
	if len(m.Globals) > 0 {
		p.sb.WriteString("\n")
		for _, g := range m.Globals {
			p.global(g)
		}
	}
	for _, f := range m.Funcs {
		p.sb.WriteString("\n")
		p.function(f)
	}
	if len(m.Named) > 0 || len(m.Metadata) > 0 {
		p.sb.WriteString("\n")
	}
	for _, n := range m.Named {
		refs := make([]string, len(n.Nodes))
		for i, node := range n.Nodes {
			refs[i] = "!" + strconv.Itoa(node.ID)
		}
		p.printf("!%s = !{%s}\n", n.Name, strings.Join(refs, ", "))
	}
	for _, n := range m.Metadata {
		p.printf("!%d = %s\n", n.ID, p.mdNode(n))
	}
}

func (p *printer) nameGlobals() {
	used := make(map[string]bool)
	slot := 0
	assign := func(v Value) {
		if v.Name() == "" {
			p.globals[v] = "@" + strconv.Itoa(slot)
			slot++
			return
		}
		p.globals[v] = "@" + identName(uniqueName(v.Name(), used))
	}
	for _, g := range p.m.Globals {
		assign(g)
	}
	for _, f := range p.m.Funcs {
		assign(f)
	}
}

func uniqueName(name string, used map[string]bool) string {
	if !used[name] {
		used[name] = true
		return name
	}
	sep := ""
	if last := name[len(name)-1]; last >= '0' && last <= '9' {
		sep = "."
	}
	for n := 1; ; n++ {
		cand := name + sep + strconv.Itoa(n)
		if !used[cand] {
			used[cand] = true
			return cand
		}
	}
}

func (p *printer) global(g *Global) {
	p.printf("%s = ", p.globals[g])
	if g.Linkage != "" {
		p.printf("%s ", g.Linkage)
	} else if g.Init == nil {
		p.sb.WriteString("external ")
	}
	if g.UnnamedAddr {
		p.sb.WriteString("unnamed_addr ")
	}
	if g.Const {
		p.sb.WriteString("constant ")
	} else {
		p.sb.WriteString("global ")
	}
	p.sb.WriteString(g.ValueTy.String())
	if g.Init != nil {
		p.printf(" %s", p.ref(g.Init))
	}
	if g.Align > 0 {
		p.printf(", align %d", g.Align)
	}
	for _, a := range g.Attach {
		p.printf(", !%s %s", a.Kind, p.mdRef(a.Node))
	}
	p.sb.WriteString("\n")
}

func (p *printer) nameLocals(f *Function) {
	p.locals = make(map[Value]string)
	p.labels = make(map[*Block]string)
	used := make(map[string]bool)
	slot := 0
	for _, a := range f.Params {
		if a.Name() == "" {
			p.locals[a] = "%" + strconv.Itoa(slot)
			slot++
		} else {
			p.locals[a] = "%" + identName(uniqueName(a.Name(), used))
		}
	}
	for _, b := range f.Blocks {
		if b.Name == "" {
			p.labels[b] = strconv.Itoa(slot)
			slot++
		} else {
			p.labels[b] = identName(uniqueName(b.Name, used))
		}
		for _, inst := range b.Insts {
			if inst.Type().IsVoid() {
				continue
			}
			if inst.Name() == "" {
				p.locals[inst] = "%" + strconv.Itoa(slot)
				slot++
			} else {
				p.locals[inst] = "%" + identName(uniqueName(inst.Name(), used))
			}
		}
	}
}

func (p *printer) function(f *Function) {
	p.nameLocals(f)
	kw := "define"
	if f.IsDeclaration() {
		kw = "declare"
	}
	p.sb.WriteString(kw + " ")
	if f.Linkage != "" {
		p.sb.WriteString(f.Linkage + " ")
	}
	params := make([]string, 0, len(f.Params)+1)
	for _, a := range f.Params {
		if f.IsDeclaration() {
			params = append(params, a.Type().String())
		} else {
			params = append(params, a.Type().String()+" "+p.locals[a])
		}
	}
	if f.Sig.Variadic {
		params = append(params, "...")
	}
	p.printf("%s %s(%s)", f.Sig.Ret, p.globals[f], strings.Join(params, ", "))
	for _, a := range f.Attach {
		p.printf(" !%s %s", a.Kind, p.mdRef(a.Node))
	}
	if f.IsDeclaration() {
		p.sb.WriteString("\n")
		return
	}
	p.sb.WriteString(" {\n")
	for i, b := range f.Blocks {
		if i > 0 {
			p.sb.WriteString("\n")
		}
		if i > 0 || b.Name != "" {
			p.printf("%s:\n", p.labels[b])
		}
		for _, inst := range b.Insts {
			p.sb.WriteString("  ")
			p.instruction(inst)
			p.sb.WriteString("\n")
		}
	}
	p.sb.WriteString("}\n")
}

// InstString renders a single instruction, numbering values within its
// function.
func InstString(inst *Instruction) string {
	p := &printer{globals: make(map[Value]string)}
	if f := inst.Func(); f != nil {
		if m := f.Parent(); m != nil {
			p.m = m
			p.nameGlobals()
		}
		p.nameLocals(f)
	}
	p.instruction(inst)
	return p.sb.String()
}

// Ref renders v the way an operand referring to it prints, e.g. `double %x`.
func Ref(v Value) string {
	p := &printer{globals: make(map[Value]string)}
	var f *Function
	switch v := v.(type) {
	case *Instruction:
		f = v.Func()
	case *Argument:
		f = v.Parent()
	}
	if f != nil {
		p.nameLocals(f)
	}
	return p.typed(v)
}

func (p *printer) typed(v Value) string {
	return v.Type().String() + " " + p.ref(v)
}

func (p *printer) label(b *Block) string {
	if l, ok := p.labels[b]; ok {
		return "%" + l
	}
	return "%" + identName(b.Name)
}

func (p *printer) instruction(inst *Instruction) {
	if !inst.Type().IsVoid() {
		p.printf("%s = ", p.ref(inst))
	}
	op := inst.Op
	switch {
	case op == OpAlloca:
		p.printf("alloca %s", inst.AllocTy)
	case op == OpLoad:
		p.printf("load %s, %s", inst.Type(), p.typed(inst.Operand(0)))
	case op == OpStore:
		p.printf("store %s, %s", p.typed(inst.Operand(0)), p.typed(inst.Operand(1)))
	case op == OpGEP:
		p.sb.WriteString("getelementptr ")
		if inst.InBounds {
			p.sb.WriteString("inbounds ")
		}
		p.printf("%s", inst.SrcElem)
		for _, v := range inst.Operands() {
			p.printf(", %s", p.typed(v))
		}
	case op.IsBinary():
		p.printf("%s %s, %s", op, p.typed(inst.Operand(0)), p.ref(inst.Operand(1)))
	case op == OpFNeg:
		p.printf("fneg %s", p.typed(inst.Operand(0)))
	case op == OpFCmp || op == OpICmp:
		p.printf("%s %s %s, %s", op, inst.Pred, p.typed(inst.Operand(0)), p.ref(inst.Operand(1)))
	case op.IsCast():
		p.printf("%s %s to %s", op, p.typed(inst.Operand(0)), inst.Type())
	case op == OpCall:
		p.call(inst)
	case op == OpRet:
		if inst.NumOperands() == 0 {
			p.sb.WriteString("ret void")
		} else {
			p.printf("ret %s", p.typed(inst.Operand(0)))
		}
	case op == OpBr:
		if inst.NumOperands() == 0 {
			p.printf("br label %s", p.label(inst.Blocks[0]))
		} else {
			p.printf("br %s, label %s, label %s", p.typed(inst.Operand(0)), p.label(inst.Blocks[0]), p.label(inst.Blocks[1]))
		}
	case op == OpPhi:
		parts := make([]string, inst.NumOperands())
		for i := range parts {
			parts[i] = fmt.Sprintf("[ %s, %s ]", p.ref(inst.Operand(i)), p.label(inst.Blocks[i]))
		}
		p.printf("phi %s %s", inst.Type(), strings.Join(parts, ", "))
	case op == OpSelect:
		p.printf("select %s, %s, %s", p.typed(inst.Operand(0)), p.typed(inst.Operand(1)), p.typed(inst.Operand(2)))
	default:
		p.printf("<%s>", op)
	}
	if inst.Align > 0 {
		p.printf(", align %d", inst.Align)
	}
	for _, a := range inst.Attach {
		p.printf(", !%s %s", a.Kind, p.mdRef(a.Node))
	}
}

func (p *printer) call(inst *Instruction) {
	fnTy := inst.FnTy
	p.printf("call %s ", fnTy.Ret)
	if fnTy.Variadic {
		params := make([]string, 0, len(fnTy.Params)+1)
		for _, t := range fnTy.Params {
			params = append(params, t.String())
		}
		params = append(params, "...")
		p.printf("(%s) ", strings.Join(params, ", "))
	}
	p.sb.WriteString(p.ref(inst.Callee()))
	args := inst.Args()
	parts := make([]string, len(args))
	for i, a := range args {
		if mv, ok := a.(*MetadataValue); ok {
			parts[i] = "metadata " + p.mdArg(mv)
			continue
		}
		s := a.Type().String()
		if i < len(inst.ArgAlign) && inst.ArgAlign[i] > 0 {
			s += fmt.Sprintf(" align %d", inst.ArgAlign[i])
		}
		parts[i] = s + " " + p.ref(a)
	}
	p.printf("(%s)", strings.Join(parts, ", "))
}

func (p *printer) mdArg(mv *MetadataValue) string {
	if v := mv.Wrapped(); v != nil {
		return p.typed(v)
	}
	return p.mdRef(mv.Node)
}

func (p *printer) mdRef(n *MDNode) string {
	if n == nil {
		return "null"
	}
	if n.ID < 0 {
		return p.mdNode(n)
	}
	return "!" + strconv.Itoa(n.ID)
}

func (p *printer) mdNode(n *MDNode) string {
	var sb strings.Builder
	if n.Distinct {
		sb.WriteString("distinct ")
	}
	if n.Kind == "" {
		parts := make([]string, len(n.Elems))
		for i, e := range n.Elems {
			parts[i] = p.mdOperand(e, true)
		}
		sb.WriteString("!{" + strings.Join(parts, ", ") + "}")
		return sb.String()
	}
	parts := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		parts[i] = p.mdOperand(f.Val, false)
		if f.Key != "" {
			parts[i] = f.Key + ": " + parts[i]
		}
	}
	sb.WriteString("!" + n.Kind + "(" + strings.Join(parts, ", ") + ")")
	return sb.String()
}

func (p *printer) mdOperand(o MDOperand, inTuple bool) string {
	switch o.Kind {
	case MDString:
		if inTuple {
			return "!" + quote(o.Str)
		}
		return quote(o.Str)
	case MDInt:
		return strconv.FormatInt(o.Int, 10)
	case MDRef, MDInline:
		return p.mdRef(o.Node)
	case MDIdent:
		return o.Str
	case MDValue:
		if o.Value == nil {
			return "null"
		}
		return p.typed(o.Value)
	}
	return "null"
}

func (p *printer) ref(v Value) string {
	switch c := v.(type) {
	case nil:
		return "<null operand>"
	case *ConstFloat:
		return FormatFloat(c.Type(), c.Val)
	case *ConstInt:
		if c.Type().Bits == 1 {
			return strconv.FormatBool(c.Val != 0)
		}
		return strconv.FormatInt(c.Val, 10)
	case *ConstArray:
		parts := make([]string, len(c.Elems))
		for i, e := range c.Elems {
			parts[i] = p.typed(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *ConstStruct:
		if len(c.Fields) == 0 {
			return "{}"
		}
		parts := make([]string, len(c.Fields))
		for i, e := range c.Fields {
			parts[i] = p.typed(e)
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	case *ConstBytes:
		return "c" + quote(string(c.Data))
	case *ConstZero:
		return "zeroinitializer"
	case *ConstNull:
		return "null"
	case *Undef:
		return "undef"
	case *MetadataValue:
		return p.mdArg(c)
	case *Global, *Function:
		if s, ok := p.globals[v]; ok {
			return s
		}
		return "@" + identName(v.Name())
	}
	if s, ok := p.locals[v]; ok {
		return s
	}
	if v.Name() != "" {
		return "%" + identName(v.Name())
	}
	return "%<badref>"
}

// FormatFloat renders a float constant the way the parser reads it back:
// a six-digit exponent form when that is exact, otherwise the 64-bit hex
// image; half uses 0xH and x86_fp80 uses 0xK.
func FormatFloat(ty *Type, v float64) string {
	switch ty.Kind {
	case HalfKind:
		return fmt.Sprintf("0xH%04X", float16.Fromfloat32(float32(v)).Bits())
	case X86FP80Kind:
		se, mant := fp80Bits(v)
		return fmt.Sprintf("0xK%04X%016X", se, mant)
	}
	if !math.IsInf(v, 0) && !math.IsNaN(v) {
		s := strconv.FormatFloat(v, 'e', 6, 64)
		if back, err := strconv.ParseFloat(s, 64); err == nil && back == v {
			return s
		}
	}
	return fmt.Sprintf("0x%016X", math.Float64bits(v))
}

// fp80Bits encodes v as an x87 extended value: 16 bits of sign and
// exponent, 64 bits of mantissa with an explicit integer bit.
func fp80Bits(v float64) (uint16, uint64) {
	bits := math.Float64bits(v)
	sign := uint16(bits>>63) << 15
	exp := int((bits >> 52) & 0x7FF)
	frac := bits & (1<<52 - 1)
	switch {
	case exp == 0x7FF:
		return sign | 0x7FFF, 1<<63 | frac<<11
	case exp == 0 && frac == 0:
		return sign, 0
	case exp == 0:
		// subnormal double: normalize into the wider exponent range
		shift := 0
		for frac&(1<<52) == 0 {
			frac <<= 1
			shift++
		}
		exp = 1 - shift
	default:
		frac |= 1 << 52
	}
	return sign | uint16(exp-1023+16383), frac << 11
}

func fp80Value(se uint16, mant uint64) float64 {
	sign := 1.0
	if se&0x8000 != 0 {
		sign = -1
	}
	exp := int(se & 0x7FFF)
	switch {
	case exp == 0x7FFF && mant<<1 == 0:
		return math.Inf(int(sign))
	case exp == 0x7FFF:
		return math.NaN()
	case exp == 0 && mant == 0:
		return math.Copysign(0, sign)
	}
	return sign * math.Ldexp(float64(mant), exp-16383-63)
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '$', c == '.', c == '_':
		return true
	case c >= '0' && c <= '9':
		return !first
	}
	return false
}

// identName quotes name when it is not a bare identifier.
func identName(name string) string {
	if name == "" {
		return `""`
	}
	for i := 0; i < len(name); i++ {
		if !isIdentChar(name[i], i == 0) {
			return quote(name)
		}
	}
	return name
}

// quote renders s between double quotes, escaping quotes, backslashes and
// non-printable bytes as \XX.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' || c < 0x20 || c >= 0x7F {
			fmt.Fprintf(&sb, "\\%02X", c)
			continue
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}
