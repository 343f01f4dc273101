package ir

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/x448/float16"

	"mxprec/internal/diag"
	"mxprec/internal/source"
)

// ParseError is the first error found in an IR text.
type ParseError struct {
	Code diag.Code
	Span source.Span
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at %d: %s", e.Code.ID(), e.Span.Start, e.Msg)
}

// Parse reads the module stored as file id of fs. The first error is
// reported to rep (when non-nil) and returned.
func Parse(fs *source.FileSet, id source.FileID, rep diag.Reporter) (*Module, error) {
	f := fs.Get(id)
	m, err := parse(f.Path, f.Content, id)
	if err != nil {
		if rep != nil {
			diag.ReportError(rep, err.Code, err.Span, err.Msg).Emit()
		}
		return nil, err
	}
	return m, nil
}

// ParseString parses text as a module called name.
func ParseString(name, text string) (*Module, error) {
	m, err := parse(name, []byte(text), 0)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// placeholder stands in for a value referenced before its definition.
type placeholder struct {
	valueBase
	span source.Span
}

type bailout struct{ err *ParseError }

type initFixup struct {
	g    *Global
	name string
	span source.Span
}

type parser struct {
	toks []token
	pos  int
	file source.FileID
	m    *Module

	structs    map[string]*Type
	structSpan map[string]source.Span
	globals    map[string]Value
	gfwd       map[string]*placeholder
	fixups     []initFixup
	md         map[int]*MDNode
	mdDefined  map[int]bool
	mdSpan     map[int]source.Span

	fn           *Function
	locals       map[string]Value
	lfwd         map[string]*placeholder
	blocks       map[string]*Block
	blockDefined map[string]bool
	blockSpan    map[string]source.Span
}

func parse(name string, src []byte, file source.FileID) (m *Module, perr *ParseError) {
	toks, err := tokenize(src)
	if err != nil {
		le, ok := err.(*lexError)
		if !ok {
			return nil, &ParseError{Code: diag.PrsUnknownChar, Msg: err.Error()}
		}
		code := diag.PrsUnknownChar
		if strings.HasPrefix(le.msg, "unterminated") {
			code = diag.PrsUnterminated
		}
		return nil, &ParseError{Code: code, Span: source.Span{File: file, Start: le.pos, End: le.pos + 1}, Msg: le.msg}
	}
	p := &parser{
		toks:       toks,
		file:       file,
		m:          NewModule(name),
		structs:    make(map[string]*Type),
		structSpan: make(map[string]source.Span),
		globals:    make(map[string]Value),
		gfwd:       make(map[string]*placeholder),
		md:         make(map[int]*MDNode),
		mdDefined:  make(map[int]bool),
		mdSpan:     make(map[int]source.Span),
	}
	defer func() {
		if r := recover(); r != nil {
			b, ok := r.(bailout)
			if !ok {
				panic(r)
			}
			m, perr = nil, b.err
		}
	}()
	p.parseModule()
	return p.m, nil
}

// token helpers

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekN(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) prev() token {
	if p.pos == 0 {
		return p.toks[0]
	}
	return p.toks[p.pos-1]
}

func (p *parser) at(k tokKind) bool { return p.peek().kind == k }

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tkPunct && t.text == s
}

func (p *parser) isIdent(s string) bool {
	t := p.peek()
	return t.kind == tkIdent && t.text == s
}

func (p *parser) accept(s string) bool {
	if p.isPunct(s) || p.isIdent(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) span(t token) source.Span {
	return source.Span{File: p.file, Start: t.start, End: t.end}
}

func (p *parser) spanFrom(start token) source.Span {
	return source.Span{File: p.file, Start: start.start, End: p.prev().end}
}

func (p *parser) fail(code diag.Code, sp source.Span, format string, args ...any) {
	panic(bailout{&ParseError{Code: code, Span: sp, Msg: fmt.Sprintf(format, args...)}})
}

func (p *parser) unexpected(want string) {
	t := p.peek()
	p.fail(diag.PrsUnexpectedToken, p.span(t), "expected %s, found %s", want, t)
}

func (p *parser) expect(s string) token {
	if !p.isPunct(s) {
		p.unexpected(strconv.Quote(s))
	}
	return p.next()
}

func (p *parser) expectKeyword(s string) token {
	if !p.isIdent(s) {
		p.unexpected(strconv.Quote(s))
	}
	return p.next()
}

func (p *parser) expectKind(k tokKind, what string) token {
	if !p.at(k) {
		p.unexpected(what)
	}
	return p.next()
}

func (p *parser) expectInt() int {
	t := p.expectKind(tkInt, "integer")
	n, err := strconv.Atoi(t.text)
	if err != nil {
		p.fail(diag.PrsBadNumber, p.span(t), "bad integer %q", t.text)
	}
	return n
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func valueName(s string) string {
	if isNumeric(s) {
		return ""
	}
	return s
}

// module level

func (p *parser) parseModule() {
	for !p.at(tkEOF) {
		t := p.peek()
		switch t.kind {
		case tkIdent:
			switch t.text {
			case "source_filename":
				p.next()
				p.expect("=")
				p.m.SourceFilename = p.expectKind(tkString, "string").text
			case "target":
				p.next()
				which := p.expectKind(tkIdent, "datalayout or triple").text
				p.expect("=")
				s := p.expectKind(tkString, "string").text
				if which == "triple" {
					p.m.Triple = s
				} else {
					p.m.DataLayout = s
				}
			case "define":
				p.parseFunction(true)
			case "declare":
				p.parseFunction(false)
			case "attributes":
				p.next()
				p.expectKind(tkHash, "attribute group")
				p.expect("=")
				p.skipBalanced("{", "}")
			default:
				p.unexpected("top-level entity")
			}
		case tkLocal:
			p.parseTypeDef()
		case tkGlobal:
			p.parseGlobal()
		case tkComdat:
			p.next()
			p.expect("=")
			p.expectKeyword("comdat")
			p.expectKind(tkIdent, "comdat kind")
		case tkMetaName:
			p.parseMetadataDef()
		default:
			p.unexpected("top-level entity")
		}
	}
	p.finish()
}

func (p *parser) skipBalanced(open, close string) {
	p.expect(open)
	depth := 1
	for depth > 0 {
		t := p.next()
		switch {
		case t.kind == tkEOF:
			p.fail(diag.PrsUnexpectedToken, p.span(t), "unbalanced %q", open)
		case t.kind == tkPunct && t.text == open:
			depth++
		case t.kind == tkPunct && t.text == close:
			depth--
		}
	}
}

func (p *parser) finish() {
	for _, fx := range p.fixups {
		v, ok := p.globals[fx.name]
		c, isConst := v.(Constant)
		if !ok || !isConst {
			p.fail(diag.PrsUndefinedValue, fx.span, "use of undefined value @%s", fx.name)
		}
		fx.g.Init = c
	}
	for name, ph := range p.gfwd {
		p.fail(diag.PrsUndefinedValue, ph.span, "use of undefined value @%s", name)
	}
	for name, st := range p.structs {
		if st.Fields == nil && !slices.Contains(p.m.Structs, st) {
			p.fail(diag.PrsUnknownType, p.structSpan[name], "use of undefined type %%%s", name)
		}
	}
	maxID := -1
	for id := range p.md {
		if !p.mdDefined[id] {
			p.fail(diag.PrsUndefinedMD, p.mdSpan[id], "use of undefined metadata !%d", id)
		}
		maxID = max(maxID, id)
	}
	slices.SortFunc(p.m.Metadata, func(a, b *MDNode) int { return a.ID - b.ID })
	p.m.nextMD = maxID + 1
}

func (p *parser) parseTypeDef() {
	nameTok := p.next()
	p.expect("=")
	p.expectKeyword("type")
	st := p.structRef(nameTok)
	if slices.Contains(p.m.Structs, st) {
		p.fail(diag.PrsRedefinition, p.span(nameTok), "redefinition of type %%%s", nameTok.text)
	}
	if p.accept("opaque") {
		st.Fields = []*Type{}
	} else {
		body := p.parseType()
		if !body.IsStruct() {
			p.fail(diag.PrsUnknownType, p.span(nameTok), "type %%%s must be a struct", nameTok.text)
		}
		st.Fields = body.Fields
	}
	p.m.Structs = append(p.m.Structs, st)
}

func (p *parser) structRef(t token) *Type {
	if st, ok := p.structs[t.text]; ok {
		return st
	}
	st := &Type{Kind: StructKind, Name: t.text}
	p.structs[t.text] = st
	p.structSpan[t.text] = p.span(t)
	return st
}

var linkageWords = map[string]bool{
	"private": true, "internal": true, "external": true, "extern_weak": true,
	"weak": true, "weak_odr": true, "common": true, "linkonce": true,
	"linkonce_odr": true, "available_externally": true, "appending": true,
	"dso_local": true, "dso_preemptable": true, "hidden": true,
	"protected": true, "default": true, "local_unnamed_addr": true,
}

func (p *parser) parseGlobal() {
	nameTok := p.next()
	p.expect("=")
	var words []string
	unnamed, isConst := false, false
	for {
		t := p.expectKind(tkIdent, "global or constant")
		if t.text == "global" || t.text == "constant" {
			isConst = t.text == "constant"
			break
		}
		switch {
		case t.text == "unnamed_addr":
			unnamed = true
		case t.text == "thread_local" || t.text == "addrspace":
			words = append(words, t.text)
			if p.isPunct("(") {
				p.skipBalanced("(", ")")
			}
		default:
			words = append(words, t.text)
		}
	}
	ty := p.parseType()
	g := NewGlobal(valueName(nameTok.text), ty, nil)
	g.Linkage = strings.Join(words, " ")
	g.UnnamedAddr = unnamed
	g.Const = isConst
	if !slices.Contains(words, "external") && !slices.Contains(words, "extern_weak") {
		start := p.peek()
		v := p.parseValue(ty)
		switch c := v.(type) {
		case Constant:
			g.Init = c
		case *placeholder:
			p.fixups = append(p.fixups, initFixup{g: g, name: start.text, span: p.span(start)})
		default:
			p.fail(diag.PrsUnsupportedConst, p.spanFrom(start), "initializer is not a constant")
		}
	}
	for p.accept(",") {
		switch t := p.peek(); {
		case t.kind == tkIdent && t.text == "align":
			p.next()
			g.Align = p.expectInt()
		case t.kind == tkIdent && (t.text == "section" || t.text == "partition"):
			p.next()
			p.expectKind(tkString, "string")
		case t.kind == tkIdent && t.text == "comdat":
			p.next()
			if p.isPunct("(") {
				p.skipBalanced("(", ")")
			}
		case t.kind == tkMetaName:
			p.next()
			g.Attach = append(g.Attach, Attachment{Kind: t.text, Node: p.parseMDRefOrInline()})
		default:
			p.unexpected("global attribute")
		}
	}
	p.m.AddGlobal(g)
	p.defineGlobal(nameTok, g)
}

func (p *parser) defineGlobal(nameTok token, v Value) {
	if _, ok := p.globals[nameTok.text]; ok {
		p.fail(diag.PrsRedefinition, p.span(nameTok), "redefinition of @%s", nameTok.text)
	}
	p.globals[nameTok.text] = v
	if ph, ok := p.gfwd[nameTok.text]; ok {
		ReplaceAllUsesWith(ph, v)
		delete(p.gfwd, nameTok.text)
	}
}

func (p *parser) globalRef(t token) Value {
	if v, ok := p.globals[t.text]; ok {
		return v
	}
	if ph, ok := p.gfwd[t.text]; ok {
		return ph
	}
	ph := &placeholder{span: p.span(t)}
	ph.ty = Ptr
	ph.name = t.text
	p.gfwd[t.text] = ph
	return ph
}

// types

var typeKeywords = map[string]*Type{
	"void": Void, "half": Half, "float": Float, "double": Double,
	"x86_fp80": X86FP80, "ptr": Ptr, "label": Label, "metadata": Metadata,
}

func isIntTypeName(s string) bool {
	return len(s) > 1 && s[0] == 'i' && isNumeric(s[1:])
}

func (p *parser) atType() bool {
	t := p.peek()
	switch t.kind {
	case tkIdent:
		_, ok := typeKeywords[t.text]
		return ok || isIntTypeName(t.text)
	case tkLocal:
		return true
	case tkPunct:
		return t.text == "[" || t.text == "{" || t.text == "<"
	}
	return false
}

func (p *parser) parseType() *Type {
	t := p.next()
	var ty *Type
	switch {
	case t.kind == tkIdent:
		if kw, ok := typeKeywords[t.text]; ok {
			ty = kw
			if ty == Ptr && p.isIdent("addrspace") {
				p.next()
				p.skipBalanced("(", ")")
			}
		} else if isIntTypeName(t.text) {
			bits, _ := strconv.Atoi(t.text[1:])
			ty = IntType(bits)
		}
	case t.kind == tkLocal:
		ty = p.structRef(t)
	case t.kind == tkPunct && t.text == "[":
		n := p.expectInt()
		p.expectKeyword("x")
		elem := p.parseType()
		p.expect("]")
		ty = ArrayOf(elem, n)
	case t.kind == tkPunct && t.text == "{":
		ty = StructOf(p.parseTypeList("}")...)
	case t.kind == tkPunct && t.text == "<":
		p.expect("{")
		ty = StructOf(p.parseTypeList("}")...)
		p.expect(">")
	}
	if ty == nil {
		p.fail(diag.PrsUnknownType, p.span(t), "expected a type, found %s", t)
	}
	for p.isPunct("*") {
		p.next()
		ty = Ptr
	}
	return ty
}

func (p *parser) parseTypeList(end string) []*Type {
	var out []*Type
	for !p.isPunct(end) {
		out = append(out, p.parseType())
		if !p.accept(",") {
			break
		}
	}
	p.expect(end)
	if out == nil {
		out = []*Type{}
	}
	return out
}

// valueKeywords start a constant operand, never an attribute.
var valueKeywords = map[string]bool{
	"true": true, "false": true, "null": true,
	"undef": true, "poison": true, "zeroinitializer": true,
}

// skipAttrs skips parameter and return attributes and reports `align N`.
func (p *parser) skipAttrs() int {
	align := 0
	for p.at(tkIdent) && !p.atType() && !valueKeywords[p.peek().text] {
		t := p.next()
		if t.text == "align" && p.at(tkInt) {
			align = p.expectInt()
			continue
		}
		if p.isPunct("(") {
			p.skipBalanced("(", ")")
		}
	}
	return align
}

// functions

func (p *parser) parseFunction(define bool) {
	p.next()
	var linkage []string
	for p.at(tkIdent) && !p.atType() {
		t := p.next()
		if linkageWords[t.text] {
			linkage = append(linkage, t.text)
		} else if p.isPunct("(") {
			p.skipBalanced("(", ")")
		}
	}
	ret := p.parseType()
	nameTok := p.expectKind(tkGlobal, "function name")
	p.expect("(")
	var params []*Type
	var rawNames []string
	variadic := false
	for !p.isPunct(")") {
		if p.at(tkEllipsis) {
			p.next()
			variadic = true
			break
		}
		params = append(params, p.parseType())
		p.skipAttrs()
		name := ""
		if p.at(tkLocal) {
			name = p.next().text
		}
		rawNames = append(rawNames, name)
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")

	names := make([]string, len(rawNames))
	for i, n := range rawNames {
		names[i] = valueName(n)
	}
	f := NewFunction(valueName(nameTok.text), FuncOf(ret, params, variadic), names...)
	f.Linkage = strings.Join(linkage, " ")

	// trailing function attributes
	for {
		t := p.peek()
		switch {
		case t.kind == tkHash:
			p.next()
			continue
		case t.kind == tkIdent && !define && (t.text == "define" || t.text == "declare" || t.text == "attributes" || t.text == "source_filename" || t.text == "target"):
		case t.kind == tkIdent:
			p.next()
			if p.isPunct("(") {
				p.skipBalanced("(", ")")
			}
			continue
		case t.kind == tkMetaName && p.peekN(1).kind != tkPunct:
			p.next()
			f.Attach = append(f.Attach, Attachment{Kind: t.text, Node: p.parseMDRefOrInline()})
			continue
		}
		break
	}

	if existing, ok := p.globals[nameTok.text]; ok {
		if ef, isFn := existing.(*Function); isFn && ef.IsDeclaration() && !define {
			return
		}
	}
	p.m.AddFunc(f)
	p.defineGlobal(nameTok, f)
	if define {
		p.parseBody(f, rawNames)
	}
}

func (p *parser) parseBody(f *Function, rawNames []string) {
	p.fn = f
	p.locals = make(map[string]Value)
	p.lfwd = make(map[string]*placeholder)
	p.blocks = make(map[string]*Block)
	p.blockDefined = make(map[string]bool)
	p.blockSpan = make(map[string]source.Span)
	for i, n := range rawNames {
		if n != "" {
			p.locals[n] = f.Params[i]
		}
	}

	p.expect("{")
	var cur *Block
	for !p.isPunct("}") {
		if p.at(tkEOF) {
			p.unexpected(`"}"`)
		}
		if p.at(tkLabelDef) {
			cur = p.defineBlock(p.next())
			continue
		}
		if cur == nil {
			cur = f.AddBlock("")
		}
		cur.Append(p.parseInstruction())
	}
	p.expect("}")

	for name, ph := range p.lfwd {
		p.fail(diag.PrsUndefinedValue, ph.span, "use of undefined value %%%s", name)
	}
	for name := range p.blocks {
		if !p.blockDefined[name] {
			p.fail(diag.PrsUndefinedBlock, p.blockSpan[name], "use of undefined label %%%s", name)
		}
	}
	p.fn = nil
}

func (p *parser) defineBlock(t token) *Block {
	if p.blockDefined[t.text] {
		p.fail(diag.PrsRedefinition, p.span(t), "redefinition of label %s", t.text)
	}
	b, ok := p.blocks[t.text]
	if !ok {
		b = &Block{}
		p.blocks[t.text] = b
	}
	b.Name = valueName(t.text)
	b.parent = p.fn
	p.fn.Blocks = append(p.fn.Blocks, b)
	p.blockDefined[t.text] = true
	return b
}

func (p *parser) blockRef() *Block {
	p.expectKeyword("label")
	t := p.expectKind(tkLocal, "label")
	if b, ok := p.blocks[t.text]; ok {
		return b
	}
	b := &Block{Name: valueName(t.text)}
	p.blocks[t.text] = b
	p.blockSpan[t.text] = p.span(t)
	return b
}

func (p *parser) localRef(t token, ty *Type) Value {
	if v, ok := p.locals[t.text]; ok {
		return v
	}
	if ph, ok := p.lfwd[t.text]; ok {
		return ph
	}
	ph := &placeholder{span: p.span(t)}
	ph.ty = ty
	p.lfwd[t.text] = ph
	return ph
}

func (p *parser) defineLocal(t token, inst *Instruction) {
	if _, ok := p.locals[t.text]; ok {
		p.fail(diag.PrsRedefinition, p.span(t), "redefinition of %%%s", t.text)
	}
	inst.SetName(valueName(t.text))
	p.locals[t.text] = inst
	if ph, ok := p.lfwd[t.text]; ok {
		if !Equal(ph.Type(), inst.Type()) {
			p.fail(diag.PrsTypeMismatch, ph.span, "%%%s used as %s but defined as %s", t.text, ph.Type(), inst.Type())
		}
		ReplaceAllUsesWith(ph, inst)
		delete(p.lfwd, t.text)
	}
}

// instructions

var skippedFlags = map[string]bool{
	"nnan": true, "ninf": true, "nsz": true, "arcp": true, "contract": true,
	"afn": true, "reassoc": true, "fast": true, "nuw": true, "nsw": true,
	"exact": true, "disjoint": true, "nneg": true, "volatile": true,
	"nusw": true, "inrange": true, "samesign": true,
}

func (p *parser) skipFlags() {
	for p.at(tkIdent) && skippedFlags[p.peek().text] {
		p.next()
	}
}

func (p *parser) parseInstruction() *Instruction {
	start := p.peek()
	var result token
	hasResult := false
	if p.at(tkLocal) && p.peekN(1).kind == tkPunct && p.peekN(1).text == "=" {
		result = p.next()
		p.next()
		hasResult = true
	}
	if p.at(tkHash) {
		inst := p.parseDebugRecord()
		inst.Span = p.spanFrom(start)
		return inst
	}
	opTok := p.expectKind(tkIdent, "instruction")
	if opTok.text == "tail" || opTok.text == "musttail" || opTok.text == "notail" {
		opTok = p.expectKeyword("call")
	}
	op, ok := LookupOpcode(opTok.text)
	if !ok {
		p.fail(diag.PrsUnknownOpcode, p.span(opTok), "unknown instruction %q", opTok.text)
	}

	var inst *Instruction
	switch {
	case op == OpAlloca:
		p.accept("inalloca")
		inst = NewAlloca(p.parseType(), 0)
		if p.isPunct(",") && p.peekN(1).kind == tkIdent && p.peekN(1).text != "align" {
			p.next()
			p.parseTypedValue()
		}
	case op == OpLoad:
		p.skipFlags()
		ty := p.parseType()
		p.expect(",")
		inst = NewLoad(ty, p.parseTypedValue(), 0)
	case op == OpStore:
		p.skipFlags()
		v := p.parseTypedValue()
		p.expect(",")
		inst = NewStore(v, p.parseTypedValue(), 0)
	case op == OpGEP:
		inBounds := false
		for p.at(tkIdent) && (p.isIdent("inbounds") || skippedFlags[p.peek().text]) {
			inBounds = inBounds || p.next().text == "inbounds"
		}
		src := p.parseType()
		p.expect(",")
		base := p.parseTypedValue()
		var idx []Value
		for p.isPunct(",") && p.peekN(1).kind == tkIdent && p.peekN(1).text != "align" {
			p.next()
			idx = append(idx, p.parseTypedValue())
		}
		inst = NewGEP(src, base, idx, inBounds)
	case op.IsBinary():
		p.skipFlags()
		ty := p.parseType()
		a := p.parseValue(ty)
		p.expect(",")
		inst = NewBinary(op, a, p.parseValue(ty))
	case op == OpFNeg:
		p.skipFlags()
		inst = NewFNeg(p.parseTypedValue())
	case op == OpFCmp || op == OpICmp:
		p.skipFlags()
		pred := p.expectKind(tkIdent, "predicate").text
		ty := p.parseType()
		a := p.parseValue(ty)
		p.expect(",")
		b := p.parseValue(ty)
		if op == OpFCmp {
			inst = NewFCmp(pred, a, b)
		} else {
			inst = NewICmp(pred, a, b)
		}
	case op.IsCast():
		p.skipFlags()
		v := p.parseTypedValue()
		p.expectKeyword("to")
		inst = NewCast(op, v, p.parseType())
	case op == OpCall:
		inst = p.parseCall()
	case op == OpRet:
		if p.accept("void") {
			inst = NewRet(nil)
		} else {
			inst = NewRet(p.parseTypedValue())
		}
	case op == OpBr:
		if p.isIdent("label") {
			inst = NewBr(p.blockRef())
		} else {
			cond := p.parseTypedValue()
			p.expect(",")
			t := p.blockRef()
			p.expect(",")
			inst = NewCondBr(cond, t, p.blockRef())
		}
	case op == OpPhi:
		p.skipFlags()
		ty := p.parseType()
		var vals []Value
		var preds []*Block
		for {
			p.expect("[")
			vals = append(vals, p.parseValue(ty))
			p.expect(",")
			preds = append(preds, p.phiBlock(p.expectKind(tkLocal, "label")))
			p.expect("]")
			if !(p.isPunct(",") && p.peekN(1).kind == tkPunct && p.peekN(1).text == "[") {
				break
			}
			p.next()
		}
		inst = NewPhi(ty, vals, preds)
	case op == OpSelect:
		p.skipFlags()
		c := p.parseTypedValue()
		p.expect(",")
		a := p.parseTypedValue()
		p.expect(",")
		inst = NewSelect(c, a, p.parseTypedValue())
	}

	p.parseTrailing(inst)
	inst.Span = p.spanFrom(start)
	if hasResult {
		if inst.Type().IsVoid() {
			p.fail(diag.PrsTypeMismatch, p.span(result), "cannot name a void value")
		}
		p.defineLocal(result, inst)
	}
	return inst
}

func (p *parser) phiBlock(t token) *Block {
	if b, ok := p.blocks[t.text]; ok {
		return b
	}
	b := &Block{Name: valueName(t.text)}
	p.blocks[t.text] = b
	p.blockSpan[t.text] = p.span(t)
	return b
}

func (p *parser) parseTrailing(inst *Instruction) {
	for p.isPunct(",") {
		t := p.peekN(1)
		switch {
		case t.kind == tkIdent && t.text == "align":
			p.next()
			p.next()
			inst.Align = p.expectInt()
		case t.kind == tkMetaName:
			p.next()
			p.next()
			inst.Attach = append(inst.Attach, Attachment{Kind: t.text, Node: p.parseMDRefOrInline()})
		default:
			return
		}
	}
}

func (p *parser) parseCall() *Instruction {
	p.skipFlags()
	for p.at(tkIdent) && !p.atType() {
		p.next()
		if p.isPunct("(") {
			p.skipBalanced("(", ")")
		}
	}
	ret := p.parseType()
	var fnTy *Type
	if p.isPunct("(") {
		p.next()
		var params []*Type
		variadic := false
		for !p.isPunct(")") {
			if p.at(tkEllipsis) {
				p.next()
				variadic = true
				break
			}
			params = append(params, p.parseType())
			if !p.accept(",") {
				break
			}
		}
		p.expect(")")
		fnTy = FuncOf(ret, params, variadic)
	}
	calleeTok := p.peek()
	callee := p.parseValue(Ptr)
	p.expect("(")
	var args []Value
	var aligns []int
	for !p.isPunct(")") {
		if p.accept("metadata") {
			args = append(args, p.parseMetadataArg())
			aligns = append(aligns, 0)
		} else {
			ty := p.parseType()
			align := p.skipAttrs()
			args = append(args, p.parseValue(ty))
			aligns = append(aligns, align)
		}
		if !p.accept(",") {
			break
		}
	}
	p.expect(")")
	for p.at(tkHash) {
		p.next()
	}
	if fnTy == nil {
		if f, ok := callee.(*Function); ok && f.Sig.Variadic {
			p.fail(diag.PrsTypeMismatch, p.span(calleeTok), "call to variadic @%s needs an explicit function type", f.Name())
		}
		params := make([]*Type, len(args))
		for i, a := range args {
			params[i] = a.Type()
		}
		fnTy = FuncOf(ret, params, false)
	}
	inst := NewCall(fnTy, callee, args)
	if slices.ContainsFunc(aligns, func(a int) bool { return a > 0 }) {
		inst.ArgAlign = aligns
	}
	return inst
}

// parseDebugRecord turns `#dbg_declare(ptr %x, !12, !DIExpression(), !15)`
// into the equivalent llvm.dbg.declare call.
func (p *parser) parseDebugRecord() *Instruction {
	t := p.next()
	var callee string
	switch t.text {
	case "dbg_declare":
		callee = "llvm.dbg.declare"
	case "dbg_value":
		callee = "llvm.dbg.value"
	default:
		p.fail(diag.PrsUnknownOpcode, p.span(t), "unknown debug record #%s", t.text)
	}
	p.expect("(")
	v := WrapValue(p.parseTypedValue())
	p.expect(",")
	variable := WrapNode(p.parseMDRefOrInline())
	p.expect(",")
	expr := WrapNode(p.parseMDRefOrInline())
	p.expect(",")
	loc := p.parseMDRefOrInline()
	p.expect(")")

	sig := FuncOf(Void, []*Type{Metadata, Metadata, Metadata}, false)
	fn, ok := p.globals[callee].(*Function)
	if !ok {
		fn = p.m.AddFunc(NewFunction(callee, sig))
		p.defineGlobal(token{text: callee}, fn)
	}
	inst := NewCall(sig, fn, []Value{v, variable, expr})
	inst.Attach = append(inst.Attach, Attachment{Kind: "dbg", Node: loc})
	return inst
}

func (p *parser) parseMetadataArg() Value {
	t := p.peek()
	switch {
	case t.kind == tkMetaName, t.kind == tkBang:
		return WrapNode(p.parseMDRefOrInline())
	case t.kind == tkMetaString:
		p.next()
		return WrapNode(&MDNode{ID: -1, Elems: []MDOperand{StringOperand(t.text)}})
	}
	return WrapValue(p.parseTypedValue())
}

// values

func (p *parser) parseTypedValue() Value {
	ty := p.parseType()
	return p.parseValue(ty)
}

func (p *parser) parseValue(ty *Type) Value {
	t := p.next()
	switch t.kind {
	case tkLocal:
		if p.fn == nil {
			p.fail(diag.PrsUndefinedValue, p.span(t), "local value %%%s outside a function", t.text)
		}
		return p.localRef(t, ty)
	case tkGlobal:
		return p.globalRef(t)
	case tkInt:
		if ty.IsFloat() {
			v, _ := strconv.ParseFloat(t.text, 64)
			return NewConstFloat(ty, roundTo(ty, v))
		}
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil || !ty.IsInt() {
			p.fail(diag.PrsBadNumber, p.span(t), "invalid %s constant %s", ty, t.text)
		}
		return NewConstInt(ty, v)
	case tkFloat:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil || !ty.IsFloat() {
			p.fail(diag.PrsBadNumber, p.span(t), "invalid %s constant %s", ty, t.text)
		}
		return NewConstFloat(ty, roundTo(ty, v))
	case tkHex:
		return p.hexConst(t, ty)
	case tkCString:
		return NewConstBytes([]byte(t.text))
	case tkIdent:
		switch t.text {
		case "true", "false":
			b := int64(0)
			if t.text == "true" {
				b = 1
			}
			return NewConstInt(ty, b)
		case "null":
			return NewNull()
		case "undef", "poison":
			return NewUndef(ty)
		case "zeroinitializer":
			return NewZero(ty)
		}
		p.fail(diag.PrsUnsupportedConst, p.span(t), "unsupported constant %q", t.text)
	case tkPunct:
		switch t.text {
		case "[":
			if !ty.IsArray() {
				p.fail(diag.PrsTypeMismatch, p.span(t), "array constant for type %s", ty)
			}
			var elems []Constant
			for !p.isPunct("]") {
				elems = append(elems, p.parseConstant(p.parseType()))
				if !p.accept(",") {
					break
				}
			}
			p.expect("]")
			if len(elems) != ty.Len {
				p.fail(diag.PrsTypeMismatch, p.spanFrom(t), "array constant has %d elements, type %s", len(elems), ty)
			}
			c := NewConstArray(ty.Elem, elems)
			c.ty = ty
			return c
		case "{":
			if !ty.IsStruct() {
				p.fail(diag.PrsTypeMismatch, p.span(t), "struct constant for type %s", ty)
			}
			var fields []Constant
			for !p.isPunct("}") {
				fields = append(fields, p.parseConstant(p.parseType()))
				if !p.accept(",") {
					break
				}
			}
			p.expect("}")
			return NewConstStruct(ty, fields)
		}
	}
	p.fail(diag.PrsUnexpectedToken, p.span(t), "expected a value, found %s", t)
	return nil
}

func (p *parser) parseConstant(ty *Type) Constant {
	start := p.peek()
	c, ok := p.parseValue(ty).(Constant)
	if !ok {
		p.fail(diag.PrsUnsupportedConst, p.spanFrom(start), "expected a constant")
	}
	return c
}

func (p *parser) hexConst(t token, ty *Type) Value {
	text := t.text
	bad := func() {
		p.fail(diag.PrsBadNumber, p.span(t), "invalid hexadecimal constant 0x%s for %s", text, ty)
	}
	switch {
	case strings.HasPrefix(text, "H"):
		bits, err := strconv.ParseUint(text[1:], 16, 16)
		if err != nil || ty.Kind != HalfKind {
			bad()
		}
		return NewConstFloat(ty, float64(float16.Frombits(uint16(bits)).Float32()))
	case strings.HasPrefix(text, "K"):
		if len(text) != 21 || ty.Kind != X86FP80Kind {
			bad()
		}
		se, err1 := strconv.ParseUint(text[1:5], 16, 16)
		mant, err2 := strconv.ParseUint(text[5:], 16, 64)
		if err1 != nil || err2 != nil {
			bad()
		}
		return NewConstFloat(ty, fp80Value(uint16(se), mant))
	}
	bits, err := strconv.ParseUint(text, 16, 64)
	if err != nil {
		bad()
	}
	switch {
	case ty.IsInt():
		return NewConstInt(ty, int64(bits))
	case ty.IsFloat():
		return NewConstFloat(ty, roundTo(ty, math.Float64frombits(bits)))
	}
	bad()
	return nil
}

// roundTo snaps a parsed literal onto the value set of ty.
func roundTo(ty *Type, v float64) float64 {
	switch ty.Kind {
	case FloatKind:
		return float64(float32(v))
	case HalfKind:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	}
	return v
}

// metadata

func (p *parser) mdRef(t token) *MDNode {
	id, err := strconv.Atoi(t.text)
	if err != nil {
		p.fail(diag.PrsUndefinedMD, p.span(t), "bad metadata reference !%s", t.text)
	}
	if n, ok := p.md[id]; ok {
		return n
	}
	n := &MDNode{ID: id}
	p.md[id] = n
	p.mdSpan[id] = p.span(t)
	return n
}

func (p *parser) parseMetadataDef() {
	t := p.next()
	p.expect("=")
	if !isNumeric(t.text) {
		named := p.m.NamedMetadata(t.text)
		p.expectKind(tkBang, "'!'")
		p.expect("{")
		for !p.isPunct("}") {
			named.Nodes = append(named.Nodes, p.mdRef(p.expectKind(tkMetaName, "metadata reference")))
			if !p.accept(",") {
				break
			}
		}
		p.expect("}")
		return
	}
	n := p.mdRef(t)
	if p.mdDefined[n.ID] {
		p.fail(diag.PrsRedefinition, p.span(t), "redefinition of !%d", n.ID)
	}
	p.mdDefined[n.ID] = true
	p.parseMDNodeInto(n)
	p.m.Metadata = append(p.m.Metadata, n)
}

func (p *parser) parseMDNodeInto(n *MDNode) {
	if p.accept("distinct") {
		n.Distinct = true
	}
	t := p.next()
	switch {
	case t.kind == tkBang:
		p.expect("{")
		for !p.isPunct("}") {
			n.Elems = append(n.Elems, p.parseMDTupleElem())
			if !p.accept(",") {
				break
			}
		}
		p.expect("}")
	case t.kind == tkMetaName && !isNumeric(t.text):
		n.Kind = t.text
		p.expect("(")
		for !p.isPunct(")") {
			key := ""
			if p.at(tkLabelDef) {
				key = p.next().text
			}
			n.Fields = append(n.Fields, MDField{Key: key, Val: p.parseMDFieldValue()})
			if !p.accept(",") {
				break
			}
		}
		p.expect(")")
	default:
		p.fail(diag.PrsUnexpectedToken, p.span(t), "expected a metadata node, found %s", t)
	}
}

// parseMDRefOrInline reads `!N`, `!{...}` or `!Kind(...)`.
func (p *parser) parseMDRefOrInline() *MDNode {
	t := p.peek()
	if t.kind == tkMetaName && isNumeric(t.text) {
		p.next()
		return p.mdRef(t)
	}
	n := &MDNode{ID: -1}
	p.parseMDNodeInto(n)
	return n
}

func (p *parser) parseMDTupleElem() MDOperand {
	t := p.peek()
	switch {
	case t.kind == tkIdent && t.text == "null":
		p.next()
		return MDOperand{Kind: MDNull}
	case t.kind == tkMetaString:
		p.next()
		return StringOperand(t.text)
	case t.kind == tkMetaName && isNumeric(t.text):
		p.next()
		return RefOperand(p.mdRef(t))
	case t.kind == tkMetaName, t.kind == tkBang:
		return MDOperand{Kind: MDInline, Node: p.parseMDRefOrInline()}
	}
	return MDOperand{Kind: MDValue, Value: p.parseTypedValue()}
}

func (p *parser) parseMDFieldValue() MDOperand {
	t := p.peek()
	switch {
	case t.kind == tkString:
		p.next()
		return StringOperand(t.text)
	case t.kind == tkInt:
		p.next()
		v, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(t.text, 10, 64)
			if uerr != nil {
				p.fail(diag.PrsBadNumber, p.span(t), "bad integer %s", t.text)
			}
			v = int64(u)
		}
		return IntOperand(v)
	case t.kind == tkIdent && t.text == "null":
		p.next()
		return MDOperand{Kind: MDNull}
	case t.kind == tkIdent:
		parts := []string{p.next().text}
		for p.accept("|") {
			parts = append(parts, p.expectKind(tkIdent, "flag").text)
		}
		return IdentOperand(strings.Join(parts, " | "))
	case t.kind == tkMetaName && isNumeric(t.text):
		p.next()
		return RefOperand(p.mdRef(t))
	case t.kind == tkMetaName, t.kind == tkBang:
		return MDOperand{Kind: MDInline, Node: p.parseMDRefOrInline()}
	}
	p.unexpected("metadata field value")
	return MDOperand{}
}
