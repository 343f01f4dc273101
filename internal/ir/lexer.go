package ir

import (
	"fmt"
	"strconv"

	"fortio.org/safecast"
)

type tokKind uint8

const (
	tkEOF tokKind = iota
	tkIdent
	tkLabelDef   // `entry:` or `name:` inside specialized metadata
	tkLocal      // %x, %"x y", %3
	tkGlobal     // @f
	tkMetaName   // !dbg, !12, !DILocalVariable, !llvm.dbg.cu
	tkMetaString // !"text"
	tkBang       // '!' before '{'
	tkHash       // #0 or #dbg_declare
	tkComdat     // $name
	tkInt
	tkFloat
	tkHex // 0x..., 0xH..., 0xK...
	tkString
	tkCString // c"..."
	tkPunct
	tkEllipsis
)

type token struct {
	kind  tokKind
	text  string // identifier, name without sigil, literal body or punctuation
	start uint32
	end   uint32
}

func (t token) String() string {
	switch t.kind {
	case tkEOF:
		return "end of file"
	case tkLocal:
		return "%" + t.text
	case tkGlobal:
		return "@" + t.text
	case tkMetaName:
		return "!" + t.text
	case tkString:
		return strconv.Quote(t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

type lexError struct {
	pos uint32
	msg string
}

func (e *lexError) Error() string { return e.msg }

type lexer struct {
	src []byte
	pos int
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '.' || c == '$' || c == '-'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func (lx *lexer) off(i int) uint32 { return safecast.MustConv[uint32](i) }

// tokenize splits the whole input up front; the parser needs arbitrary
// lookahead for label definitions and optional clauses.
func tokenize(src []byte) ([]token, error) {
	lx := &lexer{src: src}
	var toks []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tkEOF {
			return toks, nil
		}
	}
}

func (lx *lexer) skipSpace() {
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			lx.pos++
		case c == ';':
			for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
				lx.pos++
			}
		default:
			return
		}
	}
}

func (lx *lexer) next() (token, error) {
	lx.skipSpace()
	start := lx.pos
	mk := func(kind tokKind, text string) token {
		return token{kind: kind, text: text, start: lx.off(start), end: lx.off(lx.pos)}
	}
	if lx.pos >= len(lx.src) {
		return mk(tkEOF, ""), nil
	}
	c := lx.src[lx.pos]
	switch {
	case c == '%' || c == '@' || c == '$':
		lx.pos++
		name, err := lx.name()
		if err != nil {
			return token{}, err
		}
		kind := tkLocal
		if c == '@' {
			kind = tkGlobal
		} else if c == '$' {
			kind = tkComdat
		}
		return mk(kind, name), nil
	case c == '!':
		lx.pos++
		if lx.pos < len(lx.src) && lx.src[lx.pos] == '"' {
			s, err := lx.quoted()
			if err != nil {
				return token{}, err
			}
			return mk(tkMetaString, s), nil
		}
		if lx.pos < len(lx.src) && (isLetter(lx.src[lx.pos]) || isDigit(lx.src[lx.pos])) {
			return mk(tkMetaName, lx.word()), nil
		}
		return mk(tkBang, "!"), nil
	case c == '#':
		lx.pos++
		return mk(tkHash, lx.word()), nil
	case c == '"':
		s, err := lx.quoted()
		if err != nil {
			return token{}, err
		}
		if lx.peekByte() == ':' {
			lx.pos++
			return mk(tkLabelDef, s), nil
		}
		return mk(tkString, s), nil
	case c == 'c' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '"':
		lx.pos++
		s, err := lx.quoted()
		if err != nil {
			return token{}, err
		}
		return mk(tkCString, s), nil
	case c == '.' && lx.pos+2 < len(lx.src) && lx.src[lx.pos+1] == '.' && lx.src[lx.pos+2] == '.':
		lx.pos += 3
		return mk(tkEllipsis, "..."), nil
	case c == '0' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == 'x':
		lx.pos += 2
		for lx.pos < len(lx.src) && (isHexDigit(lx.src[lx.pos]) || lx.src[lx.pos] == 'H' || lx.src[lx.pos] == 'K') {
			lx.pos++
		}
		return mk(tkHex, string(lx.src[start+2:lx.pos])), nil
	case isDigit(c) || c == '-' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1]) || c == '+':
		return lx.number(start)
	case isLetter(c):
		w := lx.word()
		if lx.peekByte() == ':' {
			lx.pos++
			return mk(tkLabelDef, w), nil
		}
		return mk(tkIdent, w), nil
	}
	switch c {
	case '=', ',', '(', ')', '[', ']', '{', '}', '*', '<', '>', '|', ':':
		lx.pos++
		return mk(tkPunct, string(c)), nil
	}
	return token{}, &lexError{pos: lx.off(start), msg: fmt.Sprintf("unexpected character %q", c)}
}

func (lx *lexer) peekByte() byte {
	if lx.pos < len(lx.src) {
		return lx.src[lx.pos]
	}
	return 0
}

func (lx *lexer) word() string {
	start := lx.pos
	for lx.pos < len(lx.src) && (isLetter(lx.src[lx.pos]) || isDigit(lx.src[lx.pos])) {
		lx.pos++
	}
	return string(lx.src[start:lx.pos])
}

func (lx *lexer) name() (string, error) {
	if lx.peekByte() == '"' {
		return lx.quoted()
	}
	w := lx.word()
	if w == "" {
		return "", &lexError{pos: lx.off(lx.pos), msg: "expected a name after sigil"}
	}
	return w, nil
}

// quoted reads "..." with \XX and \\ escapes.
func (lx *lexer) quoted() (string, error) {
	start := lx.pos
	lx.pos++ // opening quote
	var out []byte
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case c == '"':
			lx.pos++
			return string(out), nil
		case c == '\\' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '\\':
			out = append(out, '\\')
			lx.pos += 2
		case c == '\\' && lx.pos+2 < len(lx.src) && isHexDigit(lx.src[lx.pos+1]) && isHexDigit(lx.src[lx.pos+2]):
			b, _ := strconv.ParseUint(string(lx.src[lx.pos+1:lx.pos+3]), 16, 8)
			out = append(out, byte(b))
			lx.pos += 3
		default:
			out = append(out, c)
			lx.pos++
		}
	}
	return "", &lexError{pos: lx.off(start), msg: "unterminated string"}
}

func (lx *lexer) number(start int) (token, error) {
	if c := lx.src[lx.pos]; c == '-' || c == '+' {
		lx.pos++
	}
	kind := tkInt
scan:
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		switch {
		case isDigit(c):
		case c == '.':
			kind = tkFloat
		case c == 'e' || c == 'E':
			kind = tkFloat
			if lx.pos+1 < len(lx.src) && (lx.src[lx.pos+1] == '+' || lx.src[lx.pos+1] == '-') {
				lx.pos++
			}
		default:
			break scan
		}
		lx.pos++
	}
	text := string(lx.src[start:lx.pos])
	tok := token{kind: kind, text: text, start: lx.off(start), end: lx.off(lx.pos)}
	if kind == tkInt && lx.peekByte() == ':' {
		lx.pos++
		tok.kind = tkLabelDef
		tok.end = lx.off(lx.pos)
	}
	return tok, nil
}
