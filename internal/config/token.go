package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
)

// ErrUnknownToken is returned for a type token outside the record vocabulary.
var ErrUnknownToken = errors.New("unknown type token")

var baseTypes = map[string]*ir.Type{
	"half":       ir.Half,
	"float":      ir.Float,
	"double":     ir.Double,
	"longdouble": ir.X86FP80,
	"i1":         ir.IntType(1),
	"i8":         ir.IntType(8),
	"i16":        ir.IntType(16),
	"i32":        ir.IntType(32),
	"i64":        ir.IntType(64),
}

// SplitTokens breaks a type string into tokens. Tokens are separated by
// commas or blanks; a lone run of `*` belongs to the token before it, so
// "double *" reads as "double*".
func SplitTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.Trim(f, "*") == "" && len(out) > 0 {
			out[len(out)-1] += f
			continue
		}
		out = append(out, f)
	}
	return out
}

// ParseType reads one token: a base name, optional array dimensions on
// either side (`float[4][8]` or `[4][8]float`) and one `*` per level of
// indirection.
func ParseType(tok string) (prec.PtrDep, error) {
	s := strings.TrimSpace(tok)
	depth := 0
	for strings.HasSuffix(s, "*") {
		depth++
		s = strings.TrimSpace(s[:len(s)-1])
	}

	lead, rest, err := dims(s)
	if err != nil {
		return prec.PtrDep{}, fmt.Errorf("%w: %q: %v", ErrUnknownToken, tok, err)
	}
	name := rest
	var trail []int
	if i := strings.IndexByte(rest, '['); i >= 0 {
		name = rest[:i]
		var tail string
		trail, tail, err = dims(rest[i:])
		if err != nil {
			return prec.PtrDep{}, fmt.Errorf("%w: %q: %v", ErrUnknownToken, tok, err)
		}
		if tail != "" {
			return prec.PtrDep{}, fmt.Errorf("%w: %q: trailing %q", ErrUnknownToken, tok, tail)
		}
	}
	if len(lead) > 0 && len(trail) > 0 {
		return prec.PtrDep{}, fmt.Errorf("%w: %q: dimensions on both sides", ErrUnknownToken, tok)
	}
	base, ok := baseTypes[name]
	if !ok {
		return prec.PtrDep{}, fmt.Errorf("%w: %q", ErrUnknownToken, tok)
	}
	ds := append(lead, trail...)
	for i := len(ds) - 1; i >= 0; i-- {
		base = ir.ArrayOf(base, ds[i])
	}
	return prec.PtrDep{Base: base, Depth: depth}, nil
}

// dims consumes a prefix of `[N]` groups.
func dims(s string) ([]int, string, error) {
	var out []int
	for strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, "", errors.New("unclosed dimension")
		}
		n, err := strconv.Atoi(strings.TrimSpace(s[1:end]))
		if err != nil || n <= 0 {
			return nil, "", fmt.Errorf("bad dimension %q", s[1:end])
		}
		out = append(out, n)
		s = s[end+1:]
	}
	return out, s, nil
}

// ParseTypes parses every token of a record type.
func ParseTypes(toks []string) ([]prec.PtrDep, error) {
	out := make([]prec.PtrDep, 0, len(toks))
	for _, tok := range toks {
		d, err := ParseType(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
