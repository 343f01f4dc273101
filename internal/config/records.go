// Package config reads change records, binds them to the values of an IR
// module and generates record files listing the candidates of a module.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"fortio.org/safecast"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"mxprec/internal/diag"
	"mxprec/internal/prec"
	"mxprec/internal/rewrite"
	"mxprec/internal/source"
)

//go:embed records.cue
var schemaSrc string

// ErrSchema is returned when a record file does not match the record schema.
var ErrSchema = errors.New("change records violate schema")

// Format is the encoding of a record file.
type Format uint8

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// FormatFor picks the format from the file extension; JSON is the default.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Record is one validated change record.
type Record struct {
	Kind     rewrite.Kind
	Name     string // globalVar, localVar
	Function string // localVar
	ID       string // op, call
	Types    []prec.PtrDep
	Field    int
	Switch   string
	Span     source.Span
}

// Key is the identifier the record is known by: the global name, the
// `name@function` pair of a local or the instruction id.
func (r Record) Key() string {
	switch r.Kind {
	case rewrite.GlobalVar:
		return r.Name
	case rewrite.LocalVar:
		return r.Name + "@" + r.Function
	}
	return r.ID
}

var sections = [...]struct {
	name string
	kind rewrite.Kind
}{
	{"globalVar", rewrite.GlobalVar},
	{"localVar", rewrite.LocalVar},
	{"op", rewrite.Op},
	{"call", rewrite.Call},
}

type rawRecord struct {
	Name     string `json:"name"`
	Function string `json:"function"`
	ID       string `json:"id"`
	Type     any    `json:"type"`
	Field    *int   `json:"field"`
	Switch   string `json:"switch"`
}

// locator maps a path inside the record document onto the source.
type locator func(path []string) source.Span

// LoadFile reads path into fs and loads its records.
func LoadFile(fs *source.FileSet, path string, rep diag.Reporter) ([]Record, error) {
	id, err := fs.Load(path)
	if err != nil {
		diag.ReportError(rep, diag.IOLoadFileError, source.Span{}, fmt.Sprintf("read %s: %v", path, err)).Emit()
		return nil, err
	}
	return Load(fs, id, rep)
}

// Load validates the record file id against the record schema and returns
// its records, globalVar first, then localVar, op and call, each section in
// file order. A record with an unknown type token is reported and left out;
// a schema violation rejects the whole file.
func Load(fs *source.FileSet, id source.FileID, rep diag.Reporter) ([]Record, error) {
	f := fs.Get(id)
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("records.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("record schema: %w", err)
	}

	var (
		data cue.Value
		loc  locator
		err  error
	)
	if FormatFor(f.Path) == FormatYAML {
		data, loc, err = decodeYAML(ctx, f)
	} else {
		data, loc, err = decodeJSON(ctx, f)
	}
	if err != nil {
		var se *SyntaxError
		if errors.As(err, &se) {
			diag.ReportError(rep, diag.CfgSyntax, se.Span, se.Error()).Emit()
		}
		return nil, err
	}

	v := schema.LookupPath(cue.ParsePath("#Records")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			diag.ReportError(rep, diag.CfgSchema, loc(e.Path()), e.Error()).Emit()
		}
		return nil, fmt.Errorf("%s: %w: %v", f.Path, ErrSchema, err)
	}

	var out []Record
	for _, sec := range sections {
		list := v.LookupPath(cue.ParsePath(sec.name))
		if !list.Exists() {
			continue
		}
		it, err := list.List()
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", f.Path, sec.name, err)
		}
		for i := 0; it.Next(); i++ {
			var raw rawRecord
			if err := it.Value().Decode(&raw); err != nil {
				return nil, fmt.Errorf("%s: %s[%d]: %w", f.Path, sec.name, i, err)
			}
			sp := loc([]string{sec.name, strconv.Itoa(i)})
			rec, err := makeRecord(sec.kind, raw, sp)
			if err != nil {
				diag.ReportError(rep, diag.CfgUnknownToken, sp, fmt.Sprintf("%s[%d] skipped: %v", sec.name, i, err)).Emit()
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func makeRecord(kind rewrite.Kind, raw rawRecord, sp source.Span) (Record, error) {
	var toks []string
	flatten(raw.Type, &toks)
	types, err := ParseTypes(toks)
	if err != nil {
		return Record{}, err
	}
	if len(types) == 0 {
		return Record{}, fmt.Errorf("%w: empty type", ErrUnknownToken)
	}
	field := -1
	if raw.Field != nil {
		field = *raw.Field
	}
	return Record{
		Kind:     kind,
		Name:     norm.NFC.String(raw.Name),
		Function: norm.NFC.String(raw.Function),
		ID:       norm.NFC.String(raw.ID),
		Types:    types,
		Field:    field,
		Switch:   norm.NFC.String(raw.Switch),
		Span:     sp,
	}, nil
}

// flatten collects the tokens of a type given as a string or as nested
// lists of strings.
func flatten(v any, out *[]string) {
	switch v := v.(type) {
	case string:
		*out = append(*out, SplitTokens(v)...)
	case []any:
		for _, el := range v {
			flatten(el, out)
		}
	}
}

func decodeJSON(ctx *cue.Context, f *source.File) (cue.Value, locator, error) {
	data := ctx.CompileBytes(f.Content, cue.Filename(f.Path))
	if err := data.Err(); err != nil {
		sp := source.Span{File: f.ID}
		if ps := cueerrors.Positions(err); len(ps) > 0 {
			sp = spanAt(f, ps[0].Offset())
		}
		return cue.Value{}, nil, &SyntaxError{Path: f.Path, Span: sp, Err: err}
	}
	loc := func(path []string) source.Span {
		sels := make([]cue.Selector, 0, len(path))
		for _, p := range path {
			if n, err := strconv.Atoi(p); err == nil {
				sels = append(sels, cue.Index(n))
			} else {
				sels = append(sels, cue.Str(p))
			}
		}
		for n := len(sels); n > 0; n-- {
			v := data.LookupPath(cue.MakePath(sels[:n]...))
			if v.Exists() && v.Pos().IsValid() {
				return spanAt(f, v.Pos().Offset())
			}
		}
		return source.Span{File: f.ID}
	}
	return data, loc, nil
}

func decodeYAML(ctx *cue.Context, f *source.File) (cue.Value, locator, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(f.Content, &doc); err != nil {
		return cue.Value{}, nil, &SyntaxError{Path: f.Path, Span: source.Span{File: f.ID}, Err: err}
	}
	var generic any
	if len(doc.Content) > 0 {
		if err := doc.Content[0].Decode(&generic); err != nil {
			return cue.Value{}, nil, &SyntaxError{Path: f.Path, Span: source.Span{File: f.ID}, Err: err}
		}
	}
	if generic == nil {
		generic = map[string]any{}
	}
	data := ctx.Encode(generic)
	if err := data.Err(); err != nil {
		return cue.Value{}, nil, &SyntaxError{Path: f.Path, Span: source.Span{File: f.ID}, Err: err}
	}
	loc := func(path []string) source.Span {
		if len(doc.Content) == 0 {
			return source.Span{File: f.ID}
		}
		n := doc.Content[0]
	walk:
		for _, p := range path {
			switch n.Kind {
			case yaml.MappingNode:
				for i := 0; i+1 < len(n.Content); i += 2 {
					if n.Content[i].Value == p {
						n = n.Content[i+1]
						continue walk
					}
				}
				break walk
			case yaml.SequenceNode:
				i, err := strconv.Atoi(p)
				if err != nil || i < 0 || i >= len(n.Content) {
					break walk
				}
				n = n.Content[i]
			default:
				break walk
			}
		}
		lc := source.LineCol{
			Line: safecast.MustConv[uint32](max(n.Line, 0)),
			Col:  safecast.MustConv[uint32](max(n.Column, 0)),
		}
		return spanAt(f, int(f.Offset(lc)))
	}
	return data, loc, nil
}

// spanAt is a one-byte span at off, or an empty one at the end of content.
func spanAt(f *source.File, off int) source.Span {
	n := len(f.Content)
	off = min(max(off, 0), n)
	end := min(off+1, n)
	return source.Span{File: f.ID, Start: safecast.MustConv[uint32](off), End: safecast.MustConv[uint32](end)}
}

// SyntaxError reports a record file that does not parse.
type SyntaxError struct {
	Path string
	Span source.Span
	Err  error
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *SyntaxError) Unwrap() error { return e.Err }
