package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"mxprec/internal/ir"
	"mxprec/internal/prec"
	"mxprec/internal/resolve"
)

// GenerateOptions filter the candidates Generate lists.
type GenerateOptions struct {
	// Ops lists tagged float operators.
	Ops bool
	// Funs lists the tagged calls to these functions.
	Funs        []string
	OnlyScalars bool
	OnlyArrays  bool
	// IncludeGlobals restricts globals to these names; empty keeps all.
	IncludeGlobals []string
	ExcludeLocals  []string
	// IncludeFuncs restricts locals, operators and calls to these
	// functions; empty keeps all.
	IncludeFuncs []string
	ExcludeFuncs []string
}

type GlobalEntry struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

type LocalEntry struct {
	Name     string `json:"name" yaml:"name"`
	Function string `json:"function" yaml:"function"`
	Type     string `json:"type" yaml:"type"`
}

type OpEntry struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
}

type CallEntry struct {
	ID       string   `json:"id" yaml:"id"`
	Function string   `json:"function" yaml:"function"`
	Name     string   `json:"name" yaml:"name"`
	Type     []string `json:"type" yaml:"type"`
}

// Document is a record file in the shape Load accepts.
type Document struct {
	GlobalVar []GlobalEntry `json:"globalVar,omitempty" yaml:"globalVar,omitempty"`
	LocalVar  []LocalEntry  `json:"localVar,omitempty" yaml:"localVar,omitempty"`
	Op        []OpEntry     `json:"op,omitempty" yaml:"op,omitempty"`
	Call      []CallEntry   `json:"call,omitempty" yaml:"call,omitempty"`
}

// Len counts the entries of d.
func (d *Document) Len() int {
	return len(d.GlobalVar) + len(d.LocalVar) + len(d.Op) + len(d.Call)
}

// Generate lists the values of m a record file could retype, spelled with
// their current types.
func Generate(ctx context.Context, m *ir.Module, opts GenerateOptions) (*Document, error) {
	r := resolve.New(ctx)
	doc := &Document{}

	for _, g := range m.Globals {
		if g.Name() == "" || len(opts.IncludeGlobals) > 0 && !slices.Contains(opts.IncludeGlobals, g.Name()) {
			continue
		}
		dep, err := r.Resolve(g)
		if err != nil {
			return nil, fmt.Errorf("@%s: %w", g.Name(), err)
		}
		dep = dep.Sub(1)
		if !listable(dep) || !opts.keep(dep) {
			continue
		}
		doc.GlobalVar = append(doc.GlobalVar, GlobalEntry{Name: g.Name(), Type: dep.String()})
	}

	for _, f := range m.Funcs {
		if f.IsDeclaration() || slices.Contains(opts.ExcludeFuncs, f.Name()) {
			continue
		}
		if len(opts.IncludeFuncs) > 0 && !slices.Contains(opts.IncludeFuncs, f.Name()) {
			continue
		}
		if err := doc.locals(r, f, opts); err != nil {
			return nil, err
		}
		for _, inst := range f.Instructions() {
			id := inst.ChangeID()
			if id == "" {
				continue
			}
			switch {
			case opts.Ops && (inst.Op.IsFloatBinary() || inst.Op == ir.OpFNeg || inst.Op == ir.OpFCmp):
				doc.Op = append(doc.Op, OpEntry{ID: id, Type: prec.TypeToken(inst.Operand(0).Type())})
			case inst.Op == ir.OpCall:
				callee := inst.CalledFunction()
				if callee == nil || !slices.Contains(opts.Funs, callee.Name()) {
					continue
				}
				sig := inst.FnTy
				if !sig.Ret.IsFloat() {
					continue
				}
				types := []string{prec.TypeToken(sig.Ret)}
				for _, p := range sig.Params {
					if !p.IsFloat() && !p.IsInt() {
						types = nil
						break
					}
					types = append(types, prec.TypeToken(p))
				}
				if types == nil {
					continue
				}
				doc.Call = append(doc.Call, CallEntry{ID: id, Function: f.Name(), Name: callee.Name(), Type: types})
			}
		}
	}
	return doc, nil
}

// locals lists the named allocas and arguments of f. Names containing a
// dot are compiler temporaries such as `x.addr` and are skipped.
func (d *Document) locals(r *resolve.Resolver, f *ir.Function, opts GenerateOptions) error {
	add := func(v ir.Value, dep prec.PtrDep) {
		if !listable(dep) || !opts.keep(dep) {
			return
		}
		d.LocalVar = append(d.LocalVar, LocalEntry{Name: v.Name(), Function: f.Name(), Type: dep.String()})
	}
	skip := func(name string) bool {
		return name == "" || strings.Contains(name, ".") || slices.Contains(opts.ExcludeLocals, name)
	}
	for _, a := range f.Params {
		if skip(a.Name()) || spillSlot(a) == nil {
			continue
		}
		dep, err := r.Resolve(a)
		if err != nil {
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
		add(a, dep)
	}
	for _, inst := range f.Instructions() {
		if inst.Op != ir.OpAlloca || skip(inst.Name()) {
			continue
		}
		dep, err := r.Resolve(inst)
		if err != nil {
			return fmt.Errorf("@%s: %w", f.Name(), err)
		}
		add(inst, dep.Sub(1))
	}
	return nil
}

// listable reports whether dep spells as a token Load can read back.
func listable(dep prec.PtrDep) bool {
	if dep.Base == nil {
		return false
	}
	s := dep.Base.ScalarElem()
	return s.IsFloat() || s.IsInt() && !dep.Base.IsArray()
}

func (o GenerateOptions) keep(dep prec.PtrDep) bool {
	scalar := dep.Depth == 0 && dep.Base.IsFloat()
	array := dep.Base.IsArray() && dep.Base.ScalarElem().IsFloat() || dep.Depth == 1 && dep.Base.IsFloat()
	switch {
	case o.OnlyScalars && o.OnlyArrays:
		return scalar || array
	case o.OnlyScalars:
		return scalar
	case o.OnlyArrays:
		return array
	}
	return true
}

// Encode writes d in format f.
func (d *Document) Encode(w io.Writer, f Format) error {
	if f == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(d)
}
