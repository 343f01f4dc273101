package driver

import (
	"context"
	"errors"
	"fmt"

	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/resolve"
	"mxprec/internal/source"
)

// Loaded is an IR file parsed on its own, for the commands that inspect a
// module without change records.
type Loaded struct {
	FileSet *source.FileSet
	Module  *ir.Module
	Bag     *diag.Bag
}

// LoadModule reads and parses path. Load and parse failures are reported
// to the returned bag as well.
func LoadModule(path string, maxDiagnostics int) (*Loaded, error) {
	l := &Loaded{FileSet: source.NewFileSet(), Bag: diag.NewBag(maxDiagnostics)}
	rep := &diag.BagReporter{Bag: l.Bag}
	id, err := l.FileSet.Load(path)
	if err != nil {
		diag.ReportError(rep, diag.IOLoadFileError, source.Span{},
			fmt.Sprintf("failed to load %s: %v", path, err)).Emit()
		return l, err
	}
	if l.Module, err = ir.Parse(l.FileSet, id, rep); err != nil {
		return l, err
	}
	return l, nil
}

// PointerInfo is the resolved pointee type of one pointer-typed value.
type PointerInfo struct {
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
	Value    string `json:"value" yaml:"value"`
	Type     string `json:"type" yaml:"type"`
	Depth    int    `json:"depth" yaml:"depth"`
	Fallback bool   `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Conflict string `json:"conflict,omitempty" yaml:"conflict,omitempty"`
}

// ResolvePointers resolves every pointer-typed global, argument and alloca
// of m. When fn is not empty only that function's values are listed.
// Conflicts are reported to rep and listed with their fallback type.
func ResolvePointers(ctx context.Context, m *ir.Module, fn string, rep diag.Reporter) []PointerInfo {
	r := resolve.New(ctx)
	var out []PointerInfo
	add := func(f *ir.Function, v ir.Value, sp source.Span) {
		info := PointerInfo{Value: ir.Ref(v)}
		if f != nil {
			info.Function = f.Name()
		}
		dep, err := r.Resolve(v)
		if err != nil {
			var conflict *resolve.ResolutionConflict
			if errors.As(err, &conflict) {
				info.Conflict = err.Error()
			}
			diag.ReportWarning(rep, diag.ResConflict, sp, err.Error()).Emit()
			dep = resolve.Static(v)
		}
		info.Type, info.Depth = dep.String(), dep.Depth
		info.Fallback = err == nil && r.Fallback(v)
		if info.Fallback {
			diag.ReportInfo(rep, diag.ResFallback, sp,
				fmt.Sprintf("%s: pointee type unknown, using %s", info.Value, info.Type)).Emit()
		}
		out = append(out, info)
	}
	if fn == "" {
		for _, g := range m.Globals {
			add(nil, g, source.Span{})
		}
	}
	for _, f := range m.Funcs {
		if f.IsDeclaration() || fn != "" && f.Name() != fn {
			continue
		}
		for _, a := range f.Params {
			if ir.Equal(a.Type(), ir.Ptr) {
				add(f, a, source.Span{})
			}
		}
		for _, inst := range f.Instructions() {
			if inst.Op == ir.OpAlloca {
				add(f, inst, inst.Span)
			}
		}
	}
	return out
}
