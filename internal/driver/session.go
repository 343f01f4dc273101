package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mxprec/internal/config"
	"mxprec/internal/debuginfo"
	"mxprec/internal/diag"
	"mxprec/internal/ir"
	"mxprec/internal/lower"
	"mxprec/internal/observ"
	"mxprec/internal/rewrite"
	"mxprec/internal/source"
	"mxprec/internal/trace"
)

// Options configure a rewrite session.
type Options struct {
	ConfigPath      string
	Strict          bool
	DeleteUnhandled bool
	Lower           bool
	MaxDiagnostics  int
	// Timings appends a timing diagnostic to the result bag.
	Timings bool
	// Cache is consulted before and filled after a successful session.
	Cache *DiskCache
	Jobs  int
}

// Summary records the outcome of one change request.
type Summary struct {
	ID        string
	Kind      string
	NoOp      bool
	OldType   string
	NewType   string
	Rebuilt   int
	Casts     int
	Erased    int
	Unhandled int
	Err       string
}

// Result is what a session produced for one IR file.
type Result struct {
	Path     string
	FileSet  *source.FileSet
	Bag      *diag.Bag
	Module   *ir.Module // nil for cached results
	Output   string
	Outcomes []Summary
	Lowered  lower.Stats
	Timer    *observ.Timer
	Cached   bool
}

// Failed reports whether the session produced no usable output.
func (r *Result) Failed() bool { return r.Output == "" || r.Bag.HasErrors() }

type session struct {
	path string
	opts Options
	sink ProgressSink
	res  *Result
	rep  diag.Reporter
}

// Rewrite runs one session: it loads path and the change records, binds
// and applies every record in order, optionally lowers, verifies and
// prints. Per-record failures end up in the result bag; the returned error
// is set only when no output could be produced.
func Rewrite(ctx context.Context, path string, opts Options, sink ProgressSink) (*Result, error) {
	bag := diag.NewBag(opts.MaxDiagnostics)
	s := &session{
		path: path,
		opts: opts,
		sink: sink,
		rep:  &diag.BagReporter{Bag: bag},
		res: &Result{
			Path:    path,
			FileSet: source.NewFileSet(),
			Bag:     bag,
			Timer:   observ.NewTimer(),
		},
	}
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "rewrite "+path)
	err := s.run(ctx)
	if opts.Timings {
		appendTimingDiagnostic(bag, timingPayload{Kind: "rewrite", Path: path, Report: s.res.Timer.Report()})
	}
	if err != nil {
		span.End(err.Error())
		return s.res, err
	}
	span.End(fmt.Sprintf("requests=%d cached=%t", len(s.res.Outcomes), s.res.Cached))
	return s.res, nil
}

func (s *session) stage(stage Stage, fn func() error) error {
	emit(s.sink, Event{File: s.path, Stage: stage, Status: StatusWorking})
	start := time.Now()
	err := s.res.Timer.Track(string(stage), fn)
	if err != nil {
		emit(s.sink, Event{File: s.path, Stage: stage, Status: StatusError, Err: err, Elapsed: time.Since(start)})
	}
	return err
}

func (s *session) load(path string) (*source.File, error) {
	id, err := s.res.FileSet.Load(path)
	if err != nil {
		diag.ReportError(s.rep, diag.IOLoadFileError, source.Span{},
			fmt.Sprintf("failed to load %s: %v", path, err)).Emit()
		return nil, err
	}
	return s.res.FileSet.Get(id), nil
}

func (s *session) run(ctx context.Context) error {
	var (
		irFile, cfgFile *source.File
		m               *ir.Module
		records         []config.Record
		key             Digest
	)
	err := s.stage(StageParse, func() error {
		var err error
		if irFile, err = s.load(s.path); err != nil {
			return err
		}
		if cfgFile, err = s.load(s.opts.ConfigPath); err != nil {
			return err
		}
		if s.opts.Cache != nil {
			key = cacheKey(irFile, cfgFile, s.opts)
			if s.replay(key) {
				return nil
			}
		}
		if m, err = ir.Parse(s.res.FileSet, irFile.ID, s.rep); err != nil {
			return err
		}
		records, err = config.Load(s.res.FileSet, cfgFile.ID, s.rep)
		return err
	})
	if err != nil {
		return err
	}
	if s.res.Cached {
		emit(s.sink, Event{File: s.path, Stage: StageEmit, Status: StatusDone})
		return nil
	}
	s.res.Module = m

	var requests []bound
	_ = s.stage(StageBind, func() error {
		requests = s.bind(m, records)
		return nil
	})
	_ = s.stage(StageRewrite, func() error {
		s.apply(ctx, m, requests)
		return nil
	})
	if s.opts.Lower {
		_ = s.stage(StageLower, func() error {
			s.res.Lowered = lower.Lower(ctx, m, s.rep)
			return nil
		})
	}
	err = s.stage(StageEmit, func() error {
		if err := ir.Verify(m); err != nil {
			diag.ReportError(s.rep, diag.PrsVerifyFailed, source.Span{}, err.Error()).Emit()
			return err
		}
		s.res.Output = m.String()
		return nil
	})
	if err != nil {
		return err
	}
	if s.opts.Cache != nil && !s.res.Bag.HasErrors() {
		if err := s.opts.Cache.Put(key, s.payload()); err != nil {
			diag.ReportWarning(s.rep, diag.IOCacheError, source.Span{}, "cache write: "+err.Error()).Emit()
		}
	}
	emit(s.sink, Event{File: s.path, Stage: StageEmit, Status: StatusDone})
	return nil
}

type bound struct {
	rec config.Record
	req rewrite.Request
	ok  bool
}

// bind resolves the records that can be bound before any rewrite. Records
// whose target only exists after an earlier request ran are bound again
// right before they are applied.
func (s *session) bind(m *ir.Module, records []config.Record) []bound {
	b := config.NewBinder(m, nil)
	out := make([]bound, len(records))
	for i, rec := range records {
		req, err := b.Bind(rec)
		out[i] = bound{rec: rec, req: req, ok: err == nil}
	}
	return out
}

func (s *session) apply(ctx context.Context, m *ir.Module, requests []bound) {
	up := debuginfo.New(m)
	engine := rewrite.NewEngine(m, rewrite.Options{
		Strict:          s.opts.Strict,
		DeleteUnhandled: s.opts.DeleteUnhandled,
		Retyped:         up.Retyped,
		Reporter:        s.rep,
	})
	binder := config.NewBinder(m, s.rep)
	for _, b := range requests {
		if err := ctx.Err(); err != nil {
			return
		}
		sum := Summary{ID: b.rec.Key(), Kind: b.rec.Kind.String()}
		req := b.req
		if !b.ok || stale(req.Target) {
			var err error
			if req, err = binder.Bind(b.rec); err != nil {
				sum.Err = err.Error()
				s.res.Outcomes = append(s.res.Outcomes, sum)
				continue
			}
		}
		out, err := engine.ApplyChange(ctx, req)
		if err != nil {
			code := diag.RwrApplyFailed
			if errors.Is(err, rewrite.ErrUnhandledKind) {
				code = diag.RwrUnhandledKind
			}
			diag.ReportError(s.rep, code, b.rec.Span, err.Error()).Emit()
			sum.Err = err.Error()
			s.res.Outcomes = append(s.res.Outcomes, sum)
			continue
		}
		sum.NoOp, sum.OldType, sum.NewType = out.NoOp, out.OldType, out.NewType
		sum.Rebuilt, sum.Casts, sum.Erased = out.Stats.Rebuilt, out.Stats.Casts, out.Stats.Erased
		sum.Unhandled = len(out.Unhandled)
		s.res.Outcomes = append(s.res.Outcomes, sum)
	}
}

// stale reports whether an earlier request replaced v.
func stale(v ir.Value) bool {
	switch v := v.(type) {
	case *ir.Instruction:
		return v.Erased()
	case *ir.Global:
		return v.Parent() == nil
	}
	return false
}

func (s *session) replay(key Digest) bool {
	var payload DiskPayload
	ok, err := s.opts.Cache.Get(key, &payload)
	if err != nil {
		diag.ReportWarning(s.rep, diag.IOCacheError, source.Span{}, "cache read: "+err.Error()).Emit()
		return false
	}
	if !ok {
		return false
	}
	restoreDiagnostics(s.res.Bag, payload.Diagnostics)
	s.res.Output = payload.Output
	s.res.Outcomes = payload.Outcomes
	s.res.Lowered = payload.Lowered
	s.res.Cached = true
	return true
}

func (s *session) payload() *DiskPayload {
	return &DiskPayload{
		Schema:      diskCacheSchemaVersion,
		Path:        s.path,
		Output:      s.res.Output,
		Diagnostics: cacheDiagnostics(s.res.Bag),
		Outcomes:    s.res.Outcomes,
		Lowered:     s.res.Lowered,
	}
}
