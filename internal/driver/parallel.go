package driver

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mxprec/internal/trace"
)

// Batch is the result of RewriteFiles.
type Batch struct {
	RunID   string
	Results []*Result // in input order
	Elapsed time.Duration
}

// Failed counts the files whose session did not succeed.
func (b *Batch) Failed() int {
	n := 0
	for _, r := range b.Results {
		if r == nil || r.Failed() {
			n++
		}
	}
	return n
}

// RewriteFiles runs one session per file in parallel. Every file gets its
// own module, so sessions share nothing but the disk cache. A session
// that fails does not stop the others; only cancellation of ctx does.
func RewriteFiles(ctx context.Context, files []string, opts Options, sink ProgressSink) (*Batch, error) {
	batch := &Batch{RunID: uuid.NewString(), Results: make([]*Result, len(files))}
	if len(files) == 0 {
		return batch, nil
	}
	ctx, span := trace.Start(ctx, trace.ScopeDriver, "batch "+batch.RunID)
	start := time.Now()

	for _, f := range files {
		emit(sink, Event{File: f, Status: StatusQueued})
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	// every goroutine writes its own index of batch.Results
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(files)))
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			res, err := Rewrite(gctx, path, opts, sink)
			batch.Results[i] = res
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	err := g.Wait()
	batch.Elapsed = time.Since(start)

	status := StatusDone
	if err != nil || batch.Failed() > 0 {
		status = StatusError
	}
	emit(sink, Event{Status: status, Stage: StageEmit, Err: err, Elapsed: batch.Elapsed})
	span.End(fmt.Sprintf("files=%d failed=%d", len(files), batch.Failed()))
	return batch, err
}
