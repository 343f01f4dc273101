// Package trace records structured span and point events for mxprec runs.
//
// Enable it from the command line:
//
//	mxprec rewrite --trace=- --trace-level=detail --config c.json m.ll
//
// # Tracers
//
//   - Nop: zero overhead when disabled
//   - StreamTracer: writes each event immediately (text or NDJSON)
//   - RingTracer: keeps the last N events for dumping after a failure
//   - MultiTracer: fan-out
//
// # Scopes and levels
//
// Scopes nest driver > request > rewrite > use. LevelPhase emits driver and
// request events, LevelDetail adds dispatcher and resolver events, and
// LevelDebug adds one event per rewritten use edge.
//
// The tracer travels in a context.Context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	ctx, span := trace.Start(ctx, trace.ScopeRequest, "request:x@main")
//	defer span.End("")
package trace
