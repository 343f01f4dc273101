// Package diag defines the diagnostic model shared by the IR parser, the
// change-record loader, the pointee resolver and the rewrite engine.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity: Info, Warning or Error.
//   - Code: numeric identifier with a stable string form (IO1xxx, PRS2xxx,
//     CFG3xxx, RWR4xxx, RES5xxx).
//   - Message: short human text.
//   - Primary: the source.Span of the offending IR text or change record.
//   - Notes: optional secondary spans.
//
// # Emitting diagnostics
//
// Producers emit through a Reporter. ReportBuilder (ReportError, ReportWarning,
// ReportInfo) lets a producer attach notes before Emit. BagReporter collects
// into a Bag that supports sorting and deduplication. Rendering lives in
// internal/diagfmt.
//
// Per-request failures never abort a run: the engine reports them here and
// the driver moves on to the next request.
package diag
