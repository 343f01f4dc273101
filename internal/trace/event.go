package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity of an event. Lower values are coarser.
type Scope uint8

const (
	// ScopeDriver covers whole-file stages (parse, bind, emit).
	ScopeDriver Scope = iota + 1
	// ScopeRequest covers one change request.
	ScopeRequest
	// ScopeRewrite covers dispatcher jobs and resolver walks.
	ScopeRewrite
	// ScopeUse covers single use edges; only emitted at LevelDebug.
	ScopeUse
)

func (s Scope) String() string {
	switch s {
	case ScopeDriver:
		return "driver"
	case ScopeRequest:
		return "request"
	case ScopeRewrite:
		return "rewrite"
	case ScopeUse:
		return "use"
	default:
		return "unknown"
	}
}

// Event is a single trace record.
type Event struct {
	Time     time.Time
	Seq      uint64 // global, monotonic
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for roots
	GID      uint64
	Name     string // e.g. "parse", "request:x@main", "dispatch"
	Detail   string
	Extra    map[string]string
}
