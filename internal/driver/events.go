package driver

import "time"

// Stage describes a phase of one rewrite session.
type Stage string

const (
	// StageParse reads the IR text and the change records.
	StageParse Stage = "parse"
	// StageBind resolves change records to IR values.
	StageBind Stage = "bind"
	// StageRewrite applies the change requests.
	StageRewrite Stage = "rewrite"
	// StageLower runs the precision-lowering pass.
	StageLower Stage = "lower"
	// StageEmit verifies and prints the module.
	StageEmit Stage = "emit"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for a file (or for the whole batch when File is empty).
type Event struct {
	File    string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

func emit(sink ProgressSink, evt Event) {
	if sink != nil {
		sink.OnEvent(evt)
	}
}
