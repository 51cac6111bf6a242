package pipeline

import "sync/atomic"

// Phase is the fine-grained pipeline state.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseLoadingCatalog
	PhaseValidating
	PhaseExecuting
	PhaseStreaming
	PhaseDoneEntry
	PhaseFinalizing
	PhaseComplete
	PhaseAborted
)

var phaseNames = [...]string{
	PhaseInit:           "init",
	PhaseLoadingCatalog: "loading_catalog",
	PhaseValidating:     "validating",
	PhaseExecuting:      "executing",
	PhaseStreaming:      "streaming",
	PhaseDoneEntry:      "done_entry",
	PhaseFinalizing:     "finalizing",
	PhaseComplete:       "complete",
	PhaseAborted:        "aborted",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// RunStatus is the coarse run state answered by the status command.
type RunStatus int32

const (
	NotStarted RunStatus = iota
	Running
	Complete
	Aborted
)

func (s RunStatus) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Running:
		return "RUNNING"
	case Complete:
		return "COMPLETE"
	case Aborted:
		return "ABORTED"
	}
	return "UNKNOWN"
}

// Done reports whether the run reached a terminal state.
func (s RunStatus) Done() bool {
	return s == Complete || s == Aborted
}

type state struct {
	phase  atomic.Int32
	status atomic.Int32
}

func (s *state) setPhase(p Phase) {
	if s.Status() == Aborted {
		return
	}
	s.phase.Store(int32(p))
	switch p {
	case PhaseComplete:
		s.status.Store(int32(Complete))
	case PhaseAborted:
		s.status.Store(int32(Aborted))
	case PhaseInit:
	default:
		// A terminal status is never left once reached.
		s.status.CompareAndSwap(int32(NotStarted), int32(Running))
	}
}

func (s *state) Phase() Phase {
	return Phase(s.phase.Load())
}

func (s *state) Status() RunStatus {
	return RunStatus(s.status.Load())
}
