package progress

// State distinguishes the phases a job's progress entry can be in. On the
// wire the entry is still a single numeric Redis value: 0-99 while running,
// 100 when complete, -1 when processing failed, absent when unknown.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateComplete
	StateFailed
)

// failedSentinel is the reserved out-of-range value marking a failed job.
const failedSentinel = -1

// Status is the decoded form of a progress entry.
type Status struct {
	State   State
	Percent int
}

func NotStarted() Status { return Status{State: StateNotStarted} }

func Running(percent int) Status { return Status{State: StateRunning, Percent: percent} }

func Complete() Status { return Status{State: StateComplete, Percent: 100} }

func Failed() Status { return Status{State: StateFailed, Percent: failedSentinel} }

// fromValue maps a raw stored value back to a Status.
func fromValue(value int) Status {
	switch {
	case value == failedSentinel:
		return Failed()
	case value >= 100:
		return Complete()
	default:
		return Running(value)
	}
}

// Terminal reports whether the entry may no longer be overwritten by the
// job's own processing.
func (s Status) Terminal() bool {
	return s.State == StateComplete || s.State == StateFailed
}

func (s Status) String() string {
	switch s.State {
	case StateNotStarted:
		return "not started"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}
