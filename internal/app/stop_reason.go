package app

// StopReason says why a client run ended.
type StopReason int

const (
	StopUnknown StopReason = iota
	// StopCompleted: a bounded schedule reached its count.
	StopCompleted
	// StopCommand: the "stop" command was entered.
	StopCommand
	// StopSignal: the run context was canceled (SIGINT/SIGTERM).
	StopSignal
	StopFatalError
)

func (r StopReason) String() string {
	switch r {
	case StopCompleted:
		return "completed"
	case StopCommand:
		return "stopped"
	case StopSignal:
		return "interrupted"
	case StopFatalError:
		return "fatal error"
	default:
		return "unknown"
	}
}
