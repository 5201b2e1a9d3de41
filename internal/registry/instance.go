package registry

// Status is the lifecycle state of one instance. Transitions are driven
// only by the scheduler: Inactive -> Waiting -> Running -> Finished or
// Errored -> Ended or ErrEnded once both children are reaped.
type Status int

const (
	StatusInactive Status = iota
	StatusWaiting
	StatusRunning
	StatusFinished
	StatusErrored
	StatusEnded
	StatusErrEnded
)

func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "INACTIVE"
	case StatusWaiting:
		return "WAITING"
	case StatusRunning:
		return "RUNNING"
	case StatusFinished:
		return "FINISHED"
	case StatusErrored:
		return "ERRORED"
	case StatusEnded:
		return "ENDED"
	case StatusErrEnded:
		return "ERRENDED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the instance has fully released its resources.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusErrEnded
}

// Instance describes one population member: the model it evaluates, the
// processes evaluating it and the segments wiring them together.
type Instance struct {
	ID         int
	Status     Status
	GamePID    int
	AgentPID   int
	InputName  string
	OutputName string
	StatusName string
	ModelPath  string
	Generation int
	GameSeed   int64
	Fitness    float64
}
