package orchestrator

// State is a step of one sync run
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StatePersisting  State = "persisting"
	StateReadingBack State = "reading_back"
	StateExporting   State = "exporting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// IsTerminal reports whether no transition leaves the state
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:        {StateFetching, StateFailed},
	StateFetching:    {StatePersisting, StateCompleted, StateFailed},
	StatePersisting:  {StateReadingBack, StateFailed},
	StateReadingBack: {StateExporting, StateFailed},
	StateExporting:   {StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateRecorder collects the states a run passed through
type StateRecorder struct {
	path []State
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{path: make([]State, 0)}
}

func (r *StateRecorder) Record(_, to State) {
	r.path = append(r.path, to)
}

func (r *StateRecorder) Path() []State {
	return r.path
}
