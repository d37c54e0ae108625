// state.go : acquisition search states
package acquisition

// State of the search
type State int

const (
	StandBy State = iota
	ComputeGrid
	Decide
	Refine // fine Doppler estimate after a detection
	PositiveAcq
	NegativeAcq
)

var stateNames = [...]string{"StandBy", "ComputeGrid", "Decide", "Refine", "PositiveAcq", "NegativeAcq"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// inputs seen by the transition function after the action of a state
type inputs struct {
	active    bool
	detected  bool // test statistic above threshold
	dwells    int
	maxDwells int
	early     bool // decide after every dwell
	refine    bool // fine Doppler step after a detection
}

// transition returns the state following s
func transition(s State, in inputs) State {
	switch s {
	case StandBy:
		if in.active {
			return ComputeGrid
		}
		return StandBy
	case ComputeGrid:
		if in.early || in.dwells >= in.maxDwells {
			return Decide
		}
		return ComputeGrid
	case Decide:
		switch {
		case in.detected && in.refine:
			return Refine
		case in.detected:
			return PositiveAcq
		case in.dwells >= in.maxDwells:
			return NegativeAcq
		}
		return ComputeGrid
	case Refine:
		return PositiveAcq
	}
	return StandBy
}
