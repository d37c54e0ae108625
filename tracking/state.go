// state.go : tracking loop states
package tracking

// State of the tracking loop
type State int

const (
	Idle State = iota
	PullIn
	WideTrack
	CoherentExtend
	NarrowTrack
	UnlockRecovery
)

var stateNames = [...]string{"Idle", "PullIn", "WideTrack", "CoherentExtend", "NarrowTrack", "UnlockRecovery"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// action bits returned with a transition
type action uint8

const (
	actInit    action = 1 << iota // pull-in reached the aligned sample
	actNarrow                     // switch to narrow loop parameters
	actRecover                    // clear accumulators, await a new handoff
)

// inputs seen by the transition function after the cycle of a state
type inputs struct {
	started    bool // acquisition handoff pending
	ready      bool // replicas installed from the handoff
	aligned    bool // sample counter reached the code start
	lockLost   bool
	synced     bool // symbol synchronization found this cycle
	extended   bool // coherent integration over more than one code period
	extendDone bool // last code period of an extended integration
}

// transition returns the state following s and the actions to run
func transition(s State, in inputs) (State, action) {
	switch s {
	case Idle:
		if in.started {
			return PullIn, 0
		}
		return Idle, 0
	case PullIn:
		if in.ready && in.aligned {
			return WideTrack, actInit
		}
		return PullIn, 0
	case WideTrack:
		switch {
		case in.lockLost:
			return UnlockRecovery, actRecover
		case in.synced && in.extended:
			return CoherentExtend, actNarrow
		case in.synced:
			return NarrowTrack, actNarrow
		}
		return WideTrack, 0
	case CoherentExtend:
		switch {
		case in.lockLost:
			return UnlockRecovery, actRecover
		case in.extendDone:
			return NarrowTrack, 0
		}
		return CoherentExtend, 0
	case NarrowTrack:
		switch {
		case in.lockLost:
			return UnlockRecovery, actRecover
		case in.extended:
			return CoherentExtend, 0
		}
		return NarrowTrack, 0
	case UnlockRecovery:
		return PullIn, 0
	}
	return Idle, 0
}

// Tracked reports whether the correlator runs in s
func (s State) Tracked() bool {
	return s == WideTrack || s == CoherentExtend || s == NarrowTrack
}
