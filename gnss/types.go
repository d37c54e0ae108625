// types.go : records exchanged between acquisition, tracking and the channel
package gnss

// Event is a channel control message
type Event int

const (
	EventStop        Event = 0
	EventPositiveAcq Event = 1
	EventNegativeAcq Event = 2
	EventLossOfLock  Event = 3
)

func (e Event) String() string {
	switch e {
	case EventStop:
		return "STOP"
	case EventPositiveAcq:
		return "POSITIVE_ACQ"
	case EventNegativeAcq:
		return "NEGATIVE_ACQ"
	case EventLossOfLock:
		return "LOSS_OF_LOCK"
	}
	return "UNKNOWN"
}

// EventPort receives channel control events.
type EventPort interface {
	Publish(ev Event)
}

// EventFunc adapts a function to EventPort
type EventFunc func(ev Event)

func (f EventFunc) Publish(ev Event) { f(ev) }

// AcquisitionResult is the acquisition to tracking handoff. It is produced
// once per attempt and must not be modified after it is declared.
//
// CodeDelaySamples is in [0, samples per code period) and SampleStamp is the
// absolute index of the first sample of the block the delay refers to, so
// SampleStamp+CodeDelaySamples is the index of a code period start.
type AcquisitionResult struct {
	CodeDelaySamples float64
	DopplerHz        float64
	SampleStamp      uint64
	TestStatistic    float64
	Valid            bool
}

// Synchro is the observable record emitted by tracking per symbol
type Synchro struct {
	System  System
	Signal  SignalID
	PRN     int
	Channel int
	Fs      float64

	PromptI             float64
	PromptQ             float64
	CodePhaseSamples    float64
	CarrierPhaseRads    float64
	CarrierDopplerHz    float64
	CN0dBHz             float64
	CorrelationLengthMs int
	TrackingSampleCount uint64
	FlagValidSymbol     bool
	FlagPLL180          bool
}
