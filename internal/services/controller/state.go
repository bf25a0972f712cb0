package controller

// State is the dashboard lifecycle as seen by the presentation layer.
type State uint8

const (
	// StateIdle is before Start.
	StateIdle State = iota
	// StateLoading waits for the first event after Start or Retry.
	StateLoading
	// StateReady has received data; it never goes back to Loading.
	StateReady
	// StateFailed has surfaced a transport error and waits for Retry.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
