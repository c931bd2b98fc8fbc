package call

// State is the single progression of a call session. Mute, camera and
// screen share are orthogonal flags and never change it.
type State int

const (
	Idle State = iota
	AwaitingMedia
	Ready
	Ringing
	Dialing
	Connected
	Ended
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingMedia:
		return "awaiting_media"
	case Ready:
		return "ready"
	case Ringing:
		return "ringing"
	case Dialing:
		return "dialing"
	case Connected:
		return "connected"
	case Ended:
		return "ended"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}
