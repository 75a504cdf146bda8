package session

import "fmt"

// State is the lifecycle state of a [Controller].
type State int32

const (
	// StateIdle means no session is running. Start is only accepted here.
	StateIdle State = iota

	// StateConnecting means audio devices are being opened and the live
	// channel handshake is in flight.
	StateConnecting

	// StateLive means microphone audio is streaming to the model and model
	// speech is being played.
	StateLive

	// StateClosing means resources are being released.
	StateClosing
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
