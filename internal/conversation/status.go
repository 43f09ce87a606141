// Package conversation implements the session lifecycle at the heart of
// Reverie: connecting to a remote voice agent, tracking who is speaking,
// accumulating the transcript, and mediating the user's save-or-discard
// decision once the conversation ends.
package conversation

// Status is the lifecycle state of a [Controller]'s session.
type Status int

const (
	// StatusIdle means no session exists yet.
	StatusIdle Status = iota

	// StatusRequestingPermission means microphone access is being requested
	// from the host environment.
	StatusRequestingPermission

	// StatusConnecting means a signed token is being exchanged and the live
	// connection is being opened.
	StatusConnecting

	// StatusConnected means the live connection is open and neither side is
	// known to be speaking.
	StatusConnected

	// StatusSpeaking means the remote agent is speaking.
	StatusSpeaking

	// StatusListening means the remote agent is listening for user speech.
	StatusListening

	// StatusEnded means the session terminated normally.
	StatusEnded

	// StatusFailed means the session terminated with an error before or
	// after connecting.
	StatusFailed
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequestingPermission:
		return "requesting-permission"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusSpeaking:
		return "speaking"
	case StatusListening:
		return "listening"
	case StatusEnded:
		return "ended"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the two end states.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Live reports whether the live connection is open in this status.
// Utterances are accepted into the transcript only while Live.
func (s Status) Live() bool {
	switch s {
	case StatusConnected, StatusSpeaking, StatusListening:
		return true
	default:
		return false
	}
}
