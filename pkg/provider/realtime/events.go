package realtime

import (
	"github.com/reverie-voice/reverie/pkg/types"
)

// Event is one item in a session's ordered event stream. The set of
// implementations is closed: AgentSpeaking, AgentListening, Utterance, and
// Disconnected. Consumers switch on the concrete type.
type Event interface {
	eventType() string
}

// AgentSpeaking signals that the remote agent started producing speech.
type AgentSpeaking struct{}

func (AgentSpeaking) eventType() string { return "agent_speaking" }

// AgentListening signals that the remote agent stopped speaking and is
// waiting for user input.
type AgentListening struct{}

func (AgentListening) eventType() string { return "agent_listening" }

// Utterance carries one finalised transcript turn, from either side of the
// conversation.
type Utterance struct {
	Utterance types.Utterance
}

func (Utterance) eventType() string { return "utterance" }

// Disconnected is the final event of every session. Err is nil for a clean
// close (local Close or an orderly remote goodbye) and non-nil when the
// transport failed.
type Disconnected struct {
	Err error
}

func (Disconnected) eventType() string { return "disconnected" }
