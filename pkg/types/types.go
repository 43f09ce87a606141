// Package types defines the shared types used across all Reverie packages.
//
// These types form the lingua franca between the realtime providers, the
// conversation core, the memory layer, and the terminal front-end. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Speaker identifies who produced an utterance.
type Speaker string

const (
	// SpeakerUser is the human holding the conversation.
	SpeakerUser Speaker = "user"

	// SpeakerAgent is the remote voice agent.
	SpeakerAgent Speaker = "agent"
)

// IsValid reports whether s is a recognised speaker tag.
func (s Speaker) IsValid() bool {
	return s == SpeakerUser || s == SpeakerAgent
}

// Utterance is one turn of speech reduced to text. Utterances are the atomic
// unit of a conversation transcript: the realtime provider emits them as the
// remote service finalises each turn, and the conversation core accumulates
// them in arrival order.
type Utterance struct {
	// Speaker tags who spoke this turn.
	Speaker Speaker

	// Text is the transcribed speech content.
	Text string

	// Timestamp is when the utterance was received. Two utterances may share
	// a timestamp; ordering is by arrival, not by clock.
	Timestamp time.Time
}

// Transcript is an ordered sequence of utterances.
type Transcript []Utterance

// Text flattens the transcript into a plain-text rendering, one line per
// utterance, prefixed with the speaker tag. Useful for logging and for
// full-text indexing of saved memories.
func (t Transcript) Text() string {
	if len(t) == 0 {
		return ""
	}
	var b []byte
	for i, u := range t {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, string(u.Speaker)...)
		b = append(b, ": "...)
		b = append(b, u.Text...)
	}
	return string(b)
}
