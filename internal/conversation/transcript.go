package conversation

import (
	"sync"

	"github.com/reverie-voice/reverie/pkg/types"
)

// Accumulator collects utterances in arrival order for the active session.
// Appends are accepted only between Open and Freeze; ordering ties between
// utterances sharing a timestamp are broken by arrival order.
//
// All methods are safe for concurrent use.
type Accumulator struct {
	mu         sync.Mutex
	accepting  bool
	utterances types.Transcript
}

// NewAccumulator returns an empty accumulator that is not yet accepting
// input.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Open starts accepting appends. Called when the live connection opens.
func (a *Accumulator) Open() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepting = true
}

// Freeze stops accepting appends. The accumulated transcript remains
// readable via Snapshot. Called when the session ends.
func (a *Accumulator) Freeze() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepting = false
}

// Append adds one utterance to the sequence. Returns [ErrNotAcceptingInput]
// when the accumulator is not open.
func (a *Accumulator) Append(u types.Utterance) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accepting {
		return ErrNotAcceptingInput
	}
	a.utterances = append(a.utterances, u)
	return nil
}

// Snapshot returns a copy of the sequence so far. The returned slice is
// never mutated by subsequent appends.
func (a *Accumulator) Snapshot() types.Transcript {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(types.Transcript, len(a.utterances))
	copy(out, a.utterances)
	return out
}

// Len returns the number of utterances accumulated so far.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.utterances)
}

// Clear drops all accumulated utterances and stops accepting input. Called
// when a brand-new session starts.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepting = false
	a.utterances = nil
}
