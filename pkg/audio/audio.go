// Package audio defines the narrow audio-host collaborators consumed by the
// conversation core: the microphone permission gate and the best-effort
// output device used for the save-confirmation chime.
//
// Reverie does not implement audio capture or transport itself — the realtime
// client owns the voice path. These interfaces cover only what the core
// needs: asking the host environment for microphone access, and pushing a
// short PCM cue to an output device.
package audio

import "context"

// Decision is the host's answer to a microphone permission request.
type Decision int

const (
	// Denied means the host refused microphone access.
	Denied Decision = iota

	// Granted means the host allowed microphone access.
	Granted
)

// String returns the human-readable name of the decision.
func (d Decision) String() string {
	if d == Granted {
		return "granted"
	}
	return "denied"
}

// CaptureGate asks the host environment for permission to use the microphone.
// The request may suspend until the host's own prompt resolves; implementations
// must respect ctx cancellation.
type CaptureGate interface {
	Request(ctx context.Context) (Decision, error)
}

// StaticGate is a CaptureGate with a fixed answer. Headless deployments and
// tests use it in place of an interactive host prompt.
type StaticGate struct {
	// Decision is returned by every Request call.
	Decision Decision
}

// Request returns the configured decision.
func (g StaticGate) Request(_ context.Context) (Decision, error) {
	return g.Decision, nil
}

var _ CaptureGate = StaticGate{}

// Output is a minimal audio output device: it plays one mono PCM16 buffer at
// the given sample rate and returns when playback has been handed off.
type Output interface {
	PlayPCM(ctx context.Context, pcm []byte, sampleRate int) error
}
