package tui

import (
	"context"

	"github.com/reverie-voice/reverie/pkg/audio"
)

// permissionRequest is one pending microphone prompt. The user's answer
// travels back on resp.
type permissionRequest struct {
	resp chan audio.Decision
}

// answer resolves the request. Safe to call more than once; only the first
// answer is delivered.
func (r *permissionRequest) answer(d audio.Decision) {
	select {
	case r.resp <- d:
	default:
	}
}

// PromptGate is an [audio.CaptureGate] that asks the user inside the
// conversation view. Request blocks until the on-screen prompt is answered
// or ctx is cancelled.
type PromptGate struct {
	requests chan *permissionRequest
}

var _ audio.CaptureGate = (*PromptGate)(nil)

// NewPromptGate creates a PromptGate. Pass it both to the conversation
// controller and to [Config.Gate] so the view can render its prompts.
func NewPromptGate() *PromptGate {
	return &PromptGate{requests: make(chan *permissionRequest)}
}

// Request implements [audio.CaptureGate].
func (g *PromptGate) Request(ctx context.Context) (audio.Decision, error) {
	req := &permissionRequest{resp: make(chan audio.Decision, 1)}
	select {
	case g.requests <- req:
	case <-ctx.Done():
		return audio.Denied, ctx.Err()
	}
	select {
	case d := <-req.resp:
		return d, nil
	case <-ctx.Done():
		return audio.Denied, ctx.Err()
	}
}
