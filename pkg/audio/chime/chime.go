// Package chime produces the short audible cue confirming a successful save.
//
// The cue is cosmetic: playback failures are swallowed and logged, never
// returned, so an unavailable audio subsystem can never block the save flow.
package chime

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/reverie-voice/reverie/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultFrequency  = 880.0 // A5, a pleasant short ping
	defaultDuration   = 150 * time.Millisecond
)

// Option is a functional option for configuring a [Player].
type Option func(*Player)

// WithFrequency sets the tone frequency in Hz.
func WithFrequency(hz float64) Option {
	return func(p *Player) { p.frequency = hz }
}

// WithDuration sets the tone length.
func WithDuration(d time.Duration) Option {
	return func(p *Player) { p.duration = d }
}

// Player renders a short sine tone to an [audio.Output].
type Player struct {
	out        audio.Output
	frequency  float64
	duration   time.Duration
	sampleRate int
}

// New creates a Player targeting out. A nil out produces a Player whose Play
// is a logged no-op.
func New(out audio.Output, opts ...Option) *Player {
	p := &Player{
		out:        out,
		frequency:  defaultFrequency,
		duration:   defaultDuration,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Play renders and plays the confirmation tone. Fire-and-forget: failures are
// logged at warn level and never propagated.
func (p *Player) Play(ctx context.Context) {
	if p.out == nil {
		slog.Debug("chime: no output device configured")
		return
	}
	pcm := p.render()
	if err := p.out.PlayPCM(ctx, pcm, p.sampleRate); err != nil {
		slog.Warn("chime: playback unavailable", "err", err)
	}
}

// render synthesises the tone as mono PCM16 with a linear fade-out to avoid a
// click at the end.
func (p *Player) render() []byte {
	samples := int(float64(p.sampleRate) * p.duration.Seconds())
	pcm := make([]byte, samples*2)
	for i := range samples {
		fade := 1.0 - float64(i)/float64(samples)
		v := math.Sin(2*math.Pi*p.frequency*float64(i)/float64(p.sampleRate)) * fade * 0.4
		s := int16(v * math.MaxInt16)
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return pcm
}
