// Package speaker plays PCM buffers through the host's default audio output
// device via oto. It backs the save-confirmation chime; opening the device is
// deferred until the first play so headless runs never touch the audio
// subsystem.
package speaker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	oto "github.com/ebitengine/oto/v3"

	"github.com/reverie-voice/reverie/pkg/audio"
)

// Compile-time assertion that Speaker satisfies audio.Output.
var _ audio.Output = (*Speaker)(nil)

// reapInterval is how often a finished player is polled before release.
const reapInterval = 10 * time.Millisecond

// Speaker is an [audio.Output] backed by an oto playback context. The device
// is opened lazily on the first PlayPCM call and its sample rate is fixed by
// that first buffer. All methods are safe for concurrent use.
type Speaker struct {
	mu         sync.Mutex
	otoCtx     *oto.Context
	sampleRate int
}

// New creates a Speaker. No device is opened until the first play.
func New() *Speaker {
	return &Speaker{}
}

// PlayPCM implements [audio.Output]. The buffer is mono signed 16-bit
// little-endian PCM. Playback is handed off to the device and PlayPCM
// returns immediately; the underlying player is released once the buffer
// drains.
func (s *Speaker) PlayPCM(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}
	octx, err := s.context(ctx, sampleRate)
	if err != nil {
		return err
	}

	p := octx.NewPlayer(bytes.NewReader(pcm))
	p.Play()
	go func() {
		for p.IsPlaying() {
			time.Sleep(reapInterval)
		}
		_ = p.Close()
	}()
	return nil
}

// context returns the oto context, opening the output device on first use.
// oto fixes the sample rate when the context is created, so later plays must
// use the same rate.
func (s *Speaker) context(ctx context.Context, sampleRate int) (*oto.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.otoCtx != nil {
		if sampleRate != s.sampleRate {
			return nil, fmt.Errorf("speaker: device opened at %d Hz, cannot play %d Hz", s.sampleRate, sampleRate)
		}
		return s.otoCtx, nil
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: open output device: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.otoCtx = octx
	s.sampleRate = sampleRate
	return octx, nil
}
