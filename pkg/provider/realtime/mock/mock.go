// Package mock provides test doubles for the realtime package interfaces.
//
// Use TokenProvider to verify RequestToken calls, Provider to verify Connect
// calls and feed controlled sessions, and Session to drive the event stream
// from a test.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(realtime.AgentSpeaking{})
//	sess.Finish(nil) // delivers Disconnected and closes Events
package mock

import (
	"context"
	"sync"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
)

// TokenProvider is a mock implementation of realtime.TokenProvider.
type TokenProvider struct {
	mu sync.Mutex

	// Token is returned by RequestToken when Err is nil.
	Token realtime.Credential

	// Err, if non-nil, is returned as the error from RequestToken.
	Err error

	// Calls records the agent IDs passed to RequestToken in order.
	Calls []string
}

// RequestToken records the call and returns Token, Err.
func (t *TokenProvider) RequestToken(_ context.Context, agentID string) (realtime.Credential, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, agentID)
	if t.Err != nil {
		return realtime.Credential{}, t.Err
	}
	return t.Token, nil
}

var _ realtime.TokenProvider = (*TokenProvider)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Cfg is the SessionConfig passed to Connect.
	Cfg realtime.SessionConfig
}

// Provider is a mock implementation of realtime.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a fresh default Session.
	Session realtime.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(_ context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

var _ realtime.Provider = (*Provider)(nil)

// Session is a mock implementation of realtime.SessionHandle. Tests drive the
// event stream with Emit and end it with Finish.
type Session struct {
	mu sync.Mutex

	events   chan realtime.Event
	finished bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan realtime.Event, 64)}
}

// Emit queues an event on the session's stream. Panics if called after Finish,
// mirroring a provider bug a test should catch.
func (s *Session) Emit(evt realtime.Event) {
	s.events <- evt
}

// Finish delivers a Disconnected event carrying err and closes the stream.
// Subsequent calls are no-ops.
func (s *Session) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.events <- realtime.Disconnected{Err: err}
	close(s.events)
}

// Events returns the session's event channel.
func (s *Session) Events() <-chan realtime.Event { return s.events }

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Close records the call and ends the stream without a Disconnected event if
// it is still open.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	alreadyFinished := s.finished
	s.finished = true
	s.mu.Unlock()

	if !alreadyFinished {
		close(s.events)
	}
	return nil
}

var _ realtime.SessionHandle = (*Session)(nil)
