// Package realtime defines the provider interfaces for live voice-agent
// connections.
//
// A realtime provider wraps a hosted conversational voice service: the client
// opens a single stateful session, streams microphone audio up, and receives
// the agent's speech plus side-channel events (speaking-state changes and
// finalised transcript turns) back over the same connection.
//
// Opening a session is a two-step handshake. First a [TokenProvider] exchanges
// an agent identifier for a short-lived [Credential], so the client never
// holds a long-lived API key at connection time. Then [Provider.Connect]
// redeems the credential for a live [SessionHandle].
//
// The central abstraction is SessionHandle: a session emits an ordered stream
// of [Event] values that the conversation core consumes one at a time.
// All implementations must be safe for concurrent use.
package realtime

import (
	"context"
	"time"
)

// Credential is a short-lived secret permitting one session connection.
// It is issued by a [TokenProvider] and consumed by [Provider.Connect].
type Credential struct {
	// Value is the opaque credential material. Depending on the provider this
	// is a full signed WebSocket URL or a bearer token.
	Value string

	// ExpiresAt is when the credential stops being redeemable. Zero when the
	// provider does not report an expiry.
	ExpiresAt time.Time
}

// TokenProvider exchanges an agent identifier for a connection credential.
// It is consumed exactly once per conversation attempt.
type TokenProvider interface {
	// RequestToken returns a short-lived credential for connecting to the
	// given agent. The call may suspend until the remote endpoint's own
	// timeout; implementations must respect ctx cancellation.
	RequestToken(ctx context.Context, agentID string) (Credential, error)
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// AgentID identifies the remote voice agent to converse with.
	AgentID string

	// Credential is the connection credential obtained from a TokenProvider.
	Credential Credential
}

// SessionHandle represents an open live connection to a voice agent.
// It is an interface so that test code can supply mock implementations
// without a network connection.
//
// Callers must drain Events until it closes and must call Close when the
// session is no longer needed.
type SessionHandle interface {
	// Events returns a read-only channel carrying the session's ordered event
	// stream: speaking-state changes, finalised utterances, and finally a
	// [Disconnected] event. The channel is closed after Disconnected is
	// delivered or after Close.
	Events() <-chan Event

	// SendAudio delivers a raw PCM audio chunk from the local microphone.
	// Returns an error if the session is closed or the transport rejects the
	// chunk.
	SendAudio(chunk []byte) error

	// Close terminates the session and releases all resources. It closes the
	// Events channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live voice-agent backend.
type Provider interface {
	// Connect redeems cfg.Credential and establishes a live session.
	// The returned SessionHandle is emitting events immediately.
	//
	// Returns an error if the session cannot be established (expired
	// credential, network failure, or ctx already cancelled). The caller owns
	// the SessionHandle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
