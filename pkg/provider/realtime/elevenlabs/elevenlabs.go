// Package elevenlabs implements the realtime.Provider and
// realtime.TokenProvider interfaces for the ElevenLabs Conversational AI
// service.
//
// Token exchange uses the get-signed-url endpoint: the API key stays with the
// token provider and the session is opened against the returned signed
// WebSocket URL. Protocol events are JSON messages; user and agent transcript
// turns arrive as user_transcript / agent_response events and agent audio as
// base64 chunks. The agent's speaking/listening state is not reported
// explicitly, so the session derives it from the audio stream: the first
// audio chunk of a turn flips the session to speaking, and a silence timeout
// (or an interruption event) flips it back to listening.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
	"github.com/reverie-voice/reverie/pkg/types"
)

// Compile-time assertions against the realtime interfaces.
var (
	_ realtime.TokenProvider = (*TokenProvider)(nil)
	_ realtime.Provider      = (*Provider)(nil)
	_ realtime.SessionHandle = (*session)(nil)
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io"
	signedURLPath     = "/v1/convai/conversation/get-signed-url"

	// defaultTurnTimeout is the silence duration after the last agent audio
	// chunk that ends the agent's speaking turn.
	defaultTurnTimeout = 1500 * time.Millisecond

	// defaultEventBuf is the buffer depth of the session event channel.
	defaultEventBuf = 64
)

// ── Token provider ─────────────────────────────────────────────────────────────

// TokenOption is a functional option for configuring a [TokenProvider].
type TokenOption func(*TokenProvider)

// WithAPIBaseURL overrides the HTTP base URL of the signed-URL endpoint.
// Primarily used in tests to point at a local mock server.
func WithAPIBaseURL(base string) TokenOption {
	return func(t *TokenProvider) { t.baseURL = base }
}

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) TokenOption {
	return func(t *TokenProvider) { t.httpClient = c }
}

// TokenProvider exchanges an agent ID for a signed WebSocket URL.
// The API key never leaves this type.
type TokenProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewTokenProvider creates a TokenProvider. apiKey must be non-empty.
func NewTokenProvider(apiKey string, opts ...TokenOption) (*TokenProvider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	t := &TokenProvider{
		apiKey:     apiKey,
		baseURL:    defaultAPIBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// signedURLResponse is the JSON body of a successful get-signed-url call.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// RequestToken implements [realtime.TokenProvider]. The returned credential's
// Value is a complete signed wss:// URL for one conversation.
func (t *TokenProvider) RequestToken(ctx context.Context, agentID string) (realtime.Credential, error) {
	if agentID == "" {
		return realtime.Credential{}, errors.New("elevenlabs: agentID must not be empty")
	}

	u := t.baseURL + signedURLPath + "?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return realtime.Credential{}, fmt.Errorf("elevenlabs: build token request: %w", err)
	}
	req.Header.Set("xi-api-key", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return realtime.Credential{}, fmt.Errorf("elevenlabs: request signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return realtime.Credential{}, fmt.Errorf("elevenlabs: signed url: status %d: %s", resp.StatusCode, body)
	}

	var out signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return realtime.Credential{}, fmt.Errorf("elevenlabs: decode signed url response: %w", err)
	}
	if out.SignedURL == "" {
		return realtime.Credential{}, errors.New("elevenlabs: empty signed_url in response")
	}

	// Signed conversation URLs are valid for a short window; 15 minutes is
	// the documented lifetime.
	return realtime.Credential{
		Value:     out.SignedURL,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithTurnTimeout overrides the silence timeout used to detect the end of an
// agent speaking turn. Useful in tests to keep suite execution fast.
func WithTurnTimeout(d time.Duration) Option {
	return func(p *Provider) { p.turnTimeout = d }
}

// Provider implements realtime.Provider for ElevenLabs Conversational AI.
// The credential passed to Connect must be a signed URL from [TokenProvider].
type Provider struct {
	turnTimeout time.Duration
}

// New creates a new ElevenLabs Provider.
func New(opts ...Option) *Provider {
	p := &Provider{turnTimeout: defaultTurnTimeout}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the signed URL in cfg.Credential and starts the event pump.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	if cfg.Credential.Value == "" {
		return nil, errors.New("elevenlabs: credential must carry a signed url")
	}
	if !cfg.Credential.ExpiresAt.IsZero() && time.Now().After(cfg.Credential.ExpiresAt) {
		return nil, errors.New("elevenlabs: credential expired")
	}

	conn, _, err := websocket.Dial(ctx, cfg.Credential.Value, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		events:      make(chan realtime.Event, defaultEventBuf),
		audioSeen:   make(chan struct{}, 1),
		turnEnded:   make(chan struct{}, 1),
		turnTimeout: p.turnTimeout,
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	sess.wg.Add(2)
	go sess.receiveLoop()
	go sess.speakingLoop()

	return sess, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// serverEvent is the envelope of every inbound WebSocket message. Only the
// fields Reverie consumes are mapped.
type serverEvent struct {
	Type string `json:"type"`

	UserTranscriptionEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	events      chan realtime.Event
	audioSeen   chan struct{}
	turnEnded   chan struct{}
	turnTimeout time.Duration

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closeOnce guards closing the events channel after both loops exit.
	closeOnce sync.Once
}

// receiveLoop reads protocol messages and translates them into realtime
// events. On read failure it delivers the terminal Disconnected event before
// cancelling the session context, then hands the channel close to finish.
func (s *session) receiveLoop() {
	defer s.wg.Done()
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A local Close cancels the context first; in that case the
			// consumer initiated the shutdown and no Disconnected is owed.
			if s.ctx.Err() == nil {
				s.deliver(realtime.Disconnected{Err: disconnectErr(err)})
			}
			s.cancel()
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

// disconnectErr maps an orderly remote close to nil and keeps transport
// failures as-is.
func disconnectErr(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("elevenlabs: read: %w", err)
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "user_transcript":
		if evt.UserTranscriptionEvent == nil || evt.UserTranscriptionEvent.UserTranscript == "" {
			return
		}
		s.deliver(realtime.Utterance{Utterance: types.Utterance{
			Speaker:   types.SpeakerUser,
			Text:      evt.UserTranscriptionEvent.UserTranscript,
			Timestamp: time.Now(),
		}})

	case "agent_response":
		if evt.AgentResponseEvent == nil || evt.AgentResponseEvent.AgentResponse == "" {
			return
		}
		s.deliver(realtime.Utterance{Utterance: types.Utterance{
			Speaker:   types.SpeakerAgent,
			Text:      evt.AgentResponseEvent.AgentResponse,
			Timestamp: time.Now(),
		}})

	case "audio":
		if evt.AudioEvent == nil || evt.AudioEvent.AudioBase64 == "" {
			return
		}
		// Non-blocking: the speaking loop only needs to know audio is flowing.
		select {
		case s.audioSeen <- struct{}{}:
		default:
		}

	case "interruption":
		// The user barged in; the agent's turn is over immediately.
		select {
		case s.turnEnded <- struct{}{}:
		default:
		}

	case "ping":
		if evt.PingEvent == nil {
			return
		}
		_ = s.writeJSON(pongMessage{Type: "pong", EventID: evt.PingEvent.EventID})
	}
}

// speakingLoop derives AgentSpeaking / AgentListening events from the audio
// stream: the first chunk of a turn starts speaking, and silence longer than
// turnTimeout or a user interruption ends it.
func (s *session) speakingLoop() {
	defer s.wg.Done()
	defer s.finish()

	timer := time.NewTimer(s.turnTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	speaking := false
	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.audioSeen:
			if !speaking {
				speaking = true
				s.deliver(realtime.AgentSpeaking{})
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.turnTimeout)

		case <-s.turnEnded:
			// Drop a chunk signal queued before the interruption so it does
			// not restart the turn that just ended.
			select {
			case <-s.audioSeen:
			default:
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if speaking {
				speaking = false
				s.deliver(realtime.AgentListening{})
			}

		case <-timer.C:
			if speaking {
				speaking = false
				s.deliver(realtime.AgentListening{})
			}
		}
	}
}

// deliver queues evt unless the session context is done.
func (s *session) deliver(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

// finish arranges for the events channel to be closed once both loops have
// exited. It runs the wait in a goroutine because each loop calls finish on
// its own exit path.
func (s *session) finish() {
	s.closeOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.events)
		}()
	})
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Events implements [realtime.SessionHandle].
func (s *session) Events() <-chan realtime.Event { return s.events }

// SendAudio implements [realtime.SessionHandle]. The chunk is forwarded as a
// base64 user_audio_chunk message.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("elevenlabs: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(userAudioMessage{
		UserAudioChunk: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Close implements [realtime.SessionHandle]. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
