// Package openai implements the realtime.Provider and realtime.TokenProvider
// interfaces for OpenAI's Realtime API.
//
// Token exchange mints an ephemeral client secret over HTTPS; the session is
// then opened as a WebSocket authenticated with that secret, so the long-lived
// API key never reaches the connection layer. Audio transcripts and speaking
// state are derived from the Realtime event protocol: a response lifecycle
// starting marks the agent as speaking, response.done marks it listening
// again, and transcript events on both sides become utterances.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
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
	defaultModel      = "gpt-4o-realtime-preview"
	defaultAPIBaseURL = "https://api.openai.com"
	defaultWSBaseURL  = "wss://api.openai.com/v1/realtime"
	clientSecretsPath = "/v1/realtime/client_secrets"
)

// ── Token provider ─────────────────────────────────────────────────────────────

// TokenOption is a functional option for configuring a [TokenProvider].
type TokenOption func(*TokenProvider)

// WithAPIBaseURL overrides the HTTP base URL used to mint client secrets.
// Primarily used in tests to point at a local mock server.
func WithAPIBaseURL(base string) TokenOption {
	return func(t *TokenProvider) { t.baseURL = base }
}

// WithTokenModel sets the model baked into minted client secrets.
func WithTokenModel(model string) TokenOption {
	return func(t *TokenProvider) { t.model = model }
}

// TokenProvider mints ephemeral Realtime client secrets.
type TokenProvider struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewTokenProvider creates a TokenProvider. apiKey must be non-empty.
func NewTokenProvider(apiKey string, opts ...TokenOption) (*TokenProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	t := &TokenProvider{
		apiKey:     apiKey,
		baseURL:    defaultAPIBaseURL,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

type clientSecretRequest struct {
	Session clientSecretSession `json:"session"`
}

type clientSecretSession struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// RequestToken implements [realtime.TokenProvider]. The agent identity is
// carried as the session model/prompt binding on the OpenAI side; agentID is
// accepted for interface symmetry and recorded in the request context only.
func (t *TokenProvider) RequestToken(ctx context.Context, agentID string) (realtime.Credential, error) {
	if agentID == "" {
		return realtime.Credential{}, errors.New("openai: agentID must not be empty")
	}

	body, err := json.Marshal(clientSecretRequest{
		Session: clientSecretSession{Type: "realtime", Model: t.model},
	})
	if err != nil {
		return realtime.Credential{}, fmt.Errorf("openai: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+clientSecretsPath, bytes.NewReader(body))
	if err != nil {
		return realtime.Credential{}, fmt.Errorf("openai: build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return realtime.Credential{}, fmt.Errorf("openai: mint client secret: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return realtime.Credential{}, fmt.Errorf("openai: client secret: status %d: %s", resp.StatusCode, b)
	}

	var out clientSecretResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return realtime.Credential{}, fmt.Errorf("openai: decode client secret: %w", err)
	}
	if out.Value == "" {
		return realtime.Credential{}, errors.New("openai: empty client secret in response")
	}

	cred := realtime.Credential{Value: out.Value}
	if out.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(out.ExpiresAt, 0)
	}
	return cred, nil
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithModel sets the Realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = base }
}

// Provider implements realtime.Provider for the OpenAI Realtime API.
// The credential passed to Connect must be an ephemeral client secret from
// [TokenProvider].
type Provider struct {
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:   defaultModel,
		baseURL: defaultWSBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens a Realtime WebSocket session authenticated with the
// ephemeral credential.
func (p *Provider) Connect(ctx context.Context, cfg realtime.SessionConfig) (realtime.SessionHandle, error) {
	if cfg.Credential.Value == "" {
		return nil, errors.New("openai: credential must carry a client secret")
	}
	if !cfg.Credential.ExpiresAt.IsZero() && time.Now().After(cfg.Credential.ExpiresAt) {
		return nil, errors.New("openai: credential expired")
	}

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + cfg.Credential.Value},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan realtime.Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	go sess.receiveLoop()

	return sess, nil
}

// ── Protocol message types ─────────────────────────────────────────────────────

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverEvent is the subset of the Realtime event envelope Reverie consumes.
type serverEvent struct {
	Type string `json:"type"`

	// response.audio_transcript.done
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan realtime.Event

	mu     sync.Mutex
	closed bool

	// currentTxText accumulates response.audio_transcript.delta payloads.
	currentTxText string

	ctx    context.Context
	cancel context.CancelFunc
}

// receiveLoop reads Realtime events and translates them into the realtime
// event stream. It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
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
		if evt.Type == "response.audio_transcript.delta" {
			s.accumulateDelta(data)
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func disconnectErr(err error) error {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("openai: read: %w", err)
}

// rawDelta extracts the delta string from events that carry one.
type deltaEvent struct {
	Delta string `json:"delta"`
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.created":
		s.deliver(realtime.AgentSpeaking{})

	case "response.done":
		s.deliver(realtime.AgentListening{})

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()
		if text == "" {
			text = evt.Transcript
		}
		if text == "" {
			return
		}
		s.deliver(realtime.Utterance{Utterance: types.Utterance{
			Speaker:   types.SpeakerAgent,
			Text:      text,
			Timestamp: time.Now(),
		}})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.deliver(realtime.Utterance{Utterance: types.Utterance{
			Speaker:   types.SpeakerUser,
			Text:      evt.Transcript,
			Timestamp: time.Now(),
		}})
	}
}

// accumulateDelta folds a response.audio_transcript.delta payload into the
// pending agent transcript. Split out so receiveLoop stays readable.
func (s *session) accumulateDelta(data []byte) {
	var d deltaEvent
	if err := json.Unmarshal(data, &d); err != nil || d.Delta == "" {
		return
	}
	s.mu.Lock()
	s.currentTxText += d.Delta
	s.mu.Unlock()
}

func (s *session) deliver(evt realtime.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// Events implements [realtime.SessionHandle].
func (s *session) Events() <-chan realtime.Event { return s.events }

// SendAudio implements [realtime.SessionHandle]. The chunk is forwarded as an
// input_audio_buffer.append event.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openai: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(chunk),
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
