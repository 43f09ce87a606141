package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
	"github.com/reverie-voice/reverie/pkg/types"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startRealtimeServer launches a test WebSocket server standing in for the
// Realtime endpoint. The handler receives the accepted conn; the server is
// closed when the test finishes.
func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFrame reads one text frame into v.
func readFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readFrame unmarshal: %v", err)
	}
}

// writeFrame marshals v and sends it as a text frame.
func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

// connectSession opens a session against srv and registers its Close.
func connectSession(t *testing.T, p *Provider, srv *httptest.Server) realtime.SessionHandle {
	t.Helper()
	handle, err := p.Connect(context.Background(), realtime.SessionConfig{
		AgentID:    "agent-42",
		Credential: realtime.Credential{Value: "ek_test_secret"},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { handle.Close() })
	return handle
}

// nextEvent waits for the next session event.
func nextEvent(t *testing.T, events <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatal("events channel closed early")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session event")
	}
	return nil
}

func TestConnectSendsAuthAndModel(t *testing.T) {
	t.Parallel()

	type dialInfo struct {
		auth  string
		beta  string
		model string
	}
	dialed := make(chan dialInfo, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		dialed <- dialInfo{
			auth:  r.Header.Get("Authorization"),
			beta:  r.Header.Get("OpenAI-Beta"),
			model: r.URL.Query().Get("model"),
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	p := New(WithModel("gpt-realtime-mini"), WithBaseURL(wsURL(srv)))
	connectSession(t, p, srv)

	select {
	case info := <-dialed:
		if info.auth != "Bearer ek_test_secret" {
			t.Errorf("Authorization = %q, want Bearer ek_test_secret", info.auth)
		}
		if info.beta != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q, want realtime=v1", info.beta)
		}
		if info.model != "gpt-realtime-mini" {
			t.Errorf("model = %q, want gpt-realtime-mini", info.model)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for dial")
	}
}

func TestConnectRequiresCredential(t *testing.T) {
	t.Parallel()
	p := New()
	if _, err := p.Connect(context.Background(), realtime.SessionConfig{}); err == nil {
		t.Fatal("Connect without a credential should fail")
	}
}

func TestConnectRejectsExpiredCredential(t *testing.T) {
	t.Parallel()
	p := New()
	_, err := p.Connect(context.Background(), realtime.SessionConfig{
		Credential: realtime.Credential{
			Value:     "ek_stale",
			ExpiresAt: time.Now().Add(-time.Minute),
		},
	})
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("err = %v, want expired credential error", err)
	}
}

func TestResponseLifecycleDrivesSpeakingState(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrame(t, conn, map[string]any{"type": "response.created"})
		writeFrame(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	if _, ok := nextEvent(t, handle.Events()).(realtime.AgentSpeaking); !ok {
		t.Fatal("response.created should mark the agent as speaking")
	}
	if _, ok := nextEvent(t, handle.Events()).(realtime.AgentListening); !ok {
		t.Fatal("response.done should mark the agent as listening")
	}
}

func TestTranscriptAssembledFromDeltas(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		for _, delta := range []string{"Once ", "upon ", "a time."} {
			writeFrame(t, conn, map[string]any{
				"type":  "response.audio_transcript.delta",
				"delta": delta,
			})
		}
		writeFrame(t, conn, map[string]any{"type": "response.audio_transcript.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	evt := nextEvent(t, handle.Events())
	u, ok := evt.(realtime.Utterance)
	if !ok {
		t.Fatalf("event = %#v, want Utterance", evt)
	}
	if u.Utterance.Speaker != types.SpeakerAgent {
		t.Errorf("speaker = %v, want agent", u.Utterance.Speaker)
	}
	if u.Utterance.Text != "Once upon a time." {
		t.Errorf("text = %q, want the joined deltas", u.Utterance.Text)
	}
}

func TestTranscriptDoneFallsBackToTranscriptField(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrame(t, conn, map[string]any{
			"type":       "response.audio_transcript.done",
			"transcript": "Well met, traveler.",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	u, ok := nextEvent(t, handle.Events()).(realtime.Utterance)
	if !ok || u.Utterance.Text != "Well met, traveler." {
		t.Fatalf("utterance = %#v, want the transcript field text", u)
	}
}

func TestDeltaBufferResetsBetweenResponses(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrame(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "first"})
		writeFrame(t, conn, map[string]any{"type": "response.audio_transcript.done"})
		writeFrame(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "second"})
		writeFrame(t, conn, map[string]any{"type": "response.audio_transcript.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	first, _ := nextEvent(t, handle.Events()).(realtime.Utterance)
	if first.Utterance.Text != "first" {
		t.Fatalf("first utterance = %q, want first", first.Utterance.Text)
	}
	second, _ := nextEvent(t, handle.Events()).(realtime.Utterance)
	if second.Utterance.Text != "second" {
		t.Fatalf("second utterance = %q, want second (buffer leaked)", second.Utterance.Text)
	}
}

func TestUserTranscriptionCompleted(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		writeFrame(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "tell me a story",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	u, ok := nextEvent(t, handle.Events()).(realtime.Utterance)
	if !ok || u.Utterance.Speaker != types.SpeakerUser || u.Utterance.Text != "tell me a story" {
		t.Fatalf("utterance = %#v, want the user's transcript", u)
	}
}

func TestSendAudioEncodesChunk(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	received := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg appendMsg
		readFrame(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	wantPCM := []byte{0x10, 0x20, 0x30, 0x40}
	if err := handle.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q, want input_audio_buffer.append", msg.Type)
		}
		got, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded chunk = %v, want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for append message")
	}
}

func TestRemoteCloseDeliversDisconnected(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Returning closes the connection with a normal closure.
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	evt := nextEvent(t, handle.Events())
	d, ok := evt.(realtime.Disconnected)
	if !ok {
		t.Fatalf("event = %#v, want Disconnected", evt)
	}
	if d.Err != nil {
		t.Fatalf("orderly remote close should carry a nil error, got %v", d.Err)
	}

	select {
	case _, open := <-handle.Events():
		if open {
			t.Fatal("events channel should close after Disconnected")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, open := <-handle.Events():
			if !open {
				return
			}
			if _, bad := evt.(realtime.Disconnected); bad {
				t.Fatal("local Close must not deliver Disconnected")
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}

func TestSendAudioAfterCloseFails(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)
	_ = handle.Close()

	if err := handle.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("SendAudio after Close should fail")
	}
}

func TestConcurrentSendAudio(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx := context.Background()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	})

	handle := connectSession(t, New(WithBaseURL(wsURL(srv))), srv)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				_ = handle.SendAudio([]byte{0x01, 0x02})
			}
		}()
	}
	wg.Wait()
}
