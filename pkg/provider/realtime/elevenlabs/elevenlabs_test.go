package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTokenServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *TokenProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tp, err := NewTokenProvider("xi-test-key", WithAPIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	return srv, tp
}

func TestRequestTokenSignedURL(t *testing.T) {
	_, tp := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != signedURLPath {
			t.Errorf("path = %q, want %q", r.URL.Path, signedURLPath)
		}
		if got := r.URL.Query().Get("agent_id"); got != "agent-42" {
			t.Errorf("agent_id = %q, want agent-42", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "xi-test-key" {
			t.Errorf("xi-api-key = %q", got)
		}
		w.Write([]byte(`{"signed_url":"wss://api.elevenlabs.io/v1/convai/conversation?token=abc"}`))
	})

	cred, err := tp.RequestToken(context.Background(), "agent-42")
	if err != nil {
		t.Fatalf("RequestToken: %v", err)
	}
	if !strings.HasPrefix(cred.Value, "wss://") {
		t.Errorf("credential value = %q, want signed wss url", cred.Value)
	}
	if cred.ExpiresAt.IsZero() {
		t.Error("expiry not set")
	}
}

func TestRequestTokenNonOKStatus(t *testing.T) {
	_, tp := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	})

	_, err := tp.RequestToken(context.Background(), "agent-42")
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error should carry status code, got %v", err)
	}
}

func TestRequestTokenEmptySignedURL(t *testing.T) {
	_, tp := newTokenServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := tp.RequestToken(context.Background(), "agent-42"); err == nil {
		t.Fatal("expected error for empty signed_url")
	}
}

func TestRequestTokenEmptyAgentID(t *testing.T) {
	tp, err := NewTokenProvider("xi-test-key")
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	if _, err := tp.RequestToken(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty agent ID")
	}
}

func TestNewTokenProviderRequiresKey(t *testing.T) {
	if _, err := NewTokenProvider(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}
