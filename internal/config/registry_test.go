package config

import (
	"context"
	"errors"
	"testing"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
	"github.com/reverie-voice/reverie/pkg/provider/realtime/mock"
)

func TestRegistry_CreateRegisteredBackend(t *testing.T) {
	r := NewRegistry()
	tokens := &mock.TokenProvider{Token: realtime.Credential{Value: "cred"}}
	r.Register("elevenlabs", func(entry ProviderEntry) (Backend, error) {
		if entry.APIKey != "key-1" {
			t.Errorf("factory got api key %q, want key-1", entry.APIKey)
		}
		return Backend{Tokens: tokens, Live: &mock.Provider{}}, nil
	})

	b, err := r.Create(ProviderEntry{Name: "elevenlabs", APIKey: "key-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	cred, err := b.Tokens.RequestToken(context.Background(), "agent-1")
	if err != nil || cred.Value != "cred" {
		t.Errorf("token = %q/%v, want cred/nil", cred.Value, err)
	}
}

func TestRegistry_UnknownBackend(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("Create: err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("openai", func(ProviderEntry) (Backend, error) {
		return Backend{}, errors.New("old factory")
	})
	r.Register("openai", func(ProviderEntry) (Backend, error) {
		return Backend{}, nil
	})

	if _, err := r.Create(ProviderEntry{Name: "openai"}); err != nil {
		t.Errorf("Create after replace: %v", err)
	}
	if got := len(r.Names()); got != 1 {
		t.Errorf("registered names = %d, want 1", got)
	}
}
