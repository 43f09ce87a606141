package resilience

import (
	"context"

	"github.com/reverie-voice/reverie/pkg/provider/realtime"
)

// TokenFallback implements [realtime.TokenProvider] with automatic failover
// across multiple token endpoints (mirrored regions or rotated API keys of
// the same backend). Each endpoint has its own circuit breaker, so a dead
// endpoint is skipped without burning its failure timeout on every session
// start.
type TokenFallback struct {
	chain *Chain[realtime.TokenProvider]
}

// Compile-time interface assertion.
var _ realtime.TokenProvider = (*TokenFallback)(nil)

// NewTokenFallback creates a [TokenFallback] with primary as the preferred
// endpoint.
func NewTokenFallback(primary realtime.TokenProvider, primaryName string, cfg ChainConfig) *TokenFallback {
	return &TokenFallback{
		chain: NewChain(primary, primaryName, cfg),
	}
}

// Add registers an additional token endpoint as a fallback.
func (f *TokenFallback) Add(name string, provider realtime.TokenProvider) {
	f.chain.Add(name, provider)
}

// RequestToken exchanges the agent ID for a credential against the first
// healthy endpoint. When every endpoint fails the returned error wraps
// [ErrAllFailed], which callers surface as a token-unavailable failure.
func (f *TokenFallback) RequestToken(ctx context.Context, agentID string) (realtime.Credential, error) {
	return DoWithResult(f.chain, func(p realtime.TokenProvider) (realtime.Credential, error) {
		return p.RequestToken(ctx, agentID)
	})
}
