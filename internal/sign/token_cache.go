package sign

import (
	"sync"
	"time"

	"main/internal/schema"
)

const (
	defaultTokenTTL = 9 * time.Minute
	// tokenSafetyMargin keeps a token from being handed out right before it
	// expires mid-subscribe.
	tokenSafetyMargin = 15 * time.Second
)

// TokenCache hands out auth tokens, re-deriving them only when the cached one
// is within the safety margin of expiry. Invalidate drops the cached token
// after an auth rejection.
type TokenCache struct {
	signer *Signer
	key    schema.APIKeyIndex
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	token AuthToken
}

// NewTokenCache creates a cache issuing tokens for one api key slot.
func NewTokenCache(signer *Signer, key schema.APIKeyIndex, ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{
		signer: signer,
		key:    key,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Token returns a valid auth token, deriving a fresh one when needed.
func (c *TokenCache) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token.Token != "" && now.Add(tokenSafetyMargin).Before(c.token.ExpiresAt) {
		return c.token.Token, nil
	}

	issued, err := c.signer.NewAuthToken(c.key, now.Add(c.ttl))
	if err != nil {
		return "", err
	}
	c.token = issued
	return issued.Token, nil
}

// Invalidate drops the cached token so the next Token call re-derives it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = AuthToken{}
	c.mu.Unlock()
}
