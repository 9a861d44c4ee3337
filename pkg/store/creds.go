package store

import (
	"context"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// CredentialSource supplies the bearer credential presented to the store
// and the event stream. Refresh obtains a fresh credential after the
// current one was rejected or is about to expire.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialSource for a fixed token. Refresh
// returns the same token; useful for local stores and tests.
type StaticCredential string

func (c StaticCredential) Token(context.Context) (string, error)   { return string(c), nil }
func (c StaticCredential) Refresh(context.Context) (string, error) { return string(c), nil }

// RefreshingCredential caches a token and obtains a new one through the
// fetch function on Refresh. Safe for concurrent use.
type RefreshingCredential struct {
	fetch func(ctx context.Context) (string, error)

	mu    sync.Mutex
	token string
}

func NewRefreshingCredential(fetch func(ctx context.Context) (string, error)) *RefreshingCredential {
	return &RefreshingCredential{fetch: fetch}
}

func (c *RefreshingCredential) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.Refresh(ctx)
}

func (c *RefreshingCredential) Refresh(ctx context.Context) (string, error) {
	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

// TokenExpiry reads the exp claim from a JWT bearer credential without
// verifying the signature. Returns false for opaque tokens or tokens
// without an expiry.
func TokenExpiry(token string) (time.Time, bool) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
