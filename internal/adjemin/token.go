package adjemin

import (
	"context"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/adjemin-bridge/internal/obs"
)

// Tokener mints bearer tokens. *Client satisfies it.
type Tokener interface {
	Token(ctx context.Context) (string, error)
}

// TokenSource caches bearer tokens until shortly before they expire and
// collapses concurrent refreshes into a single upstream exchange. The
// provider issues JWTs, so the expiry is read from the token's exp claim
// without verifying the signature; when the token is opaque the DefaultTTL
// applies.
type TokenSource struct {
	Upstream   Tokener
	DefaultTTL time.Duration
	Leeway     time.Duration

	mu      sync.Mutex
	group   singleflight.Group
	token   string
	expires time.Time
	now     func() time.Time
}

// Token returns a cached token, refreshing it when missing or about to
// expire.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	if ts.token != "" && ts.clock().Before(ts.expires.Add(-ts.leeway())) {
		token := ts.token
		ts.mu.Unlock()
		return token, nil
	}
	ts.mu.Unlock()

	v, err, _ := ts.group.Do("token", func() (any, error) {
		token, err := ts.Upstream.Token(ctx)
		countRefresh(err)
		if err != nil {
			return "", err
		}
		ts.mu.Lock()
		ts.token = token
		ts.expires = ts.clock().Add(ts.ttlFor(token))
		ts.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expires = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) ttlFor(token string) time.Duration {
	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err == nil {
		if exp := parsed.Expiration(); !exp.IsZero() {
			if ttl := exp.Sub(ts.clock()); ttl > 0 {
				return ttl
			}
		}
	}
	return ts.defaultTTL()
}

func (ts *TokenSource) defaultTTL() time.Duration {
	if ts.DefaultTTL > 0 {
		return ts.DefaultTTL
	}
	return 5 * time.Minute
}

func (ts *TokenSource) leeway() time.Duration {
	if ts.Leeway > 0 {
		return ts.Leeway
	}
	return 30 * time.Second
}

func (ts *TokenSource) clock() time.Time {
	if ts.now != nil {
		return ts.now()
	}
	return time.Now()
}

func countRefresh(err error) {
	if obs.TokenRefreshTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.TokenRefreshTotal.WithLabelValues(result).Inc()
}
