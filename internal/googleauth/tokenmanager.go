// Package googleauth implements the Google OAuth2 token manager: it
// exchanges a service account's self-signed JWT for a short-lived access
// token, caches it, and refreshes proactively before expiry with at most
// one outbound refresh in flight at a time.
//
// The JWT-bearer exchange itself is performed by golang.org/x/oauth2/jwt
// via google.JWTConfigFromJSON, which builds the
// {alg:RS256,...}/claims/signature/token-endpoint-POST flow. This package
// wraps that TokenSource with an explicit single-flight cache rather than
// relying on the library's own internal caching, so the "at most one
// concurrent refresh" invariant is something this package's tests can
// observe directly.
package googleauth

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// safetyMargin is how far ahead of expiry a refresh is triggered, per
// the cache's single-entry invariant.
const safetyMargin = 5 * time.Minute

// cloudPlatformScope is the OAuth2 scope requested for Vertex AI calls.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// TokenSource is the subset of oauth2.TokenSource the Manager depends on.
// Tests substitute a fake to control timing and failure without touching
// the network.
type TokenSource interface {
	Token() (*oauth2.Token, error)
}

// Manager caches a Google OAuth2 access token and refreshes it proactively.
type Manager struct {
	source TokenSource

	mu     sync.Mutex
	cached *oauth2.Token

	// inFlight is non-nil while a refresh is in progress; additional
	// callers that arrive during a refresh wait on this channel instead
	// of issuing their own outbound request.
	inFlight chan struct{}
	refreshErr error
}

// NewFromServiceAccountFile loads a service account JSON key from path and
// builds a Manager backed by the JWT-bearer token source it describes.
func NewFromServiceAccountFile(path string) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFromServiceAccountJSON(data)
}

// NewFromServiceAccountJSON builds a Manager from raw service account JSON.
func NewFromServiceAccountJSON(jsonKey []byte) (*Manager, error) {
	jwtConfig, err := google.JWTConfigFromJSON(jsonKey, cloudPlatformScope)
	if err != nil {
		return nil, err
	}
	return New(jwtConfig.TokenSource(context.Background())), nil
}

// New builds a Manager around an arbitrary TokenSource — used directly by
// tests, and by NewFromServiceAccountJSON for the production path.
func New(source TokenSource) *Manager {
	return &Manager{source: source}
}

// GetToken returns a fresh access token, refreshing the cache if it's
// within safetyMargin of expiry (or missing). Concurrent callers that
// arrive while a refresh is already underway block on that single refresh
// instead of each issuing their own outbound request.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()

	if m.fresh() {
		token := m.cached.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	if m.inFlight != nil {
		// A refresh is already running — wait for it instead of racing it.
		wait := m.inFlight
		m.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.refreshErr != nil {
			return "", m.refreshErr
		}
		return m.cached.AccessToken, nil
	}

	// We're the one doing the refresh. Publish the in-flight channel
	// before releasing the lock so any caller arriving next sees it and
	// waits instead of also calling source.Token().
	done := make(chan struct{})
	m.inFlight = done
	m.mu.Unlock()

	token, err := m.source.Token()

	m.mu.Lock()
	m.inFlight = nil
	m.refreshErr = err
	if err == nil {
		m.cached = token
	}
	m.mu.Unlock()
	close(done)

	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// fresh reports whether the cached token is still valid outside the
// safety margin. Caller must hold m.mu.
func (m *Manager) fresh() bool {
	if m.cached == nil {
		return false
	}
	return time.Until(m.cached.Expiry) > safetyMargin
}
