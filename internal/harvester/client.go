// Package harvester implements the client for the ChatGPT-web harvester
// side-car. It caches the access_token (long TTL) and
// arkose_token (short TTL) the OpenAI-Web adapter needs, and refreshes on
// demand when the caller requires a challenge token the cache doesn't
// currently have.
package harvester

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/llmgateway/llmgateway/internal/apperrors"
)

// Tokens holds the pair of credentials the side-car issues.
type Tokens struct {
	AccessToken string
	ArkoseToken string
	ExpiresAt   time.Time // expiry of AccessToken; ArkoseToken has its own shorter lifetime tracked separately
}

// wireTokens is the JSON shape the harvester side-car returns from both
// GET /tokens and POST /refresh.
type wireTokens struct {
	AccessToken string `json:"access_token"`
	ArkoseToken string `json:"arkose_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// Client caches harvester tokens per process and talks to the side-car
// over HTTP only when the cache can't satisfy the caller.
type Client struct {
	baseURL            string
	httpClient         *http.Client
	accessTokenTTL     time.Duration
	arkoseTokenTTL     time.Duration

	mu               sync.Mutex
	accessToken      string
	accessExpiresAt  time.Time
	arkoseToken      string
	arkoseExpiresAt  time.Time
}

// New builds a harvester Client pointed at baseURL (e.g.
// "http://localhost:4002") with the configured TTLs.
func New(baseURL string, httpClient *http.Client, accessTokenTTL, arkoseTokenTTL time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     httpClient,
		accessTokenTTL: accessTokenTTL,
		arkoseTokenTTL: arkoseTokenTTL,
	}
}

// GetTokens returns cached tokens, refreshing from the side-car if the
// access token is missing/expired, or if requiresArkose is true and the
// cached arkose token is missing/expired. A stale arkose token is never
// returned to a caller that requires one.
func (c *Client) GetTokens(ctx context.Context, requiresArkose bool) (Tokens, error) {
	c.mu.Lock()
	needsRefresh := time.Now().After(c.accessExpiresAt) || c.accessToken == ""
	needsArkose := requiresArkose && (time.Now().After(c.arkoseExpiresAt) || c.arkoseToken == "")
	c.mu.Unlock()

	switch {
	case needsArkose:
		// Only POST /refresh can force a new arkose token out of the
		// side-car, whether or not the access token also happens to be
		// stale.
		if err := c.Refresh(ctx, true); err != nil {
			return Tokens{}, err
		}
	case needsRefresh:
		// A plain access-token cache miss doesn't need to force anything;
		// GET /tokens is the cheap path that returns whatever the side-car
		// currently has (refreshing on its end only if it must).
		if err := c.fetch(ctx); err != nil {
			return Tokens{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Tokens{
		AccessToken: c.accessToken,
		ArkoseToken: c.arkoseToken,
		ExpiresAt:   c.accessExpiresAt,
	}, nil
}

// fetch issues GET /tokens against the harvester, the cheap fetch-or-cached
// path for an ordinary access-token cache miss, and updates the cache from
// the result.
func (c *Client) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tokens", nil)
	if err != nil {
		return apperrors.Internal("building harvester tokens request", err)
	}

	return c.doAndCache(req)
}

// Refresh issues POST /refresh against the harvester, forcing a new arkose
// token when forceArkose is true, and updates the cache from the result.
func (c *Client) Refresh(ctx context.Context, forceArkose bool) error {
	body, err := json.Marshal(map[string]bool{"force_arkose": forceArkose})
	if err != nil {
		return apperrors.Internal("marshaling harvester refresh request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/refresh", strings.NewReader(string(body)))
	if err != nil {
		return apperrors.Internal("building harvester refresh request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doAndCache(req)
}

// HealthStatus mirrors the harvester side-car's GET /health payload
// reported by the side-car, surfaced through the gateway's own /health endpoint.
type HealthStatus struct {
	BrowserAlive     bool      `json:"browser_alive"`
	SessionValid     bool      `json:"session_valid"`
	LastTokenRefresh time.Time `json:"last_token_refresh"`
}

type wireHealth struct {
	BrowserAlive     bool   `json:"browser_alive"`
	SessionValid     bool   `json:"session_valid"`
	LastTokenRefresh int64  `json:"last_token_refresh"`
}

// Health queries the side-car's own health endpoint directly — it is not
// cached, since the gateway's /health handler wants a live view of the
// browser session rather than the token cache's view of it.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthStatus{}, apperrors.Internal("building harvester health request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HealthStatus{}, apperrors.Unavailable("harvester unreachable: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return HealthStatus{}, apperrors.Unavailable("harvester health check failed")
	}

	var wh wireHealth
	if err := json.NewDecoder(resp.Body).Decode(&wh); err != nil {
		return HealthStatus{}, apperrors.Internal("decoding harvester health response", err)
	}

	return HealthStatus{
		BrowserAlive:     wh.BrowserAlive,
		SessionValid:     wh.SessionValid,
		LastTokenRefresh: time.Unix(wh.LastTokenRefresh, 0),
	}, nil
}

func (c *Client) doAndCache(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Unavailable("harvester unreachable: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.Unavailable("harvester returned server error")
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.Auth("harvester session failure", true)
	}

	var wt wireTokens
	if err := json.NewDecoder(resp.Body).Decode(&wt); err != nil {
		return apperrors.Internal("decoding harvester response", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if wt.AccessToken != "" {
		c.accessToken = wt.AccessToken
		if wt.ExpiresAt > 0 {
			c.accessExpiresAt = time.Unix(wt.ExpiresAt, 0)
		} else {
			c.accessExpiresAt = now.Add(c.accessTokenTTL)
		}
	}
	if wt.ArkoseToken != "" {
		c.arkoseToken = wt.ArkoseToken
		c.arkoseExpiresAt = now.Add(c.arkoseTokenTTL)
	}
	return nil
}
