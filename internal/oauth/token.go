// Package oauth owns the shared bearer token for the osu! API: cheap reads,
// at most one in-flight refresh, cooperative waiting for everyone else.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// DefaultTokenURL is the osu! OAuth2 client-credentials endpoint.
const DefaultTokenURL = "https://osu.ppy.sh/oauth/token"

// refreshRetryWait is the fixed sleep between refresh attempts after a
// transport failure or 429/5xx from the token endpoint.
// Variable so tests can shrink it.
var refreshRetryWait = 10 * time.Second

// Doer abstracts the single-shot HTTP requester.
type Doer interface {
	Do(ctx context.Context, method, url string, headers http.Header, body []byte) (int, []byte, error)
}

// Config configures a Manager.
type Config struct {
	TokenURL     string // defaults to DefaultTokenURL
	ClientID     string
	ClientSecret string
	Requester    Doer
}

// Manager holds the access token behind a reader/writer lock plus a separate
// leadership mutex for refresh. Lock order is always leadership first,
// writer second.
type Manager struct {
	tokenMu    sync.RWMutex // guards token + acquiredAt
	token      string
	acquiredAt time.Time

	leaderMu sync.Mutex // refresh leadership; TryLock only

	tokenURL     string
	clientID     string
	clientSecret string
	requester    Doer
}

// NewManager creates a Manager with an empty token. The first consumer 401
// (or an explicit UpdateAccessToken) populates it.
func NewManager(cfg Config) *Manager {
	if cfg.Requester == nil {
		panic("oauth: NewManager requires a requester")
	}
	url := cfg.TokenURL
	if url == "" {
		url = DefaultTokenURL
	}
	return &Manager{
		tokenURL:     url,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		requester:    cfg.Requester,
	}
}

// GetAccessToken returns the cached token. If a refresh is in flight the
// read lock blocks until the new token is visible. Never fails.
func (m *Manager) GetAccessToken() string {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.token
}

// AcquiredAt returns when the current token was obtained (zero if never).
func (m *Manager) AcquiredAt() time.Time {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.acquiredAt
}

// UpdateAccessToken refreshes the token. Exactly one caller performs the
// network round-trip; concurrent callers wait for that refresh to land and
// return without touching the network. Only the leader can observe an error.
func (m *Manager) UpdateAccessToken(ctx context.Context) error {
	if !m.leaderMu.TryLock() {
		// A refresh is in flight. Block on the reader lock until the
		// leader publishes the new token, then return.
		m.tokenMu.RLock()
		//lint:ignore SA2001 empty critical section is the wait itself
		m.tokenMu.RUnlock()
		return nil
	}
	defer m.leaderMu.Unlock()

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()

	token, err := m.fetchToken(ctx)
	if err != nil {
		return err
	}
	m.token = token
	m.acquiredAt = time.Now()
	return nil
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// fetchToken loops against the token endpoint: transport errors and 429/5xx
// are retried every refreshRetryWait until ctx is cancelled; any other
// non-200 status is a fatal configuration error.
func (m *Manager) fetchToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		GrantType:    "client_credentials",
		Scope:        "public",
	})
	if err != nil {
		return "", fmt.Errorf("oauth: marshal token request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")

	for {
		status, respBody, err := m.requester.Do(ctx, http.MethodPost, m.tokenURL, headers, body)
		switch {
		case err != nil:
			log.Printf("[oauth] token endpoint unreachable, retrying in %v: %v", refreshRetryWait, err)
		case status == http.StatusOK:
			var resp tokenResponse
			if err := json.Unmarshal(respBody, &resp); err != nil {
				return "", fmt.Errorf("oauth: malformed token response: %w", err)
			}
			if resp.AccessToken == "" {
				return "", fmt.Errorf("oauth: token response missing access_token")
			}
			return resp.AccessToken, nil
		case status == http.StatusTooManyRequests || status >= 500:
			log.Printf("[oauth] token endpoint returned %d, retrying in %v", status, refreshRetryWait)
		default:
			return "", fmt.Errorf("oauth: token endpoint returned status %d", status)
		}

		timer := time.NewTimer(refreshRetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", fmt.Errorf("oauth: refresh cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
