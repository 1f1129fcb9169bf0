package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"kis-trader/internal/config"
)

// tokenResponse is the broker's access-token issuance payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenManager holds the gateway's single bearer token, refreshing it ≥60s
// before expiry and coalescing concurrent refresh attempts into one
// in-flight request, grounded on the original's auth client
// (login/refresh/GetValidToken shape), generalized from the OAuth-style
// login flow to KIS's app-key/app-secret client-credentials issuance.
type TokenManager struct {
	cfg        config.KISConfig
	httpClient *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	inflight  chan struct{}
}

// NewTokenManager builds a TokenManager, loading a persisted token from
// TokenFilePath if present so a restart does not force an immediate
// re-issuance.
func NewTokenManager(cfg config.KISConfig) *TokenManager {
	tm := &TokenManager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	tm.loadFromFile()
	return tm
}

func (tm *TokenManager) loadFromFile() {
	if tm.cfg.TokenFilePath == "" {
		return
	}
	data, err := os.ReadFile(tm.cfg.TokenFilePath)
	if err != nil {
		return
	}
	var cached struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if json.Unmarshal(data, &cached) == nil {
		tm.token = cached.Token
		tm.expiresAt = cached.ExpiresAt
	}
}

func (tm *TokenManager) saveToFile() {
	if tm.cfg.TokenFilePath == "" {
		return
	}
	data, err := json.Marshal(struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}{tm.token, tm.expiresAt})
	if err != nil {
		return
	}
	_ = os.WriteFile(tm.cfg.TokenFilePath, data, 0o600)
}

// Valid reports whether the current token has at least 60s of life left.
func (tm *TokenManager) Valid() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.token != "" && time.Now().Add(60*time.Second).Before(tm.expiresAt)
}

// Get returns a usable access token, refreshing first if it is stale or
// about to expire. Concurrent callers share the same in-flight refresh,
// coalescing into a single issuance request rather than each firing one.
func (tm *TokenManager) Get(ctx context.Context) (string, error) {
	tm.mu.Lock()
	if tm.token != "" && time.Now().Add(60*time.Second).Before(tm.expiresAt) {
		token := tm.token
		tm.mu.Unlock()
		return token, nil
	}
	if tm.inflight != nil {
		wait := tm.inflight
		tm.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		tm.mu.Lock()
		token := tm.token
		tm.mu.Unlock()
		return token, nil
	}
	done := make(chan struct{})
	tm.inflight = done
	tm.mu.Unlock()

	err := tm.issue(ctx)

	tm.mu.Lock()
	tm.inflight = nil
	token := tm.token
	tm.mu.Unlock()
	close(done)

	if err != nil {
		return "", err
	}
	return token, nil
}

// issue calls the broker's token endpoint with the configured app key/secret
// and persists the result, mirroring AuthClient.Login/RefreshToken's
// request-then-store shape.
func (tm *TokenManager) issue(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     tm.cfg.AppKey,
		"appsecret":  tm.cfg.AppSecret,
	})
	if err != nil {
		return fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.cfg.BaseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("token request status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("parse token response: %w", err)
	}

	tm.mu.Lock()
	tm.token = parsed.AccessToken
	tm.expiresAt = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	tm.mu.Unlock()
	tm.saveToFile()
	return nil
}
