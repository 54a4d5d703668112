// Package googleauth implements the Google OAuth token refresh exchange
// and Cloud Code project discovery used by Antigravity accounts.
package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Google OAuth constants for the Antigravity desktop client.
const (
	DefaultClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	DefaultClientSecret = "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"
	DefaultTokenURL     = "https://oauth2.googleapis.com/token"
)

// Cloud Code endpoints, in loadCodeAssist fallback order (prod first:
// fresh accounts resolve more reliably there).
var DefaultCodeAssistEndpoints = []string{
	"https://cloudcode-pa.googleapis.com",
	"https://daily-cloudcode-pa.googleapis.com",
}

// TokenResponse is the subset of the token endpoint response the proxy uses.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Client talks to the Google OAuth token endpoint and the Cloud Code API.
type Client struct {
	httpClient         *http.Client
	tokenURL           string
	clientID           string
	clientSecret       string
	codeAssistEndpoints []string
}

// Config overrides client defaults; zero values fall back to the
// Antigravity constants.
type Config struct {
	TokenURL            string
	ClientID            string
	ClientSecret        string
	CodeAssistEndpoints []string
	HTTPClient          *http.Client
}

// NewClient creates a Google auth client.
func NewClient(cfg Config) *Client {
	c := &Client{
		httpClient:          cfg.HTTPClient,
		tokenURL:            cfg.TokenURL,
		clientID:            cfg.ClientID,
		clientSecret:        cfg.ClientSecret,
		codeAssistEndpoints: cfg.CodeAssistEndpoints,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	if c.clientID == "" {
		c.clientID = DefaultClientID
	}
	if c.clientSecret == "" {
		c.clientSecret = DefaultClientSecret
	}
	if len(c.codeAssistEndpoints) == 0 {
		c.codeAssistEndpoints = DefaultCodeAssistEndpoints
	}
	return c
}

// RefreshAccessToken exchanges a refresh token for a new access token.
//
// Non-200 responses surface the raw body in the error string; callers
// detect revoked grants lexically via the "invalid_grant" code Google
// embeds in that body.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed: %s", string(body))
	}

	var result TokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return nil, fmt.Errorf("token refresh returned empty access_token")
	}
	return &result, nil
}

// FetchProjectID resolves the cloudaicompanion project bound to the
// account, trying each Cloud Code endpoint in order.
func (c *Client) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	var lastErr error
	for _, endpoint := range c.codeAssistEndpoints {
		projectID, err := c.loadCodeAssist(ctx, accessToken, endpoint)
		if err != nil {
			lastErr = err
			continue
		}
		if projectID != "" {
			return projectID, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no project in loadCodeAssist response")
}

func (c *Client) loadCodeAssist(ctx context.Context, accessToken, endpoint string) (string, error) {
	reqBody := `{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"/v1internal:loadCodeAssist", strings.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("loadCodeAssist failed with status %d: %s", resp.StatusCode, string(body))
	}

	// cloudaicompanionProject is either a bare string or {id: "..."}.
	project := gjson.GetBytes(body, "cloudaicompanionProject")
	if project.Type == gjson.String && project.String() != "" {
		return project.String(), nil
	}
	if id := project.Get("id"); id.String() != "" {
		return id.String(), nil
	}
	return "", nil
}
