// Package soundcloud is a thin client for the SoundCloud OAuth and REST
// APIs: PKCE authorization, resource resolution, paginated collection
// scans, and the like/comment/follow mutations the gate needs.
package soundcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// Official OAuth 2.1 endpoints, see
	// https://developers.soundcloud.com/docs/api/guide
	defaultAuthorizeURL = "https://secure.soundcloud.com/authorize"
	defaultTokenURL     = "https://secure.soundcloud.com/oauth/token"
	defaultAPIBase      = "https://api.soundcloud.com"

	// Fixed timeout for every upstream call; a hung SoundCloud request
	// should fail the single verification step, not pile up.
	requestTimeout = 20 * time.Second

	// Page size requested from collection endpoints.
	pageLimit = 200
)

// Client talks to the SoundCloud API.
type Client struct {
	clientID     string
	clientSecret string
	scope        string

	authorizeURL string
	tokenURL     string
	apiBase      string

	httpClient *http.Client
}

// NewClient creates a new API client. Empty credentials produce an
// unconfigured client; callers must check Configured before starting
// an OAuth flow.
func NewClient(clientID, clientSecret, scope string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        scope,
		authorizeURL: defaultAuthorizeURL,
		tokenURL:     defaultTokenURL,
		apiBase:      defaultAPIBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Configured reports whether OAuth client credentials are present.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// SetEndpoints overrides the upstream URLs. Used by tests.
func (c *Client) SetEndpoints(authorizeURL, tokenURL, apiBase string) {
	if authorizeURL != "" {
		c.authorizeURL = authorizeURL
	}
	if tokenURL != "" {
		c.tokenURL = tokenURL
	}
	if apiBase != "" {
		c.apiBase = apiBase
	}
}

// SetTimeout overrides the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// authVariants returns the Authorization header values to try, in order.
// The docs show both "OAuth" and "Bearer" in different sections; we try
// OAuth first and retry once with Bearer on 401.
func authVariants(accessToken string) []string {
	if accessToken == "" {
		return []string{""}
	}
	return []string{"OAuth " + accessToken, "Bearer " + accessToken}
}

// apiSend performs one API call with the dual auth-scheme retry. fullURL
// must be absolute (apiGet/apiPost build it from apiBase; pagination passes
// next_href through verbatim). A non-2xx status after the retry is an error.
func (c *Client) apiSend(ctx context.Context, method, fullURL, accessToken string, jsonBody interface{}) ([]byte, error) {
	var bodyBytes []byte
	if jsonBody != nil {
		var err error
		bodyBytes, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	variants := authVariants(accessToken)
	var lastStatus int
	for i, auth := range variants {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		lastStatus = resp.StatusCode
		if resp.StatusCode == http.StatusUnauthorized && i < len(variants)-1 {
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("API returned status %d for %s %s", resp.StatusCode, method, fullURL)
		}
		return data, nil
	}

	return nil, fmt.Errorf("API returned status %d for %s %s", lastStatus, method, fullURL)
}

// apiGet performs a GET against an API path. With an empty accessToken the
// call goes out unauthenticated; public endpoints accept a client_id param
// instead (callers add it where supported).
func (c *Client) apiGet(ctx context.Context, path string, accessToken string, params url.Values) ([]byte, error) {
	fullURL := c.apiBase + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	return c.apiSend(ctx, http.MethodGet, fullURL, accessToken, nil)
}

// apiPost performs a POST against an API path with an optional JSON body.
func (c *Client) apiPost(ctx context.Context, path string, accessToken string, params url.Values, jsonBody interface{}) ([]byte, error) {
	fullURL := c.apiBase + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	return c.apiSend(ctx, http.MethodPost, fullURL, accessToken, jsonBody)
}

// apiPut performs a PUT against an API path.
func (c *Client) apiPut(ctx context.Context, path string, accessToken string) ([]byte, error) {
	return c.apiSend(ctx, http.MethodPut, c.apiBase+path, accessToken, nil)
}
