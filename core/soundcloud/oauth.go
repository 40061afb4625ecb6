package soundcloud

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GeneratePKCEPair returns a PKCE S256 verifier/challenge pair (RFC 7636).
// The verifier is 43 base64url chars (32 random bytes), within the required
// 43-128 range; the challenge is BASE64URL(SHA256(verifier)) without padding.
func GeneratePKCEPair() (verifier, challenge string, err error) {
	var raw [32]byte
	if _, err = rand.Read(raw[:]); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw[:])
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// GenerateState returns an unguessable OAuth state token.
func GenerateState() (string, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// BuildAuthorizeURL builds the user-facing authorization URL.
func (c *Client) BuildAuthorizeURL(redirectURI, state, codeChallenge string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")
	// SoundCloud docs are inconsistent about required scopes; keep configurable.
	if c.scope != "" {
		params.Set("scope", c.scope)
	}
	return c.authorizeURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code + PKCE verifier for tokens.
// redirectURI must byte-exact match the one used on the authorize redirect.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("code", code)
	form.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token endpoint returned no access_token")
	}
	return &token, nil
}

// Me fetches the authenticated caller's identity.
func (c *Client) Me(ctx context.Context, accessToken string) (*ResolvedUser, error) {
	data, err := c.apiGet(ctx, "/me", accessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity: %w", err)
	}
	var me ResolvedUser
	if err := json.Unmarshal(data, &me); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &me, nil
}
