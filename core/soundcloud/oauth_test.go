package soundcloud

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestGeneratePKCEPair(t *testing.T) {
	verifier, challenge, err := GeneratePKCEPair()
	if err != nil {
		t.Fatalf("GeneratePKCEPair failed: %v", err)
	}

	if len(verifier) < 43 || len(verifier) > 128 {
		t.Errorf("verifier length %d outside RFC 7636 range", len(verifier))
	}
	for _, r := range verifier {
		if !strings.ContainsRune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_", r) {
			t.Errorf("verifier contains non-base64url char %q", r)
		}
	}

	sum := sha256.Sum256([]byte(verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if challenge != want {
		t.Errorf("challenge mismatch: got %q want %q", challenge, want)
	}
	if strings.ContainsAny(challenge, "=+/") {
		t.Errorf("challenge must be unpadded base64url, got %q", challenge)
	}
}

func TestGeneratePKCEPairUnique(t *testing.T) {
	v1, _, err := GeneratePKCEPair()
	if err != nil {
		t.Fatal(err)
	}
	v2, _, err := GeneratePKCEPair()
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v2 {
		t.Error("verifiers must be unique per flow")
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	c := NewClient("cid", "secret", "*")
	raw := c.BuildAuthorizeURL("https://gate.example/cb", "st4te", "ch4llenge")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("authorize URL does not parse: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"client_id":             "cid",
		"redirect_uri":          "https://gate.example/cb",
		"response_type":         "code",
		"state":                 "st4te",
		"code_challenge":        "ch4llenge",
		"code_challenge_method": "S256",
		"scope":                 "*",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("param %s: got %q want %q", key, got, want)
		}
	}
}

func TestBuildAuthorizeURLNoScope(t *testing.T) {
	c := NewClient("cid", "secret", "")
	u, err := url.Parse(c.BuildAuthorizeURL("https://gate.example/cb", "s", "c"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Has("scope") {
		t.Error("empty scope must not be sent")
	}
}

func TestExchangeCode(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		form = r.PostForm
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: "at-1",
			ExpiresIn:   3600,
		})
	}))
	defer srv.Close()

	c := NewClient("cid", "secret", "")
	c.SetEndpoints("", srv.URL, "")

	token, err := c.ExchangeCode(context.Background(), "auth-code", "https://gate.example/cb", "verif13r")
	if err != nil {
		t.Fatalf("ExchangeCode failed: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Errorf("unexpected access token %q", token.AccessToken)
	}

	checks := map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     "cid",
		"client_secret": "secret",
		"redirect_uri":  "https://gate.example/cb",
		"code":          "auth-code",
		"code_verifier": "verif13r",
	}
	for key, want := range checks {
		if got := form.Get(key); got != want {
			t.Errorf("form field %s: got %q want %q", key, got, want)
		}
	}
}

func TestExchangeCodeRejectsEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(TokenResponse{})
	}))
	defer srv.Close()

	c := NewClient("cid", "secret", "")
	c.SetEndpoints("", srv.URL, "")
	if _, err := c.ExchangeCode(context.Background(), "code", "https://gate.example/cb", "v"); err == nil {
		t.Fatal("expected error on empty access_token")
	}
}

func TestExchangeCodeTokenEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("cid", "secret", "")
	c.SetEndpoints("", srv.URL, "")
	if _, err := c.ExchangeCode(context.Background(), "code", "https://gate.example/cb", "v"); err == nil {
		t.Fatal("expected error on non-2xx token response")
	}
}
