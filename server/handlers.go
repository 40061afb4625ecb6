package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bandpassrecords/scgate/config"
	"github.com/bandpassrecords/scgate/core/auth"
	"github.com/bandpassrecords/scgate/core/gate"
	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/repository"

	"github.com/google/uuid"
)

// sessionCookie names the anonymous browser-session cookie that keys the
// Redis-backed SoundCloud identity.
const sessionCookie = "scgate_session"

// APIHandler handles all API requests.
type APIHandler struct {
	trackRepo  repository.TrackRepository
	targetRepo repository.FollowTargetRepository
	accessRepo repository.AccessRepository
	userRepo   repository.UserRepository
	sc         *soundcloud.Client
	sessions   *session.Store
	verifier   *gate.Verifier
	cfg        *config.Config
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	trackRepo repository.TrackRepository,
	targetRepo repository.FollowTargetRepository,
	accessRepo repository.AccessRepository,
	userRepo repository.UserRepository,
	sc *soundcloud.Client,
	sessions *session.Store,
	verifier *gate.Verifier,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		trackRepo:  trackRepo,
		targetRepo: targetRepo,
		accessRepo: accessRepo,
		userRepo:   userRepo,
		sc:         sc,
		sessions:   sessions,
		verifier:   verifier,
		cfg:        cfg,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// clientIP returns the requester's IP, honoring the first X-Forwarded-For
// entry when present (the service sits behind a reverse proxy in production).
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// requestMeta extracts the audit fields stored on access records.
func requestMeta(r *http.Request) gate.RequestMeta {
	return gate.RequestMeta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// sessionID returns the browser session id, issuing a new cookie when the
// request carries none.
func (h *APIHandler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// identity loads the session's SoundCloud identity; nil when not connected.
// Redis read failures are treated as "not connected" so the public gate page
// still renders.
func (h *APIHandler) identity(ctx context.Context, sessionID string) *session.Identity {
	id, err := h.sessions.Identity(ctx, sessionID)
	if err != nil {
		return nil
	}
	return id
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Get the Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		// Parse and validate the token
		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Add user info to the request context
		ctx := context.WithValue(r.Context(), "userID", claims.UserID)
		ctx = context.WithValue(ctx, "username", claims.Username)

		// Call the next handler with the updated context
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value("userID").(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetUsernameFromContext extracts the username from the request context
func GetUsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value("username").(string)
	if !ok {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}
