// Package session stores per-browser SoundCloud state in Redis: the
// in-flight OAuth round-trip (state, PKCE verifier, target gate) and the
// authenticated identity. Tokens live only here, never in durable storage.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// The OAuth round-trip should complete within minutes.
	flowTTL = 10 * time.Minute
	// Identity outlives the access token; the token is purged on expiry.
	identityTTL = 7 * 24 * time.Hour
)

// FlowState is the one-time state of an in-flight OAuth authorization.
// It is written on connect and consumed (read + deleted) on callback,
// success or failure, to prevent replay.
type FlowState struct {
	State          string `json:"state"`
	Verifier       string `json:"verifier"`
	TargetPublicID string `json:"targetPublicId"`
}

// Identity is the authenticated SoundCloud identity for a browser session.
// AccessToken is empty once expired or cleared after a download.
type Identity struct {
	UserURN     string `json:"userUrn"`
	Username    string `json:"username"`
	AccessToken string `json:"accessToken"`
	// Unix seconds; zero means no recorded expiry.
	ExpiresAt int64 `json:"expiresAt"`
}

// Store is a Redis-backed session store.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a session store on the given Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func flowKey(sessionID string) string {
	return fmt.Sprintf("session:%s:oauth_flow", sessionID)
}

func identityKey(sessionID string) string {
	return fmt.Sprintf("session:%s:identity", sessionID)
}

// SaveFlow stores the one-time OAuth flow state.
func (s *Store) SaveFlow(ctx context.Context, sessionID string, flow FlowState) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow state: %w", err)
	}
	if err := s.rdb.Set(ctx, flowKey(sessionID), data, flowTTL).Err(); err != nil {
		return fmt.Errorf("failed to store flow state: %w", err)
	}
	return nil
}

// TakeFlow reads and unconditionally deletes the OAuth flow state. Returns
// nil when no flow is in progress.
func (s *Store) TakeFlow(ctx context.Context, sessionID string) (*FlowState, error) {
	key := flowKey(sessionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flow state: %w", err)
	}
	// One-time use whether the callback succeeds or not.
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("failed to clear flow state: %w", err)
	}
	var flow FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow state: %w", err)
	}
	return &flow, nil
}

// PeekFlowTarget returns the target gate of the in-flight flow without
// consuming it. Used to route the user somewhere sensible when the provider
// reports an error before we validate anything.
func (s *Store) PeekFlowTarget(ctx context.Context, sessionID string) string {
	data, err := s.rdb.Get(ctx, flowKey(sessionID)).Bytes()
	if err != nil {
		return ""
	}
	var flow FlowState
	if err := json.Unmarshal(data, &flow); err != nil {
		return ""
	}
	return flow.TargetPublicID
}

// SaveIdentity stores the authenticated identity.
func (s *Store) SaveIdentity(ctx context.Context, sessionID string, id Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to encode identity: %w", err)
	}
	if err := s.rdb.Set(ctx, identityKey(sessionID), data, identityTTL).Err(); err != nil {
		return fmt.Errorf("failed to store identity: %w", err)
	}
	return nil
}

// Identity returns the session identity, purging the access token when the
// wall clock has passed its expiry (the URN/username are kept so the gate
// page can still show persisted verification state). Returns nil when the
// browser has no SoundCloud identity.
func (s *Store) Identity(ctx context.Context, sessionID string) (*Identity, error) {
	data, err := s.rdb.Get(ctx, identityKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}

	if id.AccessToken != "" && id.ExpiresAt != 0 && time.Now().Unix() >= id.ExpiresAt {
		// Expired; require re-connect for anything needing a live token.
		id.AccessToken = ""
		id.ExpiresAt = 0
		if err := s.SaveIdentity(ctx, sessionID, id); err != nil {
			return nil, err
		}
	}
	return &id, nil
}

// ClearToken drops the access token but keeps the identity. Called after a
// successful download so the next gate visit re-runs the verification flow.
func (s *Store) ClearToken(ctx context.Context, sessionID string) error {
	id, err := s.Identity(ctx, sessionID)
	if err != nil || id == nil {
		return err
	}
	id.AccessToken = ""
	id.ExpiresAt = 0
	return s.SaveIdentity(ctx, sessionID, *id)
}

// Clear removes all SoundCloud state for the session (fan logout).
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, flowKey(sessionID), identityKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
