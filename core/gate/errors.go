package gate

import "errors"

// Gate error taxonomy. OAuth-flow integrity failures are hard errors and
// never swallowed; upstream API faults degrade the page instead.
var (
	// ErrNotConfigured: SoundCloud OAuth credentials are missing.
	ErrNotConfigured = errors.New("soundcloud oauth is not configured")

	// ErrOAuthState: missing or mismatched state/verifier/code on callback.
	// Treated as a security fault (CSRF / session fixation), 4xx, no redirect.
	ErrOAuthState = errors.New("invalid soundcloud oauth state")

	// ErrTrackUnresolved: the gate has no resolvable track URN yet.
	ErrTrackUnresolved = errors.New("gate track identifier not resolved yet")

	// ErrArtistUnresolved: follow is required but the artist URN is unknown;
	// such a gate can never be fully verified until resolution succeeds.
	ErrArtistUnresolved = errors.New("gate artist identifier not resolved yet")

	// Per-requirement download refusals.
	ErrLikeRequired    = errors.New("you still need to like the track on SoundCloud")
	ErrCommentRequired = errors.New("you still need to comment on the track on SoundCloud")
	ErrFollowRequired  = errors.New("you still need to follow the artist on SoundCloud")

	// ErrNotVerified: no access record exists for this identity yet.
	ErrNotVerified = errors.New("please verify the gate first")

	// ErrNoIdentity: the browser session has no SoundCloud identity.
	ErrNoIdentity = errors.New("please connect SoundCloud to verify the gate first")

	// ErrFileMissing: checks passed but there is no file to serve.
	ErrFileMissing = errors.New("file not found")
)
