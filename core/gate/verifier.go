// Package gate implements the engagement-verification engine: it decides,
// for a (track, SoundCloud identity) pair, which required actions are
// satisfied, merges the result into the persisted access record, and
// enforces the download gate from persisted state only.
package gate

import (
	"context"

	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"
	"github.com/bandpassrecords/scgate/repository"
)

// Page caps bound the worst-case number of upstream fetches per check; an
// unbounded traversal of a 200-per-page feed would be a denial-of-service
// risk for popular tracks. Hitting a cap yields a conservative false.
const (
	likeMaxPages    = 10
	commentMaxPages = 10
	followMaxPages  = 5
)

// SoundCloudAPI is the slice of the API client the engine depends on.
// *soundcloud.Client satisfies it; tests substitute fakes.
type SoundCloudAPI interface {
	Configured() bool
	ResolveTrack(ctx context.Context, trackURL, accessToken string) (*soundcloud.ResolvedTrack, error)
	ResolveUser(ctx context.Context, profileURL, accessToken string) (*soundcloud.ResolvedUser, error)
	UserLikedTrack(ctx context.Context, accessToken, trackURN string, maxPages int) (bool, error)
	UserCommentedOnTrack(ctx context.Context, accessToken, trackIdentifier, userURN string, maxPages int) (bool, error)
	FollowingsURNs(ctx context.Context, accessToken string, maxPages int) (map[string]struct{}, error)
}

// RequestMeta carries per-request audit fields into the access record.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Verifier is the gate verification engine.
type Verifier struct {
	api      SoundCloudAPI
	tracks   repository.TrackRepository
	targets  repository.FollowTargetRepository
	accesses repository.AccessRepository
}

// NewVerifier creates a verification engine.
func NewVerifier(api SoundCloudAPI, tracks repository.TrackRepository, targets repository.FollowTargetRepository, accesses repository.AccessRepository) *Verifier {
	return &Verifier{api: api, tracks: tracks, targets: targets, accesses: accesses}
}

// EnsureTrackIdentifiers best-effort resolves the track's canonical URN and
// artist identity and persists whatever was discovered (write-once).
// accessToken may be empty; the public resolve path is used then. Failure
// is not fatal to rendering, so the error is returned for logging only.
func (v *Verifier) EnsureTrackIdentifiers(ctx context.Context, track *model.GatedTrack, accessToken string) error {
	if track.SoundCloudTrackURN != "" && track.SoundCloudArtistURN != "" {
		return nil
	}
	if !v.api.Configured() {
		return nil
	}

	resolved, err := v.api.ResolveTrack(ctx, track.SoundCloudTrackURL, accessToken)
	if err != nil {
		return err
	}

	trackURN := resolved.TrackURN()
	artistURN := resolved.User.UserURN()
	artistUsername := resolved.User.Username
	if err := v.tracks.SetTrackIdentifiers(track.ID, trackURN, artistURN, artistUsername); err != nil {
		return err
	}
	// Mirror the write-once semantics in memory.
	if track.SoundCloudTrackURN == "" {
		track.SoundCloudTrackURN = trackURN
	}
	if track.SoundCloudArtistURN == "" {
		track.SoundCloudArtistURN = artistURN
	}
	if track.SoundCloudArtistUsername == "" {
		track.SoundCloudArtistUsername = artistUsername
	}
	return nil
}

// ResolveFollowTargets best-effort resolves follow targets that still lack
// a URN. Per-target failures are swallowed; an unresolved target simply
// counts as not followed.
func (v *Verifier) ResolveFollowTargets(ctx context.Context, targets []*model.FollowTarget, accessToken string) {
	if !v.api.Configured() {
		return
	}
	for _, t := range targets {
		if t.SoundCloudUserURN != "" || t.ProfileURL == "" {
			continue
		}
		resolved, err := v.api.ResolveUser(ctx, t.ProfileURL, accessToken)
		if err != nil {
			logger.Debug("follow target resolution failed",
				logger.Int64("targetId", t.ID),
				logger.ErrorField(err))
			continue
		}
		urn := resolved.UserURN()
		if urn == "" {
			continue
		}
		if err := v.targets.SetResolvedIdentity(t.ID, urn, resolved.Username); err != nil {
			logger.Warn("failed to persist resolved follow target",
				logger.Int64("targetId", t.ID),
				logger.ErrorField(err))
			continue
		}
		t.SoundCloudUserURN = urn
		t.SoundCloudUsername = resolved.Username
	}
}

// requiredFollowURNs gathers the URNs the user must follow: the artist plus
// every resolved extra target.
func requiredFollowURNs(track *model.GatedTrack, targets []*model.FollowTarget) []string {
	urns := make([]string, 0, len(targets)+1)
	if track.SoundCloudArtistURN != "" {
		urns = append(urns, track.SoundCloudArtistURN)
	}
	for _, t := range targets {
		if t.SoundCloudUserURN != "" {
			urns = append(urns, t.SoundCloudUserURN)
		}
	}
	return urns
}

// FollowedNow computes the live aggregate follow state. Self-references
// (the viewer is the artist or a target) are satisfied without an API
// call; if every required URN is a self-reference no fetch happens at all.
// A follow-required track with no resolvable artist URN can never be fully
// verified: that surfaces as ErrArtistUnresolved, not a silent pass.
func (v *Verifier) FollowedNow(ctx context.Context, track *model.GatedTrack, targets []*model.FollowTarget, accessToken, userURN string) (bool, error) {
	followed, _, err := v.followedNow(ctx, track, targets, accessToken, userURN)
	return followed, err
}

// followedNow additionally hands back the followings set it fetched (nil
// when no fetch was needed) so the gate page can reuse it for per-target
// badges instead of fetching twice.
func (v *Verifier) followedNow(ctx context.Context, track *model.GatedTrack, targets []*model.FollowTarget, accessToken, userURN string) (bool, map[string]struct{}, error) {
	if !track.RequireFollow {
		return true, nil, nil
	}
	if track.SoundCloudArtistURN == "" {
		return false, nil, ErrArtistUnresolved
	}

	needed := make([]string, 0)
	for _, urn := range requiredFollowURNs(track, targets) {
		if urn != userURN {
			needed = append(needed, urn)
		}
	}
	if len(needed) == 0 {
		return true, nil, nil
	}

	followings, err := v.api.FollowingsURNs(ctx, accessToken, followMaxPages)
	if err != nil {
		return false, nil, err
	}
	for _, urn := range needed {
		if _, ok := followings[urn]; !ok {
			return false, followings, nil
		}
	}
	return true, followings, nil
}

// checkAll runs the three membership checks. Requirements that are off are
// skipped as satisfied. An unresolved artist voids only the follow result;
// the like/comment results just computed stay valid and come back alongside
// ErrArtistUnresolved. Any other upstream failure aborts; callers decide
// whether that degrades (page refresh) or propagates (callback).
func (v *Verifier) checkAll(ctx context.Context, track *model.GatedTrack, targets []*model.FollowTarget, accessToken, userURN string) (liked, commented, followed bool, followings map[string]struct{}, err error) {
	liked = true
	if track.RequireLike {
		liked, err = v.api.UserLikedTrack(ctx, accessToken, track.SoundCloudTrackURN, likeMaxPages)
		if err != nil {
			return false, false, false, nil, err
		}
	}

	commented = true
	if track.RequireComment {
		commented, err = v.api.UserCommentedOnTrack(ctx, accessToken, track.SoundCloudTrackURN, userURN, commentMaxPages)
		if err != nil {
			return false, false, false, nil, err
		}
	}

	followed, followings, err = v.followedNow(ctx, track, targets, accessToken, userURN)
	if err != nil {
		if err == ErrArtistUnresolved {
			return liked, commented, false, nil, err
		}
		return false, false, false, nil, err
	}
	return liked, commented, followed, followings, nil
}

// Refresh recomputes verification state on a gate-page view and merges it
// into the persisted access record (monotonic like/comment, live follow).
// It runs on every view with a token, not just at callback time, so state
// changed on SoundCloud after the page load is picked up. All failures
// degrade: the returned access may be nil and warning non-empty, but a
// flaky SoundCloud API never breaks the page. The followings set fetched
// during the check comes back for rendering, nil when none was needed.
func (v *Verifier) Refresh(ctx context.Context, track *model.GatedTrack, targets []*model.FollowTarget, identity *session.Identity, meta RequestMeta) (access *model.GateAccess, followings map[string]struct{}, warning string) {
	if identity == nil || identity.UserURN == "" || identity.AccessToken == "" {
		return nil, nil, ""
	}
	if !v.api.Configured() {
		return nil, nil, ""
	}
	if !track.RequireLike && !track.RequireComment && !track.RequireFollow {
		return nil, nil, ""
	}
	if track.SoundCloudTrackURN == "" {
		return nil, nil, "This gate isn't fully configured yet (missing track identifier). Try again later."
	}

	// Make sure we have the artist identity if follow is required; then
	// fill in any unresolved extra targets. Both best-effort.
	if track.RequireFollow && track.SoundCloudArtistURN == "" {
		if err := v.EnsureTrackIdentifiers(ctx, track, identity.AccessToken); err != nil {
			logger.Debug("artist resolution failed during refresh",
				logger.String("trackId", track.ID),
				logger.ErrorField(err))
		}
	}
	if track.RequireFollow {
		v.ResolveFollowTargets(ctx, targets, identity.AccessToken)
	}

	liked, commented, followed, followings, err := v.checkAll(ctx, track, targets, identity.AccessToken, identity.UserURN)
	if err != nil {
		if err != ErrArtistUnresolved {
			logger.Warn("verification refresh failed",
				logger.String("trackId", track.ID),
				logger.String("userUrn", identity.UserURN),
				logger.ErrorField(err))
			return nil, nil, "Could not verify your actions on SoundCloud right now."
		}
		// Unresolved artist is a configuration gap, not an API fault:
		// follow stays unverified but the like/comment progress just
		// computed is still merged.
		followed = false
		warning = "This gate isn't fully configured yet (missing artist identity), so the follow can't be verified."
	}

	merged, mergeErr := v.accesses.MergeVerification(track.ID, identity.UserURN, repository.VerificationUpdate{
		LikedNow:     liked,
		CommentedNow: commented,
		FollowedNow:  followed,
		Username:     identity.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
	if mergeErr != nil {
		logger.Error("failed to merge verification result",
			logger.String("trackId", track.ID),
			logger.String("userUrn", identity.UserURN),
			logger.ErrorField(mergeErr))
		return nil, nil, "Could not record your verification status. Try again."
	}
	return merged, followings, warning
}

// Merge persists one verification result for an identity. Used by the
// callback and action handlers; page refreshes go through Refresh instead.
func (v *Verifier) Merge(track *model.GatedTrack, identity *session.Identity, liked, commented, followed bool, meta RequestMeta) (*model.GateAccess, error) {
	return v.accesses.MergeVerification(track.ID, identity.UserURN, repository.VerificationUpdate{
		LikedNow:     liked,
		CommentedNow: commented,
		FollowedNow:  followed,
		Username:     identity.Username,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
	})
}

// VerifyAtCallback runs the full requirement check right after the OAuth
// code exchange. Unlike Refresh, upstream failures propagate so the
// callback handler can message the user and redirect.
func (v *Verifier) VerifyAtCallback(ctx context.Context, track *model.GatedTrack, targets []*model.FollowTarget, accessToken, userURN string) (liked, commented, followed bool, err error) {
	if track.SoundCloudTrackURN == "" {
		return false, false, false, ErrTrackUnresolved
	}
	if track.RequireFollow {
		v.ResolveFollowTargets(ctx, targets, accessToken)
	}
	liked, commented, followed, _, err = v.checkAll(ctx, track, targets, accessToken, userURN)
	return liked, commented, followed, err
}

// Decision is the rendered gate state, computed from persisted flags only.
type Decision struct {
	LikedOK             bool `json:"likedOk"`
	CommentedOK         bool `json:"commentedOk"`
	FollowedOK          bool `json:"followedOk"`
	FollowNotApplicable bool `json:"followNotApplicable"`
	FileReady           bool `json:"fileReady"`
	CanDownload         bool `json:"canDownload"`
}

// Decide evaluates the gate for rendering. access may be nil (never
// verified); userURN may be empty (not connected).
func Decide(track *model.GatedTrack, access *model.GateAccess, userURN string) Decision {
	d := Decision{LikedOK: true, CommentedOK: true, FollowedOK: true}
	if track.RequireLike {
		d.LikedOK = access != nil && access.VerifiedLike
	}
	if track.RequireComment {
		d.CommentedOK = access != nil && access.VerifiedComment
	}
	if track.RequireFollow {
		d.FollowedOK = access != nil && access.VerifiedFollow
		d.FollowNotApplicable = userURN != "" &&
			track.SoundCloudArtistURN != "" &&
			userURN == track.SoundCloudArtistURN
	}
	d.FileReady = track.FileReady()
	d.CanDownload = d.FileReady && d.LikedOK && d.CommentedOK && d.FollowedOK
	return d
}

// CheckDownload enforces the gate for a download request using only the
// persisted record; no live API calls happen here. Returns nil when every
// currently-required flag is satisfied.
func CheckDownload(track *model.GatedTrack, access *model.GateAccess) error {
	if access == nil {
		return ErrNotVerified
	}
	if track.RequireLike && !access.VerifiedLike {
		return ErrLikeRequired
	}
	if track.RequireComment && !access.VerifiedComment {
		return ErrCommentRequired
	}
	if track.RequireFollow && !access.VerifiedFollow {
		return ErrFollowRequired
	}
	return nil
}
