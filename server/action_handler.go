package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"

	"github.com/gorilla/mux"
)

// actionContext is the common prelude shared by the SoundCloud action
// handlers: an active gate plus a connected identity with a live token.
type actionContext struct {
	track    *model.GatedTrack
	identity *session.Identity
}

// actionPrelude loads the gate and the session identity, writing the error
// response itself and returning nil when the caller should stop.
func (h *APIHandler) actionPrelude(w http.ResponseWriter, r *http.Request) *actionContext {
	if !h.sc.Configured() {
		writeError(w, http.StatusServiceUnavailable, "SoundCloud connection is not configured")
		return nil
	}

	publicID := mux.Vars(r)["public_id"]
	track, err := h.trackRepo.GetActiveTrackByPublicID(publicID)
	if err != nil {
		logger.Error("failed to load gate", logger.String("publicId", publicID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load gate")
		return nil
	}
	if track == nil {
		writeError(w, http.StatusNotFound, "Gate not found")
		return nil
	}

	sessionID := h.sessionID(w, r)
	identity := h.identity(r.Context(), sessionID)
	if identity == nil || identity.UserURN == "" {
		writeError(w, http.StatusUnauthorized, "Connect SoundCloud first")
		return nil
	}
	if identity.AccessToken == "" {
		writeError(w, http.StatusUnauthorized, "Your SoundCloud session expired, reconnect to continue")
		return nil
	}
	return &actionContext{track: track, identity: identity}
}

// LikeActionHandler likes the gated track for the connected identity and
// optimistically records the flag; liking twice is a no-op upstream.
func (h *APIHandler) LikeActionHandler(w http.ResponseWriter, r *http.Request) {
	ac := h.actionPrelude(w, r)
	if ac == nil {
		return
	}
	ctx := r.Context()

	if err := h.verifier.EnsureTrackIdentifiers(ctx, ac.track, ac.identity.AccessToken); err != nil {
		logger.Debug("track resolution failed before like",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
	}
	if ac.track.SoundCloudTrackURN == "" {
		writeError(w, http.StatusConflict, "This gate isn't fully configured yet. Try again later.")
		return
	}

	if err := h.sc.LikeTrack(ctx, ac.identity.AccessToken, ac.track.SoundCloudTrackURN); err != nil {
		logger.Warn("like action failed",
			logger.String("trackId", ac.track.ID),
			logger.String("userUrn", ac.identity.UserURN),
			logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Could not like the track on SoundCloud")
		return
	}

	meta := requestMeta(r)
	if err := h.accessRepo.MarkLike(ac.track.ID, ac.identity.UserURN, ac.identity.Username, meta.IPAddress, meta.UserAgent); err != nil {
		logger.Error("failed to record like",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Liked, but recording the status failed. Refresh the page.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"likedOk": true})
}

// CommentActionHandler posts a comment on the gated track and optimistically
// records the flag.
func (h *APIHandler) CommentActionHandler(w http.ResponseWriter, r *http.Request) {
	ac := h.actionPrelude(w, r)
	if ac == nil {
		return
	}
	ctx := r.Context()

	var req struct {
		Comment   string `json:"comment"`
		Timestamp *int64 `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Comment = strings.TrimSpace(req.Comment)
	if req.Comment == "" {
		writeError(w, http.StatusBadRequest, "Comment text is required")
		return
	}

	if err := h.verifier.EnsureTrackIdentifiers(ctx, ac.track, ac.identity.AccessToken); err != nil {
		logger.Debug("track resolution failed before comment",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
	}
	if ac.track.SoundCloudTrackURN == "" {
		writeError(w, http.StatusConflict, "This gate isn't fully configured yet. Try again later.")
		return
	}

	if err := h.sc.PostComment(ctx, ac.identity.AccessToken, ac.track.SoundCloudTrackURN, req.Comment, req.Timestamp); err != nil {
		logger.Warn("comment action failed",
			logger.String("trackId", ac.track.ID),
			logger.String("userUrn", ac.identity.UserURN),
			logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Could not post the comment on SoundCloud")
		return
	}

	meta := requestMeta(r)
	if err := h.accessRepo.MarkComment(ac.track.ID, ac.identity.UserURN, ac.identity.Username, meta.IPAddress, meta.UserAgent); err != nil {
		logger.Error("failed to record comment",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Commented, but recording the status failed. Refresh the page.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"commentedOk": true})
}

// followAndRecompute follows one profile (unless the viewer is that profile)
// and then recomputes the aggregate follow flag across artist + all targets.
func (h *APIHandler) followAndRecompute(w http.ResponseWriter, r *http.Request, ac *actionContext, followURN string) {
	ctx := r.Context()

	if followURN != ac.identity.UserURN {
		if err := h.sc.FollowUser(ctx, ac.identity.AccessToken, followURN); err != nil {
			logger.Warn("follow action failed",
				logger.String("trackId", ac.track.ID),
				logger.String("targetUrn", followURN),
				logger.ErrorField(err))
			writeError(w, http.StatusBadGateway, "Could not follow on SoundCloud")
			return
		}
	}

	targets, err := h.targetRepo.GetTargetsByTrackID(ac.track.ID)
	if err != nil {
		logger.Error("failed to load follow targets",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
		targets = nil
	}
	h.verifier.ResolveFollowTargets(ctx, targets, ac.identity.AccessToken)

	followed, err := h.verifier.FollowedNow(ctx, ac.track, targets, ac.identity.AccessToken, ac.identity.UserURN)
	if err != nil {
		// The follow itself went through; the recompute will catch up on
		// the next page view instead of downgrading on a flaky fetch.
		logger.Warn("follow recompute failed",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"followedOk": false,
			"warning":    "Followed, but verification is still catching up. Refresh the page.",
		})
		return
	}

	meta := requestMeta(r)
	if err := h.accessRepo.SetFollow(ac.track.ID, ac.identity.UserURN, ac.identity.Username, followed, meta.IPAddress, meta.UserAgent); err != nil {
		logger.Error("failed to record follow state",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Followed, but recording the status failed. Refresh the page.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"followedOk": followed})
}

// FollowActionHandler follows the gate's artist.
func (h *APIHandler) FollowActionHandler(w http.ResponseWriter, r *http.Request) {
	ac := h.actionPrelude(w, r)
	if ac == nil {
		return
	}

	if err := h.verifier.EnsureTrackIdentifiers(r.Context(), ac.track, ac.identity.AccessToken); err != nil {
		logger.Debug("track resolution failed before follow",
			logger.String("trackId", ac.track.ID),
			logger.ErrorField(err))
	}
	if ac.track.SoundCloudArtistURN == "" {
		writeError(w, http.StatusConflict, "The artist profile could not be resolved yet. Try again later.")
		return
	}

	h.followAndRecompute(w, r, ac, ac.track.SoundCloudArtistURN)
}

// FollowTargetActionHandler follows one of the gate's extra follow targets.
func (h *APIHandler) FollowTargetActionHandler(w http.ResponseWriter, r *http.Request) {
	ac := h.actionPrelude(w, r)
	if ac == nil {
		return
	}

	targetID, err := strconv.ParseInt(mux.Vars(r)["target_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}
	target, err := h.targetRepo.GetTargetByID(ac.track.ID, targetID)
	if err != nil {
		logger.Error("failed to load follow target",
			logger.String("trackId", ac.track.ID),
			logger.Int64("targetId", targetID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load follow target")
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "Follow target not found")
		return
	}

	if target.SoundCloudUserURN == "" {
		h.verifier.ResolveFollowTargets(r.Context(), []*model.FollowTarget{target}, ac.identity.AccessToken)
	}
	if target.SoundCloudUserURN == "" {
		writeError(w, http.StatusConflict, "This profile could not be resolved yet. Try again later.")
		return
	}

	h.followAndRecompute(w, r, ac, target.SoundCloudUserURN)
}
