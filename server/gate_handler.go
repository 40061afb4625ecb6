package server

import (
	"net/http"

	"github.com/bandpassrecords/scgate/core/gate"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"

	"github.com/gorilla/mux"
)

// browseLimit caps the public browse listing.
const browseLimit = 100

// publicGate is the fan-facing projection of a gate.
type publicGate struct {
	PublicID           string `json:"publicId"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	SoundCloudTrackURL string `json:"soundcloudTrackUrl"`
	ArtistUsername     string `json:"artistUsername,omitempty"`
	RequireLike        bool   `json:"requireLike"`
	RequireComment     bool   `json:"requireComment"`
	RequireFollow      bool   `json:"requireFollow"`
	FileReady          bool   `json:"fileReady"`
}

func toPublicGate(t *model.GatedTrack) publicGate {
	return publicGate{
		PublicID:           t.PublicID,
		Title:              t.Title,
		Description:        t.Description,
		SoundCloudTrackURL: t.SoundCloudTrackURL,
		ArtistUsername:     t.SoundCloudArtistUsername,
		RequireLike:        t.RequireLike,
		RequireComment:     t.RequireComment,
		RequireFollow:      t.RequireFollow,
		FileReady:          t.FileReady(),
	}
}

// followTargetStatus is the per-profile follow state shown on the gate page.
type followTargetStatus struct {
	ID       int64  `json:"id,omitempty"`
	Username string `json:"username,omitempty"`
	URL      string `json:"url,omitempty"`
	Followed bool   `json:"followed"`
	IsViewer bool   `json:"isViewer"`
}

// BrowseGatesHandler lists active, publicly listed gates.
func (h *APIHandler) BrowseGatesHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.trackRepo.GetListedTracks(browseLimit)
	if err != nil {
		logger.Error("failed to list gates", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to list gates")
		return
	}

	gates := make([]publicGate, 0, len(tracks))
	for _, t := range tracks {
		gates = append(gates, toPublicGate(t))
	}
	writeJSON(w, http.StatusOK, gates)
}

// ViewGateHandler renders the public gate page state. When the session holds
// a live SoundCloud token, verification is refreshed against the API first;
// without one the persisted state is shown as-is.
func (h *APIHandler) ViewGateHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["public_id"]
	track, err := h.trackRepo.GetActiveTrackByPublicID(publicID)
	if err != nil {
		logger.Error("failed to load gate", logger.String("publicId", publicID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load gate")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, "Gate not found")
		return
	}

	sessionID := h.sessionID(w, r)
	identity := h.identity(r.Context(), sessionID)

	token := ""
	userURN := ""
	username := ""
	if identity != nil {
		token = identity.AccessToken
		userURN = identity.UserURN
		username = identity.Username
	}

	// Fill in identifiers lazily; gates created before credentials were
	// configured resolve on first view.
	if err := h.verifier.EnsureTrackIdentifiers(r.Context(), track, token); err != nil {
		logger.Debug("track resolution failed on view",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}

	targets, err := h.targetRepo.GetTargetsByTrackID(track.ID)
	if err != nil {
		logger.Error("failed to load follow targets",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		targets = nil
	}

	access, followings, warning := h.verifier.Refresh(r.Context(), track, targets, identity, requestMeta(r))
	if access == nil && userURN != "" {
		// No live refresh (expired token, API down); fall back to what we
		// have on record.
		access, err = h.accessRepo.GetAccess(track.ID, userURN)
		if err != nil {
			logger.Error("failed to load access record",
				logger.String("trackId", track.ID),
				logger.ErrorField(err))
			access = nil
		}
	}

	decision := gate.Decide(track, access, userURN)

	response := map[string]interface{}{
		"gate":        toPublicGate(track),
		"connected":   userURN != "",
		"tokenActive": token != "",
		"decision":    decision,
	}
	if username != "" {
		response["username"] = username
	}
	if warning != "" {
		response["warning"] = warning
	}

	if track.RequireFollow {
		// Per-target badges reuse the followings fetched by the refresh;
		// nil means no fetch happened (no token, self-only, API down) and
		// only self-references can show as followed.
		inFollowings := func(urn string) bool {
			if urn == "" || followings == nil {
				return false
			}
			_, ok := followings[urn]
			return ok
		}

		statuses := make([]followTargetStatus, 0, len(targets)+1)
		statuses = append(statuses, followTargetStatus{
			Username: track.SoundCloudArtistUsername,
			URL:      track.SoundCloudTrackURL,
			Followed: inFollowings(track.SoundCloudArtistURN) ||
				(userURN != "" && userURN == track.SoundCloudArtistURN),
			IsViewer: userURN != "" && userURN == track.SoundCloudArtistURN,
		})
		for _, t := range targets {
			statuses = append(statuses, followTargetStatus{
				ID:       t.ID,
				Username: t.SoundCloudUsername,
				URL:      t.ProfileURL,
				Followed: inFollowings(t.SoundCloudUserURN) ||
					(userURN != "" && userURN == t.SoundCloudUserURN),
				IsViewer: userURN != "" && userURN == t.SoundCloudUserURN,
			})
		}
		response["followTargets"] = statuses
	}

	writeJSON(w, http.StatusOK, response)
}
