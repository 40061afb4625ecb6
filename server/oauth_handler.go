package server

import (
	"net/http"
	"net/url"
	"time"

	"github.com/bandpassrecords/scgate/core/session"
	"github.com/bandpassrecords/scgate/core/soundcloud"
	"github.com/bandpassrecords/scgate/logger"

	"github.com/gorilla/mux"
)

// redirectURI returns the OAuth callback URL. The token-exchange redirect_uri
// must byte-exact match the authorize one, so a fixed configured value wins
// over the derived URL.
func (h *APIHandler) redirectURI() string {
	if h.cfg.SoundCloudRedirectURI != "" {
		return h.cfg.SoundCloudRedirectURI
	}
	return h.cfg.PublicBaseURL + "/api/soundcloud/callback"
}

// gateURL builds the fan-facing gate page URL with optional query params.
func (h *APIHandler) gateURL(publicID string, params url.Values) string {
	u := h.cfg.PublicBaseURL + "/gates/" + publicID
	if publicID == "" {
		u = h.cfg.PublicBaseURL + "/"
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// ConnectHandler starts the OAuth round-trip for a gate: it stores the
// one-time state + PKCE verifier in the session and redirects to SoundCloud.
func (h *APIHandler) ConnectHandler(w http.ResponseWriter, r *http.Request) {
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
	if !h.sc.Configured() {
		writeError(w, http.StatusServiceUnavailable, "SoundCloud connection is not configured")
		return
	}

	state, err := soundcloud.GenerateState()
	if err != nil {
		logger.Error("failed to generate oauth state", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to start SoundCloud connection")
		return
	}
	verifier, challenge, err := soundcloud.GeneratePKCEPair()
	if err != nil {
		logger.Error("failed to generate PKCE pair", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to start SoundCloud connection")
		return
	}

	sessionID := h.sessionID(w, r)
	flow := session.FlowState{
		State:          state,
		Verifier:       verifier,
		TargetPublicID: publicID,
	}
	if err := h.sessions.SaveFlow(r.Context(), sessionID, flow); err != nil {
		logger.Error("failed to store oauth flow", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to start SoundCloud connection")
		return
	}

	http.Redirect(w, r, h.sc.BuildAuthorizeURL(h.redirectURI(), state, challenge), http.StatusFound)
}

// CallbackHandler completes the OAuth round-trip: validates state, exchanges
// the code with the PKCE verifier, loads the identity, runs the first
// verification pass and sends the user back to the gate page.
//
// State/verifier/code integrity failures are answered with 4xx and never
// redirected; a provider-reported error (user denied) is a friendly redirect.
func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	ctx := r.Context()
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		// The user canceled or SoundCloud refused. Consume the flow and
		// route back with a message.
		target := h.sessions.PeekFlowTarget(ctx, sessionID)
		h.sessions.TakeFlow(ctx, sessionID)
		logger.Info("oauth flow declined by provider",
			logger.String("error", provErr))
		http.Redirect(w, r, h.gateURL(target, url.Values{"scError": {provErr}}), http.StatusFound)
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "Missing state or code")
		return
	}

	flow, err := h.sessions.TakeFlow(ctx, sessionID)
	if err != nil {
		logger.Error("failed to read oauth flow", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to complete SoundCloud connection")
		return
	}
	if flow == nil || flow.State != state || flow.Verifier == "" {
		logger.Warn("oauth state validation failed",
			logger.Bool("flowPresent", flow != nil))
		writeError(w, http.StatusBadRequest, "Invalid SoundCloud authorization state")
		return
	}

	token, err := h.sc.ExchangeCode(ctx, code, h.redirectURI(), flow.Verifier)
	if err != nil {
		logger.Error("code exchange failed", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Failed to complete SoundCloud connection")
		return
	}

	me, err := h.sc.Me(ctx, token.AccessToken)
	if err != nil || me.UserURN() == "" {
		logger.Error("identity fetch failed", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "Failed to load your SoundCloud profile")
		return
	}

	identity := session.Identity{
		UserURN:     me.UserURN(),
		Username:    me.Username,
		AccessToken: token.AccessToken,
	}
	if token.ExpiresIn > 0 {
		identity.ExpiresAt = time.Now().Unix() + token.ExpiresIn
	}
	if err := h.sessions.SaveIdentity(ctx, sessionID, identity); err != nil {
		logger.Error("failed to store identity", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to complete SoundCloud connection")
		return
	}

	logger.Info("soundcloud identity connected",
		logger.String("userUrn", identity.UserURN),
		logger.String("username", identity.Username))

	track, err := h.trackRepo.GetActiveTrackByPublicID(flow.TargetPublicID)
	if err != nil || track == nil {
		// Gate vanished mid-flow; the login still stands.
		http.Redirect(w, r, h.gateURL("", nil), http.StatusFound)
		return
	}

	if err := h.verifier.EnsureTrackIdentifiers(ctx, track, token.AccessToken); err != nil {
		logger.Debug("track resolution failed at callback",
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

	params := url.Values{}
	liked, commented, followed, verr := h.verifier.VerifyAtCallback(ctx, track, targets, token.AccessToken, identity.UserURN)
	if verr != nil {
		logger.Warn("verification at callback failed",
			logger.String("trackId", track.ID),
			logger.String("userUrn", identity.UserURN),
			logger.ErrorField(verr))
		params.Set("scWarning", "Connected, but we could not verify your actions yet. Try refreshing.")
	} else {
		meta := requestMeta(r)
		if _, err := h.verifier.Merge(track, &identity, liked, commented, followed, meta); err != nil {
			logger.Error("failed to record verification at callback",
				logger.String("trackId", track.ID),
				logger.ErrorField(err))
			params.Set("scWarning", "Connected, but we could not record your verification status.")
		}
	}

	http.Redirect(w, r, h.gateURL(track.PublicID, params), http.StatusFound)
}

// LogoutHandler clears the session's SoundCloud state (fan logout).
func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	publicID := mux.Vars(r)["public_id"]
	sessionID := h.sessionID(w, r)
	if err := h.sessions.Clear(r.Context(), sessionID); err != nil {
		logger.Error("failed to clear session", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Disconnected from SoundCloud",
		"gate":    publicID,
	})
}
