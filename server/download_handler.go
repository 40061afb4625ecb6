package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/bandpassrecords/scgate/core/gate"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/storage"

	"github.com/gorilla/mux"
)

// DownloadHandler serves the gated file. Enforcement reads the persisted
// verification flags only; no SoundCloud calls happen on this path. After a
// successful download the session token is cleared so the next visit re-runs
// verification.
func (h *APIHandler) DownloadHandler(w http.ResponseWriter, r *http.Request) {
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
	if identity == nil || identity.UserURN == "" {
		writeError(w, http.StatusUnauthorized, gate.ErrNoIdentity.Error())
		return
	}

	access, err := h.accessRepo.GetAccess(track.ID, identity.UserURN)
	if err != nil {
		logger.Error("failed to load access record",
			logger.String("trackId", track.ID),
			logger.String("userUrn", identity.UserURN),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to check verification status")
		return
	}

	if err := gate.CheckDownload(track, access); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, gate.ErrNotVerified) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, err.Error())
		return
	}

	if !track.FileReady() {
		writeError(w, http.StatusNotFound, gate.ErrFileMissing.Error())
		return
	}

	object, size, err := storage.GetObject(r.Context(), track.FileObject)
	if err != nil {
		logger.Error("gated file missing from storage",
			logger.String("trackId", track.ID),
			logger.String("object", track.FileObject),
			logger.ErrorField(err))
		writeError(w, http.StatusNotFound, gate.ErrFileMissing.Error())
		return
	}
	defer object.Close()

	// Counters first; a client that drops mid-stream still consumed the gate.
	meta := requestMeta(r)
	if err := h.accessRepo.RecordDownload(access.ID, meta.IPAddress, meta.UserAgent); err != nil {
		logger.Error("failed to record download",
			logger.Int64("accessId", access.ID),
			logger.ErrorField(err))
	}
	if err := h.trackRepo.IncrementDownloadCount(track.ID); err != nil {
		logger.Error("failed to bump download count",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}

	// One download per verification round; drop the token so the next gate
	// visit reconnects and re-verifies.
	if err := h.sessions.ClearToken(r.Context(), sessionID); err != nil {
		logger.Warn("failed to clear session token after download",
			logger.ErrorField(err))
	}

	filename := track.ResolvedDownloadFilename()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}

	if _, err := io.Copy(w, object); err != nil {
		logger.Warn("download stream interrupted",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		return
	}

	logger.Info("gated file downloaded",
		logger.String("trackId", track.ID),
		logger.String("userUrn", identity.UserURN),
		logger.String("file", filename))
}
