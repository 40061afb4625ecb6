package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"
	"github.com/bandpassrecords/scgate/storage"

	"github.com/gorilla/mux"
)

var nonAlphaNumeric = regexp.MustCompile(`[^a-zA-Z0-9_\-\.]`)
var multipleSpaces = regexp.MustCompile(`\s+`)

// sanitizeFilename makes an upload filename safe for storage keys and
// Content-Disposition headers.
func sanitizeFilename(name string) string {
	base := strings.TrimSpace(name)
	if base == "" {
		base = "download"
	}
	base = multipleSpaces.ReplaceAllString(base, "_")
	base = nonAlphaNumeric.ReplaceAllString(base, "")
	if len(base) > 150 {
		base = base[:150]
	}
	if base == "" {
		base = "download"
	}
	return base
}

// gatePayload is the owner-facing body for create/update.
type gatePayload struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	SoundCloudTrackURL string `json:"soundcloudTrackUrl"`
	RequireLike        bool   `json:"requireLike"`
	RequireComment     bool   `json:"requireComment"`
	RequireFollow      bool   `json:"requireFollow"`
	DownloadFilename   string `json:"downloadFilename"`
	IsActive           *bool  `json:"isActive"`
	IsListed           *bool  `json:"isListed"`
}

// ownedTrack loads a track by public id and checks it belongs to the
// authenticated owner. Writes the error response itself and returns nil
// when the caller should stop.
func (h *APIHandler) ownedTrack(w http.ResponseWriter, r *http.Request) *model.GatedTrack {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil
	}

	publicID := mux.Vars(r)["public_id"]
	track, err := h.trackRepo.GetTrackByPublicID(publicID)
	if err != nil {
		logger.Error("failed to load gate", logger.String("publicId", publicID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to load gate")
		return nil
	}
	if track == nil || track.OwnerID != userID {
		// Hide existence of other owners' gates.
		writeError(w, http.StatusNotFound, "Gate not found")
		return nil
	}
	return track
}

// GetMyGatesHandler lists the authenticated owner's gates.
func (h *APIHandler) GetMyGatesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	tracks, err := h.trackRepo.GetTracksByOwnerID(userID)
	if err != nil {
		logger.Error("failed to list gates", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve gates")
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// CreateGateHandler creates a new gate. The gated file is uploaded in a
// separate step; until then the gate renders but cannot serve downloads.
func (h *APIHandler) CreateGateHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req gatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == "" || req.SoundCloudTrackURL == "" {
		writeError(w, http.StatusBadRequest, "Title and soundcloudTrackUrl are required")
		return
	}
	if !req.RequireLike && !req.RequireComment && !req.RequireFollow {
		writeError(w, http.StatusBadRequest, "At least one requirement must be enabled")
		return
	}

	track := &model.GatedTrack{
		OwnerID:            userID,
		Title:              req.Title,
		Description:        req.Description,
		SoundCloudTrackURL: req.SoundCloudTrackURL,
		RequireLike:        req.RequireLike,
		RequireComment:     req.RequireComment,
		RequireFollow:      req.RequireFollow,
		DownloadFilename:   req.DownloadFilename,
		IsActive:           true,
	}
	if req.IsActive != nil {
		track.IsActive = *req.IsActive
	}
	if req.IsListed != nil {
		track.IsListed = *req.IsListed
	}

	if err := h.trackRepo.CreateTrack(track); err != nil {
		logger.Error("failed to create gate", logger.Int64("userId", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to create gate")
		return
	}

	// Resolve the track URN eagerly so the gate is usable right away; a
	// failure here just defers resolution to the first page view.
	if err := h.verifier.EnsureTrackIdentifiers(r.Context(), track, ""); err != nil {
		logger.Warn("track resolution failed on create",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}

	writeJSON(w, http.StatusCreated, track)
}

// UpdateGateHandler updates the owner-editable fields of a gate.
func (h *APIHandler) UpdateGateHandler(w http.ResponseWriter, r *http.Request) {
	track := h.ownedTrack(w, r)
	if track == nil {
		return
	}

	var req gatePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title != "" {
		track.Title = req.Title
	}
	track.Description = req.Description
	if req.SoundCloudTrackURL != "" {
		track.SoundCloudTrackURL = req.SoundCloudTrackURL
	}
	track.RequireLike = req.RequireLike
	track.RequireComment = req.RequireComment
	track.RequireFollow = req.RequireFollow
	if !track.RequireLike && !track.RequireComment && !track.RequireFollow {
		writeError(w, http.StatusBadRequest, "At least one requirement must be enabled")
		return
	}
	track.DownloadFilename = req.DownloadFilename
	if req.IsActive != nil {
		track.IsActive = *req.IsActive
	}
	if req.IsListed != nil {
		track.IsListed = *req.IsListed
	}

	if err := h.trackRepo.UpdateTrack(track); err != nil {
		logger.Error("failed to update gate", logger.String("trackId", track.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to update gate")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// DeleteGateHandler deletes a gate. The stored file is removed best-effort
// first; an orphaned blob is preferable to a dangling row.
func (h *APIHandler) DeleteGateHandler(w http.ResponseWriter, r *http.Request) {
	track := h.ownedTrack(w, r)
	if track == nil {
		return
	}

	if track.FileObject != "" {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := storage.RemoveObject(ctx, track.FileObject); err != nil {
			logger.Warn("failed to remove gate file",
				logger.String("trackId", track.ID),
				logger.ErrorField(err))
		}
	}

	if err := h.trackRepo.DeleteTrack(track.ID); err != nil {
		logger.Error("failed to delete gate", logger.String("trackId", track.ID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete gate")
		return
	}
	logger.Info("gate deleted", logger.String("trackId", track.ID))
	w.WriteHeader(http.StatusNoContent)
}

// UploadGateFileHandler handles the gated file upload.
// Expected multipart form fields:
// - file: the gated file
// - downloadFilename: served filename override (optional)
func (h *APIHandler) UploadGateFileHandler(w http.ResponseWriter, r *http.Request) {
	track := h.ownedTrack(w, r)
	if track == nil {
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil { // 64MB max memory
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'file' in form")
		return
	}
	defer file.Close()

	safeName := sanitizeFilename(header.Filename)
	if filepath.Ext(safeName) == "" {
		safeName += ".dat"
	}
	objectKey := fmt.Sprintf("gates/%s/%s", track.ID, safeName)

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := storage.PutObject(ctx, objectKey, file, header.Size, contentType); err != nil {
		logger.Error("failed to store gate file",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	// Replacing the file leaves the old object behind; remove it after the
	// new one is safely in place.
	oldObject := track.FileObject
	if err := h.trackRepo.SetFileObject(track.ID, objectKey, r.FormValue("downloadFilename")); err != nil {
		logger.Error("failed to record gate file",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to record file")
		return
	}
	if oldObject != "" && oldObject != objectKey {
		if err := storage.RemoveObject(ctx, oldObject); err != nil {
			logger.Warn("failed to remove replaced gate file",
				logger.String("trackId", track.ID),
				logger.ErrorField(err))
		}
	}

	logger.Info("gate file uploaded",
		logger.String("trackId", track.ID),
		logger.String("object", objectKey),
		logger.Int64("size", header.Size))

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":          "File uploaded successfully",
		"downloadFilename": safeName,
	})
}

// AddFollowTargetHandler adds an extra profile that must be followed.
func (h *APIHandler) AddFollowTargetHandler(w http.ResponseWriter, r *http.Request) {
	track := h.ownedTrack(w, r)
	if track == nil {
		return
	}

	var req struct {
		ProfileURL string `json:"profileUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ProfileURL) == "" {
		writeError(w, http.StatusBadRequest, "profileUrl is required")
		return
	}

	target := &model.FollowTarget{
		TrackID:    track.ID,
		ProfileURL: strings.TrimSpace(req.ProfileURL),
	}
	if err := h.targetRepo.CreateTarget(target); err != nil {
		logger.Error("failed to add follow target",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to add follow target")
		return
	}

	// Best-effort resolution so the username shows up immediately.
	h.verifier.ResolveFollowTargets(r.Context(), []*model.FollowTarget{target}, "")

	writeJSON(w, http.StatusCreated, target)
}

// RemoveFollowTargetHandler removes an extra follow target.
func (h *APIHandler) RemoveFollowTargetHandler(w http.ResponseWriter, r *http.Request) {
	track := h.ownedTrack(w, r)
	if track == nil {
		return
	}

	targetID, err := strconv.ParseInt(mux.Vars(r)["target_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid target ID")
		return
	}

	if err := h.targetRepo.DeleteTarget(track.ID, targetID); err != nil {
		logger.Error("failed to remove follow target",
			logger.String("trackId", track.ID),
			logger.Int64("targetId", targetID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to remove follow target")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
