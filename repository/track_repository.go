package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bandpassrecords/scgate/db"
	"github.com/bandpassrecords/scgate/logger"
	"github.com/bandpassrecords/scgate/model"

	"github.com/google/uuid"
)

// TrackRepository defines the interface for gated-track data operations.
type TrackRepository interface {
	CreateTrack(track *model.GatedTrack) error
	GetTrackByPublicID(publicID string) (*model.GatedTrack, error)
	GetActiveTrackByPublicID(publicID string) (*model.GatedTrack, error)
	GetTracksByOwnerID(ownerID int64) ([]*model.GatedTrack, error)
	GetListedTracks(limit int) ([]*model.GatedTrack, error)
	UpdateTrack(track *model.GatedTrack) error
	// SetTrackIdentifiers fills in resolved SoundCloud identifiers. Columns
	// that already hold a value are left untouched: identifiers are
	// write-once to avoid churn from API inconsistency.
	SetTrackIdentifiers(trackID, trackURN, artistURN, artistUsername string) error
	SetFileObject(trackID, fileObject, downloadFilename string) error
	IncrementDownloadCount(trackID string) error
	DeleteTrack(trackID string) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, owner_id, public_id, title, description, soundcloud_track_url,
	soundcloud_track_urn, soundcloud_artist_urn, soundcloud_artist_username,
	require_like, require_comment, require_follow, file_object, download_filename,
	is_active, is_listed, download_count, created_at, updated_at`

func scanTrack(row interface{ Scan(...interface{}) error }) (*model.GatedTrack, error) {
	track := &model.GatedTrack{}
	var description sql.NullString
	err := row.Scan(
		&track.ID, &track.OwnerID, &track.PublicID, &track.Title, &description,
		&track.SoundCloudTrackURL, &track.SoundCloudTrackURN, &track.SoundCloudArtistURN,
		&track.SoundCloudArtistUsername, &track.RequireLike, &track.RequireComment,
		&track.RequireFollow, &track.FileObject, &track.DownloadFilename,
		&track.IsActive, &track.IsListed, &track.DownloadCount,
		&track.CreatedAt, &track.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	track.Description = description.String
	return track, nil
}

// CreateTrack adds a new gated track, assigning its UUID and public id.
func (r *mysqlTrackRepository) CreateTrack(track *model.GatedTrack) error {
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.PublicID == "" {
		track.PublicID = model.NewPublicID()
	}

	query := `INSERT INTO gated_tracks (id, owner_id, public_id, title, description,
		soundcloud_track_url, require_like, require_comment, require_follow,
		download_filename, is_active, is_listed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	_, err = stmt.Exec(track.ID, track.OwnerID, track.PublicID, track.Title, track.Description,
		track.SoundCloudTrackURL, track.RequireLike, track.RequireComment, track.RequireFollow,
		track.DownloadFilename, track.IsActive, track.IsListed, now, now)
	if err != nil {
		return fmt.Errorf("failed to execute CreateTrack: %w", err)
	}
	logger.Info("gated track created",
		logger.String("trackId", track.ID),
		logger.String("publicId", track.PublicID))
	return nil
}

// GetTrackByPublicID retrieves a track by its public id. Returns (nil, nil)
// when not found.
func (r *mysqlTrackRepository) GetTrackByPublicID(publicID string) (*model.GatedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM gated_tracks WHERE public_id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, publicID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan track by public id %s: %w", publicID, err)
	}
	return track, nil
}

// GetActiveTrackByPublicID retrieves an active track by its public id.
func (r *mysqlTrackRepository) GetActiveTrackByPublicID(publicID string) (*model.GatedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM gated_tracks WHERE public_id = ? AND is_active = TRUE`
	track, err := scanTrack(r.DB.QueryRow(query, publicID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan active track by public id %s: %w", publicID, err)
	}
	return track, nil
}

// GetTracksByOwnerID retrieves all tracks owned by a user.
func (r *mysqlTrackRepository) GetTracksByOwnerID(ownerID int64) ([]*model.GatedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM gated_tracks WHERE owner_id = ? ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for owner %d: %w", ownerID, err)
	}
	defer rows.Close()

	tracks := make([]*model.GatedTrack, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetTracksByOwnerID: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetTracksByOwnerID: %w", err)
	}
	return tracks, nil
}

// GetListedTracks retrieves active, publicly listed tracks for browsing.
func (r *mysqlTrackRepository) GetListedTracks(limit int) ([]*model.GatedTrack, error) {
	query := `SELECT ` + trackColumns + ` FROM gated_tracks
		WHERE is_active = TRUE AND is_listed = TRUE ORDER BY created_at DESC LIMIT ?`
	rows, err := r.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listed tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.GatedTrack, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in GetListedTracks: %w", err)
		}
		tracks = append(tracks, track)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetListedTracks: %w", err)
	}
	return tracks, nil
}

// UpdateTrack updates the owner-editable fields of a track.
func (r *mysqlTrackRepository) UpdateTrack(track *model.GatedTrack) error {
	query := `UPDATE gated_tracks SET title = ?, description = ?, soundcloud_track_url = ?,
		require_like = ?, require_comment = ?, require_follow = ?, download_filename = ?,
		is_active = ?, is_listed = ?, updated_at = ? WHERE id = ?`
	_, err := r.DB.Exec(query, track.Title, track.Description, track.SoundCloudTrackURL,
		track.RequireLike, track.RequireComment, track.RequireFollow, track.DownloadFilename,
		track.IsActive, track.IsListed, time.Now(), track.ID)
	if err != nil {
		return fmt.Errorf("failed to execute UpdateTrack for track %s: %w", track.ID, err)
	}
	return nil
}

// SetTrackIdentifiers persists resolved identifiers without overwriting
// columns that already hold a value.
func (r *mysqlTrackRepository) SetTrackIdentifiers(trackID, trackURN, artistURN, artistUsername string) error {
	query := `UPDATE gated_tracks SET
		soundcloud_track_urn = IF(soundcloud_track_urn = '' AND ? != '', ?, soundcloud_track_urn),
		soundcloud_artist_urn = IF(soundcloud_artist_urn = '' AND ? != '', ?, soundcloud_artist_urn),
		soundcloud_artist_username = IF(soundcloud_artist_username = '' AND ? != '', ?, soundcloud_artist_username),
		updated_at = ?
		WHERE id = ?`
	_, err := r.DB.Exec(query, trackURN, trackURN, artistURN, artistURN,
		artistUsername, artistUsername, time.Now(), trackID)
	if err != nil {
		return fmt.Errorf("failed to execute SetTrackIdentifiers for track %s: %w", trackID, err)
	}
	return nil
}

// SetFileObject records the uploaded file's object key and, when provided,
// the download filename.
func (r *mysqlTrackRepository) SetFileObject(trackID, fileObject, downloadFilename string) error {
	query := `UPDATE gated_tracks SET file_object = ?,
		download_filename = IF(download_filename = '' AND ? != '', ?, download_filename),
		updated_at = ? WHERE id = ?`
	_, err := r.DB.Exec(query, fileObject, downloadFilename, downloadFilename, time.Now(), trackID)
	if err != nil {
		return fmt.Errorf("failed to execute SetFileObject for track %s: %w", trackID, err)
	}
	return nil
}

// IncrementDownloadCount atomically bumps the track's download counter.
func (r *mysqlTrackRepository) IncrementDownloadCount(trackID string) error {
	query := `UPDATE gated_tracks SET download_count = download_count + 1 WHERE id = ?`
	if _, err := r.DB.Exec(query, trackID); err != nil {
		return fmt.Errorf("failed to increment download count for track %s: %w", trackID, err)
	}
	return nil
}

// DeleteTrack removes a track; follow targets and accesses cascade.
func (r *mysqlTrackRepository) DeleteTrack(trackID string) error {
	if _, err := r.DB.Exec(`DELETE FROM gated_tracks WHERE id = ?`, trackID); err != nil {
		return fmt.Errorf("failed to delete track %s: %w", trackID, err)
	}
	return nil
}
