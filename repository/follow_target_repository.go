package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bandpassrecords/scgate/db"
	"github.com/bandpassrecords/scgate/model"
)

// FollowTargetRepository defines the interface for follow-target data operations.
type FollowTargetRepository interface {
	CreateTarget(target *model.FollowTarget) error
	GetTargetsByTrackID(trackID string) ([]*model.FollowTarget, error)
	GetTargetByID(trackID string, targetID int64) (*model.FollowTarget, error)
	// SetResolvedIdentity fills in the resolved URN/username for a target.
	SetResolvedIdentity(targetID int64, userURN, username string) error
	DeleteTarget(trackID string, targetID int64) error
}

// mysqlFollowTargetRepository implements FollowTargetRepository for MySQL.
type mysqlFollowTargetRepository struct {
	DB *sql.DB
}

// NewMySQLFollowTargetRepository creates a new instance of mysqlFollowTargetRepository.
func NewMySQLFollowTargetRepository() FollowTargetRepository {
	return &mysqlFollowTargetRepository{DB: db.DB}
}

// CreateTarget inserts a follow target. The unique keys on (track, urn) and
// (track, url) make re-adding the same profile a no-op instead of a duplicate.
func (r *mysqlFollowTargetRepository) CreateTarget(target *model.FollowTarget) error {
	query := `INSERT INTO gate_follow_targets
		(track_id, profile_url, soundcloud_user_urn, soundcloud_username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`
	now := time.Now()
	res, err := r.DB.Exec(query, target.TrackID, target.ProfileURL,
		target.SoundCloudUserURN, target.SoundCloudUsername, now, now)
	if err != nil {
		return fmt.Errorf("failed to execute CreateTarget: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		target.ID = id
	}
	return nil
}

// GetTargetsByTrackID retrieves all follow targets for a track.
func (r *mysqlFollowTargetRepository) GetTargetsByTrackID(trackID string) ([]*model.FollowTarget, error) {
	query := `SELECT id, track_id, profile_url, soundcloud_user_urn, soundcloud_username, created_at, updated_at
		FROM gate_follow_targets WHERE track_id = ? ORDER BY created_at`
	rows, err := r.DB.Query(query, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow targets for track %s: %w", trackID, err)
	}
	defer rows.Close()

	targets := make([]*model.FollowTarget, 0)
	for rows.Next() {
		target := &model.FollowTarget{}
		err := rows.Scan(&target.ID, &target.TrackID, &target.ProfileURL,
			&target.SoundCloudUserURN, &target.SoundCloudUsername,
			&target.CreatedAt, &target.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follow target: %w", err)
		}
		targets = append(targets, target)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetTargetsByTrackID: %w", err)
	}
	return targets, nil
}

// GetTargetByID retrieves one follow target scoped to a track. Returns
// (nil, nil) when not found.
func (r *mysqlFollowTargetRepository) GetTargetByID(trackID string, targetID int64) (*model.FollowTarget, error) {
	query := `SELECT id, track_id, profile_url, soundcloud_user_urn, soundcloud_username, created_at, updated_at
		FROM gate_follow_targets WHERE track_id = ? AND id = ?`
	target := &model.FollowTarget{}
	err := r.DB.QueryRow(query, trackID, targetID).Scan(
		&target.ID, &target.TrackID, &target.ProfileURL,
		&target.SoundCloudUserURN, &target.SoundCloudUsername,
		&target.CreatedAt, &target.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan follow target %d: %w", targetID, err)
	}
	return target, nil
}

// SetResolvedIdentity persists the resolved URN/username for a target.
func (r *mysqlFollowTargetRepository) SetResolvedIdentity(targetID int64, userURN, username string) error {
	query := `UPDATE gate_follow_targets SET soundcloud_user_urn = ?, soundcloud_username = ?, updated_at = ?
		WHERE id = ?`
	if _, err := r.DB.Exec(query, userURN, username, time.Now(), targetID); err != nil {
		return fmt.Errorf("failed to execute SetResolvedIdentity for target %d: %w", targetID, err)
	}
	return nil
}

// DeleteTarget removes a follow target scoped to a track.
func (r *mysqlFollowTargetRepository) DeleteTarget(trackID string, targetID int64) error {
	query := `DELETE FROM gate_follow_targets WHERE track_id = ? AND id = ?`
	if _, err := r.DB.Exec(query, trackID, targetID); err != nil {
		return fmt.Errorf("failed to delete follow target %d: %w", targetID, err)
	}
	return nil
}
