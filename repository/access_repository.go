package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/bandpassrecords/scgate/db"
	"github.com/bandpassrecords/scgate/model"
)

// VerificationUpdate carries one verification refresh result into storage.
type VerificationUpdate struct {
	LikedNow     bool
	CommentedNow bool
	FollowedNow  bool
	Username     string
	IPAddress    string
	UserAgent    string
}

// AccessRepository defines the interface for gate-access data operations.
type AccessRepository interface {
	GetAccess(trackID, userURN string) (*model.GateAccess, error)
	GetOrCreateAccess(trackID, userURN, username string) (*model.GateAccess, error)
	// MergeVerification applies the non-downgrading merge policy:
	// verified_like and verified_comment only ever go false->true (the
	// listing APIs are eventually consistent), verified_follow tracks the
	// live value and may be downgraded.
	MergeVerification(trackID, userURN string, update VerificationUpdate) (*model.GateAccess, error)
	// MarkLike / MarkComment optimistically set a single flag after a
	// successful direct mutation.
	MarkLike(trackID, userURN, username, ip, userAgent string) error
	MarkComment(trackID, userURN, username, ip, userAgent string) error
	// SetFollow overwrites the aggregate follow flag with a recomputed value.
	SetFollow(trackID, userURN, username string, followed bool, ip, userAgent string) error
	// RecordDownload atomically bumps the access download counter and
	// stamps the download metadata.
	RecordDownload(accessID int64, ip, userAgent string) error
}

// mysqlAccessRepository implements AccessRepository for MySQL.
type mysqlAccessRepository struct {
	DB *sql.DB
}

// NewMySQLAccessRepository creates a new instance of mysqlAccessRepository.
func NewMySQLAccessRepository() AccessRepository {
	return &mysqlAccessRepository{DB: db.DB}
}

const accessColumns = `id, track_id, soundcloud_user_urn, soundcloud_username,
	verified_like, verified_comment, verified_follow, verified_at,
	download_count, last_download_at, last_ip_address, last_user_agent,
	created_at, updated_at`

func scanAccess(row interface{ Scan(...interface{}) error }) (*model.GateAccess, error) {
	access := &model.GateAccess{}
	var verifiedAt, lastDownloadAt sql.NullTime
	var userAgent sql.NullString
	err := row.Scan(
		&access.ID, &access.TrackID, &access.SoundCloudUserURN, &access.SoundCloudUsername,
		&access.VerifiedLike, &access.VerifiedComment, &access.VerifiedFollow, &verifiedAt,
		&access.DownloadCount, &lastDownloadAt, &access.LastIPAddress, &userAgent,
		&access.CreatedAt, &access.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		access.VerifiedAt = &verifiedAt.Time
	}
	if lastDownloadAt.Valid {
		access.LastDownloadAt = &lastDownloadAt.Time
	}
	access.LastUserAgent = userAgent.String
	return access, nil
}

// GetAccess retrieves the access record for (track, user). Returns
// (nil, nil) when the user has never verified against this track.
func (r *mysqlAccessRepository) GetAccess(trackID, userURN string) (*model.GateAccess, error) {
	query := `SELECT ` + accessColumns + ` FROM gate_accesses
		WHERE track_id = ? AND soundcloud_user_urn = ?`
	access, err := scanAccess(r.DB.QueryRow(query, trackID, userURN))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan access for track %s user %s: %w", trackID, userURN, err)
	}
	return access, nil
}

// GetOrCreateAccess fetches the access record, creating an empty one when
// the (track, user) pair is new. The unique key absorbs concurrent creates.
func (r *mysqlAccessRepository) GetOrCreateAccess(trackID, userURN, username string) (*model.GateAccess, error) {
	now := time.Now()
	query := `INSERT INTO gate_accesses (track_id, soundcloud_user_urn, soundcloud_username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			soundcloud_username = IF(VALUES(soundcloud_username) != '', VALUES(soundcloud_username), soundcloud_username)`
	if _, err := r.DB.Exec(query, trackID, userURN, username, now, now); err != nil {
		return nil, fmt.Errorf("failed to execute GetOrCreateAccess: %w", err)
	}
	return r.GetAccess(trackID, userURN)
}

// MergeVerification applies a verification refresh in a single UPDATE so the
// monotonic like/comment merge happens at the row, not in a racy
// read-modify-write.
func (r *mysqlAccessRepository) MergeVerification(trackID, userURN string, update VerificationUpdate) (*model.GateAccess, error) {
	if _, err := r.GetOrCreateAccess(trackID, userURN, update.Username); err != nil {
		return nil, err
	}

	query := `UPDATE gate_accesses SET
		soundcloud_username = IF(? != '', ?, soundcloud_username),
		verified_like = verified_like OR ?,
		verified_comment = verified_comment OR ?,
		verified_follow = ?,
		verified_at = ?,
		last_ip_address = ?,
		last_user_agent = ?,
		updated_at = ?
		WHERE track_id = ? AND soundcloud_user_urn = ?`
	now := time.Now()
	_, err := r.DB.Exec(query,
		update.Username, update.Username,
		update.LikedNow, update.CommentedNow, update.FollowedNow,
		now, update.IPAddress, truncateUserAgent(update.UserAgent), now,
		trackID, userURN)
	if err != nil {
		return nil, fmt.Errorf("failed to execute MergeVerification: %w", err)
	}
	return r.GetAccess(trackID, userURN)
}

// markFlag sets a single verified_* column true.
func (r *mysqlAccessRepository) markFlag(column, trackID, userURN, username, ip, userAgent string) error {
	if _, err := r.GetOrCreateAccess(trackID, userURN, username); err != nil {
		return err
	}
	query := `UPDATE gate_accesses SET ` + column + ` = TRUE,
		soundcloud_username = IF(? != '', ?, soundcloud_username),
		verified_at = ?, last_ip_address = ?, last_user_agent = ?, updated_at = ?
		WHERE track_id = ? AND soundcloud_user_urn = ?`
	now := time.Now()
	_, err := r.DB.Exec(query, username, username, now, ip, truncateUserAgent(userAgent), now, trackID, userURN)
	if err != nil {
		return fmt.Errorf("failed to mark %s: %w", column, err)
	}
	return nil
}

// MarkLike optimistically records a successful like action.
func (r *mysqlAccessRepository) MarkLike(trackID, userURN, username, ip, userAgent string) error {
	return r.markFlag("verified_like", trackID, userURN, username, ip, userAgent)
}

// MarkComment optimistically records a successful comment post.
func (r *mysqlAccessRepository) MarkComment(trackID, userURN, username, ip, userAgent string) error {
	return r.markFlag("verified_comment", trackID, userURN, username, ip, userAgent)
}

// SetFollow overwrites the aggregate follow flag.
func (r *mysqlAccessRepository) SetFollow(trackID, userURN, username string, followed bool, ip, userAgent string) error {
	if _, err := r.GetOrCreateAccess(trackID, userURN, username); err != nil {
		return err
	}
	query := `UPDATE gate_accesses SET verified_follow = ?,
		soundcloud_username = IF(? != '', ?, soundcloud_username),
		verified_at = ?, last_ip_address = ?, last_user_agent = ?, updated_at = ?
		WHERE track_id = ? AND soundcloud_user_urn = ?`
	now := time.Now()
	_, err := r.DB.Exec(query, followed, username, username, now, ip, truncateUserAgent(userAgent), now, trackID, userURN)
	if err != nil {
		return fmt.Errorf("failed to set follow flag: %w", err)
	}
	return nil
}

// RecordDownload atomically bumps the counter and stamps download metadata.
func (r *mysqlAccessRepository) RecordDownload(accessID int64, ip, userAgent string) error {
	query := `UPDATE gate_accesses SET download_count = download_count + 1,
		last_download_at = ?, last_ip_address = ?, last_user_agent = ?, updated_at = ?
		WHERE id = ?`
	now := time.Now()
	if _, err := r.DB.Exec(query, now, ip, truncateUserAgent(userAgent), now, accessID); err != nil {
		return fmt.Errorf("failed to record download for access %d: %w", accessID, err)
	}
	return nil
}

// truncateUserAgent caps stored user agents at 2000 chars.
func truncateUserAgent(ua string) string {
	if len(ua) > 2000 {
		return ua[:2000]
	}
	return ua
}
