package db

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/bandpassrecords/scgate/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the gate tables, creating them if they don't exist.
func InitDB() error {
	if err := createGatedTracksTable(); err != nil {
		return err
	}
	if err := createFollowTargetsTable(); err != nil {
		return err
	}
	if err := createGateAccessesTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createGatedTracksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS gated_tracks (
		id CHAR(36) PRIMARY KEY,
		owner_id BIGINT NOT NULL,
		public_id VARCHAR(64) NOT NULL UNIQUE,
		title VARCHAR(255) NOT NULL DEFAULT '',
		description TEXT,
		soundcloud_track_url VARCHAR(500) NOT NULL,
		soundcloud_track_urn VARCHAR(128) NOT NULL DEFAULT '',
		soundcloud_artist_urn VARCHAR(128) NOT NULL DEFAULT '',
		soundcloud_artist_username VARCHAR(255) NOT NULL DEFAULT '',
		require_like BOOLEAN NOT NULL DEFAULT TRUE,
		require_comment BOOLEAN NOT NULL DEFAULT TRUE,
		require_follow BOOLEAN NOT NULL DEFAULT FALSE,
		file_object VARCHAR(500) NOT NULL DEFAULT '',
		download_filename VARCHAR(255) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_listed BOOLEAN NOT NULL DEFAULT FALSE,
		download_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_gated_tracks_track_urn (soundcloud_track_urn),
		INDEX idx_gated_tracks_owner (owner_id)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create gated_tracks table: %w", err)
	}
	log.Println("gated_tracks table initialized successfully (or already exists).")
	return nil
}

func createFollowTargetsTable() error {
	// The two unique constraints keep re-resolving the same profile from
	// creating duplicate targets.
	query := `
	CREATE TABLE IF NOT EXISTS gate_follow_targets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		track_id CHAR(36) NOT NULL,
		profile_url VARCHAR(500) NOT NULL DEFAULT '',
		soundcloud_user_urn VARCHAR(128) NOT NULL DEFAULT '',
		soundcloud_username VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_follow_targets_track FOREIGN KEY (track_id) REFERENCES gated_tracks(id) ON DELETE CASCADE,
		CONSTRAINT uq_target_urn UNIQUE (track_id, soundcloud_user_urn),
		CONSTRAINT uq_target_url UNIQUE (track_id, profile_url)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create gate_follow_targets table: %w", err)
	}
	log.Println("gate_follow_targets table initialized successfully (or already exists).")
	return nil
}

func createGateAccessesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS gate_accesses (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		track_id CHAR(36) NOT NULL,
		soundcloud_user_urn VARCHAR(128) NOT NULL,
		soundcloud_username VARCHAR(255) NOT NULL DEFAULT '',
		verified_like BOOLEAN NOT NULL DEFAULT FALSE,
		verified_comment BOOLEAN NOT NULL DEFAULT FALSE,
		verified_follow BOOLEAN NOT NULL DEFAULT FALSE,
		verified_at TIMESTAMP NULL,
		download_count BIGINT NOT NULL DEFAULT 0,
		last_download_at TIMESTAMP NULL,
		last_ip_address VARCHAR(45) NOT NULL DEFAULT '',
		last_user_agent TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		CONSTRAINT fk_gate_accesses_track FOREIGN KEY (track_id) REFERENCES gated_tracks(id) ON DELETE CASCADE,
		CONSTRAINT uq_access_track_user UNIQUE (track_id, soundcloud_user_urn)
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create gate_accesses table: %w", err)
	}
	log.Println("gate_accesses table initialized successfully (or already exists).")
	return nil
}
