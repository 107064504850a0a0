package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Schema contains the database schema for the food-safety core.
const Schema = `
CREATE TABLE IF NOT EXISTS access_state (
    id TINYINT NOT NULL PRIMARY KEY,
    owner VARCHAR(42) NOT NULL,
    regulator VARCHAR(42) NOT NULL
);

CREATE TABLE IF NOT EXISTS investigators (
    address VARCHAR(42) NOT NULL PRIMARY KEY,
    authorized_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    submitter VARCHAR(42) NOT NULL,
    safety_level TINYINT UNSIGNED NOT NULL,
    safety_level_ct BLOB NULL,
    location_code INT UNSIGNED NOT NULL,
    food_type_code INT UNSIGNED NOT NULL,
    description VARCHAR(2048) NOT NULL DEFAULT '',
    status VARCHAR(16) NOT NULL,
    created_at BIGINT NOT NULL,
    last_updated BIGINT NOT NULL,
    is_processed BOOLEAN NOT NULL DEFAULT FALSE,
    is_valid BOOLEAN NOT NULL DEFAULT TRUE,
    INDEX idx_reports_submitter (submitter),
    INDEX idx_reports_location (location_code)
) AUTO_INCREMENT = 1;

CREATE TABLE IF NOT EXISTS investigations (
    report_id BIGINT NOT NULL PRIMARY KEY,
    investigator VARCHAR(42) NOT NULL,
    start_time BIGINT NOT NULL,
    end_time BIGINT NOT NULL DEFAULT 0,
    is_complete BOOLEAN NOT NULL DEFAULT FALSE,
    final_safety_level TINYINT UNSIGNED NOT NULL DEFAULT 0,
    findings VARCHAR(2048) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS total_stats (
    id TINYINT NOT NULL PRIMARY KEY,
    total BIGINT NOT NULL DEFAULT 0,
    submitted BIGINT NOT NULL DEFAULT 0,
    under_review BIGINT NOT NULL DEFAULT 0,
    investigating BIGINT NOT NULL DEFAULT 0,
    resolved BIGINT NOT NULL DEFAULT 0,
    closed BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS location_stats (
    location_code INT UNSIGNED NOT NULL PRIMARY KEY,
    total_reports BIGINT NOT NULL DEFAULT 0,
    resolved_reports BIGINT NOT NULL DEFAULT 0,
    safety_level_sum BIGINT NOT NULL DEFAULT 0,
    safety_level_sum_ct BLOB NULL,
    last_report_time BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reporter_stats (
    submitter VARCHAR(42) NOT NULL PRIMARY KEY,
    report_count BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS events (
    seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    kind VARCHAR(32) NOT NULL,
    report_id BIGINT NOT NULL DEFAULT 0,
    actor VARCHAR(42) NOT NULL,
    payload VARCHAR(4096) NOT NULL,
    created_at BIGINT NOT NULL,
    prev_hash CHAR(64) NOT NULL,
    hash CHAR(64) NOT NULL
);
`

// InitializeSchema creates the tables and seeds the singleton rows. The
// owner is set once at creation and never changes; the regulator defaults to
// the owner.
func InitializeSchema(db *sql.DB, ownerAddress string) error {
	if ownerAddress == "" {
		return fmt.Errorf("owner address is required to initialize the schema")
	}

	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if _, err := db.Exec(`INSERT IGNORE INTO access_state (id, owner, regulator) VALUES (1, ?, ?)`,
		ownerAddress, ownerAddress); err != nil {
		return fmt.Errorf("failed to seed access state: %w", err)
	}

	if _, err := db.Exec(`INSERT IGNORE INTO total_stats (id) VALUES (1)`); err != nil {
		return fmt.Errorf("failed to seed total stats: %w", err)
	}

	log.Println("Database schema initialized successfully")
	return nil
}
