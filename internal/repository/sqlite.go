// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// SQLiteConfig defines standard SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultSQLiteConfig returns the recommended pool configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 10,
	}
}

// Open initializes a SQLite connection pool with mandatory PRAGMAs.
// WAL mode and busy_timeout apply to every connection via the DSN.
func Open(dbPath string, cfg SQLiteConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS songs (
	id             TEXT PRIMARY KEY,
	source_url     TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	artist         TEXT NOT NULL DEFAULT '',
	channel        TEXT NOT NULL DEFAULT '',
	duration_ms    INTEGER,
	thumbnail_path TEXT,
	kind           TEXT NOT NULL DEFAULT 'remote'
);

CREATE TABLE IF NOT EXISTS queue_items (
	song_id         TEXT NOT NULL REFERENCES songs(id),
	requester       TEXT NOT NULL DEFAULT '',
	requester_key   TEXT,
	origin_channel  TEXT,
	priority        TEXT NOT NULL DEFAULT 'normal',
	position        INTEGER NOT NULL,
	download_status TEXT NOT NULL DEFAULT 'pending',
	file_path       TEXT,
	fail_reason     TEXT,
	added_at        INTEGER NOT NULL,
	PRIMARY KEY (song_id)
);

CREATE TABLE IF NOT EXISTS playback_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	current_song_id  TEXT,
	current_file     TEXT,
	is_playing       INTEGER NOT NULL DEFAULT 0,
	is_paused        INTEGER NOT NULL DEFAULT 0,
	start_time_sec   REAL,
	paused_at_sec    REAL,
	seek_position_ms INTEGER NOT NULL DEFAULT 0,
	songs_played     INTEGER NOT NULL DEFAULT 0,
	volume           INTEGER NOT NULL DEFAULT 100,
	shuffle          INTEGER NOT NULL DEFAULT 0,
	repeat           INTEGER NOT NULL DEFAULT 0
);
`

// Migrate creates the schema when absent. Idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}
