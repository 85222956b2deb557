// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package repository persists songs, queue rows and the playback snapshot
// in SQLite. All writes are durable before returning; queue replacement is
// transactional so observers never see a partial reorder.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soundsuite/jukeboxd/internal/model"
)

// Store is the narrow persistence contract the core consumes.
type Store interface {
	UpsertSong(ctx context.Context, d model.TrackDescriptor) (string, error)
	GetSong(ctx context.Context, id string) (*model.TrackDescriptor, error)
	LoadQueue(ctx context.Context) ([]model.QueueItem, error)
	PersistQueue(ctx context.Context, items []model.QueueItem) error
	LoadPlaybackSnapshot(ctx context.Context) (*model.PlaybackSnapshot, error)
	PersistPlaybackSnapshot(ctx context.Context, snap model.PlaybackSnapshot) error
}

// SQLStore implements Store on a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore migrates the schema and returns a ready store.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// UpsertSong inserts or refreshes the song row for d and returns its ID.
func (s *SQLStore) UpsertSong(ctx context.Context, d model.TrackDescriptor) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO songs (id, source_url, title, artist, channel, duration_ms, thumbnail_path, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			channel = excluded.channel,
			duration_ms = excluded.duration_ms,
			thumbnail_path = excluded.thumbnail_path`,
		d.ID, d.SourceURI, d.Title, d.Artist, d.Channel,
		nullInt64(d.DurationMs), nullStr(d.ThumbnailURI), string(d.Kind))
	if err != nil {
		return "", fmt.Errorf("%w: upsert song: %v", model.ErrPersistence, err)
	}
	return d.ID, nil
}

// GetSong returns the descriptor for id, or (nil, nil) when absent.
func (s *SQLStore) GetSong(ctx context.Context, id string) (*model.TrackDescriptor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_url, title, artist, channel, duration_ms, thumbnail_path, kind
		FROM songs WHERE id = ?`, id)

	var d model.TrackDescriptor
	var durationMs sql.NullInt64
	var thumb sql.NullString
	var kind string
	err := row.Scan(&d.ID, &d.SourceURI, &d.Title, &d.Artist, &d.Channel, &durationMs, &thumb, &kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get song: %v", model.ErrPersistence, err)
	}
	d.DurationMs = durationMs.Int64
	d.ThumbnailURI = thumb.String
	d.Kind = model.TrackKind(kind)
	return &d, nil
}

// LoadQueue returns the queue rows joined with their songs, position-ordered.
func (s *SQLStore) LoadQueue(ctx context.Context) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.song_id, q.requester, q.requester_key, q.origin_channel, q.priority,
		       q.download_status, q.file_path, q.fail_reason, q.added_at,
		       s.source_url, s.title, s.artist, s.channel, s.duration_ms, s.thumbnail_path, s.kind
		FROM queue_items q
		JOIN songs s ON s.id = q.song_id
		ORDER BY q.position ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: load queue: %v", model.ErrPersistence, err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.QueueItem
	for rows.Next() {
		var it model.QueueItem
		var requesterKey, origin, filePath, failReason, thumb sql.NullString
		var durationMs sql.NullInt64
		var priority, status, kind string
		err := rows.Scan(&it.Descriptor.ID, &it.Requester, &requesterKey, &origin, &priority,
			&status, &filePath, &failReason, &it.AddedAt,
			&it.Descriptor.SourceURI, &it.Descriptor.Title, &it.Descriptor.Artist,
			&it.Descriptor.Channel, &durationMs, &thumb, &kind)
		if err != nil {
			return nil, fmt.Errorf("%w: scan queue row: %v", model.ErrPersistence, err)
		}
		it.RequesterKey = requesterKey.String
		it.OriginChannel = origin.String
		it.Priority = model.Priority(priority)
		it.DownloadState = model.DownloadState(status)
		it.FilePath = filePath.String
		it.FailReason = failReason.String
		it.Descriptor.DurationMs = durationMs.Int64
		it.Descriptor.ThumbnailURI = thumb.String
		it.Descriptor.Kind = model.TrackKind(kind)
		items = append(items, it)
	}
	return items, rows.Err()
}

// PersistQueue atomically replaces all queue rows with the given list.
// Songs referenced by items are upserted inside the same transaction.
func (s *SQLStore) PersistQueue(ctx context.Context, items []model.QueueItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", model.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items`); err != nil {
		return fmt.Errorf("%w: clear queue: %v", model.ErrPersistence, err)
	}
	for pos, it := range items {
		d := it.Descriptor
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO songs (id, source_url, title, artist, channel, duration_ms, thumbnail_path, kind)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title, artist = excluded.artist,
				channel = excluded.channel, duration_ms = excluded.duration_ms,
				thumbnail_path = excluded.thumbnail_path`,
			d.ID, d.SourceURI, d.Title, d.Artist, d.Channel,
			nullInt64(d.DurationMs), nullStr(d.ThumbnailURI), string(d.Kind)); err != nil {
			return fmt.Errorf("%w: upsert song %s: %v", model.ErrPersistence, d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_items (song_id, requester, requester_key, origin_channel,
				priority, position, download_status, file_path, fail_reason, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, it.Requester, nullStr(it.RequesterKey), nullStr(it.OriginChannel),
			string(it.Priority), pos, string(it.DownloadState),
			nullStr(it.FilePath), nullStr(it.FailReason), it.AddedAt); err != nil {
			return fmt.Errorf("%w: insert queue row %s: %v", model.ErrPersistence, d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit queue: %v", model.ErrPersistence, err)
	}
	return nil
}

// LoadPlaybackSnapshot returns the singleton snapshot, or (nil, nil) when
// nothing was persisted yet.
func (s *SQLStore) LoadPlaybackSnapshot(ctx context.Context) (*model.PlaybackSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT current_song_id, current_file, is_playing, is_paused,
		       start_time_sec, paused_at_sec, seek_position_ms, songs_played,
		       volume, shuffle, repeat
		FROM playback_state WHERE id = 1`)

	var snap model.PlaybackSnapshot
	var songID, file sql.NullString
	var playing, paused, shuffle, repeat bool
	var startSec, pausedSec sql.NullFloat64
	err := row.Scan(&songID, &file, &playing, &paused, &startSec, &pausedSec,
		&snap.SeekOffsetMs, &snap.SongsPlayed, &snap.Volume, &shuffle, &repeat)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", model.ErrPersistence, err)
	}
	snap.CurrentDescriptorID = songID.String
	snap.CurrentFilePath = file.String
	snap.Phase = model.PhaseIdle
	if paused {
		snap.Phase = model.PhasePaused
	} else if playing {
		snap.Phase = model.PhasePlaying
	}
	if startSec.Valid {
		snap.StartedAtMs = int64(startSec.Float64 * 1000)
	}
	if pausedSec.Valid {
		snap.PausedAtMs = int64(pausedSec.Float64 * 1000)
	}
	snap.Shuffle = shuffle
	snap.Repeat = repeat
	return &snap, nil
}

// PersistPlaybackSnapshot durably rewrites the singleton snapshot row.
func (s *SQLStore) PersistPlaybackSnapshot(ctx context.Context, snap model.PlaybackSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_state (id, current_song_id, current_file, is_playing, is_paused,
			start_time_sec, paused_at_sec, seek_position_ms, songs_played, volume, shuffle, repeat)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_song_id = excluded.current_song_id,
			current_file = excluded.current_file,
			is_playing = excluded.is_playing,
			is_paused = excluded.is_paused,
			start_time_sec = excluded.start_time_sec,
			paused_at_sec = excluded.paused_at_sec,
			seek_position_ms = excluded.seek_position_ms,
			songs_played = excluded.songs_played,
			volume = excluded.volume,
			shuffle = excluded.shuffle,
			repeat = excluded.repeat`,
		nullStr(snap.CurrentDescriptorID), nullStr(snap.CurrentFilePath),
		snap.Phase == model.PhasePlaying, snap.Phase == model.PhasePaused,
		nullSec(snap.StartedAtMs), nullSec(snap.PausedAtMs),
		snap.SeekOffsetMs, snap.SongsPlayed, snap.Volume, snap.Shuffle, snap.Repeat)
	if err != nil {
		return fmt.Errorf("%w: persist snapshot: %v", model.ErrPersistence, err)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullSec(ms int64) any {
	if ms == 0 {
		return nil
	}
	return float64(ms) / 1000.0
}
