// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sse

import (
	"time"

	"github.com/soundsuite/jukeboxd/internal/model"
)

// StatusDocument is the JSON payload every SSE frame carries.
type StatusDocument struct {
	Connected        bool         `json:"connected"`
	ConnectionSource string       `json:"connectionSource,omitempty"`
	Phase            string       `json:"phase"`
	IsPlaying        bool         `json:"isPlaying"`
	IsPaused         bool         `json:"isPaused"`
	Current          *CurrentInfo `json:"current,omitempty"`
	Queue            []QueueEntry `json:"queue"`
	Stats            Stats        `json:"stats"`
	Volume           int          `json:"volume"`
	Shuffle          bool         `json:"shuffle"`
	Repeat           bool         `json:"repeat"`
}

// CurrentInfo describes the track under the playback pointer.
type CurrentInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	Channel      string `json:"channel,omitempty"`
	Requester    string `json:"requester"`
	ThumbnailURI string `json:"thumbnailUri,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	ElapsedMs    int64  `json:"elapsedMs"`
}

// QueueEntry is the thumbnail-augmented queue row for status consumers.
type QueueEntry struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Artist        string `json:"artist"`
	Requester     string `json:"requester"`
	Priority      string `json:"priority"`
	DownloadState string `json:"downloadState"`
	ThumbnailURI  string `json:"thumbnailUri,omitempty"`
	DurationMs    int64  `json:"durationMs"`
}

// Stats aggregates service counters.
type Stats struct {
	UptimeSec   int64 `json:"uptimeSec"`
	SongsPlayed int64 `json:"songsPlayed"`
	QueueLength int   `json:"queueLength"`
}

func (b *Broadcaster) statusDocument() (StatusDocument, error) {
	st := b.orch.Status()
	items := b.queue.Snapshot()

	b.mu.Lock()
	connected := b.connected
	connSrc := b.connSrc
	b.mu.Unlock()

	doc := StatusDocument{
		Connected:        connected,
		ConnectionSource: connSrc,
		Phase:            string(st.Phase),
		IsPlaying:        st.Phase == model.PhasePlaying,
		IsPaused:         st.Phase == model.PhasePaused,
		Queue:            make([]QueueEntry, 0, len(items)),
		Stats: Stats{
			UptimeSec:   int64(time.Since(b.startedAt).Seconds()),
			SongsPlayed: st.SongsPlayed,
			QueueLength: len(items),
		},
		Volume:  st.Volume,
		Shuffle: st.Shuffle,
		Repeat:  st.Repeat,
	}

	if st.Current != nil {
		d := st.Current.Descriptor
		doc.Current = &CurrentInfo{
			ID:           d.ID,
			Title:        d.Title,
			Artist:       d.Artist,
			Channel:      d.Channel,
			Requester:    st.Current.Requester,
			ThumbnailURI: d.ThumbnailURI,
			DurationMs:   d.DurationMs,
			ElapsedMs:    st.ElapsedMs,
		}
	}

	for _, it := range items {
		doc.Queue = append(doc.Queue, QueueEntry{
			ID:            it.Descriptor.ID,
			Title:         it.Descriptor.Title,
			Artist:        it.Descriptor.Artist,
			Requester:     it.Requester,
			Priority:      string(it.Priority),
			DownloadState: string(it.DownloadState),
			ThumbnailURI:  it.Descriptor.ThumbnailURI,
			DurationMs:    it.Descriptor.DurationMs,
		})
	}
	return doc, nil
}
