// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines the core domain types shared by the queue,
// downloader, player adapters and orchestrator.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// TrackKind discriminates remote sources from pre-existing local files.
type TrackKind string

const (
	KindRemote    TrackKind = "remote"
	KindLocalFile TrackKind = "local_file"
)

// TrackDescriptor identifies a playable track. It is immutable once sealed
// by the resolver.
type TrackDescriptor struct {
	ID           string    `json:"id"`
	SourceURI    string    `json:"sourceUri"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Channel      string    `json:"channel"`
	DurationMs   int64     `json:"durationMs"` // 0 = unknown
	ThumbnailURI string    `json:"thumbnailUri,omitempty"`
	Kind         TrackKind `json:"kind"`
}

// DescriptorID derives the stable track identity from the canonical source
// URI. Two inputs that canonicalize to the same URI share an ID and are
// treated as duplicates by the queue.
func DescriptorID(canonicalURI string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(canonicalURI)))
	return hex.EncodeToString(sum[:16])
}

// Priority is the queue ordering class. System sorts before VIP, VIP before
// normal; ties within a class break by insertion order.
type Priority string

const (
	PrioritySystem Priority = "system"
	PriorityVIP    Priority = "vip"
	PriorityNormal Priority = "normal"
)

// Rank returns the ordering weight of the priority class (lower plays first).
func (p Priority) Rank() int {
	switch p {
	case PrioritySystem:
		return 0
	case PriorityVIP:
		return 1
	default:
		return 2
	}
}

// Valid reports whether p is a known priority class.
func (p Priority) Valid() bool {
	switch p {
	case PrioritySystem, PriorityVIP, PriorityNormal:
		return true
	}
	return false
}

// DownloadState tracks artifact materialization for a queue item.
// Transitions are monotonic: pending -> inflight -> ready|failed.
type DownloadState string

const (
	DownloadPending  DownloadState = "pending"
	DownloadInflight DownloadState = "inflight"
	DownloadReady    DownloadState = "ready"
	DownloadFailed   DownloadState = "failed"
)

// Terminal reports whether the state admits no further transition.
func (s DownloadState) Terminal() bool {
	return s == DownloadReady || s == DownloadFailed
}

// QueueItem is one requested track waiting in (or at the head of) the queue.
type QueueItem struct {
	Descriptor    TrackDescriptor `json:"descriptor"`
	Requester     string          `json:"requester"`
	RequesterKey  string          `json:"requesterKey,omitempty"`
	OriginChannel string          `json:"originChannel,omitempty"`
	Priority      Priority        `json:"priority"`
	DownloadState DownloadState   `json:"downloadState"`
	FilePath      string          `json:"filePath,omitempty"`   // set iff DownloadState == ready
	FailReason    string          `json:"failReason,omitempty"` // set iff DownloadState == failed
	AddedAt       uint64          `json:"addedAt"`              // monotonic insertion sequence
}

// PlaybackPhase is the orchestrator's externally visible state.
type PlaybackPhase string

const (
	PhaseIdle    PlaybackPhase = "idle"
	PhasePlaying PlaybackPhase = "playing"
	PhasePaused  PlaybackPhase = "paused"
)

// PlaybackSnapshot is the persisted singleton capturing enough state to
// restore phase and pointer after a restart.
type PlaybackSnapshot struct {
	CurrentDescriptorID string        `json:"currentDescriptorId,omitempty"`
	CurrentFilePath     string        `json:"currentFilePath,omitempty"`
	Phase               PlaybackPhase `json:"phase"`
	StartedAtMs         int64         `json:"startedAtMs,omitempty"`
	PausedAtMs          int64         `json:"pausedAtMs,omitempty"` // set iff Phase == paused
	SeekOffsetMs        int64         `json:"seekOffsetMs"`
	SongsPlayed         int64         `json:"songsPlayed"`
	Volume              int           `json:"volume"`
	Shuffle             bool          `json:"shuffle"`
	Repeat              bool          `json:"repeat"`
}

// FinishReason explains why a play invocation resolved.
type FinishReason string

const (
	ReasonEnded   FinishReason = "ended"
	ReasonSkipped FinishReason = "skipped"
	ReasonSeek    FinishReason = "seek"
	ReasonEffects FinishReason = "effects"
	ReasonPaused  FinishReason = "paused"
	ReasonStopped FinishReason = "stopped"
	ReasonError   FinishReason = "error"
)

// Restartable reports whether the fallback backend should respawn at the
// recorded offset after this finish instead of advancing the queue.
func (r FinishReason) Restartable() bool {
	switch r {
	case ReasonSeek, ReasonEffects, ReasonPaused:
		return true
	}
	return false
}
