// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Topic enumerates the closed set of event bus topics.
type Topic string

const (
	TopicQueueItemAdded   Topic = "QUEUE_ITEM_ADDED"
	TopicQueueItemRemoved Topic = "QUEUE_ITEM_REMOVED"
	TopicQueueReordered   Topic = "QUEUE_REORDERED"
	TopicQueueCleared     Topic = "QUEUE_CLEARED"
	TopicQueueUpdated     Topic = "QUEUE_UPDATED"

	TopicPlaybackRequested Topic = "PLAYBACK_REQUESTED"
	TopicPlaybackStarted   Topic = "PLAYBACK_STARTED"
	TopicPlaybackFinished  Topic = "PLAYBACK_FINISHED"
	TopicPlaybackPaused    Topic = "PLAYBACK_PAUSED"
	TopicPlaybackResumed   Topic = "PLAYBACK_RESUMED"
	TopicPlaybackSeek      Topic = "PLAYBACK_SEEK"
	TopicPlaybackSkip      Topic = "PLAYBACK_SKIP"
	TopicPlaybackPause     Topic = "PLAYBACK_PAUSE"
	TopicPlaybackResume    Topic = "PLAYBACK_RESUME"
	TopicPlaybackError     Topic = "PLAYBACK_ERROR"

	TopicEffectsChanged    Topic = "EFFECTS_CHANGED"
	TopicSettingsChanged   Topic = "SETTINGS_CHANGED"
	TopicConnectionChanged Topic = "CONNECTION_CHANGED"
)

// QueueItemAddedEvent is published after a successful queue insertion.
type QueueItemAddedEvent struct {
	Item QueueItem
}

// QueueItemRemovedEvent is published after an item leaves the queue.
type QueueItemRemovedEvent struct {
	Item  QueueItem
	Index int
}

// QueueReorderedEvent is published after a successful reorder.
type QueueReorderedEvent struct {
	FromIndex int
	ToIndex   int
}

// QueueUpdatedEvent carries the full ordered queue after any mutation.
type QueueUpdatedEvent struct {
	Items []QueueItem
}

// PlaybackRequestedEvent signals the orchestrator selected a track to play.
type PlaybackRequestedEvent struct {
	Item          QueueItem
	FilePath      string
	StartOffsetMs int64
}

// PlaybackStartedEvent is emitted by the adapter once the subprocess is up.
type PlaybackStartedEvent struct {
	Descriptor TrackDescriptor
	FilePath   string
}

// PlaybackFinishedEvent is emitted by the adapter when a play invocation
// resolves for any reason.
type PlaybackFinishedEvent struct {
	Descriptor TrackDescriptor
	FilePath   string
	Reason     FinishReason
}

// PlaybackSeekEvent requests an absolute seek within the current track.
type PlaybackSeekEvent struct {
	PositionMs int64
}

// PlaybackErrorEvent signals that playback could not start or crashed.
type PlaybackErrorEvent struct {
	FilePath string
	Cause    string
}

// EffectsChangedEvent carries the new opaque filter chain.
type EffectsChangedEvent struct {
	FilterChain string
}

// SettingsChangedEvent reflects volume or playback-flag changes.
type SettingsChangedEvent struct {
	Volume  int
	Shuffle bool
	Repeat  bool
}

// ConnectionChangedEvent reflects ingress connectivity for the status feed.
type ConnectionChangedEvent struct {
	Connected bool
	Source    string
}
