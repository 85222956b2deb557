// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package queue implements the ordered request queue: system items at the
// head, then VIP items in insertion order, then normal items in insertion
// order. Duplicate descriptors are rejected, reorders stay within a
// priority class, and every mutation is persisted and published.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soundsuite/jukeboxd/internal/bus"
	"github.com/soundsuite/jukeboxd/internal/log"
	"github.com/soundsuite/jukeboxd/internal/metrics"
	"github.com/soundsuite/jukeboxd/internal/model"
	"github.com/soundsuite/jukeboxd/internal/repository"
)

// Manager owns the in-memory queue. All mutations run under a single lock;
// index arguments are validated against the state visible at lock time.
type Manager struct {
	bus   *bus.Bus
	store repository.Store

	mu    sync.Mutex
	items []model.QueueItem
	seq   uint64
}

// NewManager returns an empty queue manager.
func NewManager(b *bus.Bus, store repository.Store) *Manager {
	return &Manager{bus: b, store: store}
}

// Restore loads persisted queue rows and resumes the insertion sequence.
// Items left inflight by a previous run fall back to pending so the
// downloader picks them up again.
func (m *Manager) Restore(ctx context.Context) error {
	items, err := m.store.LoadQueue(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range items {
		if items[i].DownloadState == model.DownloadInflight {
			items[i].DownloadState = model.DownloadPending
		}
		if items[i].AddedAt > m.seq {
			m.seq = items[i].AddedAt
		}
	}
	m.items = items
	metrics.QueueLength.Set(float64(len(m.items)))
	return nil
}

// Add appends item at the tail of its priority class.
func (m *Manager) Add(item model.QueueItem) error {
	if item.Descriptor.ID == "" || item.Descriptor.SourceURI == "" {
		metrics.QueueRejectTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: descriptor missing id or source", model.ErrInvalidRequest)
	}
	if !item.Priority.Valid() {
		metrics.QueueRejectTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: unknown priority %q", model.ErrInvalidRequest, item.Priority)
	}

	m.mu.Lock()
	if m.indexOfLocked(item.Descriptor.ID) >= 0 {
		m.mu.Unlock()
		metrics.QueueRejectTotal.WithLabelValues("duplicate").Inc()
		return model.ErrDuplicateRequest
	}

	m.seq++
	item.AddedAt = m.seq
	if item.DownloadState == "" {
		item.DownloadState = model.DownloadPending
	}

	// Tail of the priority class: first index whose class sorts strictly later.
	pos := len(m.items)
	for i, it := range m.items {
		if it.Priority.Rank() > item.Priority.Rank() {
			pos = i
			break
		}
	}
	m.items = append(m.items, model.QueueItem{})
	copy(m.items[pos+1:], m.items[pos:])
	m.items[pos] = item
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	metrics.QueueAddTotal.WithLabelValues(string(item.Priority)).Inc()
	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueItemAdded, model.QueueItemAddedEvent{Item: item})
	m.publishUpdated(snapshot)
	return nil
}

// AddFirst places item at the absolute head. Reserved for system-priority
// insertions.
func (m *Manager) AddFirst(item model.QueueItem) error {
	if item.Descriptor.ID == "" || item.Descriptor.SourceURI == "" {
		metrics.QueueRejectTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: descriptor missing id or source", model.ErrInvalidRequest)
	}
	item.Priority = model.PrioritySystem

	m.mu.Lock()
	if m.indexOfLocked(item.Descriptor.ID) >= 0 {
		m.mu.Unlock()
		metrics.QueueRejectTotal.WithLabelValues("duplicate").Inc()
		return model.ErrDuplicateRequest
	}
	m.seq++
	item.AddedAt = m.seq
	if item.DownloadState == "" {
		item.DownloadState = model.DownloadPending
	}
	m.items = append([]model.QueueItem{item}, m.items...)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	metrics.QueueAddTotal.WithLabelValues(string(model.PrioritySystem)).Inc()
	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueItemAdded, model.QueueItemAddedEvent{Item: item})
	m.publishUpdated(snapshot)
	return nil
}

// Remove deletes the item at index.
func (m *Manager) Remove(index int) (model.QueueItem, error) {
	m.mu.Lock()
	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return model.QueueItem{}, fmt.Errorf("%w: index %d, length %d", model.ErrOutOfRange, index, len(m.items))
	}
	removed := m.items[index]
	m.items = append(m.items[:index], m.items[index+1:]...)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueItemRemoved, model.QueueItemRemovedEvent{Item: removed, Index: index})
	m.publishUpdated(snapshot)
	return removed, nil
}

// RemoveByID deletes the item with the given descriptor ID if present.
func (m *Manager) RemoveByID(id string) (model.QueueItem, bool) {
	m.mu.Lock()
	idx := m.indexOfLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return model.QueueItem{}, false
	}
	removed := m.items[idx]
	m.items = append(m.items[:idx], m.items[idx+1:]...)
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueItemRemoved, model.QueueItemRemovedEvent{Item: removed, Index: idx})
	m.publishUpdated(snapshot)
	return removed, true
}

// Reorder moves the item at fromIndex to toIndex. Moves that would cross a
// priority-class boundary are rejected.
func (m *Manager) Reorder(fromIndex, toIndex int) error {
	m.mu.Lock()
	n := len(m.items)
	if fromIndex < 0 || fromIndex >= n || toIndex < 0 || toIndex >= n {
		m.mu.Unlock()
		return fmt.Errorf("%w: reorder %d -> %d, length %d", model.ErrOutOfRange, fromIndex, toIndex, n)
	}
	if fromIndex == toIndex {
		m.mu.Unlock()
		return nil
	}
	if m.items[fromIndex].Priority != m.items[toIndex].Priority {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot move %s item into %s block",
			model.ErrInvalidMove, m.items[fromIndex].Priority, m.items[toIndex].Priority)
	}

	moved := m.items[fromIndex]
	rest := append(m.items[:fromIndex], m.items[fromIndex+1:]...)
	m.items = append(rest, model.QueueItem{})
	copy(m.items[toIndex+1:], m.items[toIndex:])
	m.items[toIndex] = moved
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueReordered, model.QueueReorderedEvent{FromIndex: fromIndex, ToIndex: toIndex})
	m.publishUpdated(snapshot)
	return nil
}

// Clear empties the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = nil
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueCleared, model.QueueUpdatedEvent{})
	m.publishUpdated(snapshot)
}

// Peek returns a copy of the head item without removing it.
func (m *Manager) Peek() (model.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return model.QueueItem{}, false
	}
	return m.items[0], true
}

// Pop removes and returns the head item.
func (m *Manager) Pop() (model.QueueItem, bool) {
	m.mu.Lock()
	if len(m.items) == 0 {
		m.mu.Unlock()
		return model.QueueItem{}, false
	}
	head := m.items[0]
	m.items = m.items[1:]
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	m.bus.Publish(model.TopicQueueItemRemoved, model.QueueItemRemovedEvent{Item: head, Index: 0})
	m.publishUpdated(snapshot)
	return head, true
}

// Snapshot returns a copy of the current queue in play order.
func (m *Manager) Snapshot() []model.QueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Len returns the current queue length.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Get returns a copy of the item with the given descriptor ID.
func (m *Manager) Get(id string) (model.QueueItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOfLocked(id)
	if idx < 0 {
		return model.QueueItem{}, false
	}
	return m.items[idx], true
}

// MarkInflight transitions the item to inflight. Terminal states stick.
func (m *Manager) MarkInflight(id string) bool {
	return m.setDownloadState(id, func(it *model.QueueItem) bool {
		if it.DownloadState != model.DownloadPending {
			return false
		}
		it.DownloadState = model.DownloadInflight
		return true
	}, false)
}

// MarkReady records the materialized artifact path for the item.
func (m *Manager) MarkReady(id, filePath string) bool {
	return m.setDownloadState(id, func(it *model.QueueItem) bool {
		if it.DownloadState.Terminal() {
			return false
		}
		it.DownloadState = model.DownloadReady
		it.FilePath = filePath
		it.FailReason = ""
		return true
	}, true)
}

// MarkFailed records a terminal download failure for the item.
func (m *Manager) MarkFailed(id, reason string) bool {
	return m.setDownloadState(id, func(it *model.QueueItem) bool {
		if it.DownloadState.Terminal() {
			return false
		}
		it.DownloadState = model.DownloadFailed
		it.FailReason = reason
		return true
	}, true)
}

func (m *Manager) setDownloadState(id string, apply func(*model.QueueItem) bool, publish bool) bool {
	m.mu.Lock()
	idx := m.indexOfLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	if !apply(&m.items[idx]) {
		m.mu.Unlock()
		return false
	}
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snapshot)
	if publish {
		m.publishUpdated(snapshot)
	}
	return true
}

// ProtectedFiles returns every artifact path a cleanup sweep must keep:
// all ready files currently queued.
func (m *Manager) ProtectedFiles() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, it := range m.items {
		if it.DownloadState == model.DownloadReady && it.FilePath != "" {
			out[it.FilePath] = struct{}{}
		}
	}
	return out
}

func (m *Manager) indexOfLocked(id string) int {
	for i, it := range m.items {
		if it.Descriptor.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []model.QueueItem {
	out := make([]model.QueueItem, len(m.items))
	copy(out, m.items)
	return out
}

func (m *Manager) publishUpdated(snapshot []model.QueueItem) {
	metrics.QueueLength.Set(float64(len(snapshot)))
	m.bus.Publish(model.TopicQueueUpdated, model.QueueUpdatedEvent{Items: snapshot})
}

func (m *Manager) persist(snapshot []model.QueueItem) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.PersistQueue(ctx, snapshot); err != nil {
		logger := log.WithComponent("queue")
		logger.Error().Err(err).Msg("queue persistence failed, in-memory state remains authoritative")
	}
}
