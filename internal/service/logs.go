package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/remote"
)

// ChangeKind names what changed.
type ChangeKind string

const (
	ChangeSaved   ChangeKind = "saved"
	ChangeUpdated ChangeKind = "updated"
	ChangeCleared ChangeKind = "cleared"
	ChangeSynced  ChangeKind = "synced"
	ChangeGlobal  ChangeKind = "global" // profile or stats document
)

// Change is delivered to subscribers after the cache reflects it.
type Change struct {
	Kind       ChangeKind         `json:"kind"`
	Partitions []schema.Partition `json:"partitions,omitempty"`
	Entry      *schema.LogEntry   `json:"entry,omitempty"`
	Document   string             `json:"document,omitempty"`
}

// SaveLog records a new entry in partition p and returns it.
//
// The cache holds the entry when SaveLog returns; the database write, the
// legacy mirror and the remote push happen in the background. It returns nil
// for an invalid partition or an unexpected internal error.
func (s *Service) SaveLog(p schema.Partition, payload map[string]any) (saved *schema.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("WARNING: save to %s failed: %v", p, r)
			saved = nil
		}
	}()

	if !p.Valid() {
		s.logger.Printf("WARNING: refusing to save to unknown partition %q", p)
		return nil
	}

	entry := schema.NewLogEntry(s.newUUID(), p, s.clock(), payload)

	s.mu.Lock()
	current := s.partitionLocked(p)
	next := make([]*schema.LogEntry, 0, len(current)+1)
	next = append(next, entry)
	next = append(next, current...)
	s.cache[p] = next
	s.mergedValid = false
	s.persistLocked(p, entry, next)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSaved, Partitions: []schema.Partition{p}, Entry: entry.Clone()})
	s.pushAsync(entry)
	return entry.Clone()
}

// UpdateLog merges patch into the entry with the given uuid and refreshes its
// UpdatedAt. It returns the updated entry, or nil if there is no such entry.
func (s *Service) UpdateLog(p schema.Partition, uuid string, patch map[string]any) (updated *schema.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("WARNING: update of %s failed: %v", uuid, r)
			updated = nil
		}
	}()

	if !p.Valid() || uuid == "" {
		return nil
	}

	s.mu.Lock()
	current := s.partitionLocked(p)
	idx := -1
	for i, e := range current {
		if e.UUID == uuid {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	entry := current[idx].Clone()
	entry.Apply(patch)
	entry.Touch(s.clock())

	next := make([]*schema.LogEntry, len(current))
	copy(next, current)
	next[idx] = entry
	s.cache[p] = next
	s.mergedValid = false
	s.persistLocked(p, entry, next)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, Partitions: []schema.Partition{p}, Entry: entry.Clone()})
	s.pushAsync(entry)
	return entry.Clone()
}

// GetLogs returns partition p newest first. Unknown partitions and read
// failures yield an empty slice.
func (s *Service) GetLogs(p schema.Partition) []*schema.LogEntry {
	if !p.Valid() {
		return []*schema.LogEntry{}
	}

	s.mu.RLock()
	entries, ok := s.cache[p]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		entries = s.partitionLocked(p)
		s.mu.Unlock()
	}
	return cloneAll(entries)
}

// GetAllLogs returns every entry across partitions, newest first.
func (s *Service) GetAllLogs() []*schema.LogEntry {
	return cloneAll(s.allLogs())
}

// GetStats counts entries by label (tool, else type, else partition).
func (s *Service) GetStats() map[string]int {
	stats := make(map[string]int)
	for _, e := range s.allLogs() {
		stats[e.Label()]++
	}
	return stats
}

// ClearLogs removes the given partitions, or all of them when none are
// given, from the cache, the database and the legacy mirror.
func (s *Service) ClearLogs(partitions ...schema.Partition) {
	all := len(partitions) == 0
	if all {
		partitions = schema.Partitions
	}

	valid := make([]schema.Partition, 0, len(partitions))
	for _, p := range partitions {
		if !p.Valid() {
			s.logger.Printf("WARNING: ignoring unknown partition %q", p)
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return
	}

	s.mu.Lock()
	for _, p := range valid {
		s.cache[p] = []*schema.LogEntry{}
	}
	s.mergedValid = false
	s.writer.enqueue(func(ctx context.Context) {
		if all {
			s.reportStoreErr("clear entries", s.store.Clear(ctx))
		} else {
			for _, p := range valid {
				s.reportStoreErr("clear "+string(p), s.store.DeleteByPartition(ctx, p))
			}
		}
		for _, p := range valid {
			s.legacy.RemovePartition(p)
		}
	})
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCleared, Partitions: valid})
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs synchronously on the goroutine that made the
// change, after the cache reflects it.
func (s *Service) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Service) notify(c Change) {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		s.callSubscriber(fn, c)
	}
}

func (s *Service) callSubscriber(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("WARNING: subscriber panicked on %s: %v", c.Kind, r)
		}
	}()
	fn(c)
}

// partitionLocked returns the cached partition, reading it through from the
// legacy store on first use. Callers must hold s.mu for writing.
func (s *Service) partitionLocked(p schema.Partition) []*schema.LogEntry {
	if entries, ok := s.cache[p]; ok {
		return entries
	}
	entries := s.legacy.ReadPartition(p)
	schema.SortNewestFirst(entries)
	s.cache[p] = entries
	s.mergedValid = false
	return entries
}

// allLogs returns the memoized merged view. The slice must not be modified.
func (s *Service) allLogs() []*schema.LogEntry {
	s.mu.RLock()
	if s.mergedValid {
		merged := s.merged
		s.mu.RUnlock()
		return merged
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mergedValid {
		var all []*schema.LogEntry
		for _, p := range schema.Partitions {
			all = append(all, s.partitionLocked(p)...)
		}
		if all == nil {
			all = []*schema.LogEntry{}
		}
		schema.SortNewestFirst(all)
		s.merged = all
		s.mergedValid = true
	}
	return s.merged
}

// persistLocked queues the database write of entry and the legacy mirror of
// the partition snapshot. Queuing under s.mu keeps writes in cache order.
func (s *Service) persistLocked(p schema.Partition, entry *schema.LogEntry, snapshot []*schema.LogEntry) {
	s.writer.enqueue(func(ctx context.Context) {
		s.reportStoreErr("persist "+entry.UUID, s.store.Put(ctx, entry))
		s.legacy.WritePartition(p, snapshot)
	})
}

// pushAsync pushes one entry in the background when a session exists.
func (s *Service) pushAsync(entry *schema.LogEntry) {
	if s.remote == nil {
		return
	}
	s.pushes.add()
	go func() {
		defer s.pushes.done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Printf("WARNING: push of %s panicked: %v", entry.UUID, r)
			}
		}()

		ctx, cancel := remote.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		err := s.syncer.Push(ctx, entry)
		if err != nil && !errors.Is(err, remote.ErrNoSession) {
			s.logger.Printf("WARNING: failed to push %s: %v", entry.UUID, err)
		}
	}()
}

func cloneAll(entries []*schema.LogEntry) []*schema.LogEntry {
	out := make([]*schema.LogEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}
