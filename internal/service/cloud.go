package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/db"
	"github.com/mindlog/mindlog/internal/logstore/schema"
	logsync "github.com/mindlog/mindlog/internal/logstore/sync"
	"github.com/mindlog/mindlog/internal/remote"
)

// GlobalData holds the scalar documents pulled from the remote.
type GlobalData struct {
	Profile json.RawMessage `json:"profile,omitempty"`
	Stats   json.RawMessage `json:"stats,omitempty"`
}

// SyncWithCloud runs one delta sync. Offline, signed-out and overlapping
// runs are logged no-ops; the only error returned is ctx's.
func (s *Service) SyncWithCloud(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	// A signed-out sync leaves every store untouched, migration included.
	if _, err := s.remote.CurrentUser(ctx); err != nil {
		if !errors.Is(err, remote.ErrNoSession) {
			s.logger.Printf("WARNING: sync skipped: %v", err)
		}
		return ctx.Err()
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	result, err := s.syncer.Sync(ctx)
	switch {
	case err == nil:
		s.lastResult.Store(result)
		if len(result.Merged) > 0 {
			s.notify(Change{Kind: ChangeSynced, Partitions: result.Merged})
		}
	case errors.Is(err, remote.ErrNoSession), errors.Is(err, remote.ErrNotConfigured):
		// signed out: nothing to do
	case errors.Is(err, logsync.ErrSyncInProgress):
		s.logger.Printf("sync skipped: %v", err)
	default:
		s.logger.Printf("WARNING: sync failed: %v", err)
		if result != nil && len(result.Merged) > 0 {
			s.notify(Change{Kind: ChangeSynced, Partitions: result.Merged})
		}
	}
	return ctx.Err()
}

// LastSyncResult returns the result of the last successful sync, or nil.
func (s *Service) LastSyncResult() *logsync.Result {
	return s.lastResult.Load()
}

// LastSyncAt returns the sync checkpoint (the Unix epoch if never synced).
func (s *Service) LastSyncAt() time.Time {
	return s.syncer.Checkpoint()
}

// Snapshot returns partition p as cached. The slice must not be modified.
func (s *Service) Snapshot(p schema.Partition) []*schema.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitionLocked(p)
}

// ApplyMerged installs merged as partition p in the cache, then writes it to
// the database and the legacy mirror. The cache copy is merged once more
// with whatever the partition holds now, so writes made while a sync was
// running are kept. An unavailable database is not an error here; the
// legacy mirror holds the data.
func (s *Service) ApplyMerged(ctx context.Context, p schema.Partition, merged []*schema.LogEntry) error {
	if !p.Valid() {
		return fmt.Errorf("invalid partition %q", p)
	}

	s.mu.Lock()
	final := logsync.MergeLogs(s.partitionLocked(p), merged)
	s.cache[p] = final
	s.mergedValid = false
	done := s.writer.enqueueResult(func(ctx context.Context) error {
		s.legacy.WritePartition(p, final)
		return s.store.BulkPut(ctx, final)
	})
	s.mu.Unlock()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err != nil {
		if errors.Is(err, db.ErrStoreUnavailable) {
			s.reportStoreErr("apply "+string(p), err)
			return nil
		}
		return err
	}
	return nil
}

// ImportLogs merges entries into their partitions by uuid. Entries with an
// invalid partition or no uuid are skipped. It returns how many were
// accepted.
func (s *Service) ImportLogs(ctx context.Context, entries []*schema.LogEntry) (int, error) {
	if err := s.Init(ctx); err != nil {
		return 0, err
	}

	grouped := make(map[schema.Partition][]*schema.LogEntry)
	accepted := 0
	for _, e := range entries {
		if e == nil || e.Validate() != nil {
			continue
		}
		c := e.Clone()
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		grouped[c.Partition] = append(grouped[c.Partition], c)
		accepted++
	}

	var touched []schema.Partition
	for _, p := range schema.Partitions {
		if len(grouped[p]) == 0 {
			continue
		}
		if err := s.ApplyMerged(ctx, p, grouped[p]); err != nil {
			return accepted, fmt.Errorf("failed to import %s: %w", p, err)
		}
		touched = append(touched, p)
	}
	if len(touched) > 0 {
		s.notify(Change{Kind: ChangeSynced, Partitions: touched})
	}
	return accepted, nil
}

// SaveProfile stores the profile document locally and, best effort, remotely.
func (s *Service) SaveProfile(ctx context.Context, profile any) error {
	return s.saveDocument(ctx, remote.DocProfile, profile)
}

// SaveStats stores the stats document locally and, best effort, remotely.
func (s *Service) SaveStats(ctx context.Context, stats any) error {
	return s.saveDocument(ctx, remote.DocStats, stats)
}

// Document returns a stored scalar document.
func (s *Service) Document(name string) (json.RawMessage, bool) {
	return s.legacy.RawDocument(name)
}

// LoadDocument decodes a stored scalar document into v.
func (s *Service) LoadDocument(name string, v any) (bool, error) {
	return s.legacy.ReadDocument(name, v)
}

// PublishDocument pushes the locally stored document to the remote. It is a
// no-op when the document is missing or there is no session.
func (s *Service) PublishDocument(ctx context.Context, name string) error {
	data, ok := s.legacy.RawDocument(name)
	if !ok {
		return nil
	}
	s.pushDocument(ctx, name, data)
	return ctx.Err()
}

// saveDocument only returns an error when v cannot be encoded.
func (s *Service) saveDocument(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	if err := s.legacy.WriteRawDocument(name, data); err != nil {
		s.logger.Printf("WARNING: failed to store %s: %v", name, err)
	}
	s.notify(Change{Kind: ChangeGlobal, Document: name})

	s.pushDocument(ctx, name, data)
	return nil
}

func (s *Service) pushDocument(ctx context.Context, name string, data []byte) {
	if s.remote == nil {
		return
	}
	user, err := s.remote.CurrentUser(ctx)
	if err != nil {
		return
	}

	callCtx, cancel := remote.WithTimeout(ctx, s.timeout)
	defer cancel()
	rec := remote.Record{
		Owner:     user.ID,
		Partition: name,
		ClientID:  remote.StableID(name, user.ID),
		Payload:   data,
	}
	if err := s.remote.Upsert(callCtx, rec); err != nil {
		s.logger.Printf("WARNING: failed to push %s: %v", name, err)
	}
}

// SyncGlobalData pulls the profile and stats documents and overwrites the
// local copies. It returns nil when there is no remote, no session, or the
// pull fails; the only error returned is ctx's.
func (s *Service) SyncGlobalData(ctx context.Context) (*GlobalData, error) {
	if s.remote == nil {
		return nil, nil
	}
	user, err := s.remote.CurrentUser(ctx)
	if err != nil {
		return nil, nil
	}

	callCtx, cancel := remote.WithTimeout(ctx, s.timeout)
	records, err := s.remote.QueryByPartitions(callCtx, user.ID, []string{remote.DocProfile, remote.DocStats})
	cancel()
	if err != nil {
		s.logger.Printf("WARNING: failed to pull profile and stats: %v", err)
		return nil, ctx.Err()
	}

	latest := make(map[string]remote.Record)
	for _, rec := range records {
		if cur, ok := latest[rec.Partition]; !ok || rec.CreatedAt.After(cur.CreatedAt) {
			latest[rec.Partition] = rec
		}
	}

	data := &GlobalData{}
	for name, rec := range latest {
		if err := s.legacy.WriteRawDocument(name, rec.Payload); err != nil {
			s.logger.Printf("WARNING: failed to store pulled %s: %v", name, err)
			continue
		}
		switch name {
		case remote.DocProfile:
			data.Profile = rec.Payload
		case remote.DocStats:
			data.Stats = rec.Payload
		}
		s.notify(Change{Kind: ChangeGlobal, Document: name})
	}
	return data, nil
}

// ClearAllData signs out of the remote and wipes the legacy store, the cache
// and the database.
func (s *Service) ClearAllData(ctx context.Context) {
	if s.remote != nil {
		callCtx, cancel := remote.WithTimeout(ctx, s.timeout)
		if err := s.remote.SignOut(callCtx); err != nil {
			s.logger.Printf("WARNING: sign out failed: %v", err)
		}
		cancel()
	}

	s.mu.Lock()
	for _, p := range schema.Partitions {
		s.cache[p] = []*schema.LogEntry{}
	}
	s.mergedValid = false
	done := s.writer.enqueueResult(func(ctx context.Context) error {
		s.reportStoreErr("clear entries", s.store.Clear(ctx))
		return s.legacy.Clear()
	})
	s.mu.Unlock()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Printf("WARNING: failed to clear legacy store: %v", err)
		}
	case <-ctx.Done():
	}

	s.notify(Change{Kind: ChangeCleared, Partitions: schema.Partitions})
}
