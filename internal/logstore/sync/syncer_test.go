package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	gosync "sync"
	"testing"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/remote/memory"
)

// fakeLocal is an in-memory LocalStore.
type fakeLocal struct {
	mu        gosync.Mutex
	parts     map[schema.Partition][]*schema.LogEntry
	applied   []schema.Partition
	failApply error
	block     chan struct{}
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{parts: map[schema.Partition][]*schema.LogEntry{}}
}

func (f *fakeLocal) Snapshot(p schema.Partition) []*schema.LogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*schema.LogEntry(nil), f.parts[p]...)
}

func (f *fakeLocal) ApplyMerged(ctx context.Context, p schema.Partition, merged []*schema.LogEntry) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failApply != nil {
		return f.failApply
	}
	f.parts[p] = merged
	f.applied = append(f.applied, p)
	return nil
}

func (f *fakeLocal) add(e *schema.LogEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[e.Partition] = append([]*schema.LogEntry{e}, f.parts[e.Partition]...)
}

type fixture struct {
	local  *fakeLocal
	remote *memory.Remote
	flags  *legacy.Store
	syncer *Syncer
	now    time.Time
}

func newFixture(t *testing.T, signedIn bool) *fixture {
	t.Helper()
	f := &fixture{
		local: newFakeLocal(),
		flags: legacy.NewMem(log.New(io.Discard, "", 0)),
		now:   time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	f.remote = memory.New(func() time.Time { return f.now })
	if signedIn {
		f.remote.SignIn(remote.User{ID: "owner-1"})
	}
	f.syncer = New(f.local, f.remote, f.flags, Options{
		Logger: log.New(io.Discard, "", 0),
		Clock:  func() time.Time { return f.now },
	})
	return f
}

func remoteEntry(t *testing.T, f *fixture, e *schema.LogEntry) {
	t.Helper()
	rec, err := EncodeRecord("owner-1", e)
	if err != nil {
		t.Fatalf("EncodeRecord() failed: %v", err)
	}
	f.remote.Put(rec)
}

func TestSync_NotConfigured(t *testing.T) {
	s := New(newFakeLocal(), nil, legacy.NewMem(nil), Options{Logger: log.New(io.Discard, "", 0)})
	if _, err := s.Sync(context.Background()); !errors.Is(err, remote.ErrNotConfigured) {
		t.Errorf("Sync() error = %v, want ErrNotConfigured", err)
	}
}

func TestSync_NoSessionMakesNoCalls(t *testing.T) {
	f := newFixture(t, false)
	f.local.add(schema.NewLogEntry("u-1", schema.Module1, f.now, nil))

	if _, err := f.syncer.Sync(context.Background()); !errors.Is(err, remote.ErrNoSession) {
		t.Fatalf("Sync() error = %v, want ErrNoSession", err)
	}
	if calls := f.remote.Calls().Total(); calls != 0 {
		t.Errorf("made %d remote calls, want 0", calls)
	}
	if _, ok := f.flags.ReadFlag(FlagLastSync); ok {
		t.Error("checkpoint must not be written")
	}
	if len(f.local.applied) != 0 {
		t.Error("local store must not be touched")
	}
}

func TestSync_PullMergePush(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// Local-only entry and a shared entry where the remote copy is newer
	local := schema.NewLogEntry("local-1", schema.Module1, f.now.Add(-time.Hour), map[string]any{"tool": "Journal"})
	shared := schema.NewLogEntry("shared", schema.Module2, f.now.Add(-2*time.Hour), map[string]any{"mood": "old"})
	f.local.add(local)
	f.local.add(shared)

	newer := shared.Clone()
	newer.Apply(map[string]any{"mood": "new"})
	newer.Touch(f.now.Add(-30 * time.Minute))
	remoteEntry(t, f, newer)
	remoteEntry(t, f, schema.NewLogEntry("remote-1", schema.Module3, f.now.Add(-3*time.Hour), nil))

	// Scalar documents share the collection and must be ignored
	f.remote.Put(remote.Record{Owner: "owner-1", Partition: remote.DocProfile, ClientID: "profile_owner-1", Payload: json.RawMessage(`{"name":"Ada"}`)})

	result, err := f.syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	if result.Pulled != 3 || result.Skipped != 1 {
		t.Errorf("Pulled/Skipped = %d/%d, want 3/1", result.Pulled, result.Skipped)
	}
	if got := f.local.Snapshot(schema.Module2); len(got) != 1 || got[0].Payload["mood"] != "new" {
		t.Errorf("module2 not merged: %+v", got)
	}
	if got := f.local.Snapshot(schema.Module3); len(got) != 1 || got[0].UUID != "remote-1" {
		t.Errorf("module3 not pulled: %+v", got)
	}

	// local-1 is new since epoch and must be pushed; the pulled entries are echoes
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
	if f.remote.Calls().Upsert != 1 {
		t.Errorf("Upsert calls = %d, want 1", f.remote.Calls().Upsert)
	}

	if !f.syncer.Checkpoint().Equal(f.now) {
		t.Errorf("checkpoint = %v, want %v", f.syncer.Checkpoint(), f.now)
	}
}

func TestSync_DeltaOnly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.local.add(schema.NewLogEntry("first", schema.Module1, f.now.Add(-time.Minute), nil))
	if _, err := f.syncer.Sync(ctx); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	f.local.add(schema.NewLogEntry("second", schema.Module1, f.now.Add(-time.Minute), nil))

	result, err := f.syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("second cycle pushed %d, want only the new entry", result.Pushed)
	}
	if len(f.remote.Records()) != 2 {
		t.Errorf("remote has %d records, want 2", len(f.remote.Records()))
	}
}

func TestSync_PullFailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	_ = f.flags.WriteFlag(FlagLastSync, "2026-05-01T00:00:00Z")
	f.remote.FailQueries(errors.New("offline"))

	if _, err := f.syncer.Sync(context.Background()); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("Sync() error = %v, want ErrUnavailable", err)
	}
	if v, _ := f.flags.ReadFlag(FlagLastSync); v != "2026-05-01T00:00:00Z" {
		t.Errorf("checkpoint changed to %q", v)
	}
}

func TestSync_ApplyFailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t, true)
	remoteEntry(t, f, schema.NewLogEntry("r", schema.Module1, f.now.Add(-time.Hour), nil))
	f.local.failApply = errors.New("disk full")

	if _, err := f.syncer.Sync(context.Background()); err == nil {
		t.Fatal("expected Sync() to fail")
	}
	if _, ok := f.flags.ReadFlag(FlagLastSync); ok {
		t.Error("checkpoint must not advance after a failed apply")
	}
	if f.remote.Calls().Upsert != 0 {
		t.Error("push must not run after an aborted merge")
	}
}

func TestSync_PushFailuresContinue(t *testing.T) {
	f := newFixture(t, true)
	f.local.add(schema.NewLogEntry("a", schema.Module1, f.now.Add(-2*time.Minute), nil))
	f.local.add(schema.NewLogEntry("b", schema.Module2, f.now.Add(-time.Minute), nil))
	f.remote.FailUpserts(errors.New("503"))

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if result.PushFailed != 2 || f.remote.Calls().Upsert != 2 {
		t.Errorf("PushFailed = %d, upserts = %d; want every entry attempted", result.PushFailed, f.remote.Calls().Upsert)
	}
}

func TestSync_FailedPushRetriedNextCycle(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.local.add(schema.NewLogEntry("old", schema.Module1, f.now.Add(-time.Hour), nil))
	if _, err := f.syncer.Sync(ctx); err != nil {
		t.Fatalf("first Sync() failed: %v", err)
	}

	f.now = f.now.Add(time.Hour)
	failing := schema.NewLogEntry("flaky", schema.Module1, f.now.Add(-time.Minute), nil)
	f.local.add(failing)
	f.remote.FailUpserts(errors.New("offline"))

	result, err := f.syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if result.PushFailed != 1 {
		t.Fatalf("PushFailed = %d, want 1", result.PushFailed)
	}
	if !result.Checkpoint.Before(failing.EffectiveUpdatedAt()) {
		t.Errorf("checkpoint %v passed the unpushed entry at %v", result.Checkpoint, failing.EffectiveUpdatedAt())
	}

	f.remote.FailUpserts(nil)
	f.now = f.now.Add(time.Minute)
	result, err = f.syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("retry Sync() failed: %v", err)
	}
	if result.Pushed != 1 || result.PushFailed != 0 {
		t.Errorf("retry pushed/failed = %d/%d, want 1/0", result.Pushed, result.PushFailed)
	}
	found := false
	for _, rec := range f.remote.Records() {
		if rec.ClientID == "flaky" {
			found = true
		}
	}
	if !found {
		t.Error("entry never reached the remote after the push failure cleared")
	}
	if !f.syncer.Checkpoint().Equal(f.now) {
		t.Errorf("checkpoint = %v, want %v after a clean cycle", f.syncer.Checkpoint(), f.now)
	}
}

func TestSync_MissingUUIDTolerated(t *testing.T) {
	f := newFixture(t, true)
	f.local.add(&schema.LogEntry{ID: 1, Partition: schema.Module1, CreatedAt: f.now.Add(-time.Minute)})

	result, err := f.syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if result.MissingUUID != 1 || result.Pushed != 0 {
		t.Errorf("MissingUUID/Pushed = %d/%d, want 1/0", result.MissingUUID, result.Pushed)
	}
}

func TestSync_OverlapRejected(t *testing.T) {
	f := newFixture(t, true)
	remoteEntry(t, f, schema.NewLogEntry("r", schema.Module1, f.now.Add(-time.Hour), nil))
	f.local.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.syncer.Sync(context.Background())
		done <- err
	}()

	// Wait until the first cycle is parked inside ApplyMerged
	deadline := time.Now().Add(5 * time.Second)
	for f.remote.Calls().QueryUpdatedSince == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first sync never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := f.syncer.Sync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("overlapping Sync() error = %v, want ErrSyncInProgress", err)
	}

	close(f.local.block)
	if err := <-done; err != nil {
		t.Errorf("first Sync() failed: %v", err)
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	e := schema.NewLogEntry("u-1", schema.Module5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), map[string]any{"tool": "Values"})
	rec, err := EncodeRecord("o", e)
	if err != nil {
		t.Fatalf("EncodeRecord() failed: %v", err)
	}
	if rec.ClientID != "u-1" || rec.Partition != "module5" || rec.Owner != "o" {
		t.Errorf("record = %+v", rec)
	}

	got, err := DecodeRecord(rec)
	if err != nil {
		t.Fatalf("DecodeRecord() failed: %v", err)
	}
	if got.UUID != "u-1" || got.Tool != "Values" || !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("decoded = %+v", got)
	}

	if _, err := EncodeRecord("o", &schema.LogEntry{ID: 5}); err == nil {
		t.Error("expected error encoding entry without uuid")
	}
	if _, err := DecodeRecord(remote.Record{Payload: json.RawMessage("nope")}); err == nil {
		t.Error("expected error decoding invalid payload")
	}
}

func TestDecodeRecord_FillsIdentity(t *testing.T) {
	got, err := DecodeRecord(remote.Record{
		ClientID:  "from-record",
		Partition: "module2",
		Payload:   json.RawMessage(`{"createdAt":"2026-01-01T00:00:00Z","tool":"X"}`),
	})
	if err != nil {
		t.Fatalf("DecodeRecord() failed: %v", err)
	}
	if got.UUID != "from-record" || got.Partition != schema.Module2 {
		t.Errorf("identity not filled: %+v", got)
	}
	if !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want CreatedAt", got.UpdatedAt)
	}
}
