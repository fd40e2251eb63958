package daemon

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/remote/memory"
	"github.com/mindlog/mindlog/internal/service"
)

type fixture struct {
	dir    string
	legacy *legacy.Store
	remote *memory.Remote
	svc    *service.Service
	daemon *Daemon
}

func newFixture(t *testing.T, syncInterval time.Duration) *fixture {
	t.Helper()
	discard := log.New(io.Discard, "", 0)

	f := &fixture{dir: t.TempDir(), remote: memory.New(nil)}
	kv, err := legacy.NewFileKV(f.dir)
	if err != nil {
		t.Fatalf("NewFileKV() failed: %v", err)
	}
	f.legacy = legacy.New(kv, "", discard)
	f.remote.SignIn(remote.User{ID: "owner-1"})
	f.svc = service.New(service.Options{Legacy: f.legacy, Remote: f.remote, Logger: discard})
	t.Cleanup(func() { f.svc.Close() })

	files := DocumentFiles(f.legacy, remote.DocProfile, remote.DocStats)
	f.daemon, err = New(f.svc, f.dir, files, &Config{
		SyncInterval:     syncInterval,
		DebounceInterval: 20 * time.Millisecond,
		Logger:           discard,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return f
}

// run starts the daemon and waits for its first sync.
func (f *fixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.daemon.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start() returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, "first sync", func() bool { return f.daemon.Stats().Syncs >= 1 })
	// Give watcher time to stabilize
	time.Sleep(100 * time.Millisecond)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timeout waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, "dir", nil, nil); err == nil {
		t.Error("New(nil service) should fail")
	}
	svc := service.New(service.Options{Logger: log.New(io.Discard, "", 0)})
	defer svc.Close()
	if _, err := New(svc, "", nil, nil); err == nil {
		t.Error("New(empty dir) should fail")
	}
}

func TestDocumentFiles(t *testing.T) {
	l := legacy.New(legacy.NewMemKV(), "app_", nil)
	files := DocumentFiles(l, remote.DocProfile, remote.DocStats)
	if files["app_profile"] != remote.DocProfile || files["app_stats"] != remote.DocStats {
		t.Errorf("DocumentFiles() = %v", files)
	}
}

func TestDaemon_PublishesEditedDocument(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.run(t)

	// Another process edits the profile.
	if err := f.legacy.WriteDocument(remote.DocProfile, map[string]string{"name": "Sam"}); err != nil {
		t.Fatalf("WriteDocument() failed: %v", err)
	}

	waitFor(t, "publish", func() bool { return f.daemon.Stats().Published >= 1 })

	var found bool
	for _, rec := range f.remote.Records() {
		if rec.ClientID == remote.StableID(remote.DocProfile, "owner-1") {
			found = string(rec.Payload) == `{"name":"Sam"}`
		}
	}
	if !found {
		t.Errorf("profile not on the remote: %+v", f.remote.Records())
	}
}

func TestDaemon_PeriodicSyncDoesNotEchoPulledDocuments(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	f.run(t)

	f.remote.Put(remote.Record{
		Owner:     "owner-1",
		Partition: remote.DocStats,
		ClientID:  remote.StableID(remote.DocStats, "owner-1"),
		Payload:   json.RawMessage(`{"streak":9}`),
	})

	waitFor(t, "pulled stats", func() bool {
		raw, ok := f.svc.Document(remote.DocStats)
		return ok && string(raw) == `{"streak":9}`
	})
	waitFor(t, "skipped echo", func() bool { return f.daemon.Stats().Skipped >= 1 })

	if n := f.remote.Calls().Upsert; n != 0 {
		t.Errorf("made %d upserts, want 0", n)
	}
	if f.daemon.Stats().Published != 0 {
		t.Errorf("Published = %d, want 0", f.daemon.Stats().Published)
	}
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Hour)
	if err := f.daemon.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := f.daemon.Stop(); err != nil {
		t.Fatalf("second Stop() failed: %v", err)
	}
}
