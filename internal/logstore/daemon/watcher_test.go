package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testFiles = map[string]string{
	"mindlog_profile": "profile",
	"mindlog_stats":   "stats",
}

func startWatcher(t *testing.T) (*FileWatcher, string) {
	t.Helper()
	dir := t.TempDir()

	fw, err := NewFileWatcher(testFiles)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	t.Cleanup(func() { fw.Stop() })

	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return fw, dir
}

func nextEvent(t *testing.T, fw *FileWatcher) DocEvent {
	t.Helper()
	select {
	case event := <-fw.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
		return DocEvent{}
	}
}

func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher(testFiles)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

func TestFileWatcher_StartStop(t *testing.T) {
	fw, _ := startWatcher(t)

	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if _, ok := <-fw.Events(); ok {
		t.Error("Events() should be closed after Stop()")
	}
}

func TestFileWatcher_StartAlreadyRunning(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := fw.Start(dir); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher(testFiles)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

func TestFileWatcher_DocumentCreated(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, "mindlog_profile"), []byte(`{"name":"Sam"}`), 0644); err != nil {
		t.Fatalf("Failed to write profile: %v", err)
	}

	event := nextEvent(t, fw)
	if event.Document != "profile" {
		t.Errorf("Document = %q, want profile", event.Document)
	}
	if event.Op != OpCreate {
		t.Errorf("Op = %v, want create", event.Op)
	}
}

func TestFileWatcher_DocumentModifiedAndDeleted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mindlog_stats")
	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write stats: %v", err)
	}

	fw, err := NewFileWatcher(testFiles)
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.Stop()
	if err := fw.Start(dir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	// Give watcher time to stabilize
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"streak":1}`), 0644); err != nil {
		t.Fatalf("Failed to update stats: %v", err)
	}
	if event := nextEvent(t, fw); event.Op != OpModify || event.Document != "stats" {
		t.Errorf("event = %+v, want stats modify", event)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Failed to delete stats: %v", err)
	}
	// A write may be reported more than once; skip to the delete.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-fw.Events():
			if event.Op == OpDelete {
				return
			}
		case <-deadline:
			t.Fatal("Timeout waiting for delete event")
		}
	}
}

func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	fw, dir := startWatcher(t)

	if err := os.WriteFile(filepath.Join(dir, "mindlog_module1_logs"), []byte(`[]`), 0644); err != nil {
		t.Fatalf("Failed to write partition: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.json"), []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	select {
	case event := <-fw.Events():
		t.Errorf("unexpected event %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
