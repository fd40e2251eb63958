package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/remote"
	"github.com/mindlog/mindlog/internal/service"
)

// Service is the part of the storage service the daemon drives.
// *service.Service satisfies it.
type Service interface {
	Init(ctx context.Context) error
	SyncWithCloud(ctx context.Context) error
	SyncGlobalData(ctx context.Context) (*service.GlobalData, error)
	PublishDocument(ctx context.Context, name string) error
	Document(name string) (json.RawMessage, bool)
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a delta sync and pull the scalar
	// documents.
	SyncInterval time.Duration

	// DebounceInterval is how long a document file must stay quiet before
	// it is published. This batches rapid edits together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// DocumentFiles maps the file names l stores the given documents under to
// the document names, ready for New.
func DocumentFiles(l *legacy.Store, docs ...string) map[string]string {
	files := make(map[string]string, len(docs))
	for _, doc := range docs {
		files[legacy.FileName(l.FlagKey(doc))] = doc
	}
	return files
}

// Stats counts daemon activity.
type Stats struct {
	Syncs     int64
	Published int64
	Skipped   int64 // document changes identical to the last pulled copy
}

// Daemon runs periodic syncs and publishes edited scalar documents.
type Daemon struct {
	svc    Service
	dir    string
	config *Config

	watcher       *FileWatcher
	changeQueue   map[string]time.Time // document -> last event
	changeQueueMu sync.Mutex

	// pulled holds the last copy of each document written by a pull, so the
	// file event it causes is not published back.
	pulled   map[string][]byte
	pulledMu sync.Mutex

	syncs     atomic.Int64
	published atomic.Int64
	skipped   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// New creates a daemon for svc.
//
// dir is the legacy store directory and files maps each base file name in it
// to the scalar document it holds. Use Start() to begin.
func New(svc Service, dir string, files map[string]string, config *Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher(files)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		svc:         svc,
		dir:         dir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		pulled:      make(map[string][]byte),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Initialize the service and run one sync
// 2. Start watching the document files
// 3. Sync periodically
// 4. Publish changed documents with debouncing
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.svc.Init(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	d.SyncNow(ctx)

	if err := d.watcher.Start(d.dir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stop.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Stats returns a snapshot of the activity counters.
func (d *Daemon) Stats() Stats {
	return Stats{
		Syncs:     d.syncs.Load(),
		Published: d.published.Load(),
		Skipped:   d.skipped.Load(),
	}
}

// SyncNow runs a delta sync and pulls the scalar documents.
func (d *Daemon) SyncNow(ctx context.Context) {
	if err := d.svc.SyncWithCloud(ctx); err != nil {
		d.config.Logger.Printf("Sync interrupted: %v", err)
		return
	}

	data, err := d.svc.SyncGlobalData(ctx)
	if err != nil {
		d.config.Logger.Printf("Document pull interrupted: %v", err)
		return
	}
	if data != nil {
		d.rememberPulled(remote.DocProfile, data.Profile)
		d.rememberPulled(remote.DocStats, data.Stats)
	}
	d.syncs.Add(1)
}

func (d *Daemon) rememberPulled(doc string, data json.RawMessage) {
	if data == nil {
		return
	}
	d.pulledMu.Lock()
	defer d.pulledMu.Unlock()
	d.pulled[doc] = append([]byte(nil), data...)
}

// isEcho reports whether the stored document equals the last pulled copy.
func (d *Daemon) isEcho(doc string) bool {
	current, ok := d.svc.Document(doc)
	if !ok {
		return false
	}
	d.pulledMu.Lock()
	defer d.pulledMu.Unlock()
	last, ok := d.pulled[doc]
	return ok && bytes.Equal(last, current)
}

func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	events := d.watcher.Events()
	errs := d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Op == OpDelete {
				continue
			}
			d.config.Logger.Printf("File event: %s %s", event.Op, event.Document)
			d.queueChange(event.Document)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange(doc string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[doc] = time.Now()
}

func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges publishes documents that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for doc, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, doc)
		delete(d.changeQueue, doc)
	}
	d.changeQueueMu.Unlock()

	for _, doc := range ready {
		if d.isEcho(doc) {
			d.skipped.Add(1)
			continue
		}
		d.config.Logger.Printf("Publishing %s", doc)
		if err := d.svc.PublishDocument(d.ctx, doc); err != nil {
			d.config.Logger.Printf("Error publishing %s: %v", doc, err)
			continue
		}
		d.published.Add(1)
	}
}

func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.SyncNow(d.ctx)
		}
	}
}
