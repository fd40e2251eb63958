// Package service is the storage façade for journal entries.
//
// A Service owns an in-memory cache of every partition. Reads are served
// from the cache and never block on storage; writes update the cache before
// returning and are persisted in the background, in order, to the database
// and to the legacy store mirror. When a remote is configured, each write is
// also pushed in the background, and SyncWithCloud runs a delta sync.
//
// Lifecycle:
//
//	Uninitialized ──Init──► Initializing ──► Ready
//
// Before Ready, reads fall through to the legacy store so callers never have
// to wait for Init. Init migrates legacy data into the database once, then
// loads the cache from the database; if either step fails the cache is
// filled from the legacy store instead and the service is still Ready.
//
// No public method returns an error for offline, quota or corrupt-data
// conditions. Those are logged and the local view stays correct.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mindlog/mindlog/internal/logstore/db"
	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/logstore/migrate"
	"github.com/mindlog/mindlog/internal/logstore/schema"
	logsync "github.com/mindlog/mindlog/internal/logstore/sync"
	"github.com/mindlog/mindlog/internal/remote"
)

// Store is the persistent document store. *db.Store satisfies it.
type Store interface {
	Put(ctx context.Context, entry *schema.LogEntry) error
	BulkPut(ctx context.Context, entries []*schema.LogEntry) error
	GetByPartition(ctx context.Context, p schema.Partition) ([]*schema.LogEntry, error)
	DeleteByPartition(ctx context.Context, p schema.Partition) error
	Clear(ctx context.Context) error
}

// State is the initialization state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Service.
type Options struct {
	Store         Store         // defaults to an unavailable store
	Legacy        *legacy.Store // defaults to an in-memory legacy store
	Remote        remote.Remote // nil disables cloud sync
	Logger        *log.Logger
	Clock         func() time.Time // defaults to time.Now
	NewUUID       func() string    // defaults to uuid.NewString
	RemoteTimeout time.Duration    // per remote call; defaults to remote.DefaultTimeout
}

// Service is the storage façade. It is safe for concurrent use.
type Service struct {
	store   Store
	legacy  *legacy.Store
	remote  remote.Remote
	syncer  *logsync.Syncer
	logger  *log.Logger
	clock   func() time.Time
	newUUID func() string
	timeout time.Duration

	initOnce sync.Once
	state    atomic.Int32

	// mu guards the cache. Partition slices are never modified in place:
	// every write installs a new slice, so a slice handed out stays valid.
	mu          sync.RWMutex
	cache       map[schema.Partition][]*schema.LogEntry
	merged      []*schema.LogEntry
	mergedValid bool

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	writer     *writer
	pushes     inflight
	lastResult atomic.Pointer[logsync.Result]

	unavailableOnce sync.Once
	closeOnce       sync.Once
}

// New creates a Service. Nothing is read until Init or the first call.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[service] ", log.LstdFlags)
	}
	if opts.Store == nil {
		opts.Store = db.Unavailable(errors.New("no persistent store configured"))
	}
	if opts.Legacy == nil {
		opts.Legacy = legacy.NewMem(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewUUID == nil {
		opts.NewUUID = uuid.NewString
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = remote.DefaultTimeout
	}

	s := &Service{
		store:   opts.Store,
		legacy:  opts.Legacy,
		remote:  opts.Remote,
		logger:  opts.Logger,
		clock:   opts.Clock,
		newUUID: opts.NewUUID,
		timeout: opts.RemoteTimeout,
		cache:   make(map[schema.Partition][]*schema.LogEntry),
		subs:    make(map[int]func(Change)),
		writer:  newWriter(opts.Logger),
	}
	s.syncer = logsync.New(s, opts.Remote, opts.Legacy, logsync.Options{
		Logger:  opts.Logger,
		Clock:   opts.Clock,
		Timeout: opts.RemoteTimeout,
	})
	return s
}

// State returns the current initialization state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Legacy returns the legacy store backing scalar documents and flags.
func (s *Service) Legacy() *legacy.Store {
	return s.legacy
}

// Remote returns the configured remote, or nil.
func (s *Service) Remote() remote.Remote {
	return s.remote
}

// Init migrates and loads data. Only the first call does the work;
// concurrent callers wait for it to finish. It always ends Ready and only
// returns an error if ctx is done.
func (s *Service) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.state.Store(int32(StateInitializing))
		defer s.state.Store(int32(StateReady))

		defer func() {
			if r := recover(); r != nil {
				s.logger.Printf("WARNING: init panicked: %v; using legacy store", r)
				s.loadFromLegacy()
			}
		}()

		if err := s.initFromStore(ctx); err != nil {
			s.reportStoreErr("initialize", err)
			s.loadFromLegacy()
		}
	})
	return ctx.Err()
}

func (s *Service) initFromStore(ctx context.Context) error {
	// Mirror writes queued before Init must land before migration reads them.
	if err := s.writer.flush(ctx); err != nil {
		return err
	}

	if !migrate.Done(s.legacy) {
		_, err := migrate.Run(ctx, migrate.Options{
			Legacy:  s.legacy,
			Target:  s.store,
			NewUUID: s.newUUID,
			Clock:   s.clock,
			Logger:  s.logger,
		})
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	loaded := make(map[schema.Partition][]*schema.LogEntry, len(schema.Partitions))
	for _, p := range schema.Partitions {
		entries, err := s.store.GetByPartition(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		loaded[p] = entries
	}

	s.install(loaded)
	return nil
}

// loadFromLegacy fills the cache from the legacy store.
func (s *Service) loadFromLegacy() {
	loaded := make(map[schema.Partition][]*schema.LogEntry, len(schema.Partitions))
	for _, p := range schema.Partitions {
		entries := s.legacy.ReadPartition(p)
		schema.SortNewestFirst(entries)
		loaded[p] = entries
	}
	s.install(loaded)
}

// install replaces the cache with loaded partitions. Entries written before
// Init finished are merged back in, so an early write is never dropped.
// Early entries without a uuid came from a legacy read-through and are
// already part of loaded.
func (s *Service) install(loaded map[schema.Partition][]*schema.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p, entries := range loaded {
		var early []*schema.LogEntry
		for _, e := range s.cache[p] {
			if e.UUID != "" {
				early = append(early, e)
			}
		}
		if len(early) > 0 {
			entries = logsync.MergeLogs(entries, early)
		}
		if entries == nil {
			entries = []*schema.LogEntry{}
		}
		s.cache[p] = entries
	}
	s.mergedValid = false
}

// Flush waits for queued persistence and in-flight pushes.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.writer.flush(ctx); err != nil {
		return err
	}
	return s.pushes.wait(ctx)
}

// Close flushes background work and stops the writer. The persistent store
// is owned by the caller and is not closed.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*s.timeout)
		defer cancel()
		err = s.pushes.wait(ctx)
		s.writer.close()
	})
	return err
}

// reportStoreErr logs a persistence failure. An unavailable store is
// reported once; the legacy mirror carries the data from then on.
func (s *Service) reportStoreErr(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, db.ErrStoreUnavailable) {
		s.unavailableOnce.Do(func() {
			s.logger.Printf("WARNING: %v; falling back to legacy store", err)
		})
		return
	}
	s.logger.Printf("WARNING: failed to %s: %v", op, err)
}
