package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/remote"
)

// FlagLastSync is the legacy flag holding the sync checkpoint.
const FlagLastSync = "last_sync_at"

// ErrSyncInProgress is returned when Sync is called while another cycle runs.
var ErrSyncInProgress = errors.New("sync already in progress")

// LocalStore is the local side of a sync: the service's cache and the
// stores behind it.
type LocalStore interface {
	// Snapshot returns the partition's current entries, newest first.
	Snapshot(p schema.Partition) []*schema.LogEntry

	// ApplyMerged replaces the partition with merged everywhere it is kept.
	ApplyMerged(ctx context.Context, p schema.Partition, merged []*schema.LogEntry) error
}

// CheckpointStore persists the sync checkpoint. *legacy.Store satisfies it.
type CheckpointStore interface {
	ReadFlag(name string) (string, bool)
	WriteFlag(name, value string) error
}

// Options configures a Syncer.
type Options struct {
	Logger  *log.Logger
	Clock   func() time.Time // defaults to time.Now
	Timeout time.Duration    // per remote call; defaults to remote.DefaultTimeout
}

// Result contains statistics about one sync cycle
type Result struct {
	Owner       string
	Since       time.Time          // checkpoint the cycle started from
	Checkpoint  time.Time          // checkpoint after the cycle
	Pulled      int                // remote records received
	Skipped     int                // records ignored (scalar docs, undecodable)
	Merged      []schema.Partition // partitions rewritten from the pull
	Pushed      int
	PushFailed  int
	MissingUUID int // entries merged or considered for push without a uuid
}

// Syncer runs delta sync cycles between a LocalStore and a Remote.
// It is safe for concurrent use; overlapping cycles are rejected.
type Syncer struct {
	local       LocalStore
	remote      remote.Remote
	checkpoints CheckpointStore
	logger      *log.Logger
	clock       func() time.Time
	timeout     time.Duration

	mu      gosync.Mutex
	running bool
}

// New creates a Syncer. rem may be nil, in which case every Sync reports
// remote.ErrNotConfigured without doing anything.
//
// If opts.Logger is nil, a default logger writing to stderr is used.
func New(local LocalStore, rem remote.Remote, checkpoints CheckpointStore, opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = remote.DefaultTimeout
	}
	return &Syncer{
		local:       local,
		remote:      rem,
		checkpoints: checkpoints,
		logger:      opts.Logger,
		clock:       opts.Clock,
		timeout:     opts.Timeout,
	}
}

// Checkpoint returns the stored checkpoint, or the Unix epoch if none is
// stored or it cannot be parsed.
func (s *Syncer) Checkpoint() time.Time {
	raw, ok := s.checkpoints.ReadFlag(FlagLastSync)
	if !ok {
		return time.Unix(0, 0).UTC()
	}
	t, err := schema.ParseTime(raw)
	if err != nil {
		s.logger.Printf("WARNING: ignoring unreadable checkpoint %q", raw)
		return time.Unix(0, 0).UTC()
	}
	return t
}

// Sync runs one pull/merge/push cycle.
//
// Without a remote or a session it returns remote.ErrNotConfigured or
// remote.ErrNoSession and makes no network calls. A failure while pulling or
// applying merged partitions aborts the cycle with the checkpoint unchanged.
// Individual push failures are counted and do not abort. On success the
// checkpoint moves to the time the cycle started, so entries written while
// it ran are pushed again next time. When a push failed, the checkpoint stops
// just before the oldest failed entry so the next cycle retries it.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if s.remote == nil {
		return nil, remote.ErrNotConfigured
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	user, err := s.remote.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	start := s.clock().UTC()
	result := &Result{Owner: user.ID, Since: s.Checkpoint()}
	result.Checkpoint = result.Since

	// Pull
	callCtx, cancel := remote.WithTimeout(ctx, s.timeout)
	records, err := s.remote.QueryUpdatedSince(callCtx, user.ID, result.Since)
	cancel()
	if err != nil {
		return result, fmt.Errorf("failed to pull changes: %w", err)
	}
	result.Pulled = len(records)

	pulled := s.groupRecords(records, result)

	// Merge
	for _, p := range schema.Partitions {
		incoming, ok := pulled[p]
		if !ok {
			continue
		}
		local := s.local.Snapshot(p)
		result.MissingUUID += countMissingUUID(local) + countMissingUUID(incoming)

		merged := MergeLogs(local, incoming)
		if err := s.local.ApplyMerged(ctx, p, merged); err != nil {
			return result, fmt.Errorf("failed to apply merged %s: %w", p, err)
		}
		result.Merged = append(result.Merged, p)
	}

	// Push
	var oldestFailed time.Time
	for _, p := range schema.Partitions {
		echoes := versions(pulled[p])
		for _, e := range s.local.Snapshot(p) {
			if !e.EffectiveUpdatedAt().After(result.Since) {
				continue
			}
			if v, ok := echoes[e.MergeKey()]; ok && v.Equal(e.EffectiveUpdatedAt()) {
				continue // identical to what was just pulled
			}
			if e.UUID == "" {
				result.MissingUUID++
				result.PushFailed++
				s.logger.Printf("WARNING: cannot push %s: entry has no uuid", e.MergeKey())
				continue
			}
			if err := s.push(ctx, user.ID, e); err != nil {
				result.PushFailed++
				s.logger.Printf("WARNING: failed to push %s: %v", e.UUID, err)
				if v := e.EffectiveUpdatedAt(); oldestFailed.IsZero() || v.Before(oldestFailed) {
					oldestFailed = v
				}
				continue
			}
			result.Pushed++
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	next := start
	if !oldestFailed.IsZero() {
		if held := oldestFailed.Add(-time.Nanosecond); held.Before(next) {
			next = held
		}
	}
	if err := s.checkpoints.WriteFlag(FlagLastSync, schema.FormatTime(next)); err != nil {
		return result, fmt.Errorf("failed to store checkpoint: %w", err)
	}
	result.Checkpoint = next

	s.logger.Printf("Sync complete: pulled=%d merged=%d pushed=%d (failed=%d)",
		result.Pulled, len(result.Merged), result.Pushed, result.PushFailed)
	return result, nil
}

// Push upserts a single entry, bounded by the per-call timeout.
func (s *Syncer) Push(ctx context.Context, e *schema.LogEntry) error {
	if s.remote == nil {
		return remote.ErrNotConfigured
	}
	user, err := s.remote.CurrentUser(ctx)
	if err != nil {
		return err
	}
	return s.push(ctx, user.ID, e)
}

func (s *Syncer) push(ctx context.Context, owner string, e *schema.LogEntry) error {
	rec, err := EncodeRecord(owner, e)
	if err != nil {
		return err
	}
	callCtx, cancel := remote.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.remote.Upsert(callCtx, rec)
}

// groupRecords decodes pulled records by partition, skipping scalar
// documents and payloads that do not decode.
func (s *Syncer) groupRecords(records []remote.Record, result *Result) map[schema.Partition][]*schema.LogEntry {
	grouped := make(map[schema.Partition][]*schema.LogEntry)
	for _, rec := range records {
		p := schema.Partition(rec.Partition)
		if !p.Valid() {
			result.Skipped++
			continue
		}
		e, err := DecodeRecord(rec)
		if err != nil {
			result.Skipped++
			s.logger.Printf("WARNING: skipping record: %v", err)
			continue
		}
		grouped[p] = append(grouped[p], e)
	}
	return grouped
}

func versions(entries []*schema.LogEntry) map[string]time.Time {
	v := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		v[e.MergeKey()] = e.EffectiveUpdatedAt()
	}
	return v
}

func countMissingUUID(entries []*schema.LogEntry) int {
	n := 0
	for _, e := range entries {
		if e.UUID == "" {
			n++
		}
	}
	return n
}
