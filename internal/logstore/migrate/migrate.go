// Package migrate moves journal entries between storage formats: the one-time
// copy of the legacy flat store into the database, and JSONL export/import.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/logstore/schema"
)

// FlagMigrated is the legacy flag set once every partition has been copied.
const FlagMigrated = "migrated_to_db"

// Target receives migrated entries. *db.Store satisfies it.
type Target interface {
	BulkPut(ctx context.Context, entries []*schema.LogEntry) error
}

// Options configures Run.
type Options struct {
	Legacy  *legacy.Store
	Target  Target
	NewUUID func() string    // defaults to uuid.NewString
	Clock   func() time.Time // stamps entries that carry no timestamp at all
	Logger  *log.Logger
}

// Result contains statistics about the migration
type Result struct {
	AlreadyMigrated  bool
	EntriesMigrated  int
	UUIDsAssigned    int
	PartitionsFailed []schema.Partition
}

// Done reports whether the migration flag has been set.
func Done(store *legacy.Store) bool {
	v, ok := store.ReadFlag(FlagMigrated)
	return ok && v == "true"
}

// Run copies every legacy partition into the target, once.
//
// Each entry is stamped with a uuid (if it has none) and its partition before
// being written. A partition that fails to write does not stop the others;
// the flag is only set when all of them landed, so a failed partition is
// retried on the next run. Stamped uuids are written back to the legacy
// store, which keeps a rerun from minting new identities for the same entries.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Legacy == nil || opts.Target == nil {
		return nil, errors.New("migrate: legacy store and target are required")
	}
	if opts.NewUUID == nil {
		opts.NewUUID = uuid.NewString
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[migrate] ", log.LstdFlags)
	}

	result := &Result{}
	if Done(opts.Legacy) {
		result.AlreadyMigrated = true
		return result, nil
	}

	var errs []error
	for _, p := range schema.Partitions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		entries := opts.Legacy.ReadPartition(p)
		if len(entries) == 0 {
			continue
		}

		assigned := Stamp(entries, p, opts.NewUUID, opts.Clock())

		if err := opts.Target.BulkPut(ctx, entries); err != nil {
			logger.Printf("WARNING: failed to migrate %s (%d entries): %v", p, len(entries), err)
			result.PartitionsFailed = append(result.PartitionsFailed, p)
			errs = append(errs, fmt.Errorf("partition %s: %w", p, err))
			continue
		}

		if assigned > 0 {
			schema.SortNewestFirst(entries)
			opts.Legacy.WritePartition(p, entries)
		}
		result.EntriesMigrated += len(entries)
		result.UUIDsAssigned += assigned
	}

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}

	if err := opts.Legacy.WriteFlag(FlagMigrated, "true"); err != nil {
		// Data is in the target; a rerun is harmless because uuids are stable.
		logger.Printf("WARNING: failed to set migration flag: %v", err)
	}
	logger.Printf("migrated %d entries (%d new uuids)", result.EntriesMigrated, result.UUIDsAssigned)
	return result, nil
}

// Stamp gives every entry a uuid and the partition p, and defaults UpdatedAt
// to CreatedAt. Entries with no recoverable creation time get now.
// It returns how many uuids were generated.
func Stamp(entries []*schema.LogEntry, p schema.Partition, newUUID func() string, now time.Time) int {
	assigned := 0
	for _, e := range entries {
		if e.UUID == "" {
			e.UUID = newUUID()
			assigned++
		}
		e.Partition = p
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now.UTC()
			if e.ID == 0 {
				e.ID = e.CreatedAt.UnixMilli()
			}
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = e.CreatedAt
		}
	}
	return assigned
}
