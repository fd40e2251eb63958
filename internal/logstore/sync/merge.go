package sync

import (
	"github.com/mindlog/mindlog/internal/logstore/schema"
)

// MergeLogs combines two copies of a partition, last writer wins.
//
// Entries are matched by MergeKey. When both sides hold the same key, the
// candidate replaces the existing entry only if its EffectiveUpdatedAt is
// strictly later, so on an exact tie the local copy is kept. The result is
// sorted newest first by CreatedAt. Neither input slice nor any entry in them
// is modified.
func MergeLogs(local, remote []*schema.LogEntry) []*schema.LogEntry {
	byKey := make(map[string]*schema.LogEntry, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))

	consider := func(candidate *schema.LogEntry) {
		if candidate == nil {
			return
		}
		key := candidate.MergeKey()
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = candidate
			order = append(order, key)
			return
		}
		if candidate.EffectiveUpdatedAt().After(existing.EffectiveUpdatedAt()) {
			byKey[key] = candidate
		}
	}

	for _, e := range local {
		consider(e)
	}
	for _, e := range remote {
		consider(e)
	}

	merged := make([]*schema.LogEntry, 0, len(order))
	for _, key := range order {
		merged = append(merged, byKey[key])
	}
	schema.SortNewestFirst(merged)
	return merged
}
