// Package schema defines the journal entry document shared by every storage tier.
//
// # Overview
//
// A LogEntry is one record produced by completing an exercise. Entries are
// grouped into a fixed set of partitions (one per exercise module) and are
// identified by a client-generated UUID. The numeric ID is kept only so that
// older readers can keep ordering entries the way they always did.
//
// # Document Format
//
// Entries are stored as flat JSON objects. Reserved keys sit beside the
// exercise payload, exactly as the legacy key/value store wrote them:
//
//	{
//	  "id": 1767225600000,
//	  "uuid": "3f0f6f4e-5d2b-4c8e-9a4e-1b2c3d4e5f60",
//	  "module": "module1",
//	  "createdAt": "2026-01-01T00:00:00.000000000Z",
//	  "updatedAt": "2026-01-01T00:00:00.000000000Z",
//	  "tool": "Emotion Scan",
//	  "emotion": "Joy",
//	  "intensity": 8
//	}
//
// Unknown keys are preserved in Payload. Legacy documents that carry a
// "timestamp" or "date" instead of "createdAt" are accepted, and a missing
// timestamp falls back to the numeric id interpreted as Unix milliseconds.
//
// # Conflict Resolution
//
// Entries are resolved last-writer-wins on EffectiveUpdatedAt, keyed by
// MergeKey. See package sync for the merge itself.
package schema
