package sync

import (
	"encoding/json"
	"fmt"

	"github.com/mindlog/mindlog/internal/logstore/schema"
	"github.com/mindlog/mindlog/internal/remote"
)

// EncodeRecord wraps an entry for upsert under owner. The entry's uuid is the
// record's client id, which makes pushes idempotent.
func EncodeRecord(owner string, e *schema.LogEntry) (remote.Record, error) {
	if e.UUID == "" {
		return remote.Record{}, fmt.Errorf("entry %s has no uuid", e.MergeKey())
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return remote.Record{}, fmt.Errorf("failed to encode entry %s: %w", e.UUID, err)
	}
	return remote.Record{
		Owner:     owner,
		Partition: string(e.Partition),
		ClientID:  e.UUID,
		Payload:   payload,
	}, nil
}

// DecodeRecord unwraps a pulled record. A uuid missing from the payload is
// taken from the record's client id; the record's partition wins over the
// payload's.
func DecodeRecord(rec remote.Record) (*schema.LogEntry, error) {
	var e schema.LogEntry
	if err := json.Unmarshal(rec.Payload, &e); err != nil {
		return nil, fmt.Errorf("failed to decode record %s: %w", rec.ClientID, err)
	}
	if e.UUID == "" {
		e.UUID = rec.ClientID
	}
	if p := schema.Partition(rec.Partition); p.Valid() || e.Partition == "" {
		e.Partition = p
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	return &e, nil
}
