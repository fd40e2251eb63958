package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps.
// Fixed width keeps lexical order equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// LogEntry is one journaling record produced by an exercise.
type LogEntry struct {
	// ===== Identity =====
	ID        int64     // legacy, Unix millis at creation; display ordering only
	UUID      string    // primary key for storage and sync
	Partition Partition // producing module

	// ===== Timestamps (last-writer-wins) =====
	CreatedAt time.Time
	UpdatedAt time.Time

	// ===== Classification =====
	Tool string
	Type string

	// ===== Exercise fields =====
	Payload map[string]any
}

// NewLogEntry builds a fresh entry stamped at now.
// Payload keys named "tool" and "type" are promoted to their fields; keys that
// would overwrite identity or timestamps are ignored.
func NewLogEntry(uuid string, p Partition, now time.Time, payload map[string]any) *LogEntry {
	now = now.UTC()
	e := &LogEntry{
		ID:        now.UnixMilli(),
		UUID:      uuid,
		Partition: p,
		CreatedAt: now,
		UpdatedAt: now,
		Payload:   make(map[string]any, len(payload)),
	}
	e.Apply(payload)
	return e
}

// Apply merges patch into the entry's payload.
func (e *LogEntry) Apply(patch map[string]any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		switch k {
		case "tool":
			if s, ok := v.(string); ok {
				e.Tool = s
			}
		case "type":
			if s, ok := v.(string); ok {
				e.Type = s
			}
		case "id", "uuid", "module", "partition", "createdAt", "updatedAt":
			// identity and timestamps are owned by the store
		default:
			e.Payload[k] = v
		}
	}
}

// Touch records a mutation at now.
func (e *LogEntry) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}

// Clone returns a copy that shares no maps with e.
func (e *LogEntry) Clone() *LogEntry {
	c := *e
	c.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		c.Payload[k] = v
	}
	return &c
}

// EffectiveUpdatedAt is UpdatedAt, or CreatedAt when UpdatedAt is unset.
func (e *LogEntry) EffectiveUpdatedAt() time.Time {
	if e.UpdatedAt.IsZero() {
		return e.CreatedAt
	}
	return e.UpdatedAt
}

// MergeKey identifies the logical record across sources.
// Entries written before uuids existed fall back to their legacy id.
func (e *LogEntry) MergeKey() string {
	if e.UUID != "" {
		return e.UUID
	}
	return "id:" + strconv.FormatInt(e.ID, 10)
}

// Label is the stats bucket: the first non-empty of tool, type, partition.
func (e *LogEntry) Label() string {
	switch {
	case e.Tool != "":
		return e.Tool
	case e.Type != "":
		return e.Type
	default:
		return string(e.Partition)
	}
}

// Validate checks the fields the persistent store relies on.
func (e *LogEntry) Validate() error {
	if e.UUID == "" {
		return errors.New("uuid is required")
	}
	if !e.Partition.Valid() {
		return fmt.Errorf("invalid partition %q", e.Partition)
	}
	if e.CreatedAt.IsZero() {
		return errors.New("createdAt is required")
	}
	return nil
}

// SortNewestFirst orders entries by CreatedAt descending, keeping the
// relative order of entries created at the same instant.
func SortNewestFirst(entries []*LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC 3339 timestamps (any fractional precision) and bare dates.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

// MarshalJSON writes the flat document form.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(e.Payload)+7)
	for k, v := range e.Payload {
		doc[k] = v
	}
	if e.ID != 0 {
		doc["id"] = e.ID
	}
	if e.UUID != "" {
		doc["uuid"] = e.UUID
	}
	if e.Partition != "" {
		doc["module"] = string(e.Partition)
	}
	if !e.CreatedAt.IsZero() {
		doc["createdAt"] = FormatTime(e.CreatedAt)
	}
	if !e.UpdatedAt.IsZero() {
		doc["updatedAt"] = FormatTime(e.UpdatedAt)
	}
	if e.Tool != "" {
		doc["tool"] = e.Tool
	}
	if e.Type != "" {
		doc["type"] = e.Type
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the flat document form, tolerating legacy shapes.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("log entry must be a JSON object")
	}

	*e = LogEntry{Payload: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "id":
			e.ID = parseID(v)
		case "uuid":
			e.UUID, _ = v.(string)
		case "module", "partition":
			if s, ok := v.(string); ok {
				e.Partition = Partition(s)
			}
		case "createdAt":
			e.CreatedAt, _ = parseTimeValue(v)
		case "updatedAt":
			e.UpdatedAt, _ = parseTimeValue(v)
		case "tool":
			e.Tool, _ = v.(string)
		case "type":
			e.Type, _ = v.(string)
		default:
			e.Payload[k] = normalize(v)
		}
	}

	if e.CreatedAt.IsZero() {
		for _, key := range []string{"timestamp", "date"} {
			if t, ok := parseTimeValue(raw[key]); ok {
				e.CreatedAt = t
				break
			}
		}
	}
	if e.CreatedAt.IsZero() && e.ID > 0 {
		e.CreatedAt = time.UnixMilli(e.ID).UTC()
	}
	return nil
}

func parseID(v any) int64 {
	switch id := v.(type) {
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n
		}
		if f, err := id.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func parseTimeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		parsed, err := ParseTime(t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// normalize turns json.Number values into int64 or float64, recursively.
func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, inner := range val {
			val[k] = normalize(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalize(inner)
		}
		return val
	}
	return v
}
