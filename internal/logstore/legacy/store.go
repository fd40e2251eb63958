// Package legacy implements the flat key/value store the app used before the
// persistent database existed.
//
// Every value is a string. Partitions are stored as a JSON array of flat entry
// documents under "<prefix><partition>_logs"; scalar flags and documents such
// as the profile live under "<prefix><name>". The store is kept as a mirror of
// the database so older readers, and the fallback path when the database is
// unavailable, still see current data.
//
// Reads never fail: missing, unparsable or null values come back empty.
// Writes to partitions are best effort and only logged on failure.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

var (
	// ErrCorrupt marks a stored value that is not valid JSON for its key.
	ErrCorrupt = errors.New("corrupt legacy value")

	// ErrWriteFailed marks a write the backing store rejected (quota, IO).
	ErrWriteFailed = errors.New("legacy write failed")
)

// DefaultPrefix namespaces every key written by this app.
const DefaultPrefix = "mindlog_"

// Store layers partitions, flags and documents over a KV.
type Store struct {
	kv     KV
	prefix string
	logger *log.Logger
}

// New wraps kv. An empty prefix selects DefaultPrefix; a nil logger writes to stderr.
func New(kv KV, prefix string, logger *log.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[legacy] ", log.LstdFlags)
	}
	return &Store{kv: kv, prefix: prefix, logger: logger}
}

// NewMem returns a Store over a fresh MemKV.
func NewMem(logger *log.Logger) *Store {
	return New(NewMemKV(), "", logger)
}

// KV returns the underlying key/value store.
func (s *Store) KV() KV {
	return s.kv
}

// Prefix returns the key namespace.
func (s *Store) Prefix() string {
	return s.prefix
}

// PartitionKey is the key holding a partition's entries.
func (s *Store) PartitionKey(p schema.Partition) string {
	return s.prefix + string(p) + "_logs"
}

// FlagKey is the key holding a scalar flag or document.
func (s *Store) FlagKey(name string) string {
	return s.prefix + name
}

// ReadPartition returns the partition's entries as stored.
// Absent, null and unparsable values all yield an empty slice.
func (s *Store) ReadPartition(p schema.Partition) []*schema.LogEntry {
	raw, ok, err := s.kv.Get(s.PartitionKey(p))
	if err != nil {
		s.logger.Printf("WARNING: failed to read %s: %v", p, err)
		return []*schema.LogEntry{}
	}
	if !ok {
		return []*schema.LogEntry{}
	}

	var entries []*schema.LogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Printf("WARNING: %v", fmt.Errorf("%w: %s: %v", ErrCorrupt, p, err))
		return []*schema.LogEntry{}
	}

	out := make([]*schema.LogEntry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if e.Partition == "" {
			e.Partition = p
		}
		out = append(out, e)
	}
	return out
}

// WritePartition replaces the partition's stored entries.
// Failures are logged and swallowed; the caller's copy stays authoritative.
func (s *Store) WritePartition(p schema.Partition, entries []*schema.LogEntry) {
	if entries == nil {
		entries = []*schema.LogEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		s.logger.Printf("WARNING: failed to encode %s: %v", p, err)
		return
	}
	if err := s.kv.Set(s.PartitionKey(p), string(data)); err != nil {
		s.logger.Printf("WARNING: failed to mirror %s: %v", p, err)
	}
}

// RemovePartition deletes the partition's key, best effort.
func (s *Store) RemovePartition(p schema.Partition) {
	if err := s.kv.Remove(s.PartitionKey(p)); err != nil {
		s.logger.Printf("WARNING: failed to remove %s: %v", p, err)
	}
}

// ReadFlag returns a scalar value.
func (s *Store) ReadFlag(name string) (string, bool) {
	v, ok, err := s.kv.Get(s.FlagKey(name))
	if err != nil {
		s.logger.Printf("WARNING: failed to read flag %s: %v", name, err)
		return "", false
	}
	return v, ok
}

// WriteFlag stores a scalar value.
func (s *Store) WriteFlag(name, value string) error {
	return s.kv.Set(s.FlagKey(name), value)
}

// RemoveFlag deletes a scalar value.
func (s *Store) RemoveFlag(name string) error {
	return s.kv.Remove(s.FlagKey(name))
}

// ReadDocument decodes the JSON document stored under name into v.
// It reports false when the document does not exist.
func (s *Store) ReadDocument(name string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(s.FlagKey(name))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return true, nil
}

// WriteDocument stores v as JSON under name.
func (s *Store) WriteDocument(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return s.WriteRawDocument(name, data)
}

// RawDocument returns the stored bytes of a document.
func (s *Store) RawDocument(name string) (json.RawMessage, bool) {
	raw, ok := s.ReadFlag(name)
	if !ok {
		return nil, false
	}
	if !json.Valid([]byte(raw)) {
		s.logger.Printf("WARNING: %v", fmt.Errorf("%w: %s", ErrCorrupt, name))
		return nil, false
	}
	return json.RawMessage(raw), true
}

// WriteRawDocument stores pre-encoded JSON under name. Writing the value
// already stored is a no-op, so file watchers do not see an echo.
func (s *Store) WriteRawDocument(name string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s: invalid JSON", ErrCorrupt, name)
	}
	if current, ok := s.ReadFlag(name); ok && current == string(data) {
		return nil
	}
	return s.kv.Set(s.FlagKey(name), string(data))
}

// Clear removes every key under the prefix. All keys are attempted; the
// returned error joins every failure.
func (s *Store) Clear() error {
	keys, err := s.kv.Keys()
	if err != nil {
		return err
	}

	var errs []error
	for _, key := range keys {
		if !strings.HasPrefix(key, s.prefix) {
			continue
		}
		if err := s.kv.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
