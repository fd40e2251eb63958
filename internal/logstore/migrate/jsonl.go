package migrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"

	"github.com/mindlog/mindlog/internal/logstore/schema"
)

// FromJSONL reads a JSONL file of flat entry documents.
func FromJSONL(path string) ([]*schema.LogEntry, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL decodes one entry per line. Entries without a valid partition are
// rejected, with the line number in the error.
func ReadJSONL(r io.Reader) ([]*schema.LogEntry, error) {
	entries := []*schema.LogEntry{}
	decoder := json.NewDecoder(r)
	lineNum := 0

	for {
		var entry schema.LogEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum+1, err)
		}
		lineNum++

		if !entry.Partition.Valid() {
			return nil, fmt.Errorf("line %d: invalid partition %q", lineNum, entry.Partition)
		}
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = entry.CreatedAt
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// WriteJSONL encodes entries one per line.
func WriteJSONL(w io.Writer, entries []*schema.LogEntry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", e.MergeKey(), err)
		}
	}
	return nil
}

// ExportJSONL writes entries to path, replacing it atomically.
func ExportJSONL(path string, entries []*schema.LogEntry) error {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, entries); err != nil {
		return err
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
