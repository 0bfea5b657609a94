// Package reflection manages the append-only reflection log: one JSON object
// per record, records separated by a literal "---" line, with size-based
// rotation and age-based archival into gzip batches.
package reflection

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const terminator = "---"

// Log is a handle on the live reflection log and its archive directory.
type Log struct {
	path       string
	archiveDir string
}

// New builds a handle; nothing is touched on disk until first use.
func New(path, archiveDir string) *Log {
	return &Log{path: path, archiveDir: archiveDir}
}

// Path returns the live log path.
func (l *Log) Path() string { return l.path }

// Append writes one record followed by the terminator line.
func (l *Log) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal reflection entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\n%s\n", b, terminator); err != nil {
		return err
	}
	return f.Close()
}

// Entry is one live-log record. Fields is nil when the record did not parse
// as JSON; such records are conservatively retained by archival.
type Entry struct {
	Raw       string
	Fields    map[string]any
	Timestamp time.Time
}

// ReadEntries parses the live log. A missing file yields no entries.
func (l *Log) ReadEntries() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, chunk := range splitRecords(string(data)) {
		e := Entry{Raw: chunk}
		var fields map[string]any
		if err := json.Unmarshal([]byte(chunk), &fields); err == nil {
			e.Fields = fields
			e.Timestamp = entryTimestamp(fields)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Stats describes the live log and its archives.
type Stats struct {
	LogExists         bool       `json:"log_exists"`
	SizeMB            float64    `json:"size_mb"`
	EntryCount        int        `json:"entry_count"`
	OldestEntry       *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry       *time.Time `json:"newest_entry,omitempty"`
	ArchiveCount      int        `json:"archive_count"`
	TotalArchiveBytes int64      `json:"total_archive_bytes"`
}

// GetStats reads the current log/archive state.
func (l *Log) GetStats() (Stats, error) {
	var s Stats
	fi, err := os.Stat(l.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return Stats{}, err
	default:
		s.LogExists = true
		s.SizeMB = float64(fi.Size()) / (1024 * 1024)
	}

	if s.LogExists {
		entries, err := l.ReadEntries()
		if err != nil {
			return Stats{}, err
		}
		s.EntryCount = len(entries)
		for _, e := range entries {
			if e.Timestamp.IsZero() {
				continue
			}
			t := e.Timestamp
			if s.OldestEntry == nil || t.Before(*s.OldestEntry) {
				s.OldestEntry = &t
			}
			if s.NewestEntry == nil || t.After(*s.NewestEntry) {
				s.NewestEntry = &t
			}
		}
	}

	for _, path := range l.archiveFiles() {
		if fi, err := os.Stat(path); err == nil {
			s.ArchiveCount++
			s.TotalArchiveBytes += fi.Size()
		}
	}
	return s, nil
}

// archiveFiles lists archival batches plus rotated compressed logs.
func (l *Log) archiveFiles() []string {
	var out []string
	if matches, err := filepath.Glob(filepath.Join(l.archiveDir, "reflection_archive_*.json.gz")); err == nil {
		out = append(out, matches...)
	}
	if matches, err := filepath.Glob(l.path + ".*.gz"); err == nil {
		out = append(out, matches...)
	}
	return out
}

// splitRecords cuts the raw log into record chunks on terminator lines.
func splitRecords(data string) []string {
	var records []string
	var current []string
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == terminator {
			if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
				records = append(records, chunk)
			}
			current = nil
			continue
		}
		current = append(current, line)
	}
	if chunk := strings.TrimSpace(strings.Join(current, "\n")); chunk != "" {
		records = append(records, chunk)
	}
	return records
}

// entryTimestamp pulls the record's own timestamp: float seconds since epoch
// or an RFC3339 string. Zero when absent or unreadable.
func entryTimestamp(fields map[string]any) time.Time {
	v, ok := fields["timestamp"]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case float64:
		sec := int64(t)
		return time.Unix(sec, int64((t-float64(sec))*1e9))
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
