package reflection

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// RotationResult reports one rotation attempt.
type RotationResult struct {
	Rotated     bool   `json:"rotated"`
	ArchivePath string `json:"archive_path,omitempty"`
	BytesFreed  int64  `json:"bytes_freed"`
}

// Rotate renames the live log with a timestamp suffix, compresses it,
// removes the uncompressed intermediate and opens a fresh empty log at the
// original path. A log at or under maxMB is left alone, so re-running
// immediately after a rotation is a no-op.
func (l *Log) Rotate(maxMB int) (RotationResult, error) {
	fi, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return RotationResult{}, nil
	}
	if err != nil {
		return RotationResult{}, err
	}
	if fi.Size() <= int64(maxMB)*1024*1024 {
		return RotationResult{}, nil
	}

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		return RotationResult{}, fmt.Errorf("rename live log: %w", err)
	}
	if err := gzipFile(rotated, rotated+".gz"); err != nil {
		return RotationResult{}, fmt.Errorf("compress rotated log: %w", err)
	}
	if err := os.Remove(rotated); err != nil {
		return RotationResult{}, err
	}

	fresh, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return RotationResult{}, fmt.Errorf("open fresh log: %w", err)
	}
	if err := fresh.Close(); err != nil {
		return RotationResult{}, err
	}

	compressed, _ := os.Stat(rotated + ".gz")
	freed := fi.Size()
	if compressed != nil {
		freed -= compressed.Size()
	}
	return RotationResult{Rotated: true, ArchivePath: rotated + ".gz", BytesFreed: freed}, nil
}

// ArchiveResult reports one archival attempt.
type ArchiveResult struct {
	Archived    int    `json:"archived"`
	Retained    int    `json:"retained"`
	ArchivePath string `json:"archive_path,omitempty"`
}

// archiveBatch is the on-disk shape of one compressed archival batch.
type archiveBatch struct {
	CreatedAt  time.Time         `json:"created_at"`
	EntryCount int               `json:"entry_count"`
	Entries    []json.RawMessage `json:"entries"`
}

// Archive extracts entries older than the window into one compressed batch
// under the archive directory, then rewrites the live log with only the
// retained entries. Entries that fail to parse, or carry no timestamp, are
// conservatively retained.
func (l *Log) Archive(olderThan time.Duration) (ArchiveResult, error) {
	entries, err := l.ReadEntries()
	if err != nil {
		return ArchiveResult{}, err
	}
	cutoff := time.Now().Add(-olderThan)

	var old, retained []Entry
	for _, e := range entries {
		if e.Fields != nil && !e.Timestamp.IsZero() && e.Timestamp.Before(cutoff) {
			old = append(old, e)
		} else {
			retained = append(retained, e)
		}
	}
	if len(old) == 0 {
		return ArchiveResult{Retained: len(retained)}, nil
	}

	batch := archiveBatch{CreatedAt: time.Now(), EntryCount: len(old)}
	for _, e := range old {
		batch.Entries = append(batch.Entries, json.RawMessage(e.Raw))
	}

	if err := os.MkdirAll(l.archiveDir, 0o755); err != nil {
		return ArchiveResult{}, err
	}
	archivePath := filepath.Join(l.archiveDir,
		fmt.Sprintf("reflection_archive_%s.json.gz", time.Now().Format("20060102-150405")))
	if err := writeGzipJSON(archivePath, batch); err != nil {
		return ArchiveResult{}, fmt.Errorf("write archive batch: %w", err)
	}

	if err := l.rewrite(retained); err != nil {
		return ArchiveResult{}, fmt.Errorf("rewrite live log: %w", err)
	}
	return ArchiveResult{Archived: len(old), Retained: len(retained), ArchivePath: archivePath}, nil
}

// rewrite atomically replaces the live log with the given entries.
func (l *Log) rewrite(entries []Entry) error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(f, "%s\n%s\n", e.Raw, terminator); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeGzipJSON(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(v); err != nil {
		gz.Close()
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
