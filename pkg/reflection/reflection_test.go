package reflection_test

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kloros/memoryd/pkg/reflection"
)

func newTestLog(t *testing.T) *reflection.Log {
	t.Helper()
	dir := t.TempDir()
	return reflection.New(filepath.Join(dir, "reflection.log"), filepath.Join(dir, "archives"))
}

type entry struct {
	Timestamp string `json:"timestamp"`
	Thought   string `json:"thought"`
}

func TestAppendAndStats(t *testing.T) {
	log := newTestLog(t)

	stats, err := log.GetStats()
	require.NoError(t, err)
	assert.False(t, stats.LogExists)
	assert.Zero(t, stats.EntryCount)

	oldest := time.Now().Add(-48 * time.Hour).UTC().Truncate(time.Second)
	newest := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, log.Append(entry{Timestamp: oldest.Format(time.RFC3339), Thought: "first"}))
	require.NoError(t, log.Append(entry{Timestamp: newest.Format(time.RFC3339), Thought: "second"}))

	stats, err = log.GetStats()
	require.NoError(t, err)
	assert.True(t, stats.LogExists)
	assert.Equal(t, 2, stats.EntryCount)
	require.NotNil(t, stats.OldestEntry)
	require.NotNil(t, stats.NewestEntry)
	assert.True(t, stats.OldestEntry.Equal(oldest))
	assert.True(t, stats.NewestEntry.Equal(newest))
	assert.Zero(t, stats.ArchiveCount)
}

func TestReadEntriesKeepsUnparseable(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append(entry{Timestamp: time.Now().Format(time.RFC3339), Thought: "ok"}))

	f, err := os.OpenFile(log.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("this is not json\n---\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := log.ReadEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotNil(t, entries[0].Fields)
	assert.Nil(t, entries[1].Fields)
	assert.Equal(t, "this is not json", entries[1].Raw)
}

func TestRotateIdempotent(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append(entry{Timestamp: time.Now().Format(time.RFC3339), Thought: strings.Repeat("x", 256)}))

	// threshold zero: any non-empty log rotates
	res, err := log.Rotate(0)
	require.NoError(t, err)
	require.True(t, res.Rotated)
	require.NotEmpty(t, res.ArchivePath)

	_, err = os.Stat(res.ArchivePath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.ArchivePath, ".gz"))
	// the uncompressed intermediate is gone
	_, err = os.Stat(strings.TrimSuffix(res.ArchivePath, ".gz"))
	assert.True(t, os.IsNotExist(err))

	// a fresh empty live log exists at the original path
	fi, err := os.Stat(log.Path())
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	// re-running on the now-empty log is a no-op
	res, err = log.Rotate(0)
	require.NoError(t, err)
	assert.False(t, res.Rotated)

	stats, err := log.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ArchiveCount)
	assert.Greater(t, stats.TotalArchiveBytes, int64(0))
}

func TestRotateUnderThresholdIsNoop(t *testing.T) {
	log := newTestLog(t)
	require.NoError(t, log.Append(entry{Timestamp: time.Now().Format(time.RFC3339), Thought: "small"}))

	res, err := log.Rotate(50)
	require.NoError(t, err)
	assert.False(t, res.Rotated)

	entries, err := log.ReadEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchiveExtractsOldEntries(t *testing.T) {
	log := newTestLog(t)
	now := time.Now()

	require.NoError(t, log.Append(entry{Timestamp: now.Add(-40 * 24 * time.Hour).Format(time.RFC3339), Thought: "ancient one"}))
	require.NoError(t, log.Append(entry{Timestamp: now.Add(-35 * 24 * time.Hour).Format(time.RFC3339), Thought: "ancient two"}))
	require.NoError(t, log.Append(entry{Timestamp: now.Format(time.RFC3339), Thought: "recent"}))

	// an unparseable record must survive archival
	f, err := os.OpenFile(log.Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("corrupted line\n---\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := log.Archive(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Archived)
	assert.Equal(t, 2, res.Retained)
	require.NotEmpty(t, res.ArchivePath)
	assert.Contains(t, filepath.Base(res.ArchivePath), "reflection_archive_")

	// batch contents round-trip through gzip
	raw, err := os.Open(res.ArchivePath)
	require.NoError(t, err)
	defer raw.Close()
	gz, err := gzip.NewReader(raw)
	require.NoError(t, err)
	var batch struct {
		CreatedAt  time.Time         `json:"created_at"`
		EntryCount int               `json:"entry_count"`
		Entries    []json.RawMessage `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(gz).Decode(&batch))
	assert.Equal(t, 2, batch.EntryCount)
	assert.Len(t, batch.Entries, 2)
	assert.False(t, batch.CreatedAt.IsZero())

	// live log holds only the retained entries
	entries, err := log.ReadEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Contains(t, entries[0].Raw, "recent")
	assert.Equal(t, "corrupted line", entries[1].Raw)

	// nothing old remains: a second archival is a no-op
	res, err = log.Archive(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)
}
