package maintenance

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kloros/memoryd/pkg/model"
)

// FilePolicy is one aged-file retention rule: scan a directory, keep the
// newest KeepLast files regardless of age, delete the rest once older than
// MaxAge.
type FilePolicy struct {
	Name     string
	Dir      string
	Pattern  string // filepath.Match glob; empty matches everything
	MaxAge   time.Duration
	KeepLast int
}

// filePolicies is the fixed cleanup family: transient caches, backups,
// synthesized audio, scripts marked obsolete, and aged reflection archives.
func (e *Engine) filePolicies() []FilePolicy {
	return []FilePolicy{
		{Name: "caches", Dir: e.opts.CacheDir, MaxAge: 7 * 24 * time.Hour},
		{Name: "backups", Dir: e.opts.BackupDir, MaxAge: 30 * 24 * time.Hour, KeepLast: 5},
		{Name: "transient_audio", Dir: e.opts.AudioDir, MaxAge: 24 * time.Hour},
		{Name: "obsolete_scripts", Dir: e.opts.ScriptsDir, Pattern: "*.obsolete", MaxAge: 14 * 24 * time.Hour},
		{Name: "reflection_archives", Dir: filepath.Join(filepath.Dir(e.reflog.Path()), "archives"), Pattern: "*.gz",
			MaxAge: time.Duration(e.opts.ReflectionRetentionDays) * 24 * time.Hour},
	}
}

// CleanupAgedFiles applies one policy and reports what happened. A missing
// or empty directory is a clean no-op; per-file failures are recorded and
// the scan continues.
func CleanupAgedFiles(p FilePolicy, now time.Time) model.CleanupReport {
	var rep model.CleanupReport
	if p.Dir == "" {
		return rep
	}

	dirEntries, err := os.ReadDir(p.Dir)
	if os.IsNotExist(err) {
		return rep
	}
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}

	type candidate struct {
		path string
		mod  time.Time
		size int64
	}
	var files []candidate
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if p.Pattern != "" {
			ok, err := filepath.Match(p.Pattern, de.Name())
			if err != nil || !ok {
				continue
			}
		}
		rep.Scanned++
		info, err := de.Info()
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			continue
		}
		files = append(files, candidate{
			path: filepath.Join(p.Dir, de.Name()),
			mod:  info.ModTime(),
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })
	if p.KeepLast > 0 && len(files) > p.KeepLast {
		files = files[p.KeepLast:]
	} else if p.KeepLast > 0 {
		files = nil
	}

	cutoff := now.Add(-p.MaxAge)
	for _, f := range files {
		if !f.mod.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			continue
		}
		rep.DeletedOrArchived++
		rep.BytesFreed += f.size
	}
	return rep
}
