// Package txlog is Pointline's append-only commit log: every mutation
// to a table's file list (add a part file, tombstone a part file,
// record a compaction) is a JSON record appended under an atomic
// rename, and every write carries a compare-and-swap version check.
// segmentio/encoding/json stands in for encoding/json because records
// are read back in large numbers during reads and compaction.
package txlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/segmentio/encoding/json"

	"github.com/pointline-dev/pointline/perr"
)

// RecordKind discriminates a txlog entry's payload.
type RecordKind string

const (
	KindAddFile     RecordKind = "add_file"
	KindTombstone   RecordKind = "tombstone"
	KindCompaction  RecordKind = "compaction"
)

// FileEntry describes one physical part file belonging to a table.
type FileEntry struct {
	FileID      string `json:"file_id"`
	Path        string `json:"path"`
	Partition   string `json:"partition,omitempty"`
	ContentHash string `json:"content_hash"`
	NumRows     int    `json:"num_rows"`
	MinTieBreak int64  `json:"min_tie_break"`
	MaxTieBreak int64  `json:"max_tie_break"`
}

// Record is one append-only txlog entry. Version is the log's
// monotonic sequence number after this record is applied.
type Record struct {
	Version   int64      `json:"version"`
	Kind      RecordKind `json:"kind"`
	File      *FileEntry `json:"file,omitempty"`
	Tombstone string     `json:"tombstone,omitempty"` // file_id removed
	Replaces  []string   `json:"replaces,omitempty"`  // file_ids a compaction subsumes
	AtUs      int64      `json:"at_us,omitempty"`     // commit time, stamps when Replaces/Tombstone took a file out of the live set
}

// Log is a single table's transaction log directory: a sequence of
// `log.<version>` files, each one whole JSON Record, written via a
// `.tmp` suffix and atomic rename so a reader never observes a
// partially-written record. The log is the table's only source of
// truth for which files are live.
type Log struct {
	dir string
}

// Open returns a Log rooted at dir, creating the directory if absent.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &perr.IOError{Op: "txlog.Open", Path: dir, Err: err}
	}
	return &Log{dir: dir}, nil
}

// CurrentVersion scans the log directory and returns the highest
// committed version, or 0 if the log is empty.
func (l *Log) CurrentVersion() (int64, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, &perr.IOError{Op: "txlog.CurrentVersion", Path: l.dir, Err: err}
	}
	var maxVersion int64
	for _, e := range entries {
		var v int64
		if _, err := fmt.Sscanf(e.Name(), "log.%d", &v); err == nil && v > maxVersion {
			maxVersion = v
		}
	}
	return maxVersion, nil
}

// Append commits one record at expectedVersion+1, rejecting the write
// with a ConflictError if a record already exists at that version --
// the log's compare-and-swap primitive.
func (l *Log) Append(expectedVersion int64, rec Record) error {
	rec.Version = expectedVersion + 1
	finalPath := l.pathFor(rec.Version)

	if _, err := os.Stat(finalPath); err == nil {
		return &perr.ConflictError{Resource: l.dir, ExpectedVersion: expectedVersion, ActualVersion: rec.Version}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("txlog: marshal record: %w", err)
	}

	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o644); err != nil {
		return &perr.IOError{Op: "txlog.Append", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return &perr.IOError{Op: "txlog.Append", Path: finalPath, Err: err}
	}
	return nil
}

// ReadAll returns every committed record in version order.
func (l *Log) ReadAll() ([]Record, error) {
	version, err := l.CurrentVersion()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, version)
	for v := int64(1); v <= version; v++ {
		path := l.pathFor(v)
		payload, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// A gap means an earlier compaction or crash-recovery
				// left a hole; callers should treat the log as
				// corrupt rather than silently skip.
				return nil, &perr.IOError{Op: "txlog.ReadAll", Path: path, Err: fmt.Errorf("missing record at version %d", v)}
			}
			return nil, &perr.IOError{Op: "txlog.ReadAll", Path: path, Err: err}
		}
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("txlog: unmarshal record %d: %w", v, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// LiveFiles replays the full record sequence and returns the set of
// file entries currently live: added and never tombstoned or
// subsumed by a later compaction.
func LiveFiles(records []Record) []FileEntry {
	byID := make(map[string]FileEntry)
	for _, rec := range records {
		switch rec.Kind {
		case KindAddFile:
			if rec.File != nil {
				byID[rec.File.FileID] = *rec.File
			}
		case KindTombstone:
			delete(byID, rec.Tombstone)
		case KindCompaction:
			for _, id := range rec.Replaces {
				delete(byID, id)
			}
			if rec.File != nil {
				byID[rec.File.FileID] = *rec.File
			}
		}
	}
	out := make([]FileEntry, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	return out
}

// AllFileEntries replays the full record sequence and returns every
// file entry ever added, live or not, keyed by file_id -- Vacuum needs
// this to map a dead part file still sitting on disk back to the
// record that introduced it.
func AllFileEntries(records []Record) map[string]FileEntry {
	byID := make(map[string]FileEntry)
	for _, rec := range records {
		switch rec.Kind {
		case KindAddFile, KindCompaction:
			if rec.File != nil {
				byID[rec.File.FileID] = *rec.File
			}
		}
	}
	return byID
}

// SupersededAt replays the full record sequence and returns, for every
// file_id removed from the live set by a tombstone or a compaction's
// Replaces list, the AtUs of the record that removed it -- Vacuum's
// retention window is measured from this point, not from when the
// file was first added.
func SupersededAt(records []Record) map[string]int64 {
	out := make(map[string]int64)
	for _, rec := range records {
		switch rec.Kind {
		case KindTombstone:
			out[rec.Tombstone] = rec.AtUs
		case KindCompaction:
			for _, id := range rec.Replaces {
				out[id] = rec.AtUs
			}
		}
	}
	return out
}

func (l *Log) pathFor(version int64) string {
	return filepath.Join(l.dir, fmt.Sprintf("log.%d", version))
}
