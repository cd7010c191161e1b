package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/txlog"
	"github.com/pointline-dev/pointline/perr"
)

// Compact merges every live file within one partition (or the whole
// unpartitioned table) into a single part file, preserving tie-break
// order, and commits a KindCompaction record that atomically replaces
// the old files with the new one in the log. Compaction never changes
// query results, only file count.
func (t *Table) Compact(expectedVersion int64, partition string, nowUs int64) (int64, error) {
	var prefixes []string
	if t.Spec.IsPartitioned() {
		prefixes = []string{partition}
	}
	entries, err := t.LiveFileEntries(prefixes...)
	if err != nil {
		return 0, err
	}
	if len(entries) <= 1 {
		return expectedVersion, nil
	}

	merged := colfile.NewFrame(t.Spec, 0)
	replaces := make([]string, 0, len(entries))
	for _, entry := range entries {
		f, err := t.readPartFile(entry)
		if err != nil {
			return 0, err
		}
		for i := 0; i < f.NumRows; i++ {
			row := make([]colfile.Cell, len(f.Columns))
			for c := range f.Columns {
				row[c] = f.Columns[c][i]
			}
			if err := merged.AppendRow(row); err != nil {
				return 0, err
			}
		}
		replaces = append(replaces, entry.FileID)
	}
	merged.Sort(merged.TieBreakLess)

	fileID := uuid.NewString()
	partDir := t.root
	if partition != "" {
		partDir = filepath.Join(t.root, partition)
	}
	relPath := filepath.Join(partition, fmt.Sprintf("part-%s.parquet", fileID))
	absPath := filepath.Join(t.root, relPath)
	tmpPath := absPath + ".tmp"

	if err := os.MkdirAll(partDir, 0o755); err != nil {
		return 0, &perr.IOError{Op: "storage.Compact", Path: partDir, Err: err}
	}
	contentHash, numRows, minTB, maxTB, err := writePartFile(tmpPath, merged)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		return 0, &perr.IOError{Op: "storage.Compact", Path: absPath, Err: err}
	}

	newEntry := txlog.FileEntry{
		FileID:      fileID,
		Path:        relPath,
		Partition:   partition,
		ContentHash: contentHash,
		NumRows:     numRows,
		MinTieBreak: minTB,
		MaxTieBreak: maxTB,
	}
	if err := t.log.Append(expectedVersion, txlog.Record{Kind: txlog.KindCompaction, File: &newEntry, Replaces: replaces, AtUs: nowUs}); err != nil {
		_ = os.Remove(absPath)
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Vacuum deletes the physical part files on disk that are no longer
// live AND have been out of the live set for longer than retention.
// The window exists so a reader that
// opened its snapshot (its list of live files) just before a
// compaction or tombstone commits can still finish reading the files
// it already listed; deleting a just-superseded file immediately would
// break that guarantee. Files that were never referenced in the log at
// all -- orphans left by a crash between writing a part file and
// committing its txlog record -- have no supersession time to measure
// from, so their retention clock runs off the file's mtime instead.
func (t *Table) Vacuum(retention time.Duration, nowUs int64) (removed int, err error) {
	records, err := t.log.ReadAll()
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool)
	for _, f := range txlog.LiveFiles(records) {
		live[filepath.Join(t.root, f.Path)] = true
	}
	byPath := make(map[string]string) // absolute path -> file_id
	for id, f := range txlog.AllFileEntries(records) {
		byPath[filepath.Join(t.root, f.Path)] = id
	}
	supersededAt := txlog.SupersededAt(records)
	retentionUs := retention.Microseconds()

	err = filepath.Walk(t.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || filepath.Ext(path) != ".parquet" {
			return nil
		}
		if live[path] {
			return nil
		}

		if id, ok := byPath[path]; ok {
			at, ok := supersededAt[id]
			if !ok || nowUs-at < retentionUs {
				return nil
			}
		} else if nowUs-info.ModTime().UnixMicro() < retentionUs {
			return nil
		}

		if rmErr := os.Remove(path); rmErr != nil {
			return rmErr
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, &perr.IOError{Op: "storage.Vacuum", Path: t.root, Err: err}
	}
	return removed, nil
}
