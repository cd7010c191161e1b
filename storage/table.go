// Package storage implements Pointline's append-only, partitioned
// tables: Parquet part files plus a per-table internal/txlog
// transaction log, with snapshot-isolated reads and a
// compaction/vacuum maintenance path.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/internal/txlog"
	"github.com/pointline-dev/pointline/perr"
	"github.com/pointline-dev/pointline/schema"
)

// Table is one canonical table's on-disk storage: a root directory
// holding partition subdirectories (for partitioned tables) or part
// files directly (for unpartitioned tables), plus a `_txlog`
// subdirectory holding the table's transaction log.
type Table struct {
	Spec *schema.TableSpec
	root string
	log  *txlog.Log
}

// Open opens (creating if absent) a Table rooted at dir for spec.
func Open(dir string, spec *schema.TableSpec) (*Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &perr.IOError{Op: "storage.Open", Path: dir, Err: err}
	}
	log, err := txlog.Open(filepath.Join(dir, "_txlog"))
	if err != nil {
		return nil, err
	}
	return &Table{Spec: spec, root: dir, log: log}, nil
}

// partitionValue derives a partition's directory segment from a
// Frame's first row, assuming the caller has already split the Frame
// by partition key -- partitioning is a caller-enforced invariant on
// Append, not inferred per-row here.
func partitionValue(spec *schema.TableSpec, f *colfile.Frame) (string, error) {
	if !spec.IsPartitioned() {
		return "", nil
	}
	if f.NumRows == 0 {
		return "", fmt.Errorf("storage: cannot derive partition from an empty frame")
	}
	row := f.Row(0)
	parts := make([]string, 0, len(spec.PartitionCols))
	for _, col := range spec.PartitionCols {
		colSpec, _ := spec.Column(col)
		var seg string
		switch colSpec.Type {
		case schema.TypeString, schema.TypeDate:
			v, _ := row.String(col)
			seg = v
		default:
			v, _ := row.Int64(col)
			seg = fmt.Sprintf("%d", v)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", col, seg))
	}
	return filepath.Join(parts...), nil
}

// Append writes f as one new immutable part file and commits it to
// the log under optimistic concurrency: the caller supplies the log
// version it last observed (0 for a fresh table), and the commit
// fails with a ConflictError if another writer committed first --
// single active writer per table, enforced here rather than assumed.
//
// f must already be sorted by its tie-break order; Append does not
// re-sort, since the ingestion pipeline is the authority on tie-break
// assignment (lineage columns are filled in immediately before this
// call).
func (t *Table) Append(ctx context.Context, expectedVersion int64, f *colfile.Frame) (int64, error) {
	if f.NumRows == 0 {
		return expectedVersion, nil
	}
	partition, err := partitionValue(t.Spec, f)
	if err != nil {
		return 0, err
	}

	fileID := uuid.NewString()
	partDir := t.root
	if partition != "" {
		partDir = filepath.Join(t.root, partition)
	}
	if err := os.MkdirAll(partDir, 0o755); err != nil {
		return 0, &perr.IOError{Op: "storage.Append", Path: partDir, Err: err}
	}
	relPath := filepath.Join(partition, fmt.Sprintf("part-%s.parquet", fileID))
	absPath := filepath.Join(t.root, relPath)
	tmpPath := absPath + ".tmp"

	contentHash, numRows, minTB, maxTB, err := writePartFile(tmpPath, f)
	if err != nil {
		return 0, err
	}

	retryPolicy := ioutil.DefaultRetryPolicy()
	var nextVersion int64
	err = ioutil.Retry(ctx, retryPolicy, func(attempt int) (bool, error) {
		if err := os.Rename(tmpPath, absPath); err != nil {
			return false, &perr.IOError{Op: "storage.Append", Path: absPath, Err: err}
		}
		entry := txlog.FileEntry{
			FileID:      fileID,
			Path:        relPath,
			Partition:   partition,
			ContentHash: contentHash,
			NumRows:     numRows,
			MinTieBreak: minTB,
			MaxTieBreak: maxTB,
		}
		commitErr := t.log.Append(expectedVersion, txlog.Record{Kind: txlog.KindAddFile, File: &entry})
		if commitErr == nil {
			nextVersion = expectedVersion + 1
			return false, nil
		}
		if kind, ok := perr.KindOf(commitErr); ok && kind == perr.KindConflict {
			// A concurrent writer committed a different version
			// number first; the part file we already wrote is removed
			// below, and the caller retries Append against the
			// refreshed version.
			return false, commitErr
		}
		return true, commitErr
	})
	if err != nil {
		_ = os.Remove(absPath)
		return 0, err
	}
	return nextVersion, nil
}

func writePartFile(path string, f *colfile.Frame) (contentHash string, numRows int, minTB, maxTB int64, err error) {
	file, err := os.Create(path)
	if err != nil {
		return "", 0, 0, 0, &perr.IOError{Op: "storage.writePartFile", Path: path, Err: err}
	}
	defer file.Close()

	contentHash, err = colfile.WriteTo(file, f)
	if err != nil {
		return "", 0, 0, 0, err
	}

	minTB, maxTB = tieBreakRange(f)
	return contentHash, f.NumRows, minTB, maxTB, nil
}

// tieBreakRange computes the min/max of the leading tie-break column
// for file-level pruning stats. Only meaningful for integer-typed
// leading keys (every event table's ts_event_us or channel_no); a
// string-keyed table like feature_rows records (0, 0) and is never
// pruned by tie-break range.
func tieBreakRange(f *colfile.Frame) (min, max int64) {
	if f.NumRows == 0 || len(f.Spec.TieBreakCols) == 0 {
		return 0, 0
	}
	idx := f.Spec.ColumnIndex(f.Spec.TieBreakCols[0])
	switch f.Spec.Columns[idx].Type {
	case schema.TypeString, schema.TypeDate:
		return 0, 0
	}
	min, max = f.Columns[idx][0].Int64, f.Columns[idx][0].Int64
	for i := 1; i < f.NumRows; i++ {
		v := f.Columns[idx][i].Int64
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// CurrentVersion returns the table's last committed log version.
func (t *Table) CurrentVersion() (int64, error) {
	return t.log.CurrentVersion()
}

// LiveFileEntries returns every file currently live in the table,
// pruned to the given partition prefixes when the table is
// partitioned -- pruning happens before any file is opened.
func (t *Table) LiveFileEntries(partitionPrefixes ...string) ([]txlog.FileEntry, error) {
	records, err := t.log.ReadAll()
	if err != nil {
		return nil, err
	}
	files := txlog.LiveFiles(records)
	if len(partitionPrefixes) == 0 {
		sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
		return files, nil
	}
	pruned := files[:0]
	for _, f := range files {
		for _, prefix := range partitionPrefixes {
			if f.Partition == prefix {
				pruned = append(pruned, f)
				break
			}
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].Path < pruned[j].Path })
	return pruned, nil
}

// Read loads and concatenates every live part file matching
// partitionPrefixes (all files if none given) into a single Frame,
// sorted by the table's tie-break order -- the table's full
// snapshot-isolated read path.
func (t *Table) Read(partitionPrefixes ...string) (*colfile.Frame, error) {
	entries, err := t.LiveFileEntries(partitionPrefixes...)
	if err != nil {
		return nil, err
	}
	out := colfile.NewFrame(t.Spec, 0)
	for _, entry := range entries {
		f, err := t.readPartFile(entry)
		if err != nil {
			return nil, err
		}
		for i := 0; i < f.NumRows; i++ {
			row := make([]colfile.Cell, len(f.Columns))
			for c := range f.Columns {
				row[c] = f.Columns[c][i]
			}
			if err := out.AppendRow(row); err != nil {
				return nil, err
			}
		}
	}
	out.Sort(out.TieBreakLess)
	return out, nil
}

func (t *Table) readPartFile(entry txlog.FileEntry) (*colfile.Frame, error) {
	absPath := filepath.Join(t.root, entry.Path)
	file, err := os.Open(absPath)
	if err != nil {
		return nil, &perr.IOError{Op: "storage.Read", Path: absPath, Err: err}
	}
	defer file.Close()
	return colfile.ReadFrom(file, t.Spec)
}

// Root returns the table's root directory, for maintenance tooling.
func (t *Table) Root() string { return t.root }
