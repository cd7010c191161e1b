// Package manifest is Pointline's idempotency ledger: every raw
// vendor file maps to exactly one file_id keyed by its identity tuple
// (vendor, data_type, raw_path, content_hash), carrying a lifecycle
// state and row counters that make re-ingesting the same file a no-op.
//
// Built on the same internal/txlog + internal/colfile machinery as
// the event tables, but unpartitioned and keyed by identity rather
// than tie-break-ordered event time.
package manifest

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/perr"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

// State is a manifest entry's lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Identity is the tuple that uniquely names one raw vendor file.
type Identity struct {
	Vendor      string
	DataType    string
	RawPath     string
	ContentHash string
}

// Entry is one manifest row.
type Entry struct {
	Identity        Identity
	FileID          int64
	State           State
	RowsTotal       int64
	RowsWritten     int64
	RowsQuarantined int64
	IngestedAtUs    int64
	StatusReason    string // empty means absent (nullable in the schema)
	UpdatedAtUs     int64  // drives SweepStale's timeout detection
	CommitSeq       int64  // monotonic write order, breaks ties among same-file_id rows
}

// TableSpec is the manifest's own system table.
func TableSpec() *schema.TableSpec {
	return &schema.TableSpec{
		Name: "manifest",
		Columns: []schema.ColumnSpec{
			{Name: "vendor", Type: schema.TypeString},
			{Name: "data_type", Type: schema.TypeString},
			{Name: "raw_path", Type: schema.TypeString},
			{Name: "content_hash", Type: schema.TypeString},
			{Name: "file_id", Type: schema.TypeInt64},
			{Name: "state", Type: schema.TypeString},
			{Name: "rows_total", Type: schema.TypeInt64},
			{Name: "rows_written", Type: schema.TypeInt64},
			{Name: "rows_quarantined", Type: schema.TypeInt64},
			{Name: "ingested_at_ts_us", Type: schema.TypeTimestampUs},
			{Name: "status_reason", Type: schema.TypeString, Nullable: true},
			{Name: "updated_at_ts_us", Type: schema.TypeTimestampUs},
			{Name: "commit_seq", Type: schema.TypeInt64},
		},
		// commit_seq breaks ties among rows sharing a file_id: every
		// lifecycle transition (pending -> in-progress -> completed)
		// appends a new row rather than updating one in place, and the
		// part files those rows land in replay back in an order keyed
		// off a random path, not commit order.
		TieBreakCols: []string{"file_id", "commit_seq"},
	}
}

// HashFile computes the blake2b content hash forming part of a raw
// file's Identity, read once at resolve time. Same hash family as the
// registry's symbol_id assignment.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &perr.IOError{Op: "manifest.HashFile", Path: path, Err: err}
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", &perr.IOError{Op: "manifest.HashFile", Path: path, Err: err}
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", &perr.IOError{Op: "manifest.HashFile", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func identityKey(id Identity) string {
	return fmt.Sprintf("%s|%s|%s|%s", id.Vendor, id.DataType, id.RawPath, id.ContentHash)
}

// Store is the manifest's in-process view over its backing table: an
// identity→entry index kept consistent with the append-only log by
// serializing every mutation through a single writer lock -- single
// writer, many readers.
type Store struct {
	mu      sync.Mutex
	table   *storage.Table
	version int64
	byKey   map[string]Entry
	nextID  int64
	nextSeq int64
}

// Open opens or creates a manifest store rooted at dir, replaying its
// existing log into the in-memory index.
func Open(dir string) (*Store, error) {
	tbl, err := storage.Open(dir, TableSpec())
	if err != nil {
		return nil, err
	}
	s := &Store{table: tbl, byKey: make(map[string]Entry)}
	f, err := tbl.Read()
	if err != nil {
		return nil, err
	}
	version, err := tbl.CurrentVersion()
	if err != nil {
		return nil, err
	}
	s.version = version
	for i := 0; i < f.NumRows; i++ {
		e := entryFromRow(f, i)
		s.byKey[identityKey(e.Identity)] = e
		if e.FileID >= s.nextID {
			s.nextID = e.FileID + 1
		}
		if e.CommitSeq >= s.nextSeq {
			s.nextSeq = e.CommitSeq + 1
		}
	}
	return s, nil
}

func entryFromRow(f *colfile.Frame, i int) Entry {
	row := f.Row(i)
	vendor, _ := row.String("vendor")
	dataType, _ := row.String("data_type")
	rawPath, _ := row.String("raw_path")
	hash, _ := row.String("content_hash")
	fileID, _ := row.Int64("file_id")
	state, _ := row.String("state")
	rowsTotal, _ := row.Int64("rows_total")
	rowsWritten, _ := row.Int64("rows_written")
	rowsQuarantined, _ := row.Int64("rows_quarantined")
	ingestedAt, _ := row.Int64("ingested_at_ts_us")
	reason, _ := row.String("status_reason")
	updatedAt, _ := row.Int64("updated_at_ts_us")
	commitSeq, _ := row.Int64("commit_seq")
	return Entry{
		Identity:        Identity{Vendor: vendor, DataType: dataType, RawPath: rawPath, ContentHash: hash},
		FileID:          fileID,
		State:           State(state),
		RowsTotal:       rowsTotal,
		RowsWritten:     rowsWritten,
		RowsQuarantined: rowsQuarantined,
		IngestedAtUs:    ingestedAt,
		StatusReason:    reason,
		UpdatedAtUs:     updatedAt,
		CommitSeq:       commitSeq,
	}
}

// ResolveFileID looks up identity's entry, allocating a new one in
// state `pending` if absent -- idempotent, since a second call with
// the same identity returns the same file_id.
func (s *Store) ResolveFileID(identity Identity, nowUs int64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identityKey(identity)
	if e, ok := s.byKey[key]; ok {
		return e, nil
	}
	entry := Entry{
		Identity:     identity,
		FileID:       s.nextID,
		State:        StatePending,
		IngestedAtUs: nowUs,
		UpdatedAtUs:  nowUs,
	}
	s.nextID++
	if err := s.commit(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// UpdateStatus transitions an existing file_id's entry to a new state
// with updated counters and an optional status reason.
func (s *Store) UpdateStatus(fileID int64, state State, rowsTotal, rowsWritten, rowsQuarantined int64, reason string, nowUs int64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Entry
	var key string
	for k, e := range s.byKey {
		if e.FileID == fileID {
			found = &e
			key = k
			break
		}
	}
	if found == nil {
		return Entry{}, &perr.NotFoundError{Resource: "manifest_entry", Key: fmt.Sprintf("%d", fileID)}
	}

	updated := *found
	updated.State = state
	updated.RowsTotal = rowsTotal
	updated.RowsWritten = rowsWritten
	updated.RowsQuarantined = rowsQuarantined
	updated.StatusReason = reason
	updated.UpdatedAtUs = nowUs
	if err := s.commit(updated); err != nil {
		return Entry{}, err
	}
	s.byKey[key] = updated
	return updated, nil
}

// ListPending returns every entry in state `pending` or `in-progress`,
// for restart/recovery scans.
func (s *Store) ListPending() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.byKey {
		if e.State == StatePending || e.State == StateInProgress {
			out = append(out, e)
		}
	}
	return out
}

// SweepStale moves every `in-progress` entry whose UpdatedAtUs is
// older than nowUs-timeoutUs to `failed` with reason `timeout`, so a
// crashed or cancelled ingest is retried on the next run rather than
// wedged forever.
func (s *Store) SweepStale(nowUs, timeoutUs int64) (swept []Entry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.byKey {
		if e.State != StateInProgress {
			continue
		}
		if nowUs-e.UpdatedAtUs < timeoutUs {
			continue
		}
		e.State = StateFailed
		e.StatusReason = perr.TimeoutReason
		e.UpdatedAtUs = nowUs
		if err := s.commit(e); err != nil {
			return swept, err
		}
		s.byKey[key] = e
		swept = append(swept, e)
	}
	return swept, nil
}

func (s *Store) commit(e Entry) error {
	e.CommitSeq = s.nextSeq
	s.nextSeq++

	f := colfile.NewFrame(TableSpec(), 1)
	reason := colfile.StringCell(e.StatusReason)
	if e.StatusReason == "" {
		reason = colfile.NullCell()
	}
	if err := f.AppendRow([]colfile.Cell{
		colfile.StringCell(e.Identity.Vendor),
		colfile.StringCell(e.Identity.DataType),
		colfile.StringCell(e.Identity.RawPath),
		colfile.StringCell(e.Identity.ContentHash),
		colfile.Int64Cell(e.FileID),
		colfile.StringCell(string(e.State)),
		colfile.Int64Cell(e.RowsTotal),
		colfile.Int64Cell(e.RowsWritten),
		colfile.Int64Cell(e.RowsQuarantined),
		colfile.Int64Cell(e.IngestedAtUs),
		reason,
		colfile.Int64Cell(e.UpdatedAtUs),
		colfile.Int64Cell(e.CommitSeq),
	}); err != nil {
		return err
	}

	next, err := s.table.Append(context.Background(), s.version, f)
	if err != nil {
		return err
	}
	s.version = next
	s.byKey[identityKey(e.Identity)] = e
	return nil
}
