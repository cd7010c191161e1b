// Package quarantine is Pointline's validation log: every row
// rejected anywhere in the ingestion pipeline is appended here with
// enough context to diagnose and, eventually, re-ingest after an
// upstream fix -- never silently dropped.
package quarantine

import (
	"context"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

// Row is one rejected event plus the context needed to triage it.
type Row struct {
	LoggedAtUs  int64
	FileID      int64
	FileSeq     int64 // -1 means absent (nullable)
	Table       string
	Rule        string
	Severity    string
	Field       string
	Value       string // empty means absent (nullable)
	TsEventUs   int64  // 0 with HasTsEvent=false means absent
	HasTsEvent  bool
	Venue       string
	VenueSymbol string
	Message     string
}

// TableSpec is the quarantine log's system table.
func TableSpec() *schema.TableSpec {
	return &schema.TableSpec{
		Name: "quarantine",
		Columns: []schema.ColumnSpec{
			{Name: "logged_at_ts_us", Type: schema.TypeTimestampUs},
			{Name: "file_id", Type: schema.TypeInt64},
			{Name: "file_seq", Type: schema.TypeInt64, Nullable: true},
			{Name: "table_name", Type: schema.TypeString},
			{Name: "rule", Type: schema.TypeString},
			{Name: "severity", Type: schema.TypeString},
			{Name: "field", Type: schema.TypeString, Nullable: true},
			{Name: "value", Type: schema.TypeString, Nullable: true},
			{Name: "ts_event_us", Type: schema.TypeTimestampUs, Nullable: true},
			{Name: "venue", Type: schema.TypeString, Nullable: true},
			{Name: "venue_symbol", Type: schema.TypeString, Nullable: true},
			{Name: "message", Type: schema.TypeString},
		},
		TieBreakCols: []string{"logged_at_ts_us", "file_id"},
	}
}

// Log is the append-only quarantine store, backed by the same
// storage.Table machinery as every other table in Pointline.
type Log struct {
	table   *storage.Table
	version int64
}

// Open opens or creates a quarantine log rooted at dir.
func Open(dir string) (*Log, error) {
	tbl, err := storage.Open(dir, TableSpec())
	if err != nil {
		return nil, err
	}
	version, err := tbl.CurrentVersion()
	if err != nil {
		return nil, err
	}
	return &Log{table: tbl, version: version}, nil
}

// Append writes rows to the quarantine log in one batch.
func (l *Log) Append(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	f := colfile.NewFrame(TableSpec(), len(rows))
	for _, r := range rows {
		fileSeq := colfile.Int64Cell(r.FileSeq)
		if r.FileSeq < 0 {
			fileSeq = colfile.NullCell()
		}
		field := cellOrNull(r.Field)
		value := cellOrNull(r.Value)
		venue := cellOrNull(r.Venue)
		venueSymbol := cellOrNull(r.VenueSymbol)
		tsEvent := colfile.Int64Cell(r.TsEventUs)
		if !r.HasTsEvent {
			tsEvent = colfile.NullCell()
		}
		if err := f.AppendRow([]colfile.Cell{
			colfile.Int64Cell(r.LoggedAtUs),
			colfile.Int64Cell(r.FileID),
			fileSeq,
			colfile.StringCell(r.Table),
			colfile.StringCell(r.Rule),
			colfile.StringCell(r.Severity),
			field,
			value,
			tsEvent,
			venue,
			venueSymbol,
			colfile.StringCell(r.Message),
		}); err != nil {
			return err
		}
	}
	next, err := l.table.Append(ctx, l.version, f)
	if err != nil {
		return err
	}
	l.version = next
	return nil
}

// CountsByFile returns the number of quarantined rows recorded in the
// log for fileID.
func (l *Log) CountsByFile(fileID int64) (int64, error) {
	f, err := l.table.Read()
	if err != nil {
		return 0, err
	}
	idIdx := f.Spec.ColumnIndex("file_id")
	var count int64
	for i := 0; i < f.NumRows; i++ {
		if f.Columns[idIdx][i].Int64 == fileID {
			count++
		}
	}
	return count, nil
}

func cellOrNull(s string) colfile.Cell {
	if s == "" {
		return colfile.NullCell()
	}
	return colfile.StringCell(s)
}
