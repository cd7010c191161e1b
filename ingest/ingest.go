// Package ingest is the pipeline that turns one raw vendor file into
// committed rows in the canonical table layer: parse -> canonicalize
// -> validate -> PIT-resolve -> lineage -> write, with every rejected
// row accounted for in quarantine rather than silently dropped.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/internal/venuezone"
	"github.com/pointline-dev/pointline/manifest"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
	"github.com/pointline-dev/pointline/quarantine"
	"github.com/pointline-dev/pointline/registry"
	"github.com/pointline-dev/pointline/schema"
	"github.com/pointline-dev/pointline/storage"
)

// Deps bundles the collaborators IngestFile orchestrates: the
// closed table catalog, the symbol registry, the manifest and
// quarantine stores, and a table opener so the pipeline never hard-
// codes a storage root.
type Deps struct {
	Catalog    *schema.Catalog
	Registry   *registry.Store
	Manifest   *manifest.Store
	Quarantine *quarantine.Log
	OpenTable  func(tableName string) (*storage.Table, error)
	Logger     *slog.Logger
}

// Options controls one IngestFile call.
type Options struct {
	Force  bool
	DryRun bool
	NowUs  int64
}

// Result summarizes one IngestFile run.
type Result struct {
	FileID          int64
	State           manifest.State
	RowsTotal       int64
	RowsWritten     int64
	RowsQuarantined int64
	Skipped         bool
}

// IngestFile runs the twelve-stage pipeline for one raw file.
func IngestFile(ctx context.Context, deps Deps, meta parser.FileMeta, opts Options) (Result, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Stage 1: resolve target table.
	tableName, err := ResolveTable(meta.Vendor, meta.DataType)
	if err != nil {
		return Result{}, err
	}
	spec, ok := deps.Catalog.Lookup(tableName)
	if !ok {
		return Result{}, fmt.Errorf("ingest: table %q not in catalog", tableName)
	}

	// Stage 2: idempotency check.
	contentHash, err := manifest.HashFile(meta.Path)
	if err != nil {
		return Result{}, err
	}
	identity := manifest.Identity{Vendor: meta.Vendor, DataType: meta.DataType, RawPath: meta.Path, ContentHash: contentHash}
	entry, err := deps.Manifest.ResolveFileID(identity, opts.NowUs)
	if err != nil {
		return Result{}, err
	}
	if entry.State == manifest.StateCompleted && !opts.Force {
		logger.Info("ingest skipped: already completed", "file_id", entry.FileID, "path", meta.Path)
		return Result{FileID: entry.FileID, State: entry.State, RowsTotal: entry.RowsTotal, RowsWritten: entry.RowsWritten, RowsQuarantined: entry.RowsQuarantined, Skipped: true}, nil
	}
	entry, err = deps.Manifest.UpdateStatus(entry.FileID, manifest.StateInProgress, entry.RowsTotal, entry.RowsWritten, entry.RowsQuarantined, "", opts.NowUs)
	if err != nil {
		return Result{}, err
	}

	// Stage 3: parse.
	p, err := parser.Lookup(meta.Vendor, meta.DataType)
	if err != nil {
		deps.failEntry(entry.FileID, err, opts.NowUs)
		return Result{}, err
	}
	rawFrame, err := p.Parse(ctx, meta)
	if err != nil {
		deps.failEntry(entry.FileID, err, opts.NowUs)
		return Result{}, err
	}

	rowsTotal := int64(len(rawFrame.Rows))
	valid := colfile.NewFrame(spec, len(rawFrame.Rows))
	var quarantineRows []quarantine.Row
	fileSeq := int64(0)
	venueValidator, hasVenueValidator := venueValidatorFor(meta.Vendor, meta.DataType)
	symbolIdx := spec.ColumnIndex("symbol_id")
	underlyingIdx := spec.ColumnIndex("underlying_symbol_id")

	for _, row := range rawFrame.Rows {
		if err := ctx.Err(); err != nil {
			return Result{}, &perr.CancelledError{Op: "ingest.IngestFile", Reason: err.Error()}
		}

		// Stage 4: canonicalize + Stage 5: derive trading_date.
		venueName := row["venue"].String
		venueSymbol := row["venue_symbol"].String
		tsUs := row["ts_event_us"].Int64

		tradingDate, err := venuezone.TradingDate(venueName, tsUs)
		if err != nil {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "unknown_venue_zone", "venue", venueName, tsUs, venueName, venueSymbol, err.Error()))
			continue
		}
		venueID, err := venuezone.VenueID(venueName)
		if err != nil {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "unknown_venue_id", "venue", venueName, tsUs, venueName, venueSymbol, err.Error()))
			continue
		}

		cells, rejectReason := buildRowCells(spec, row, venueName, venueID, tradingDate, tsUs, entry.FileID, fileSeq+1)
		if rejectReason != "" {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "canonicalize_error", "", "", tsUs, venueName, venueSymbol, rejectReason))
			continue
		}

		// Stage 6: generic validation.
		failedRule := runValidationRules(spec, cells)
		if failedRule != "" {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, failedRule, "", "", tsUs, venueName, venueSymbol, "failed validation rule "+failedRule))
			continue
		}

		// Stage 7: venue-specific validation (e.g. SZSE's per-channel
		// sequence continuity and timestamp monotonicity). Row-level
		// like stage 6: a single bad row is quarantined, never the
		// whole file.
		if hasVenueValidator {
			if rule := venueValidator.Check(spec, cells); rule != "" {
				quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, rule, "", "", tsUs, venueName, venueSymbol, "failed venue-specific rule "+rule))
				continue
			}
		}

		// Stage 8: PIT coverage join, after validation so a row that
		// is both schema-invalid and registry-uncovered is attributed
		// to its failing rule, and before lineage so a rejected row
		// never consumes a file_seq.
		version, found := registry.FindAsOf(deps.Registry.Snapshot(), registry.NaturalKey{Venue: venueName, VenueSymbol: venueSymbol}, tsUs)
		if !found {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "no_symbol_version", "venue_symbol", venueSymbol, tsUs, venueName, venueSymbol, "no registry coverage at ts_event_us"))
			continue
		}
		if symbolIdx >= 0 {
			cells[symbolIdx] = colfile.Int64Cell(version.SymbolID)
		}
		// Tables carrying a second symbol reference (the options
		// chain's underlying) resolve it through the same as-of join;
		// the parser emits the raw underlying_symbol string and never
		// the id.
		if underlyingIdx >= 0 {
			underlying := row["underlying_symbol"].String
			uv, ok := registry.FindAsOf(deps.Registry.Snapshot(), registry.NaturalKey{Venue: venueName, VenueSymbol: underlying}, tsUs)
			if !ok {
				quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "no_underlying_symbol_version", "underlying_symbol", underlying, tsUs, venueName, venueSymbol, "no registry coverage for underlying at ts_event_us"))
				continue
			}
			cells[underlyingIdx] = colfile.Int64Cell(uv.SymbolID)
		}

		// Stage 9: assign lineage (file_seq already stamped into cells above).
		fileSeq++
		if err := valid.AppendRow(cells); err != nil {
			quarantineRows = append(quarantineRows, rejectRow(opts.NowUs, entry.FileID, spec.Name, "normalize_error", "", "", tsUs, venueName, venueSymbol, err.Error()))
			fileSeq--
			continue
		}
	}

	// Stage 10: normalize to spec happens inside buildRowCells/AppendRow above.
	valid.Sort(valid.TieBreakLess)

	rowsWritten := int64(valid.NumRows)
	rowsQuarantined := int64(len(quarantineRows))

	if opts.DryRun {
		logger.Info("dry run complete", "file_id", entry.FileID, "rows_total", rowsTotal, "rows_written", rowsWritten, "rows_quarantined", rowsQuarantined)
		return Result{FileID: entry.FileID, State: manifest.StateInProgress, RowsTotal: rowsTotal, RowsWritten: rowsWritten, RowsQuarantined: rowsQuarantined}, nil
	}

	// Stage 11: write.
	table, err := deps.OpenTable(tableName)
	if err != nil {
		deps.failEntry(entry.FileID, err, opts.NowUs)
		return Result{}, err
	}
	retryPolicy := ioutil.DefaultRetryPolicy()
	err = ioutil.Retry(ctx, retryPolicy, func(attempt int) (bool, error) {
		version, verErr := table.CurrentVersion()
		if verErr != nil {
			return true, verErr
		}
		_, appendErr := table.Append(ctx, version, valid)
		if appendErr == nil {
			return false, nil
		}
		if kind, ok := perr.KindOf(appendErr); ok && kind == perr.KindConflict {
			return true, appendErr
		}
		return false, appendErr
	})
	if err != nil {
		deps.failEntry(entry.FileID, err, opts.NowUs)
		return Result{}, err
	}
	if err := deps.Quarantine.Append(ctx, quarantineRows); err != nil {
		deps.failEntry(entry.FileID, err, opts.NowUs)
		return Result{}, err
	}

	// Stage 12: manifest update.
	final, err := deps.Manifest.UpdateStatus(entry.FileID, manifest.StateCompleted, rowsTotal, rowsWritten, rowsQuarantined, "", opts.NowUs)
	if err != nil {
		return Result{}, err
	}

	logger.Info("ingest complete", "file_id", final.FileID, "table", tableName, "rows_written", rowsWritten, "rows_quarantined", rowsQuarantined)
	return Result{FileID: final.FileID, State: final.State, RowsTotal: rowsTotal, RowsWritten: rowsWritten, RowsQuarantined: rowsQuarantined}, nil
}

func (d Deps) failEntry(fileID int64, cause error, nowUs int64) {
	_, _ = d.Manifest.UpdateStatus(fileID, manifest.StateFailed, 0, 0, 0, cause.Error(), nowUs)
}

func rejectRow(nowUs, fileID int64, table, rule, field, value string, tsUs int64, venue, venueSymbol, message string) quarantine.Row {
	return quarantine.Row{
		LoggedAtUs:  nowUs,
		FileID:      fileID,
		FileSeq:     -1,
		Table:       table,
		Rule:        rule,
		Severity:    "reject",
		Field:       field,
		Value:       value,
		TsEventUs:   tsUs,
		HasTsEvent:  true,
		Venue:       venue,
		VenueSymbol: venueSymbol,
		Message:     message,
	}
}

func runValidationRules(spec *schema.TableSpec, cells []colfile.Cell) string {
	view := rowCellsView{spec: spec, cells: cells}
	for _, rule := range spec.ValidationRules {
		if reason := rule.Check(view); reason != "" {
			return rule.Name
		}
	}
	return ""
}

// rowCellsView adapts a single not-yet-appended row of cells to
// schema.RowView, so validation rules can run before the row joins
// the Frame.
type rowCellsView struct {
	spec  *schema.TableSpec
	cells []colfile.Cell
}

func (v rowCellsView) Int64(col string) (int64, bool) {
	idx := v.spec.ColumnIndex(col)
	if idx < 0 || v.cells[idx].Null {
		return 0, false
	}
	return v.cells[idx].Int64, true
}

func (v rowCellsView) String(col string) (string, bool) {
	idx := v.spec.ColumnIndex(col)
	if idx < 0 || v.cells[idx].Null {
		return "", false
	}
	return v.cells[idx].String, true
}

func (v rowCellsView) Bool(col string) (bool, bool) {
	idx := v.spec.ColumnIndex(col)
	if idx < 0 || v.cells[idx].Null {
		return false, false
	}
	return v.cells[idx].Bool, true
}
