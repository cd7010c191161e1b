package ingest

import (
	"fmt"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/schema"
)

// buildRowCells maps one parser.Row onto spec's exact column order:
// casts columns to the target TableSpec's logical types, adds missing
// nullable columns, drops unknown columns, and stamps in the event
// header and lineage columns the parser never assigns. symbol_id and
// underlying_symbol_id get zero placeholders here; the PIT stage
// patches them in after validation passes.
func buildRowCells(spec *schema.TableSpec, row parser.Row, venue string, venueID int64, tradingDate string, tsUs, fileID, fileSeq int64) ([]colfile.Cell, string) {
	cells := make([]colfile.Cell, len(spec.Columns))
	fmt.Printf("DEBUG buildRowCells table=%s ncols=%d row=%+v\n", spec.Name, len(spec.Columns), row)
	for i, col := range spec.Columns {
		switch col.Name {
		case "venue":
			cells[i] = colfile.StringCell(venue)
			fmt.Printf("DEBUG set venue cell i=%d cell=%+v\n", i, cells[i])
			continue
		case "venue_id":
			cells[i] = colfile.Int64Cell(venueID)
			continue
		case "symbol_id", "underlying_symbol_id":
			cells[i] = colfile.Int64Cell(0)
			continue
		case "ts_event_us":
			cells[i] = colfile.Int64Cell(tsUs)
			continue
		case "trading_date":
			cells[i] = colfile.StringCell(tradingDate)
			continue
		case "file_id":
			cells[i] = colfile.Int64Cell(fileID)
			continue
		case "file_seq":
			cells[i] = colfile.Int64Cell(fileSeq)
			continue
		}

		val, present := row[col.Name]
		if !present {
			if col.Nullable {
				cells[i] = colfile.NullCell()
				continue
			}
			return nil, fmt.Sprintf("required column %q missing from parsed row", col.Name)
		}
		if val.Null {
			if !col.Nullable {
				return nil, fmt.Sprintf("column %q is not nullable", col.Name)
			}
			cells[i] = colfile.NullCell()
			continue
		}

		switch col.Type {
		case schema.TypeScaledInt64:
			scaled, err := col.Scale.Encode(val.Float64)
			if err != nil {
				return nil, fmt.Sprintf("column %q: %s", col.Name, err.Error())
			}
			cells[i] = colfile.Int64Cell(scaled)
		case schema.TypeInt64, schema.TypeTimestampUs:
			cells[i] = colfile.Int64Cell(val.Int64)
		case schema.TypeString, schema.TypeDate:
			cells[i] = colfile.StringCell(val.String)
		case schema.TypeBool:
			cells[i] = colfile.BoolCell(val.Bool)
		default:
			return nil, fmt.Sprintf("column %q: unsupported logical type %v", col.Name, col.Type)
		}
	}
	return cells, ""
}
