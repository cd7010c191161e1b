// Package colfile is Pointline's columnar file layer: an in-memory
// Frame type with Arrow-compatible typed column buffers, and a
// Parquet-backed reader/writer pair with per-row-group statistics and
// dictionary encoding. The Parquet GroupNode and the row writer are
// both derived once from a schema.TableSpec, so every canonical table
// shares one writer implementation.
package colfile

import (
	"fmt"
	"sort"

	"github.com/pointline-dev/pointline/schema"
)

// Cell is a nullable column value of one logical type: a sum type of
// (value | null) per cell.
type Cell struct {
	Null     bool
	Int64    int64
	String   string
	Bool     bool
}

// Int64Cell, StringCell, and BoolCell construct non-null cells.
func Int64Cell(v int64) Cell  { return Cell{Int64: v} }
func StringCell(v string) Cell { return Cell{String: v} }
func BoolCell(v bool) Cell     { return Cell{Bool: v} }

// NullCell constructs a null cell.
func NullCell() Cell { return Cell{Null: true} }

// Frame is an owned, immutable-after-construction sequence of typed
// column buffers conforming to one schema.TableSpec, passed by move
// between pipeline stages.
type Frame struct {
	Spec    *schema.TableSpec
	Columns [][]Cell // Columns[colIdx][rowIdx], parallel to Spec.Columns
	NumRows int
}

// NewFrame allocates an empty Frame for spec with rows reserved ahead
// of time.
func NewFrame(spec *schema.TableSpec, rowHint int) *Frame {
	cols := make([][]Cell, len(spec.Columns))
	for i := range cols {
		cols[i] = make([]Cell, 0, rowHint)
	}
	return &Frame{Spec: spec, Columns: cols}
}

// AppendRow appends one row; cells must be in Spec.Columns order and
// have exactly len(Spec.Columns) entries.
func (f *Frame) AppendRow(cells []Cell) error {
	if len(cells) != len(f.Spec.Columns) {
		return fmt.Errorf("colfile: frame %s: expected %d cells, got %d", f.Spec.Name, len(f.Spec.Columns), len(cells))
	}
	fmt.Printf("DEBUG AppendRow allcells=%+v\n", cells)
	for i, c := range cells {
		if c.Null && !f.Spec.Columns[i].Nullable {
			fmt.Printf("DEBUG col=%s cell=%+v nullable=%v\n", f.Spec.Columns[i].Name, c, f.Spec.Columns[i].Nullable)
			return fmt.Errorf("colfile: frame %s: column %q is not nullable", f.Spec.Name, f.Spec.Columns[i].Name)
		}
		f.Columns[i] = append(f.Columns[i], c)
	}
	f.NumRows++
	return nil
}

// Row returns a row-level view over row i, satisfying schema.RowView
// for use by TableSpec.ValidationRules.
func (f *Frame) Row(i int) RowView {
	return RowView{frame: f, row: i}
}

// RowView is schema.RowView's concrete implementation over a Frame row.
type RowView struct {
	frame *Frame
	row   int
}

func (v RowView) Int64(col string) (int64, bool) {
	idx := v.frame.Spec.ColumnIndex(col)
	if idx < 0 {
		return 0, false
	}
	c := v.frame.Columns[idx][v.row]
	if c.Null {
		return 0, false
	}
	return c.Int64, true
}

func (v RowView) String(col string) (string, bool) {
	idx := v.frame.Spec.ColumnIndex(col)
	if idx < 0 {
		return "", false
	}
	c := v.frame.Columns[idx][v.row]
	if c.Null {
		return "", false
	}
	return c.String, true
}

func (v RowView) Bool(col string) (bool, bool) {
	idx := v.frame.Spec.ColumnIndex(col)
	if idx < 0 {
		return false, false
	}
	c := v.frame.Columns[idx][v.row]
	if c.Null {
		return false, false
	}
	return c.Bool, true
}

// Select returns a new Frame containing only the rows for which keep
// returns true, preserving row order. Used to split a Frame into
// valid/rejected halves.
func (f *Frame) Select(keep func(i int) bool) *Frame {
	out := NewFrame(f.Spec, 0)
	for i := 0; i < f.NumRows; i++ {
		if !keep(i) {
			continue
		}
		row := make([]Cell, len(f.Columns))
		for c := range f.Columns {
			row[c] = f.Columns[c][i]
		}
		_ = out.AppendRow(row) // cells already validated by f.AppendRow
	}
	return out
}

// Sort stably reorders the Frame's rows in place by a less function
// over row indices. Used to enforce a table's tie-break order before
// writing: rows are sorted inside each written file.
func (f *Frame) Sort(less func(i, j int) bool) {
	idx := make([]int, f.NumRows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(idx[a], idx[b]) })

	newCols := make([][]Cell, len(f.Columns))
	for c := range f.Columns {
		newCols[c] = make([]Cell, f.NumRows)
		for newPos, oldPos := range idx {
			newCols[c][newPos] = f.Columns[c][oldPos]
		}
	}
	f.Columns = newCols
}

// TieBreakLess compares rows i and j by the Frame's Spec.TieBreakCols
// in order, implementing the table's total order. Event tables
// tie-break on integer
// columns (timestamps, lineage, sequence numbers); feature_rows also
// carries string keys (venue, feature_name), so the comparison is
// type-directed per column.
func (f *Frame) TieBreakLess(i, j int) bool {
	for _, col := range f.Spec.TieBreakCols {
		idx := f.Spec.ColumnIndex(col)
		spec := f.Spec.Columns[idx]
		switch spec.Type {
		case schema.TypeString, schema.TypeDate:
			vi := f.Columns[idx][i].String
			vj := f.Columns[idx][j].String
			if vi != vj {
				return vi < vj
			}
		default:
			vi := f.Columns[idx][i].Int64
			vj := f.Columns[idx][j].Int64
			if vi != vj {
				return vi < vj
			}
		}
	}
	return false
}
