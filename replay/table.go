package replay

import (
	"math"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/schema"
)

// AppendRows converts OutputRows into a Frame conforming to the
// feature_rows TableSpec, so a caller that wants persisted replay
// output can hand the result straight to storage.Table.Append. Value
// is stored as the IEEE-754 bit pattern of its float64 -- the
// feature_rows column stays logically Int64 (the no-float-storage
// rule covers prices and quantities, not derived analytics), matching
// the schema package's own documented convention for this column.
func AppendRows(f *colfile.Frame, rows []OutputRow) error {
	for _, r := range rows {
		valueCell := colfile.NullCell()
		if r.HasValue {
			valueCell = colfile.Int64Cell(int64(math.Float64bits(r.Value)))
		}
		if err := f.AppendRow([]colfile.Cell{
			colfile.StringCell(r.Venue),
			colfile.Int64Cell(r.SymbolID),
			colfile.Int64Cell(r.WindowStartUs),
			colfile.Int64Cell(r.WindowEndUs),
			colfile.StringCell(r.FeatureName),
			valueCell,
			colfile.BoolCell(r.BookReset),
		}); err != nil {
			return err
		}
	}
	return nil
}

// DecodeValue recovers the float64 a feature_rows "value" cell holds.
func DecodeValue(cell colfile.Cell) (float64, bool) {
	if cell.Null {
		return 0, false
	}
	return math.Float64frombits(uint64(cell.Int64)), true
}

// NewFrame allocates an empty feature_rows Frame from the catalog's
// registered spec.
func NewFrame(cat *schema.Catalog) (*colfile.Frame, error) {
	spec, ok := cat.Lookup("feature_rows")
	if !ok {
		return nil, errFeatureRowsMissing
	}
	return colfile.NewFrame(spec, 0), nil
}

var errFeatureRowsMissing = featureRowsMissingErr{}

type featureRowsMissingErr struct{}

func (featureRowsMissingErr) Error() string { return "replay: feature_rows table not registered in catalog" }
