package colfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/pointline-dev/pointline/schema"
)

// groupNodeForSpec derives a Parquet GroupNode from a TableSpec,
// driven by column metadata instead of a hardcoded field list.
func groupNodeForSpec(spec *schema.TableSpec) (*pqschema.GroupNode, error) {
	fields := make(pqschema.FieldList, 0, len(spec.Columns))
	for _, col := range spec.Columns {
		repetition := parquet.Repetitions.Required
		if col.Nullable {
			repetition = parquet.Repetitions.Optional
		}
		var node pqschema.Node
		switch col.Type {
		case schema.TypeInt64, schema.TypeTimestampUs:
			node = pqschema.MustPrimitive(pqschema.NewPrimitiveNodeLogical(
				col.Name, repetition, pqschema.NewIntLogicalType(64, true), parquet.Types.Int64, 0, -1))
		case schema.TypeScaledInt64:
			// Scaled columns are always persisted as plain signed
			// int64; the scale lives in schema.TableSpec, never in
			// the file.
			node = pqschema.NewInt64Node(col.Name, repetition, -1)
		case schema.TypeBool:
			node = pqschema.NewBooleanNode(col.Name, repetition, -1)
		case schema.TypeString, schema.TypeDate:
			node = pqschema.MustPrimitive(pqschema.NewPrimitiveNodeConverted(
				col.Name, repetition, parquet.Types.ByteArray, pqschema.ConvertedTypes.UTF8, 0, 0, 0, -1))
		default:
			return nil, fmt.Errorf("colfile: unsupported logical type %v for column %q", col.Type, col.Name)
		}
		fields = append(fields, node)
	}
	return pqschema.MustGroup(pqschema.NewGroupNode(spec.Name, parquet.Repetitions.Required, fields, -1)), nil
}

// WriterProps returns the Parquet writer properties Pointline uses for
// every table file: V2 format, row-group statistics, dictionary
// encoding, and ZSTD compression.
func WriterProps() *parquet.WriterProperties {
	return parquet.NewWriterProperties(
		parquet.WithVersion(parquet.V2_LATEST),
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
	)
}

// WriteTo serializes f as a single Parquet row group to w, in the
// Frame's current row order -- callers must Sort by TieBreakLess
// first. Returns the file's SHA-256 content hash, recorded in the
// txlog entry; repeated ingestion of the same input produces a
// byte-identical file and hash.
func WriteTo(w io.Writer, f *Frame) (contentHash string, err error) {
	groupNode, err := groupNodeForSpec(f.Spec)
	if err != nil {
		return "", err
	}

	hasher := sha256.New()
	tee := io.MultiWriter(w, hasher)

	pw := pqfile.NewParquetWriter(tee, groupNode, pqfile.WithWriterProps(WriterProps()))
	rgw := pw.AppendBufferedRowGroup()

	for colIdx, col := range f.Spec.Columns {
		cw, err := rgw.Column(colIdx)
		if err != nil {
			return "", fmt.Errorf("colfile: column writer for %q: %w", col.Name, err)
		}
		if err := writeColumn(cw, col, f.Columns[colIdx]); err != nil {
			return "", fmt.Errorf("colfile: writing column %q: %w", col.Name, err)
		}
	}

	if err := rgw.Close(); err != nil {
		return "", err
	}
	if err := pw.FlushWithFooter(); err != nil {
		return "", err
	}
	if err := pw.Close(); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func writeColumn(cw pqfile.ColumnChunkWriter, col schema.ColumnSpec, cells []Cell) error {
	defLevels := make([]int16, len(cells))
	for i, c := range cells {
		if c.Null {
			defLevels[i] = 0
		} else {
			defLevels[i] = 1
		}
	}

	switch col.Type {
	case schema.TypeInt64, schema.TypeTimestampUs, schema.TypeScaledInt64:
		vals := make([]int64, 0, len(cells))
		for _, c := range cells {
			if !c.Null {
				vals = append(vals, c.Int64)
			}
		}
		_, err := cw.(*pqfile.Int64ColumnChunkWriter).WriteBatch(vals, defLevels, nil)
		return err
	case schema.TypeBool:
		vals := make([]bool, 0, len(cells))
		for _, c := range cells {
			if !c.Null {
				vals = append(vals, c.Bool)
			}
		}
		_, err := cw.(*pqfile.BooleanColumnChunkWriter).WriteBatch(vals, defLevels, nil)
		return err
	case schema.TypeString, schema.TypeDate:
		vals := make([]parquet.ByteArray, 0, len(cells))
		for _, c := range cells {
			if !c.Null {
				vals = append(vals, parquet.ByteArray(c.String))
			}
		}
		_, err := cw.(*pqfile.ByteArrayColumnChunkWriter).WriteBatch(vals, defLevels, nil)
		return err
	default:
		return fmt.Errorf("colfile: unsupported logical type %v", col.Type)
	}
}

// ReadFrom deserializes every row group of the Parquet file read from r
// into a single Frame conforming to spec.
func ReadFrom(r parquet.ReaderAtSeeker, spec *schema.TableSpec) (*Frame, error) {
	reader, err := pqfile.NewParquetReader(r)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	frame := NewFrame(spec, int(reader.NumRows()))
	for rg := 0; rg < reader.NumRowGroups(); rg++ {
		rgr := reader.RowGroup(rg)
		if err := readRowGroup(rgr, spec, frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func readRowGroup(rgr *pqfile.RowGroupReader, spec *schema.TableSpec, frame *Frame) error {
	numRows := rgr.NumRows()
	columnValues := make([][]Cell, len(spec.Columns))

	for colIdx, col := range spec.Columns {
		cr, err := rgr.Column(colIdx)
		if err != nil {
			return fmt.Errorf("colfile: reading column %q: %w", col.Name, err)
		}
		cells, err := readColumn(cr, col, numRows)
		if err != nil {
			return err
		}
		columnValues[colIdx] = cells
	}

	for row := int64(0); row < numRows; row++ {
		rowCells := make([]Cell, len(spec.Columns))
		for c := range rowCells {
			rowCells[c] = columnValues[c][row]
		}
		if err := frame.AppendRow(rowCells); err != nil {
			return err
		}
	}
	return nil
}

func readColumn(cr pqfile.ColumnChunkReader, col schema.ColumnSpec, numRows int64) ([]Cell, error) {
	defLevels := make([]int16, numRows)
	cells := make([]Cell, numRows)

	switch col.Type {
	case schema.TypeInt64, schema.TypeTimestampUs, schema.TypeScaledInt64:
		r := cr.(*pqfile.Int64ColumnChunkReader)
		vals := make([]int64, numRows)
		total, _, err := r.ReadBatch(numRows, vals, defLevels, nil)
		if err != nil {
			return nil, err
		}
		fillInt64Cells(cells, defLevels, total, vals)
	case schema.TypeBool:
		r := cr.(*pqfile.BooleanColumnChunkReader)
		vals := make([]bool, numRows)
		total, _, err := r.ReadBatch(numRows, vals, defLevels, nil)
		if err != nil {
			return nil, err
		}
		fillBoolCells(cells, defLevels, total, vals)
	case schema.TypeString, schema.TypeDate:
		r := cr.(*pqfile.ByteArrayColumnChunkReader)
		vals := make([]parquet.ByteArray, numRows)
		total, _, err := r.ReadBatch(numRows, vals, defLevels, nil)
		if err != nil {
			return nil, err
		}
		fillStringCells(cells, defLevels, total, vals)
	default:
		return nil, fmt.Errorf("colfile: unsupported logical type %v", col.Type)
	}
	return cells, nil
}

func fillInt64Cells(cells []Cell, defLevels []int16, total int64, vals []int64) {
	vi := 0
	for i := int64(0); i < total; i++ {
		if defLevels[i] == 0 {
			cells[i] = NullCell()
			continue
		}
		cells[i] = Int64Cell(vals[vi])
		vi++
	}
}

func fillBoolCells(cells []Cell, defLevels []int16, total int64, vals []bool) {
	vi := 0
	for i := int64(0); i < total; i++ {
		if defLevels[i] == 0 {
			cells[i] = NullCell()
			continue
		}
		cells[i] = BoolCell(vals[vi])
		vi++
	}
}

func fillStringCells(cells []Cell, defLevels []int16, total int64, vals []parquet.ByteArray) {
	vi := 0
	for i := int64(0); i < total; i++ {
		if defLevels[i] == 0 {
			cells[i] = NullCell()
			continue
		}
		cells[i] = StringCell(string(vals[vi]))
		vi++
	}
}
