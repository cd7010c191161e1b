// Package parser declares the vendor-parser contract: vendor-specific
// readers that turn raw archive bytes into a near-canonical row
// stream, pure functions of the file's bytes (the same bytes always
// produce the same frame). A (vendor, data_type) key selects a Parser
// implementation from a static registry populated by each vendor
// subpackage's init().
package parser

import (
	"context"
	"fmt"
)

// Value is one loosely-typed raw column value, before canonicalization
// casts it to a schema.LogicalType. Parsers never know the target
// TableSpec -- that mapping belongs to ingest's canonicalization
// stage.
type Value struct {
	Null    bool
	Int64   int64
	Float64 float64
	String  string
	Bool    bool
}

func IntValue(v int64) Value    { return Value{Int64: v} }
func FloatValue(v float64) Value { return Value{Float64: v} }
func StringValue(v string) Value { return Value{String: v} }
func BoolValue(v bool) Value    { return Value{Bool: v} }
func NullValue() Value          { return Value{Null: true} }

// Row is one raw record, keyed by canonical column names (e.g.
// venue_symbol, price, qty), including the required venue/ts_event_us
// columns every parser must emit.
type Row map[string]Value

// Frame is a parser's full output for one file.
type Frame struct {
	Rows []Row
}

// FileMeta names one raw vendor file to parse.
type FileMeta struct {
	Vendor      string
	DataType    string
	Path        string
	UseZstd     bool
	SymbolHint  string // lifted from the filename for per-symbol vendor layouts
}

// Parser reads one raw file into a Frame. Implementations must fail
// fast on unreadable files, schema drift, or missing required columns
// rather than emit partial or best-guess rows.
type Parser interface {
	Parse(ctx context.Context, meta FileMeta) (*Frame, error)
}

// Key identifies a parser in the static registry.
type Key struct {
	Vendor   string
	DataType string
}

var registry = map[Key]Parser{}

// Register installs a Parser for (vendor, data_type). Called from
// each vendor subpackage's init().
func Register(vendor, dataType string, p Parser) {
	registry[Key{Vendor: vendor, DataType: dataType}] = p
}

// Lookup resolves a parser for (vendor, data_type), the first step of
// IngestFile's parse stage, after the target table is resolved and the
// manifest idempotency check has passed.
func Lookup(vendor, dataType string) (Parser, error) {
	p, ok := registry[Key{Vendor: vendor, DataType: dataType}]
	if !ok {
		return nil, fmt.Errorf("parser: no parser registered for vendor=%q data_type=%q", vendor, dataType)
	}
	return p, nil
}
