// Package szse is Pointline's vendor parser for Shenzhen Stock
// Exchange L3 order-event CSV exports, one file per symbol per
// trading day. The symbol is encoded in the filename rather than a
// column, so the parser lifts it into a row column.
//
// CSV reading uses stdlib encoding/csv: no repo in the retrieval pack
// carries a non-stdlib CSV parser, and encoding/csv is the idiomatic
// choice even in dependency-heavy Go codebases (see DESIGN.md).
package szse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
)

func init() {
	parser.Register("szse", "l3_order_events", orderEventsParser{})
}

// filenamePattern matches `<symbol>_<yyyymmdd>_orders.csv[.zst]`, the
// SZSE vendor drop's own naming convention.
var filenamePattern = regexp.MustCompile(`^(\d{6})_\d{8}_orders\.csv`)

type orderEventsParser struct{}

// header columns, in the vendor's own order:
// ChannelNo,ApplSeqNum,Side,OrderType,EventKind,Price,Qty,TransactTime
var expectedHeader = []string{"ChannelNo", "ApplSeqNum", "Side", "OrderType", "EventKind", "Price", "Qty", "TransactTime"}

func (orderEventsParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	symbol := meta.SymbolHint
	if symbol == "" {
		m := filenamePattern.FindStringSubmatch(filepath.Base(meta.Path))
		if m == nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: "cannot lift symbol from filename"}
		}
		symbol = m[1]
	}

	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: "open", Err: err}
	}
	if closer != nil {
		defer closer.Close()
	}

	csvReader := csv.NewReader(reader)
	header, err := csvReader.Read()
	if err != nil {
		return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: "read header", Err: err}
	}
	if !sameHeader(header, expectedHeader) {
		return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("schema drift: expected header %v, got %v", expectedHeader, header)}
	}

	frame := &parser.Frame{}
	rowNo := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, &perr.CancelledError{Op: "szse.l3_order_events.Parse", Reason: err.Error()}
		}
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: %s", rowNo, err.Error()), Err: err}
		}
		rowNo++
		if len(record) != len(expectedHeader) {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: expected %d fields, got %d (%s)", rowNo, len(expectedHeader), len(record), humanize.Bytes(uint64(len(strings.Join(record, ",")))))}
		}

		channelNo, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad ChannelNo", rowNo), Err: err}
		}
		applSeqNum, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad ApplSeqNum", rowNo), Err: err}
		}
		price, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad Price", rowNo), Err: err}
		}
		qty, err := strconv.ParseFloat(record[6], 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad Qty", rowNo), Err: err}
		}
		tsUs, err := parseCSTTimestamp(record[7])
		if err != nil {
			return nil, &perr.ParseError{Vendor: "szse", DataType: "l3_order_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad TransactTime", rowNo), Err: err}
		}
		side := "unknown"
		switch record[2] {
		case "1":
			side = "buy"
		case "2":
			side = "sell"
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue("szse"),
			"venue_symbol": parser.StringValue(symbol),
			"ts_event_us":  parser.IntValue(tsUs),
			"channel_no":   parser.IntValue(channelNo),
			"appl_seq_num": parser.IntValue(applSeqNum),
			"side":         parser.StringValue(side),
			"order_type":   parser.StringValue(record[3]),
			"event_kind":   parser.StringValue(record[4]),
			"price":        parser.FloatValue(price),
			"qty":          parser.FloatValue(qty),
		})
	}
	return frame, nil
}

func sameHeader(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if strings.TrimSpace(got[i]) != want[i] {
			return false
		}
	}
	return true
}
