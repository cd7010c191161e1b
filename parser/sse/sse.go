// Package sse is Pointline's vendor parser for Shanghai Stock
// Exchange L3 tick-event (trade/cancel execution) CSV exports,
// mirroring parser/szse's per-symbol-file CSV shape with SSE's own
// column layout and venue-specific validation.
package sse

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
	"time"

	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/internal/venuezone"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
)

func init() {
	parser.Register("sse", "l3_tick_events", tickEventsParser{})
}

var filenamePattern = regexp.MustCompile(`^(\d{6})_\d{8}_ticks\.csv`)

// header columns, in the vendor's own order:
// ChannelNo,ApplSeqNum,BidApplSeqNum,OfferApplSeqNum,ExecType,Price,Qty,TradeTime
var expectedHeader = []string{"ChannelNo", "ApplSeqNum", "BidApplSeqNum", "OfferApplSeqNum", "ExecType", "Price", "Qty", "TradeTime"}

type tickEventsParser struct{}

func (tickEventsParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	symbol := meta.SymbolHint
	if symbol == "" {
		m := filenamePattern.FindStringSubmatch(filepath.Base(meta.Path))
		if m == nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: "cannot lift symbol from filename"}
		}
		symbol = m[1]
	}

	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: "open", Err: err}
	}
	if closer != nil {
		defer closer.Close()
	}

	csvReader := csv.NewReader(reader)
	header, err := csvReader.Read()
	if err != nil {
		return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: "read header", Err: err}
	}
	if !sameHeader(header, expectedHeader) {
		return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("schema drift: expected header %v, got %v", expectedHeader, header)}
	}

	loc, err := venuezone.Lookup("sse")
	if err != nil {
		return nil, err
	}

	frame := &parser.Frame{}
	rowNo := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, &perr.CancelledError{Op: "sse.l3_tick_events.Parse", Reason: err.Error()}
		}
		record, err := csvReader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: %s", rowNo, err.Error()), Err: err}
		}
		rowNo++
		if len(record) != len(expectedHeader) {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: expected %d fields, got %d", rowNo, len(expectedHeader), len(record))}
		}
		// Required-but-empty channel/sequence fields are a row-level
		// concern, not a file-level one: emit null here and let
		// ingest's non-nullable column check quarantine the row,
		// downstream of the parser rather than inside it.
		channelNo, err := parseOptionalInt(record[0])
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad ChannelNo", rowNo), Err: err}
		}
		applSeqNum, err := parseOptionalInt(record[1])
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad ApplSeqNum", rowNo), Err: err}
		}
		bidRef, err := parseOptionalInt(record[2])
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad BidApplSeqNum", rowNo), Err: err}
		}
		askRef, err := parseOptionalInt(record[3])
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad OfferApplSeqNum", rowNo), Err: err}
		}
		price, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad Price", rowNo), Err: err}
		}
		qty, err := strconv.ParseFloat(record[6], 64)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad Qty", rowNo), Err: err}
		}
		if len(record[7]) != 17 {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad TradeTime %q", rowNo, record[7])}
		}
		t, err := time.ParseInLocation("20060102150405.000", record[7][:14]+"."+record[7][14:], loc)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "sse", DataType: "l3_tick_events", Path: meta.Path, Reason: fmt.Sprintf("row %d: bad TradeTime", rowNo), Err: err}
		}

		execType := "FILL"
		if record[4] == "C" {
			execType = "CANCEL"
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue("sse"),
			"venue_symbol": parser.StringValue(symbol),
			"ts_event_us":  parser.IntValue(t.UTC().UnixMicro()),
			"channel_no":   channelNo,
			"appl_seq_num": applSeqNum,
			"bid_ref":      bidRef,
			"ask_ref":      askRef,
			"exec_type":    parser.StringValue(execType),
			"price":        parser.FloatValue(price),
			"qty":          parser.FloatValue(qty),
		})
	}
	return frame, nil
}

// parseOptionalInt tolerates an empty field (null, routed to row-level
// quarantine downstream) but still treats a non-empty, unparseable
// value as schema drift.
func parseOptionalInt(s string) (parser.Value, error) {
	if strings.TrimSpace(s) == "" {
		return parser.NullValue(), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return parser.Value{}, err
	}
	return parser.IntValue(v), nil
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
