// Package okx is Pointline's vendor parser for OKX spot/swap trade
// and quote JSON-lines exports, mirroring parser/binance's scanning
// shape but OKX's own field names and a top-of-book quotes stream in
// place of full depth updates.
package okx

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/valyala/fastjson"

	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
)

func init() {
	parser.Register("okx-spot", "trades", tradesParser{venue: "okx-spot"})
	parser.Register("okx-swap", "trades", tradesParser{venue: "okx-swap"})
	parser.Register("okx-spot", "quotes", quotesParser{venue: "okx-spot"})
	parser.Register("okx-swap", "quotes", quotesParser{venue: "okx-swap"})
}

type tradesParser struct{ venue string }

// Parse reads an OKX trades JSON-lines export: each line has `ts`
// (event time ms, string), `instId` (symbol), `px`/`sz` (price/size
// strings), `side` ("buy"/"sell"), `tradeId`.
func (p tradesParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	rows, err := scanLines(ctx, meta, p.venue, "trades", func(val *fastjson.Value, frame *parser.Frame) error {
		tsUs, err := strconv.ParseInt(string(val.GetStringBytes("ts")), 10, 64)
		if err != nil {
			return fmt.Errorf("bad ts: %w", err)
		}
		px, err := parseDecimal(string(val.GetStringBytes("px")))
		if err != nil {
			return fmt.Errorf("bad px: %w", err)
		}
		sz, err := parseDecimal(string(val.GetStringBytes("sz")))
		if err != nil {
			return fmt.Errorf("bad sz: %w", err)
		}
		side := string(val.GetStringBytes("side"))
		instID := string(val.GetStringBytes("instId"))
		tradeID := string(val.GetStringBytes("tradeId"))
		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue(p.venue),
			"venue_symbol": parser.StringValue(instID),
			"ts_event_us":  parser.IntValue(tsUs * 1000),
			"side":         parser.StringValue(side),
			"price":        parser.FloatValue(px),
			"qty":          parser.FloatValue(sz),
			"trade_id":     parser.StringValue(tradeID),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type quotesParser struct{ venue string }

// Parse reads an OKX top-of-book JSON-lines export: each line has
// `ts`, `instId`, `bidPx`/`bidSz`/`askPx`/`askSz` strings.
func (p quotesParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	return scanLines(ctx, meta, p.venue, "quotes", func(val *fastjson.Value, frame *parser.Frame) error {
		tsUs, err := strconv.ParseInt(string(val.GetStringBytes("ts")), 10, 64)
		if err != nil {
			return fmt.Errorf("bad ts: %w", err)
		}
		bidPx, err := parseDecimal(string(val.GetStringBytes("bidPx")))
		if err != nil {
			return fmt.Errorf("bad bidPx: %w", err)
		}
		bidSz, err := parseDecimal(string(val.GetStringBytes("bidSz")))
		if err != nil {
			return fmt.Errorf("bad bidSz: %w", err)
		}
		askPx, err := parseDecimal(string(val.GetStringBytes("askPx")))
		if err != nil {
			return fmt.Errorf("bad askPx: %w", err)
		}
		askSz, err := parseDecimal(string(val.GetStringBytes("askSz")))
		if err != nil {
			return fmt.Errorf("bad askSz: %w", err)
		}
		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue(p.venue),
			"venue_symbol": parser.StringValue(string(val.GetStringBytes("instId"))),
			"ts_event_us":  parser.IntValue(tsUs * 1000),
			"bid_price":    parser.FloatValue(bidPx),
			"bid_qty":      parser.FloatValue(bidSz),
			"ask_price":    parser.FloatValue(askPx),
			"ask_qty":      parser.FloatValue(askSz),
		})
		return nil
	})
}

func scanLines(ctx context.Context, meta parser.FileMeta, venue, dataType string, handle func(*fastjson.Value, *parser.Frame) error) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: venue, DataType: dataType, Path: meta.Path, Reason: "open", Err: err}
	}
	if closer != nil {
		defer closer.Close()
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var fjson fastjson.Parser
	frame := &parser.Frame{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, &perr.CancelledError{Op: "okx." + dataType + ".Parse", Reason: err.Error()}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		val, err := fjson.ParseBytes(line)
		if err != nil {
			return nil, &perr.ParseError{Vendor: venue, DataType: dataType, Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}
		if err := handle(val, frame); err != nil {
			return nil, &perr.ParseError{Vendor: venue, DataType: dataType, Path: meta.Path, Reason: fmt.Sprintf("line %d: %s", lineNo, err.Error())}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: venue, DataType: dataType, Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}

// parseDecimal mirrors strconv.ParseFloat but rejects the non-finite
// literals ("NaN", "Inf", "Infinity", ...) it accepts with a nil
// error, matching how an overflowing finite literal already fails
// with ErrRange.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
