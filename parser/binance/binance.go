// Package binance is Pointline's vendor parser for Binance spot/usdm
// trade, book-update, mark-price, and liquidation JSON-lines exports:
// a bufio.Scanner walking one JSON value per line, decoded with a
// reused fastjson.Parser rather than encoding/json -- these files run
// to millions of lines and fastjson avoids a reflection-based
// unmarshal per row.
package binance

import (
	"bufio"
	"context"
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
)

func init() {
	parser.Register("binance-spot", "trades", tradesParser{venue: "binance-spot"})
	parser.Register("binance-usdm", "trades", tradesParser{venue: "binance-usdm"})
	parser.Register("binance-spot", "book_updates", bookUpdatesParser{venue: "binance-spot"})
	parser.Register("binance-usdm", "book_updates", bookUpdatesParser{venue: "binance-usdm"})
}

type tradesParser struct{ venue string }

// Parse reads a Binance aggTrade/trade JSON-lines export: each line
// has `T` (event time ms), `p` (price string), `q` (qty string), `m`
// (is-buyer-maker bool), `a` (trade id), `s` (symbol).
func (p tradesParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: "open", Err: err}
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
			return nil, &perr.CancelledError{Op: "binance.trades.Parse", Reason: err.Error()}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		val, err := fjson.ParseBytes(line)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}

		tsMs := val.GetInt64("T")
		priceStr := string(val.GetStringBytes("p"))
		qtyStr := string(val.GetStringBytes("q"))
		isBuyerMaker := val.GetBool("m")
		tradeID := val.GetInt64("a")
		symbol := string(val.GetStringBytes("s"))
		if priceStr == "" || qtyStr == "" || symbol == "" {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: fmt.Sprintf("line %d: missing required field", lineNo)}
		}

		price, err := parseDecimal(priceStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad price %q", lineNo, priceStr), Err: err}
		}
		qty, err := parseDecimal(qtyStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad qty %q", lineNo, qtyStr), Err: err}
		}

		// The aggressor is the seller when the resting order was the
		// buyer -- Binance's own convention for `m`.
		side := "buy"
		if isBuyerMaker {
			side = "sell"
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue(p.venue),
			"venue_symbol": parser.StringValue(symbol),
			"ts_event_us":  parser.IntValue(tsMs * 1000),
			"side":         parser.StringValue(side),
			"price":        parser.FloatValue(price),
			"qty":          parser.FloatValue(qty),
			"trade_id":     parser.StringValue(fmt.Sprintf("%d", tradeID)),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "trades", Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}

type bookUpdatesParser struct{ venue string }

// Parse reads a Binance depth-update JSON-lines export: each line has
// `E` (event time ms), `s` (symbol), `U`..`u` (update id range, unused
// here), `b`/`a` (arrays of [price, qty] level updates), and an
// optional top-level `snapshot` bool marking a full-book refresh.
func (p bookUpdatesParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "book_updates", Path: meta.Path, Reason: "open", Err: err}
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
			return nil, &perr.CancelledError{Op: "binance.book_updates.Parse", Reason: err.Error()}
		}
		val, err := fjson.ParseBytes(scanner.Bytes())
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "book_updates", Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}

		tsMs := val.GetInt64("E")
		symbol := string(val.GetStringBytes("s"))
		isSnapshot := val.GetBool("snapshot")

		if err := appendLevels(frame, p.venue, symbol, tsMs, "bid", val.GetArray("b"), isSnapshot); err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "book_updates", Path: meta.Path, Reason: fmt.Sprintf("line %d: %s", lineNo, err.Error())}
		}
		if err := appendLevels(frame, p.venue, symbol, tsMs, "ask", val.GetArray("a"), isSnapshot); err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "book_updates", Path: meta.Path, Reason: fmt.Sprintf("line %d: %s", lineNo, err.Error())}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "book_updates", Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}

func appendLevels(frame *parser.Frame, venue, symbol string, tsMs int64, side string, levels []*fastjson.Value, isSnapshot bool) error {
	for _, level := range levels {
		arr, err := level.Array()
		if err != nil || len(arr) != 2 {
			return fmt.Errorf("malformed %s level", side)
		}
		price, err := parseDecimal(string(arr[0].GetStringBytes()))
		if err != nil {
			return fmt.Errorf("bad %s price", side)
		}
		qty, err := parseDecimal(string(arr[1].GetStringBytes()))
		if err != nil {
			return fmt.Errorf("bad %s qty", side)
		}
		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue(venue),
			"venue_symbol": parser.StringValue(symbol),
			"ts_event_us":  parser.IntValue(tsMs * 1000),
			"side":         parser.StringValue(side),
			"price":        parser.FloatValue(price),
			"qty":          parser.FloatValue(qty),
			"is_snapshot":  parser.BoolValue(isSnapshot),
		})
	}
	return nil
}
