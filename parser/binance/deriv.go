package binance

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/pointline-dev/pointline/internal/ioutil"
	"github.com/pointline-dev/pointline/parser"
	"github.com/pointline-dev/pointline/perr"
)

func init() {
	parser.Register("binance-usdm", "deriv_ticker", derivTickerParser{venue: "binance-usdm"})
	parser.Register("binance-usdm", "liquidations", liquidationsParser{venue: "binance-usdm"})
}

type derivTickerParser struct{ venue string }

// Parse reads a Binance USD-M markPriceUpdate JSON-lines export: each
// line has `E` (event time ms), `s` (symbol), `p` (mark price), `i`
// (index price), `r` (funding rate), `T` (next funding time ms), and
// `oi` (open interest, joined into the export from the openInterest
// stream by the archiver).
func (p derivTickerParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: "open", Err: err}
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
			return nil, &perr.CancelledError{Op: "binance.deriv_ticker.Parse", Reason: err.Error()}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		val, err := fjson.ParseBytes(line)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}

		tsMs := val.GetInt64("E")
		symbol := string(val.GetStringBytes("s"))
		markStr := string(val.GetStringBytes("p"))
		indexStr := string(val.GetStringBytes("i"))
		fundingStr := string(val.GetStringBytes("r"))
		nextFundingMs := val.GetInt64("T")
		oiStr := string(val.GetStringBytes("oi"))
		if symbol == "" || markStr == "" || indexStr == "" || fundingStr == "" || oiStr == "" {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: missing required field", lineNo)}
		}

		mark, err := parseDecimal(markStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad mark %q", lineNo, markStr), Err: err}
		}
		index, err := parseDecimal(indexStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad index %q", lineNo, indexStr), Err: err}
		}
		funding, err := parseDecimal(fundingStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad funding rate %q", lineNo, fundingStr), Err: err}
		}
		oi, err := parseDecimal(oiStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad open interest %q", lineNo, oiStr), Err: err}
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":              parser.StringValue(p.venue),
			"venue_symbol":       parser.StringValue(symbol),
			"ts_event_us":        parser.IntValue(tsMs * 1000),
			"mark":               parser.FloatValue(mark),
			"index":              parser.FloatValue(index),
			"funding_rate":       parser.FloatValue(funding),
			"next_funding_ts_us": parser.IntValue(nextFundingMs * 1000),
			"open_interest":      parser.FloatValue(oi),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "deriv_ticker", Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}

type liquidationsParser struct{ venue string }

// Parse reads a Binance USD-M forceOrder JSON-lines export: each line
// has `E` (event time ms) and an `o` object carrying `s` (symbol), `S`
// (side of the liquidated order, upper-cased), `p` (price), `q` (qty).
func (p liquidationsParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: "open", Err: err}
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
			return nil, &perr.CancelledError{Op: "binance.liquidations.Parse", Reason: err.Error()}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		val, err := fjson.ParseBytes(line)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}

		tsMs := val.GetInt64("E")
		order := val.Get("o")
		if order == nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: fmt.Sprintf("line %d: missing order object", lineNo)}
		}
		symbol := string(order.GetStringBytes("s"))
		sideRaw := string(order.GetStringBytes("S"))
		priceStr := string(order.GetStringBytes("p"))
		qtyStr := string(order.GetStringBytes("q"))
		if symbol == "" || sideRaw == "" || priceStr == "" || qtyStr == "" {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: fmt.Sprintf("line %d: missing required field", lineNo)}
		}

		price, err := parseDecimal(priceStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad price %q", lineNo, priceStr), Err: err}
		}
		qty, err := parseDecimal(qtyStr)
		if err != nil {
			return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad qty %q", lineNo, qtyStr), Err: err}
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":        parser.StringValue(p.venue),
			"venue_symbol": parser.StringValue(symbol),
			"ts_event_us":  parser.IntValue(tsMs * 1000),
			"side":         parser.StringValue(strings.ToLower(sideRaw)),
			"price":        parser.FloatValue(price),
			"qty":          parser.FloatValue(qty),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: p.venue, DataType: "liquidations", Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}
