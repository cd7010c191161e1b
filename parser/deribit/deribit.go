// Package deribit is Pointline's vendor parser for Deribit options
// ticker JSON-lines exports.
//
// Same json_scanner.go-derived shape as the binance/okx parsers: one
// JSON value per line through a reused fastjson.Parser.
package deribit

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
	parser.Register("deribit", "options_chain", optionsChainParser{})
}

type optionsChainParser struct{}

// Parse reads a Deribit options ticker JSON-lines export: each line
// has `timestamp` (ms), `instrument_name` (e.g. BTC-26SEP25-60000-C),
// `underlying` (the underlying instrument's venue symbol), `strike`,
// `expiration_timestamp` (ms), `option_type` ("call"/"put"),
// `mark_price`, `index_price`, `open_interest`.
//
// The underlying is emitted as the raw `underlying_symbol` string;
// resolving it to a symbol_id is the pipeline's PIT stage's job, same
// as for the row's own venue_symbol.
func (optionsChainParser) Parse(ctx context.Context, meta parser.FileMeta) (*parser.Frame, error) {
	reader, closer, err := ioutil.OpenCompressedReader(meta.Path, meta.UseZstd)
	if err != nil {
		return nil, &perr.ParseError{Vendor: "deribit", DataType: "options_chain", Path: meta.Path, Reason: "open", Err: err}
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
			return nil, &perr.CancelledError{Op: "deribit.options_chain.Parse", Reason: err.Error()}
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		val, err := fjson.ParseBytes(line)
		if err != nil {
			return nil, &perr.ParseError{Vendor: "deribit", DataType: "options_chain", Path: meta.Path, Reason: fmt.Sprintf("line %d: invalid json", lineNo), Err: err}
		}

		tsMs := val.GetInt64("timestamp")
		instrument := string(val.GetStringBytes("instrument_name"))
		underlying := string(val.GetStringBytes("underlying"))
		optionType := strings.ToLower(string(val.GetStringBytes("option_type")))
		expiryMs := val.GetInt64("expiration_timestamp")
		if instrument == "" || underlying == "" || tsMs == 0 || expiryMs == 0 {
			return nil, &perr.ParseError{Vendor: "deribit", DataType: "options_chain", Path: meta.Path, Reason: fmt.Sprintf("line %d: missing required field", lineNo)}
		}
		if optionType != "call" && optionType != "put" {
			return nil, &perr.ParseError{Vendor: "deribit", DataType: "options_chain", Path: meta.Path, Reason: fmt.Sprintf("line %d: bad option_type %q", lineNo, optionType)}
		}

		frame.Rows = append(frame.Rows, parser.Row{
			"venue":             parser.StringValue("deribit"),
			"venue_symbol":      parser.StringValue(instrument),
			"ts_event_us":       parser.IntValue(tsMs * 1000),
			"underlying_symbol": parser.StringValue(underlying),
			"strike_price":      parser.FloatValue(val.GetFloat64("strike")),
			"expiry_ts_us":      parser.IntValue(expiryMs * 1000),
			"option_type":       parser.StringValue(optionType),
			"mark":              parser.FloatValue(val.GetFloat64("mark_price")),
			"index":             parser.FloatValue(val.GetFloat64("index_price")),
			"open_interest":     parser.FloatValue(val.GetFloat64("open_interest")),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, &perr.ParseError{Vendor: "deribit", DataType: "options_chain", Path: meta.Path, Reason: "scan", Err: err}
	}
	return frame, nil
}
