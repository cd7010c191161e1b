package main

import (
	"context"
	"fmt"
	"os"

	"github.com/relvacode/iso8601"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/pflag"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/env"
	"github.com/pointline-dev/pointline/query"
	"github.com/pointline-dev/pointline/replay"
)

///////////////////////////////////////////////////////////////////////////////

type Config struct {
	DataDir      string
	RegistryFile string
	RegistryTsUs int64

	Venue       string
	Symbol      string
	StartUs     int64
	EndUs       int64
	StepUs      int64
	Depth       int

	FeatureNames []string
	AggKind      string
}

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////

func main() {
	var config Config
	var startArg, endArg string
	var showHelp bool

	pflag.StringVarP(&config.DataDir, "data-dir", "d", "", "Pointline data directory")
	pflag.StringVarP(&config.RegistryFile, "registry", "r", "", "JSON symbol snapshot to bootstrap the registry from")
	pflag.Int64VarP(&config.RegistryTsUs, "registry-effective-us", "", 0, "Effective timestamp (microseconds) for the registry bootstrap")
	pflag.StringVarP(&config.Venue, "venue", "v", "", "Venue key")
	pflag.StringVarP(&config.Symbol, "symbol", "s", "", "Venue-native symbol")
	pflag.StringVarP(&startArg, "start", "", "", "Replay range start in ISO 8601 format, inclusive")
	pflag.StringVarP(&endArg, "end", "", "", "Replay range end in ISO 8601 format, exclusive")
	pflag.Int64VarP(&config.StartUs, "start-us", "", 0, "Replay range start, ts_event_us, inclusive (overridden by --start)")
	pflag.Int64VarP(&config.EndUs, "end-us", "", 0, "Replay range end, ts_event_us, exclusive (overridden by --end)")
	pflag.Int64VarP(&config.StepUs, "step-us", "", 1_000_000, "Window step, in microseconds")
	pflag.IntVarP(&config.Depth, "depth", "", 10, "Book depth each feature signal scans")
	pflag.StringSliceVarP(&config.FeatureNames, "feature", "f", []string{"mid_price", "spread"}, "Feature signals to extract (mid_price, spread, book_imbalance)")
	pflag.StringVarP(&config.AggKind, "agg", "a", "last", "Aggregator kind applied to every requested feature (last, mean, sum, min, max)")
	pflag.BoolVarP(&showHelp, "help", "h", false, "Show help")
	pflag.Parse()

	if showHelp {
		fmt.Fprintf(os.Stdout, "usage: %s -d <data-dir> -v <venue> -s <symbol> [opts]\n\nReplays crypto_book_updates for one (venue, symbol) and prints feature rows as JSON.\n\n", os.Args[0])
		pflag.PrintDefaults()
		os.Exit(0)
	}
	if config.DataDir == "" || config.Venue == "" || config.Symbol == "" {
		fmt.Fprintf(os.Stderr, "missing required flag, need --data-dir, --venue, --symbol (see --help)\n")
		os.Exit(1)
	}

	if startArg != "" {
		t, err := iso8601.ParseString(startArg)
		requireNoError(err)
		config.StartUs = t.UnixMicro()
	}
	if endArg != "" {
		t, err := iso8601.ParseString(endArg)
		requireNoError(err)
		config.EndUs = t.UnixMicro()
	}

	requireNoError(run(config))
}

///////////////////////////////////////////////////////////////////////////////

func run(config Config) error {
	e, err := env.Open(config.DataDir, config.RegistryFile, config.RegistryTsUs)
	if err != nil {
		return err
	}

	tbl, err := e.OpenTable("crypto_book_updates")
	if err != nil {
		return err
	}

	// Lineage columns break microsecond timestamp ties during replay,
	// so they must be projected.
	frame, err := query.LoadEvents(context.Background(), tbl, e.Registry.Snapshot(), config.Venue, config.Symbol, config.StartUs, config.EndUs, query.Options{IncludeLineage: true})
	if err != nil {
		return err
	}

	updates, symbolID, err := toUpdates(frame)
	if err != nil {
		return err
	}

	spec, ok := tbl.Spec.Column("price")
	if !ok {
		return fmt.Errorf("pointline-replay: crypto_book_updates has no price column")
	}
	decode := func(v int64) float64 { return spec.Scale.Decode(v) }

	features := make(map[string]replay.FeatureConfig, len(config.FeatureNames))
	for _, name := range config.FeatureNames {
		signal, err := featureSignal(name)
		if err != nil {
			return err
		}
		features[name] = replay.FeatureConfig{Signal: signal, Agg: config.AggKind, Sample: replay.SamplePerUpdate}
	}

	window := replay.WindowSpec{StartUs: config.StartUs, EndUs: config.EndUs, StepUs: config.StepUs, Alignment: replay.AlignStart}
	rows, meta, err := replay.Run(config.Venue, symbolID, updates, window, features, decode, config.Depth)
	if err != nil {
		return err
	}

	for _, row := range rows {
		jstr, err := json.Marshal(row)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s\n", jstr)
	}
	fmt.Fprintf(os.Stderr, "rows_processed=%d crossed_book_count=%d windows_emitted=%d\n",
		meta.RowsProcessed, meta.CrossedBookCount, meta.WindowsEmitted)
	return nil
}

///////////////////////////////////////////////////////////////////////////////

// toUpdates converts a crypto_book_updates Frame (already tie-break
// sorted by query.LoadEvents/storage.Table.Read) into replay.Updates,
// returning the single symbol_id the range resolved to -- a replay run
// is always scoped to one (venue, symbol).
func toUpdates(f *colfile.Frame) (updates []replay.Update, symbolID int64, err error) {
	updates = make([]replay.Update, 0, f.NumRows)
	for i := 0; i < f.NumRows; i++ {
		row := f.Row(i)
		ts, _ := row.Int64("ts_event_us")
		sid, _ := row.Int64("symbol_id")
		isSnapshot, _ := row.Bool("is_snapshot")
		sideStr, _ := row.String("side")
		price, _ := row.Int64("price")
		qty, _ := row.Int64("qty")
		fileID, _ := row.Int64("file_id")
		fileSeq, _ := row.Int64("file_seq")

		side := replay.SideBid
		if sideStr == "ask" {
			side = replay.SideAsk
		}

		if i == 0 {
			symbolID = sid
		} else if sid != symbolID {
			return nil, 0, fmt.Errorf("pointline-replay: range resolved to more than one symbol_id (%d, %d); narrow --symbol or --start-us/--end-us", symbolID, sid)
		}

		updates = append(updates, replay.Update{
			TsEventUs:  ts,
			FileID:     fileID,
			FileSeq:    fileSeq,
			IsSnapshot: isSnapshot,
			Side:       side,
			Price:      price,
			Qty:        qty,
		})
	}
	return updates, symbolID, nil
}

// defaultHalflifeBps is the weighted-depth decay rate used by
// distance-weighted signals when the CLI selects them; a research
// caller driving replay.Run as a library picks its own per-feature
// value.
const defaultHalflifeBps = 50.0

func featureSignal(name string) (replay.FeatureSignal, error) {
	switch name {
	case "mid_price":
		return replay.MidPriceSignal{}, nil
	case "spread":
		return replay.SpreadSignal{}, nil
	case "book_imbalance":
		return replay.BookImbalanceSignal{HalflifeBps: defaultHalflifeBps}, nil
	default:
		return nil, fmt.Errorf("pointline-replay: unknown feature %q", name)
	}
}
