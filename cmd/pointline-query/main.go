package main

import (
	"context"
	"fmt"
	"os"

	"github.com/relvacode/iso8601"
	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/pointline-dev/pointline/internal/colfile"
	"github.com/pointline-dev/pointline/internal/env"
	"github.com/pointline-dev/pointline/query"
	"github.com/pointline-dev/pointline/schema"
)

///////////////////////////////////////////////////////////////////////////////

var (
	dataDir      string
	registryFile string
	registryTsUs int64

	table          string
	venue          string
	symbol         string
	startArg       string
	endArg         string
	startUsFlag    int64
	endUsFlag      int64
	includeLineage bool
)

// requireRangeUs resolves the range flags into microseconds: an ISO
// 8601 --start/--end takes precedence over the raw
// --start-us/--end-us, which
// stay available for sub-microsecond-unambiguous precision an ISO
// 8601 string doesn't carry as conveniently.
func requireRangeUs() (startUs, endUs int64) {
	startUs, endUs = startUsFlag, endUsFlag
	if startArg != "" {
		t, err := iso8601.ParseString(startArg)
		requireNoError(err)
		startUs = t.UnixMicro()
	}
	if endArg != "" {
		t, err := iso8601.ParseString(endArg)
		requireNoError(err)
		endUs = t.UnixMicro()
	}
	return startUs, endUs
}

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////

func main() {
	cobra.OnInitialize()

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Pointline data directory")
	rootCmd.PersistentFlags().StringVarP(&registryFile, "registry", "r", "", "JSON symbol snapshot to bootstrap the registry from")
	rootCmd.PersistentFlags().Int64VarP(&registryTsUs, "registry-effective-us", "", 0, "Effective timestamp (microseconds) for the registry bootstrap")
	rootCmd.MarkPersistentFlagRequired("data-dir")

	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().StringVarP(&table, "table", "t", "", "Canonical table name (e.g. crypto_trades)")
	loadCmd.Flags().StringVarP(&venue, "venue", "v", "", "Venue key")
	loadCmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Venue-native symbol")
	loadCmd.Flags().StringVarP(&startArg, "start", "", "", "Range start in ISO 8601 format, inclusive")
	loadCmd.Flags().StringVarP(&endArg, "end", "", "", "Range end in ISO 8601 format, exclusive")
	loadCmd.Flags().Int64VarP(&startUsFlag, "start-us", "", 0, "Range start, ts_event_us, inclusive (overridden by --start)")
	loadCmd.Flags().Int64VarP(&endUsFlag, "end-us", "", 0, "Range end, ts_event_us, exclusive (overridden by --end)")
	loadCmd.Flags().BoolVarP(&includeLineage, "lineage", "", false, "Include file_id/file_seq in the output")
	loadCmd.MarkFlagRequired("table")
	loadCmd.MarkFlagRequired("venue")
	loadCmd.MarkFlagRequired("symbol")

	rootCmd.AddCommand(tablesCmd)

	err := rootCmd.Execute()
	requireNoError(err)
}

///////////////////////////////////////////////////////////////////////////////

var rootCmd = &cobra.Command{
	Use:   "pointline-query",
	Short: "pointline-query runs load_events against the canonical table layer.",
	Long:  "pointline-query runs load_events against the canonical table layer.",
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Loads events for one (venue, symbol) over a ts_event_us range and prints them as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := env.Open(dataDir, registryFile, registryTsUs)
		requireNoError(err)

		tbl, err := e.OpenTable(table)
		requireNoError(err)

		startUs, endUs := requireRangeUs()
		opts := query.Options{IncludeLineage: includeLineage}
		frame, err := query.LoadEvents(context.Background(), tbl, e.Registry.Snapshot(), venue, symbol, startUs, endUs, opts)
		requireNoError(err)

		printFrame(frame)
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Lists the canonical tables in the catalog",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := env.Open(dataDir, registryFile, registryTsUs)
		requireNoError(err)
		for _, name := range e.Catalog.Tables() {
			fmt.Fprintf(os.Stdout, "%s\n", name)
		}
	},
}

///////////////////////////////////////////////////////////////////////////////

// printFrame decodes a Frame row by row -- at the research edge, never
// mid-pipeline -- and prints one JSON object per line.
func printFrame(f *colfile.Frame) {
	for i := 0; i < f.NumRows; i++ {
		row := make(map[string]any, len(f.Spec.Columns))
		for ci, col := range f.Spec.Columns {
			cell := f.Columns[ci][i]
			row[col.Name] = cellValue(col, cell)
		}
		jstr, err := json.Marshal(row)
		requireNoError(err)
		fmt.Fprintf(os.Stdout, "%s\n", jstr)
	}
}

func cellValue(col schema.ColumnSpec, cell colfile.Cell) any {
	if cell.Null {
		return nil
	}
	switch col.Type {
	case schema.TypeScaledInt64:
		return col.Scale.Decode(cell.Int64)
	case schema.TypeString, schema.TypeDate:
		return cell.String
	case schema.TypeBool:
		return cell.Bool
	default:
		return cell.Int64
	}
}
