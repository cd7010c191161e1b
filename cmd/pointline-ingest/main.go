package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pointline-dev/pointline/ingest"
	"github.com/pointline-dev/pointline/internal/env"
	"github.com/pointline-dev/pointline/parser"

	_ "github.com/pointline-dev/pointline/parser/binance"
	_ "github.com/pointline-dev/pointline/parser/deribit"
	_ "github.com/pointline-dev/pointline/parser/okx"
	_ "github.com/pointline-dev/pointline/parser/sse"
	_ "github.com/pointline-dev/pointline/parser/szse"
)

///////////////////////////////////////////////////////////////////////////////

var (
	dataDir      string
	registryFile string
	registryTsUs int64

	vendor      string
	dataType    string
	symbolHint  string
	useZstd     bool
	force       bool
	dryRun      bool
)

func requireNoError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		os.Exit(1)
	}
}

///////////////////////////////////////////////////////////////////////////////

func main() {
	cobra.OnInitialize()

	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Pointline data directory (tables/manifest/quarantine live under here)")
	rootCmd.PersistentFlags().StringVarP(&registryFile, "registry", "r", "", "JSON symbol snapshot to bootstrap the registry from (optional)")
	rootCmd.PersistentFlags().Int64VarP(&registryTsUs, "registry-effective-us", "", 0, "Effective timestamp (microseconds since epoch) for the registry bootstrap")
	rootCmd.MarkPersistentFlagRequired("data-dir")

	rootCmd.AddCommand(fileCmd)
	fileCmd.Flags().StringVarP(&vendor, "vendor", "v", "", "Source venue/vendor key (e.g. binance-spot)")
	fileCmd.Flags().StringVarP(&dataType, "data-type", "t", "", "Vendor data type (e.g. trades, book_updates)")
	fileCmd.Flags().StringVarP(&symbolHint, "symbol", "s", "", "Symbol hint lifted from the filename, for per-symbol vendor layouts")
	fileCmd.Flags().BoolVarP(&useZstd, "zstd", "z", false, "Raw file is zstd-compressed")
	fileCmd.Flags().BoolVarP(&force, "force", "f", false, "Re-ingest even if the manifest already shows this file completed")
	fileCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Parse and validate without writing to storage")
	fileCmd.MarkFlagRequired("vendor")
	fileCmd.MarkFlagRequired("data-type")

	rootCmd.AddCommand(sweepCmd)

	err := rootCmd.Execute()
	requireNoError(err)
}

///////////////////////////////////////////////////////////////////////////////

var rootCmd = &cobra.Command{
	Use:   "pointline-ingest",
	Short: "pointline-ingest runs ingest_file against one or more raw vendor files.",
	Long:  "pointline-ingest runs ingest_file against one or more raw vendor files.",
}

var fileCmd = &cobra.Command{
	Use:   "file path...",
	Short: "Ingests one or more raw vendor files into the canonical table layer",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := env.Open(dataDir, registryFile, registryTsUs)
		requireNoError(err)

		ctx := context.Background()
		deps := e.IngestDeps()
		opts := ingest.Options{Force: force, DryRun: dryRun, NowUs: nowUs()}
		exitCode := 0
		for _, path := range args {
			meta := parser.FileMeta{
				Vendor:     vendor,
				DataType:   dataType,
				Path:       path,
				UseZstd:    useZstd,
				SymbolHint: symbolHint,
			}
			res, err := ingest.IngestFile(ctx, deps, meta, opts)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: ingesting %s: %s\n", path, err.Error())
				exitCode = 1
				continue
			}
			fmt.Fprintf(os.Stdout, "%s  file_id=%d state=%s total=%d written=%d quarantined=%d skipped=%v\n",
				path, res.FileID, res.State, res.RowsTotal, res.RowsWritten, res.RowsQuarantined, res.Skipped)
		}
		os.Exit(exitCode)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-stale timeout_us",
	Short: "Marks in-progress manifest entries stuck past timeout_us as failed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := env.Open(dataDir, registryFile, registryTsUs)
		requireNoError(err)

		var timeoutUs int64
		_, err = fmt.Sscanf(args[0], "%d", &timeoutUs)
		requireNoError(err)

		swept, err := e.Manifest.SweepStale(nowUs(), timeoutUs)
		requireNoError(err)
		for _, entry := range swept {
			fmt.Fprintf(os.Stdout, "swept file_id=%d path=%s\n", entry.FileID, entry.Identity.RawPath)
		}
	},
}

///////////////////////////////////////////////////////////////////////////////

func nowUs() int64 {
	return time.Now().UnixMicro()
}
