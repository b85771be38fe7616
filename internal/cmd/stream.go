package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
)

var streamCmd = &cobra.Command{
	Use:   "stream [file]",
	Short: "Stream records from a CSV or XLSX file into the index sink",
	Long: `Read a delimited text or XLSX file record by record, map each row to a
document and write the documents to the configured sink in batches.

Rows with a blank content column are skipped. A malformed row fails only
that row; the rest of the file is still ingested.

The final job snapshot is printed to stdout as JSON.

Examples:
  goharvest stream rows.csv --dest products
  goharvest stream rows.tsv --dest products --delimiter tab --content-column body
  goharvest stream export.xlsx --dest products --sheet Sheet2 --batch-size 500
  goharvest stream --job stream.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var (
	streamOpts            jobRunOptions
	streamSource          string
	streamDest            string
	streamBatchSize       int
	streamContentColumn   string
	streamIDColumn        string
	streamMetadataColumns []string
	streamDelimiter       string
	streamQuote           string
	streamEscape          string
	streamNoHeader        bool
	streamSheet           string
	streamMaxRecords      int64
)

func init() {
	rootCmd.AddCommand(streamCmd)
	registerStreamFlags(streamCmd)
}

func registerStreamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&streamSource, "source", "s", "", "Record file (.csv, .tsv, .txt or .xlsx)")
	f.StringVarP(&streamDest, "dest", "d", "", "Sink destination name (required unless set by --job)")
	f.IntVarP(&streamBatchSize, "batch-size", "b", 0, "Records per sink write (default 100)")
	f.StringVar(&streamContentColumn, "content-column", "", "Column holding the document text (default: text)")
	f.StringVar(&streamIDColumn, "id-column", "", "Column holding the document id (default: line number)")
	f.StringSliceVar(&streamMetadataColumns, "metadata-columns", nil, "Columns copied into document metadata")
	f.StringVar(&streamDelimiter, "delimiter", "", `Field delimiter (default ","; "tab" for tabs)`)
	f.StringVar(&streamQuote, "quote", "", `Quote character (default '"')`)
	f.StringVar(&streamEscape, "escape", "", "Escape character (default: none)")
	f.BoolVar(&streamNoHeader, "no-header", false, "First row is data; columns are named column_1..column_N")
	f.StringVar(&streamSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	f.Int64Var(&streamMaxRecords, "max-records", 0, "Stop after this many records (0 = unbounded)")
	addJobRunFlags(cmd, &streamOpts)
}

func runStream(cmd *cobra.Command, args []string) error {
	jobCfg, err := buildStreamConfig(cmd, args)
	if err != nil {
		return err
	}
	return runForeground(cmd, jobCfg, streamOpts)
}

// buildStreamConfig merges the manifest (if any), positional args and
// flags. Only flags the user set override manifest fields.
func buildStreamConfig(cmd *cobra.Command, args []string) (engine.JobConfig, error) {
	base, err := loadJobManifest(streamOpts.jobPath)
	if err != nil {
		return engine.JobConfig{}, err
	}
	var cfg engine.JobConfig
	if base != nil {
		cfg = *base
		if cfg.Kind != "" && cfg.Kind != jobregistry.KindRecordStream {
			return cfg, exitError(exitInvalidArgument, "Manifest is not a stream job",
				fmt.Errorf("manifest kind is %s; use the scan command", cfg.Kind))
		}
	}
	cfg.Kind = jobregistry.KindRecordStream

	flags := cmd.Flags()
	if len(args) == 1 {
		cfg.SourcePath = args[0]
	}
	if flags.Changed("source") {
		cfg.SourcePath = streamSource
	}
	if flags.Changed("dest") {
		cfg.Destination = streamDest
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = streamBatchSize
	}
	if flags.Changed("content-column") {
		cfg.ContentColumn = streamContentColumn
	}
	if flags.Changed("id-column") {
		cfg.IDColumn = streamIDColumn
	}
	if flags.Changed("metadata-columns") {
		cfg.MetadataColumns = streamMetadataColumns
	}
	if flags.Changed("delimiter") {
		cfg.Delimiter = streamDelimiter
	}
	if flags.Changed("quote") {
		cfg.Quote = streamQuote
	}
	if flags.Changed("escape") {
		cfg.Escape = streamEscape
	}
	if flags.Changed("no-header") {
		cfg.SkipHeader = engine.Bool(!streamNoHeader)
	}
	if flags.Changed("sheet") {
		cfg.Sheet = streamSheet
	}
	if flags.Changed("max-records") {
		cfg.MaxRecords = streamMaxRecords
	}

	if cfg.SourcePath == "" {
		return cfg, exitError(exitInvalidArgument, "A source file is required",
			fmt.Errorf("pass a file argument, --source or --job"))
	}
	return cfg, nil
}
