package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/jobregistry"
	"github.com/3leaps/goharvest/pkg/match"
)

var scanCmd = &cobra.Command{
	Use:   "scan [directory]",
	Short: "Extract text from the documents under a directory",
	Long: `Walk a directory, extract text from every file with a supported
extension, and write one manifest row per document.

The manifest is CSV (default) or JSONL. A CSV manifest has a "text" column
and can be fed straight into "goharvest stream". The destination may be a
local path or an s3://bucket/key URI.

The final job snapshot is printed to stdout as JSON.

Examples:
  goharvest scan ./docs
  goharvest scan ./docs --ext md,html --exclude '**/drafts/**'
  goharvest scan ./docs --output s3://harvest/manifests/docs.csv
  goharvest scan --job scan.yaml --format jsonl`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

var (
	scanOpts       jobRunOptions
	scanSource     string
	scanOutput     string
	scanExtensions []string
	scanExclude    []string
	scanMaxItems   int
	scanMinSize    string
	scanMaxSize    string
	scanRecursive  bool
	scanFormat     string
)

func init() {
	rootCmd.AddCommand(scanCmd)
	registerScanFlags(scanCmd)
}

func registerScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&scanSource, "source", "s", "", "Directory to scan")
	cmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Manifest destination (default: <source>/extracted_documents_<job_id>.<format>)")
	cmd.Flags().StringSliceVar(&scanExtensions, "ext", nil, "Extensions to extract (default: pdf,txt,docx,doc,rtf,html,xml)")
	cmd.Flags().StringSliceVar(&scanExclude, "exclude", nil, "Glob patterns to skip, relative to the source")
	cmd.Flags().IntVar(&scanMaxItems, "max-items", 0, "Stop after this many matching files (0 = unbounded)")
	cmd.Flags().StringVar(&scanMinSize, "min-size", "", "Skip files smaller than this (e.g. 1KB)")
	cmd.Flags().StringVar(&scanMaxSize, "max-size", "", "Skip files larger than this (e.g. 20MiB)")
	cmd.Flags().BoolVar(&scanRecursive, "recursive", true, "Descend into subdirectories")
	cmd.Flags().StringVar(&scanFormat, "format", "", "Manifest format (csv|jsonl)")
	addJobRunFlags(cmd, &scanOpts)
}

func runScan(cmd *cobra.Command, args []string) error {
	jobCfg, err := buildScanConfig(cmd, args)
	if err != nil {
		return err
	}
	return runForeground(cmd, jobCfg, scanOpts)
}

// buildScanConfig merges the manifest (if any), positional args and flags.
// Only flags the user set override manifest fields.
func buildScanConfig(cmd *cobra.Command, args []string) (engine.JobConfig, error) {
	base, err := loadJobManifest(scanOpts.jobPath)
	if err != nil {
		return engine.JobConfig{}, err
	}
	var cfg engine.JobConfig
	if base != nil {
		cfg = *base
		if cfg.Kind != "" && cfg.Kind != jobregistry.KindDirectoryScan {
			return cfg, exitError(exitInvalidArgument, "Manifest is not a scan job",
				fmt.Errorf("manifest kind is %s; use the stream command", cfg.Kind))
		}
	}
	cfg.Kind = jobregistry.KindDirectoryScan

	flags := cmd.Flags()
	if len(args) == 1 {
		cfg.SourcePath = args[0]
	}
	if flags.Changed("source") {
		cfg.SourcePath = scanSource
	}
	if flags.Changed("output") {
		cfg.Destination = scanOutput
	}
	if flags.Changed("ext") {
		cfg.SupportedExtensions = scanExtensions
	}
	if flags.Changed("exclude") {
		cfg.Exclude = scanExclude
	}
	if flags.Changed("max-items") {
		cfg.MaxItems = scanMaxItems
	}
	if flags.Changed("recursive") {
		cfg.Recursive = engine.Bool(scanRecursive)
	}
	if flags.Changed("format") {
		cfg.ManifestFormat = scanFormat
	}
	if flags.Changed("min-size") {
		if cfg.MinFileSize, err = match.ParseSize(scanMinSize); err != nil {
			return cfg, exitError(exitInvalidArgument, "Invalid --min-size", err)
		}
	}
	if flags.Changed("max-size") {
		if cfg.MaxFileSize, err = match.ParseSize(scanMaxSize); err != nil {
			return cfg, exitError(exitInvalidArgument, "Invalid --max-size", err)
		}
	}

	if cfg.SourcePath == "" {
		return cfg, exitError(exitInvalidArgument, "A source directory is required",
			fmt.Errorf("pass a directory argument, --source or --job"))
	}
	return cfg, nil
}
