package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/goharvest/pkg/engine"
	"github.com/3leaps/goharvest/pkg/extract"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the document formats scans can extract",
	RunE:  runFormats,
}

var formatsJSON bool

func init() {
	rootCmd.AddCommand(formatsCmd)
	formatsCmd.Flags().BoolVar(&formatsJSON, "json", false, "Print as JSON")
}

type formatsResult struct {
	SupportedExtensions []string `json:"supported_extensions"`
	DefaultExtensions   []string `json:"default_extensions"`
	TotalCount          int      `json:"total_count"`
}

func runFormats(cmd *cobra.Command, _ []string) error {
	exts := extract.NewFileExtractor(extract.Config{}).SupportedExtensions()
	if formatsJSON {
		return printJSON(cmd.OutOrStdout(), formatsResult{
			SupportedExtensions: exts,
			DefaultExtensions:   engine.DefaultExtensions,
			TotalCount:          len(exts),
		})
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Supported: %s\n", strings.Join(exts, ", "))
	_, _ = fmt.Fprintf(out, "Default scan set: %s\n", strings.Join(engine.DefaultExtensions, ", "))
	return nil
}
