package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <manifest>",
	Short: "Validate a job manifest without running it",
	Long: `Check a YAML or JSON job manifest against the embedded schema and the
job rules, then print the effective job configuration with defaults applied.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadJobManifest(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return exitError(exitInvalidArgument, "Invalid job configuration", err)
	}
	if err := printJSON(cmd.OutOrStdout(), cfg); err != nil {
		return exitError(exitFileWriteError, "Failed to write result", err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: valid %s job\n", args[0], cfg.Kind)
	return nil
}
