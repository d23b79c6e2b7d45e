package cmd

import (
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <archive>",
	Short: "Run a fast pattern-only scan of an archive",
	Long: `Extract the archive and scan it with the deterministic pattern
rules. No AI calls are made, no sandbox runs, and nothing is persisted.
Useful as a pre-upload check.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scanRun(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func scanRun(cmd *cobra.Command, archivePath string) error {
	runner, err := getRunner(false)
	if err != nil {
		return err
	}

	result, err := runner.QuickScan(cmd.Context(), archivePath)
	if err != nil {
		return err
	}

	printReview(result, true)
	return nil
}
