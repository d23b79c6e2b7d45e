package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/output"
)

var (
	reviewHash     string
	reviewListApp  string
	reviewListMax  int
	reviewShowFull bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run and inspect app security reviews",
}

var reviewRunCmd = &cobra.Command{
	Use:   "run <app-id> <archive>",
	Short: "Run a full security review of an app archive",
	Long: `Run the complete review pipeline against an uploaded archive:
extraction, pattern scan, AI static analysis, agent-safety analysis,
optional sandbox execution, and scoring. The result is persisted and
printed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRunRun(cmd, args[0], args[1])
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a stored review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(cmd, args[0])
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun(cmd)
	},
}

func init() {
	reviewRunCmd.Flags().StringVar(&reviewHash, "hash", "", "Content hash of the archive (default: sha256 of the file)")
	reviewShowCmd.Flags().BoolVar(&reviewShowFull, "full", false, "Include finding descriptions and stage details")
	reviewListCmd.Flags().StringVar(&reviewListApp, "app", "", "Filter by app id")
	reviewListCmd.Flags().IntVar(&reviewListMax, "limit", 20, "Maximum rows to show")

	reviewCmd.AddCommand(reviewRunCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewListCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewRunRun(cmd *cobra.Command, appID, archivePath string) error {
	if viper.GetString("anthropic.api_key") == "" {
		return fmt.Errorf("anthropic.api_key is not configured (set APPREVIEW_ANTHROPIC_API_KEY or run 'appreview config init')")
	}

	fileHash := reviewHash
	if fileHash == "" {
		h, err := hashFile(archivePath)
		if err != nil {
			return fmt.Errorf("hash archive: %w", err)
		}
		fileHash = h
	}

	runner, err := getRunner(true)
	if err != nil {
		return err
	}

	ui.Info("Reviewing %s (%s)", appID, archivePath)
	result, err := runner.Run(cmd.Context(), appID, fileHash, archivePath)
	if err != nil {
		return err
	}

	printReview(result, true)
	return nil
}

func reviewShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := s.GetReview(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("review %s: %w", id, err)
	}

	printReview(r, reviewShowFull)
	return nil
}

func reviewListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	reviews, err := s.ListReviews(cmd.Context(), reviewListApp, reviewListMax)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		ui.Info("No reviews found")
		return nil
	}

	table := ui.Table([]string{"ID", "App", "Status", "Score", "Recommendation", "Created"})
	for _, r := range reviews {
		table.Append([]string{
			r.ID,
			r.AppID,
			output.StatusColor(string(r.Status)),
			output.ScoreColor(r.OverallScore),
			output.RecommendationColor(string(r.Recommendation)),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

// printReview renders one review to the UI. full adds findings and stages.
func printReview(r *models.ReviewResult, full bool) {
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "Review %s\n", output.Cyan(r.ID))
	fmt.Fprintf(ui.Out, "  App:            %s\n", r.AppID)
	fmt.Fprintf(ui.Out, "  Status:         %s\n", output.StatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "  Overall score:  %s\n", output.ScoreColor(r.OverallScore))
	fmt.Fprintf(ui.Out, "  Security:       %s\n", output.ScoreColor(r.SecurityScore))
	if r.CodeQualityScore != nil {
		fmt.Fprintf(ui.Out, "  Code quality:   %s\n", output.ScoreColor(*r.CodeQualityScore))
	}
	if r.AgentSafetyScore != nil {
		fmt.Fprintf(ui.Out, "  Agent safety:   %s\n", output.ScoreColor(*r.AgentSafetyScore))
	}
	if r.SandboxScore != nil {
		fmt.Fprintf(ui.Out, "  Sandbox:        %s\n", output.ScoreColor(*r.SandboxScore))
	}
	fmt.Fprintf(ui.Out, "  Recommendation: %s\n", output.RecommendationColor(string(r.Recommendation)))
	if r.Summary != "" {
		fmt.Fprintf(ui.Out, "  Summary:        %s\n", r.Summary)
	}
	if r.ErrorMessage != "" {
		fmt.Fprintf(ui.Out, "  Error:          %s\n", output.Red(r.ErrorMessage))
	}
	if r.TokensUsed > 0 {
		fmt.Fprintf(ui.Out, "  Tokens:         %d ($%.4f)\n", r.TokensUsed, r.CostEstimate)
	}

	if len(r.Findings) > 0 {
		fmt.Fprintln(ui.Out)
		table := ui.Table([]string{"Severity", "Category", "Title", "File"})
		for _, f := range r.Findings {
			loc := f.FilePath
			if f.LineStart > 0 {
				loc = fmt.Sprintf("%s:%d", f.FilePath, f.LineStart)
			}
			table.Append([]string{
				output.SeverityColor(string(f.Severity)),
				string(f.Category),
				f.Title,
				loc,
			})
		}
		_ = table.Render()

		if full {
			for _, f := range r.Findings {
				if f.Description == "" {
					continue
				}
				fmt.Fprintln(ui.Out)
				fmt.Fprintf(ui.Out, "%s %s\n", output.SeverityColor(string(f.Severity)), f.Title)
				fmt.Fprintf(ui.Out, "  %s\n", f.Description)
				if f.Suggestion != "" {
					fmt.Fprintf(ui.Out, "  Suggestion: %s\n", f.Suggestion)
				}
			}
		}
	}

	if full && len(r.Stages) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "Stages:")
		for _, st := range r.Stages {
			detail := st.Detail
			if detail != "" {
				detail = " (" + detail + ")"
			}
			fmt.Fprintf(ui.Out, "  %-16s %s%s\n", st.Name, string(st.Status), detail)
		}
	}
	fmt.Fprintln(ui.Out)
}

// hashFile returns the hex sha256 of the file contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
