package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moltstore/appreview/internal/output"
	"github.com/moltstore/appreview/internal/reasoning"
	"github.com/moltstore/appreview/internal/review"
	"github.com/moltstore/appreview/internal/sandbox"
	"github.com/moltstore/appreview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "appreview",
	Short: "Automated security review for marketplace app submissions",
	Long: `appreview analyzes uploaded app archives before they are published.
It extracts the archive, scans for known-bad patterns, runs AI-assisted
security and agent-safety analysis, optionally executes the package in an
isolated sandbox, and produces a scored review with an approve, reject,
or manual-review recommendation.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/appreview/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "appreview %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "appreview")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("APPREVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "appreview")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "appreview.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	viper.SetDefault("review.enabled", true)
	viper.SetDefault("review.auto_trigger", true)
	viper.SetDefault("review.max_file_size_kb", 500)
	viper.SetDefault("review.max_total_size_kb", 5000)
	viper.SetDefault("review.max_files", 100)
	viper.SetDefault("review.approve_threshold", 80)
	viper.SetDefault("review.reject_threshold", 40)
	viper.SetDefault("review.cost_limit", 1.0)
	viper.SetDefault("review.rate_limit_per_minute", 10)
	viper.SetDefault("review.exclude_globs", []string{})

	viper.SetDefault("sandbox.enabled", false)
	viper.SetDefault("sandbox.timeout_seconds", 60)
	viper.SetDefault("sandbox.memory_limit", "512m")
	viper.SetDefault("sandbox.cpu_limit", 0.5)
	viper.SetDefault("sandbox.build_dir", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is initialized lazily so config/version commands run
	// without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getRunner builds the review pipeline from the effective config. When
// withStore is false the runner does not persist (quick scans).
func getRunner(withStore bool) (*review.Runner, error) {
	cfg := review.DefaultConfig()

	var backend reasoning.Backend
	if cfg.APIKey != "" {
		backend = reasoning.NewAnthropicBackend(cfg.APIKey, cfg.Model)
	}

	var sb sandbox.Sandbox
	if cfg.SandboxEnabled {
		sb = sandbox.NewDocker(cfg.SandboxBuildDir)
	}

	var st store.Store
	if withStore {
		var err error
		st, err = getStore()
		if err != nil {
			return nil, err
		}
	}

	runner := review.NewRunner(cfg, backend, sb, st)
	runner.Logf = ui.VerboseLog
	return runner, nil
}
