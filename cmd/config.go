package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "appreview"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage appreview configuration.

Running bare 'appreview config' is the same as 'appreview config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# appreview configuration
# See: appreview config show (for effective values and sources)

# SQLite database path (default: ~/.config/appreview/appreview.db)
# db_path: {{ .DBPath }}

# Anthropic API
anthropic:
  # API key used for static and agent-safety analysis
  api_key: "{{ .APIKey }}"

  # Model to use (default: "claude-sonnet-4-20250514")
  model: "{{ .Model }}"

# Review pipeline
review:
  # Master switch for running reviews (default: true)
  enabled: {{ .Enabled }}

  # Automatically trigger full reviews on upload (default: true)
  auto_trigger: {{ .AutoTrigger }}

  # Extraction caps
  max_file_size_kb: {{ .MaxFileSizeKB }}
  max_total_size_kb: {{ .MaxTotalSizeKB }}
  max_files: {{ .MaxFiles }}

  # Score cutoffs: >= approve_threshold approves, < reject_threshold rejects
  approve_threshold: {{ .ApproveThreshold }}
  reject_threshold: {{ .RejectThreshold }}

  # Per-review API spending ceiling in USD (default: 1.0)
  cost_limit: {{ .CostLimit }}

  # API requests per minute (default: 10)
  rate_limit_per_minute: {{ .RateLimit }}

# Sandbox execution
sandbox:
  # Run packages in an isolated container (default: false; requires docker)
  enabled: {{ .SandboxEnabled }}

  # Per-run limits
  timeout_seconds: {{ .SandboxTimeout }}
  memory_limit: "{{ .SandboxMemory }}"
  cpu_limit: {{ .SandboxCPU }}
`

type configTemplateData struct {
	DBPath           string
	APIKey           string
	Model            string
	Enabled          bool
	AutoTrigger      bool
	MaxFileSizeKB    int
	MaxTotalSizeKB   int
	MaxFiles         int
	ApproveThreshold int
	RejectThreshold  int
	CostLimit        float64
	RateLimit        int
	SandboxEnabled   bool
	SandboxTimeout   int
	SandboxMemory    string
	SandboxCPU       float64
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		APIKey:           viper.GetString("anthropic.api_key"),
		Model:            viper.GetString("anthropic.model"),
		Enabled:          viper.GetBool("review.enabled"),
		AutoTrigger:      viper.GetBool("review.auto_trigger"),
		MaxFileSizeKB:    viper.GetInt("review.max_file_size_kb"),
		MaxTotalSizeKB:   viper.GetInt("review.max_total_size_kb"),
		MaxFiles:         viper.GetInt("review.max_files"),
		ApproveThreshold: viper.GetInt("review.approve_threshold"),
		RejectThreshold:  viper.GetInt("review.reject_threshold"),
		CostLimit:        viper.GetFloat64("review.cost_limit"),
		RateLimit:        viper.GetInt("review.rate_limit_per_minute"),
		SandboxEnabled:   viper.GetBool("sandbox.enabled"),
		SandboxTimeout:   viper.GetInt("sandbox.timeout_seconds"),
		SandboxMemory:    viper.GetString("sandbox.memory_limit"),
		SandboxCPU:       viper.GetFloat64("sandbox.cpu_limit"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "APPREVIEW_DB_PATH"},
	{Key: "anthropic.api_key", EnvVar: "APPREVIEW_ANTHROPIC_API_KEY"},
	{Key: "anthropic.model", EnvVar: "APPREVIEW_ANTHROPIC_MODEL"},
	{Key: "review.enabled", EnvVar: "APPREVIEW_REVIEW_ENABLED"},
	{Key: "review.auto_trigger", EnvVar: "APPREVIEW_REVIEW_AUTO_TRIGGER"},
	{Key: "review.max_file_size_kb", EnvVar: "APPREVIEW_REVIEW_MAX_FILE_SIZE_KB"},
	{Key: "review.max_total_size_kb", EnvVar: "APPREVIEW_REVIEW_MAX_TOTAL_SIZE_KB"},
	{Key: "review.max_files", EnvVar: "APPREVIEW_REVIEW_MAX_FILES"},
	{Key: "review.approve_threshold", EnvVar: "APPREVIEW_REVIEW_APPROVE_THRESHOLD"},
	{Key: "review.reject_threshold", EnvVar: "APPREVIEW_REVIEW_REJECT_THRESHOLD"},
	{Key: "review.cost_limit", EnvVar: "APPREVIEW_REVIEW_COST_LIMIT"},
	{Key: "review.rate_limit_per_minute", EnvVar: "APPREVIEW_REVIEW_RATE_LIMIT_PER_MINUTE"},
	{Key: "sandbox.enabled", EnvVar: "APPREVIEW_SANDBOX_ENABLED"},
	{Key: "sandbox.timeout_seconds", EnvVar: "APPREVIEW_SANDBOX_TIMEOUT_SECONDS"},
	{Key: "sandbox.memory_limit", EnvVar: "APPREVIEW_SANDBOX_MEMORY_LIMIT"},
	{Key: "sandbox.cpu_limit", EnvVar: "APPREVIEW_SANDBOX_CPU_LIMIT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Key == "anthropic.api_key" {
			if s, ok := val.(string); ok && s != "" {
				val = "(set)"
			}
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'appreview config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
