package review

import (
	"github.com/spf13/viper"

	"github.com/moltstore/appreview/internal/extract"
	"github.com/moltstore/appreview/internal/sandbox"
	"github.com/moltstore/appreview/internal/scoring"
)

// Config holds the review pipeline configuration.
type Config struct {
	Enabled     bool
	AutoTrigger bool
	Model       string
	APIKey      string

	MaxFileSizeKB  int
	MaxTotalSizeKB int
	MaxFiles       int
	ExcludeGlobs   []string

	ApproveThreshold int
	RejectThreshold  int

	CostLimitPerReview float64
	RateLimitPerMinute int

	SandboxEnabled     bool
	SandboxTimeoutSec  int
	SandboxMemoryLimit string
	SandboxCPULimit    float64
	SandboxBuildDir    string
}

// DefaultConfig returns the pipeline config, reading from viper when
// available and falling back to safe defaults.
func DefaultConfig() Config {
	cfg := Config{
		Enabled:     viper.GetBool("review.enabled"),
		AutoTrigger: viper.GetBool("review.auto_trigger"),
		Model:       viper.GetString("anthropic.model"),
		APIKey:      viper.GetString("anthropic.api_key"),

		MaxFileSizeKB:  viper.GetInt("review.max_file_size_kb"),
		MaxTotalSizeKB: viper.GetInt("review.max_total_size_kb"),
		MaxFiles:       viper.GetInt("review.max_files"),
		ExcludeGlobs:   viper.GetStringSlice("review.exclude_globs"),

		ApproveThreshold: viper.GetInt("review.approve_threshold"),
		RejectThreshold:  viper.GetInt("review.reject_threshold"),

		CostLimitPerReview: viper.GetFloat64("review.cost_limit"),
		RateLimitPerMinute: viper.GetInt("review.rate_limit_per_minute"),

		SandboxEnabled:     viper.GetBool("sandbox.enabled"),
		SandboxTimeoutSec:  viper.GetInt("sandbox.timeout_seconds"),
		SandboxMemoryLimit: viper.GetString("sandbox.memory_limit"),
		SandboxCPULimit:    viper.GetFloat64("sandbox.cpu_limit"),
		SandboxBuildDir:    viper.GetString("sandbox.build_dir"),
	}

	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxFileSizeKB <= 0 {
		cfg.MaxFileSizeKB = 500
	}
	if cfg.MaxTotalSizeKB <= 0 {
		cfg.MaxTotalSizeKB = 5000
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 100
	}
	if cfg.ApproveThreshold <= 0 {
		cfg.ApproveThreshold = 80
	}
	if cfg.RejectThreshold <= 0 {
		cfg.RejectThreshold = 40
	}
	if cfg.CostLimitPerReview <= 0 {
		cfg.CostLimitPerReview = 1.0
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 10
	}
	if cfg.SandboxTimeoutSec <= 0 {
		cfg.SandboxTimeoutSec = 60
	}
	if cfg.SandboxMemoryLimit == "" {
		cfg.SandboxMemoryLimit = "512m"
	}
	if cfg.SandboxCPULimit <= 0 {
		cfg.SandboxCPULimit = 0.5
	}
	return cfg
}

// Limits returns the extraction caps for this config.
func (c Config) Limits() extract.Limits {
	return extract.Limits{
		MaxFileSizeKB:  c.MaxFileSizeKB,
		MaxTotalSizeKB: c.MaxTotalSizeKB,
		MaxFiles:       c.MaxFiles,
	}
}

// SandboxLimits returns the sandbox execution caps for this config.
func (c Config) SandboxLimits() sandbox.Limits {
	return sandbox.Limits{
		TimeoutSec:  c.SandboxTimeoutSec,
		MemoryLimit: c.SandboxMemoryLimit,
		CPULimit:    c.SandboxCPULimit,
	}
}

// Thresholds returns the approve/reject cutoffs for this config.
func (c Config) Thresholds() scoring.Thresholds {
	return scoring.Thresholds{Approve: c.ApproveThreshold, Reject: c.RejectThreshold}
}
