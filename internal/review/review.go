// Package review orchestrates the full pipeline for one submission:
// extract, pattern scan, static analysis, agent safety, sandbox, scoring,
// persistence. It owns the per-review budget and all stage sequencing.
package review

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/moltstore/appreview/internal/agentsafety"
	"github.com/moltstore/appreview/internal/extract"
	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/patterns"
	"github.com/moltstore/appreview/internal/reasoning"
	"github.com/moltstore/appreview/internal/sandbox"
	"github.com/moltstore/appreview/internal/scoring"
	"github.com/moltstore/appreview/internal/static"
	"github.com/moltstore/appreview/internal/store"
)

// sampleRate is the fraction of otherwise-clean submissions still sent
// through a full review.
const sampleRate = 0.10

// Runner drives one review at a time through the pipeline.
type Runner struct {
	cfg       Config
	extractor *extract.Extractor
	client    *reasoning.Client
	static    *static.Analyzer
	agent     *agentsafety.Analyzer
	sandbox   *sandbox.Runner
	store     store.Store

	// randFloat feeds the sampling decision; overridable in tests.
	randFloat func() float64

	// Logf, when set, receives stage-level progress.
	Logf func(format string, args ...any)
}

// NewRunner wires the pipeline from config. backend provides reasoning
// calls, sb the container runtime (nil disables sandboxing), st the
// persistence layer (nil skips persistence, used by quick scans).
func NewRunner(cfg Config, backend reasoning.Backend, sb sandbox.Sandbox, st store.Store) *Runner {
	budget := reasoning.NewBudget(cfg.CostLimitPerReview, cfg.RateLimitPerMinute)
	client := reasoning.NewClient(backend, budget, cfg.Model)

	xt := extract.New(cfg.Limits())
	xt.ExcludeGlobs = cfg.ExcludeGlobs

	return &Runner{
		cfg:       cfg,
		extractor: xt,
		client:    client,
		static:    static.NewAnalyzer(client),
		agent:     agentsafety.NewAnalyzer(client),
		sandbox:   sandbox.NewRunner(sb, cfg.SandboxEnabled),
		store:     st,
		randFloat: rand.Float64,
	}
}

// Budget exposes the per-review cost/rate tracker.
func (r *Runner) Budget() *reasoning.Budget { return r.client.Budget() }

// Run reviews the archive at archivePath for the given app and content
// hash. The returned result is persisted (when a store is configured)
// before Run returns; a non-nil error means the review ended failed.
func (r *Runner) Run(ctx context.Context, appID, fileHash, archivePath string) (*models.ReviewResult, error) {
	start := time.Now()
	r.Budget().Reset()

	row := &models.ReviewResult{AppID: appID, FileHash: fileHash, Status: models.ReviewStatusProcessing}
	if r.store != nil {
		if err := r.store.CreateReview(ctx, row); err != nil {
			return nil, fmt.Errorf("create review: %w", err)
		}
	}

	result, err := r.run(ctx, appID, fileHash, archivePath)
	if err != nil {
		if r.store != nil {
			if ferr := r.store.FailReview(context.WithoutCancel(ctx), row.ID, err.Error()); ferr != nil {
				r.logf("mark review failed: %v", ferr)
			}
		}
		return nil, err
	}

	result.ID = row.ID
	result.CreatedAt = row.CreatedAt
	result.CostEstimate = r.Budget().Cost()
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	if r.store != nil {
		if err := r.store.CompleteReview(ctx, result); err != nil {
			return nil, fmt.Errorf("persist review: %w", err)
		}
	}
	return result, nil
}

// run executes the pipeline stages. Any returned error fails the review.
func (r *Runner) run(ctx context.Context, appID, fileHash, archivePath string) (*models.ReviewResult, error) {
	var stages []models.StageResult
	stage := func(name string, status models.StageStatus, detail string) {
		stages = append(stages, models.StageResult{Name: name, Status: status, Detail: detail})
	}

	extraction, err := r.extractor.Extract(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}
	defer extraction.Close()
	files := extraction.Files
	stage("extract", models.StageRan, fmt.Sprintf("%d files, %d bytes", len(files), extraction.TotalSize))
	r.logf("extracted %d files from %s", len(files), archivePath)

	quick := patterns.Scan(files)
	stage("pattern_scan", models.StageRan, fmt.Sprintf("%d findings", len(quick)))

	thresholds := r.cfg.Thresholds()

	// Obvious malware never reaches a paid analyzer.
	if patterns.HasCriticalMalware(quick) {
		r.logf("critical malware pattern detected, rejecting without deep analysis")
		res := rejectedResult(appID, fileHash, quick)
		res.Stages = stages
		return res, nil
	}

	if len(files) == 0 {
		res := emptyResult(appID, fileHash, thresholds)
		res.Stages = stages
		return res, nil
	}

	staticRes, err := r.static.Analyze(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("static analysis: %w", err)
	}
	staticDetail := fmt.Sprintf("%d findings", len(staticRes.Findings))
	if staticRes.FailedBatches > 0 {
		staticDetail += fmt.Sprintf(", %d/%d batches failed", staticRes.FailedBatches, staticRes.TotalBatches)
	}
	if staticRes.SkippedBatches > 0 {
		staticDetail += fmt.Sprintf(", %d/%d batches skipped (cost limit)", staticRes.SkippedBatches, staticRes.TotalBatches)
	}
	stage("static_analysis", models.StageRan, staticDetail)

	// Pattern findings join the security analysis so deterministic hits
	// (leaked keys, dangerous APIs) move the score even when the reasoning
	// pass misses them.
	staticRes.Findings = models.DeduplicateFindings(append(staticRes.Findings, quick...))
	staticRes.Score = scoring.ScoreFindings(staticRes.Findings)

	var agentRes *models.AgentSafetyResult
	agentSkipped := false
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Budget().Exceeded() {
		r.logf("cost limit reached, skipping agent-safety analysis")
		agentSkipped = true
		stage("agent_safety", models.StageSkipped, "cost limit reached")
	} else {
		agentRes, err = r.agent.Analyze(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("agent-safety analysis: %w", err)
		}
		stage("agent_safety", models.StageRan, fmt.Sprintf("score %d", agentRes.Score))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sandboxRes *models.SandboxResult
	if !r.cfg.SandboxEnabled {
		sandboxRes, _ = r.sandbox.Run(ctx, extraction.Dir, r.cfg.SandboxLimits())
		stage("sandbox", models.StageSkipped, "disabled")
	} else {
		sandboxRes, err = r.sandbox.Run(ctx, extraction.Dir, r.cfg.SandboxLimits())
		if err != nil {
			// Runtime trouble is an infrastructure problem, not evidence
			// about the package. Score without the component.
			r.logf("sandbox execution failed: %v", err)
			sandboxRes = nil
			stage("sandbox", models.StageFailed, err.Error())
		} else {
			stage("sandbox", models.StageRan, fmt.Sprintf("score %d", sandboxRes.Score))
		}
	}

	result := scoring.Aggregate(appID, fileHash, staticRes, agentRes, sandboxRes, thresholds)
	result.Summary = appendDegradation(result.Summary, staticRes, agentRes, agentSkipped)
	result.Stages = stages
	return result, nil
}

// appendDegradation carries analyzer-level degradation into the review
// summary, so a reader of the stored review can tell how much analysis
// actually ran.
func appendDegradation(summary string, staticRes *models.AnalysisResult, agentRes *models.AgentSafetyResult, agentSkipped bool) string {
	var notes []string
	if staticRes != nil && staticRes.FailedBatches > 0 {
		notes = append(notes, fmt.Sprintf("Reduced analysis depth: %d of %d analysis batches failed.",
			staticRes.FailedBatches, staticRes.TotalBatches))
	}
	if staticRes != nil && staticRes.SkippedBatches > 0 {
		notes = append(notes, fmt.Sprintf("Reduced analysis depth: %d of %d analysis batches skipped after reaching the cost limit.",
			staticRes.SkippedBatches, staticRes.TotalBatches))
	}
	if agentSkipped {
		notes = append(notes, "Agent safety analysis skipped after reaching the cost limit.")
	}
	if agentRes != nil && agentRes.Degraded {
		notes = append(notes, "Agent safety analysis used pattern matching only (AI analysis failed).")
	}
	if len(notes) == 0 {
		return summary
	}
	return strings.TrimSpace(summary + " " + strings.Join(notes, " "))
}

// rejectedResult is the terminal result for pattern-detected malware.
func rejectedResult(appID, fileHash string, findings []models.Finding) *models.ReviewResult {
	findings = models.DeduplicateFindings(findings)
	counts := models.CountBySeverity(findings)
	zero := 0
	return &models.ReviewResult{
		AppID:            appID,
		FileHash:         fileHash,
		Status:           models.ReviewStatusCompleted,
		OverallScore:     0,
		SecurityScore:    0,
		CodeQualityScore: &zero,
		Findings:         findings,
		CriticalCount:    counts.Critical,
		HighCount:        counts.High,
		MediumCount:      counts.Medium,
		LowCount:         counts.Low,
		Recommendation:   models.RecommendationReject,
		Summary:          "This app failed security review due to serious issues. Known malware patterns were detected during the initial scan.",
	}
}

// emptyResult approves an archive with nothing reviewable in it.
func emptyResult(appID, fileHash string, t scoring.Thresholds) *models.ReviewResult {
	full := 100
	return &models.ReviewResult{
		AppID:            appID,
		FileHash:         fileHash,
		Status:           models.ReviewStatusCompleted,
		OverallScore:     100,
		SecurityScore:    100,
		CodeQualityScore: &full,
		Recommendation:   scoring.Recommend(100, t),
		Summary:          "This app passed security review. No code files were found to analyze.",
	}
}

// QuickScan extracts and pattern-scans the archive without reasoning
// calls, sandboxing, or persistence. Used for pre-upload checks and the
// trigger decision.
func (r *Runner) QuickScan(ctx context.Context, archivePath string) (*models.ReviewResult, error) {
	extraction, err := r.extractor.Extract(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("extract archive: %w", err)
	}
	defer extraction.Close()

	findings := models.DeduplicateFindings(patterns.Scan(extraction.Files))
	counts := models.CountBySeverity(findings)
	score := patterns.QuickScore(findings)

	rec := scoring.Recommend(score, r.cfg.Thresholds())
	if patterns.HasCriticalMalware(findings) {
		rec = models.RecommendationReject
	}

	return &models.ReviewResult{
		Status:         models.ReviewStatusCompleted,
		OverallScore:   score,
		SecurityScore:  score,
		Findings:       findings,
		CriticalCount:  counts.Critical,
		HighCount:      counts.High,
		MediumCount:    counts.Medium,
		LowCount:       counts.Low,
		Recommendation: rec,
		Summary:        scoring.Summary(findings, score, rec),
		Stages: []models.StageResult{
			{Name: "extract", Status: models.StageRan, Detail: fmt.Sprintf("%d files", len(extraction.Files))},
			{Name: "pattern_scan", Status: models.StageRan, Detail: fmt.Sprintf("%d findings", len(findings))},
		},
	}, nil
}

// ShouldTrigger decides whether a submission with the given quick-scan
// score gets a full review. Suspicious scores always trigger; clean ones
// are sampled so reviewers keep a baseline view of ordinary submissions.
func (r *Runner) ShouldTrigger(quickScore int) bool {
	if !r.cfg.Enabled || !r.cfg.AutoTrigger {
		return false
	}
	if quickScore < r.cfg.ApproveThreshold {
		return true
	}
	return r.randFloat() < sampleRate
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
