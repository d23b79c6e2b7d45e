package models

import "time"

// ReviewStatus is the lifecycle state of a review.
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusProcessing ReviewStatus = "processing"
	ReviewStatusCompleted  ReviewStatus = "completed"
	ReviewStatusFailed     ReviewStatus = "failed"
)

// Terminal reports whether the status is final. Terminal reviews are never
// mutated; a re-upload with a new content hash creates a new review.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusCompleted || s == ReviewStatusFailed
}

// Recommendation is the pipeline's ternary verdict. The marketplace derives
// the final app status from it and never re-derives its own.
type Recommendation string

const (
	RecommendationApprove      Recommendation = "approve"
	RecommendationReject       Recommendation = "reject"
	RecommendationManualReview Recommendation = "manual_review"
)

// StageStatus tags how a pipeline stage concluded.
type StageStatus string

const (
	StageRan     StageStatus = "ran"
	StageSkipped StageStatus = "skipped"
	StageFailed  StageStatus = "failed"
)

// StageResult records one pipeline stage's outcome. The scoring engine
// consumes the tagged list uniformly instead of nested error handling.
type StageResult struct {
	Name   string      `json:"name"`
	Status StageStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// AnalysisResult is one analyzer's output.
type AnalysisResult struct {
	Findings         []Finding `json:"findings"`
	Score            int       `json:"score"` // 0-100
	Summary          string    `json:"summary"`
	TokensUsed       int       `json:"tokensUsed"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`

	// Batch accounting, so degraded depth survives into the review summary.
	TotalBatches   int `json:"totalBatches,omitempty"`
	FailedBatches  int `json:"failedBatches,omitempty"`
	SkippedBatches int `json:"skippedBatches,omitempty"`
}

// AgentSafetyResult is the agent-safety analyzer's output.
type AgentSafetyResult struct {
	PromptInjectionRisks []Finding `json:"promptInjectionRisks"`
	PermissionViolations []Finding `json:"permissionViolations"`
	SuspiciousBehaviors  []Finding `json:"suspiciousBehaviors"`
	DeclaredPermissions  []string  `json:"declaredPermissions"`
	ActualPermissions    []string  `json:"actualPermissions"`
	Score                int       `json:"score"`
	Summary              string    `json:"summary"`
	TokensUsed           int       `json:"tokensUsed"`

	// Degraded marks a heuristic-only fallback after a failed reasoning call.
	Degraded bool `json:"degraded,omitempty"`
}

// Findings returns all agent-safety findings as one slice.
func (r *AgentSafetyResult) Findings() []Finding {
	out := make([]Finding, 0, len(r.PromptInjectionRisks)+len(r.PermissionViolations)+len(r.SuspiciousBehaviors))
	out = append(out, r.PromptInjectionRisks...)
	out = append(out, r.PermissionViolations...)
	out = append(out, r.SuspiciousBehaviors...)
	return out
}

// ResourceUsage holds sandbox resource consumption.
type ResourceUsage struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMb"`
	DiskMB     float64 `json:"diskMb"`
}

// SandboxResult is the dynamic-execution analyzer's output.
type SandboxResult struct {
	Passed          bool          `json:"passed"`
	Findings        []Finding     `json:"findings"`
	Score           int           `json:"score"`
	ResourceUsage   ResourceUsage `json:"resourceUsage"`
	ExecutionTimeMs int64         `json:"executionTimeMs"`
}

// ReviewResult is the aggregate review persisted for the marketplace.
// One row exists per (appId, fileHash); reviews are append-only history.
type ReviewResult struct {
	ID       string
	AppID    string
	FileHash string
	Status   ReviewStatus

	OverallScore     int
	SecurityScore    int
	CodeQualityScore *int
	AgentSafetyScore *int
	SandboxScore     *int

	Findings      []Finding
	CriticalCount int
	HighCount     int
	MediumCount   int
	LowCount      int

	Recommendation Recommendation
	Summary        string
	Stages         []StageResult

	TokensUsed       int
	CostEstimate     float64
	ProcessingTimeMs int64
	ErrorMessage     string

	CreatedAt   time.Time
	CompletedAt *time.Time
}
