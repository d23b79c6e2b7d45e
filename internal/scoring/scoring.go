// Package scoring aggregates analyzer outputs into a weighted overall
// score and a ternary recommendation.
package scoring

import (
	"fmt"
	"strings"

	"github.com/moltstore/appreview/internal/models"
)

// SeverityWeights is the canonical deduction table, applied consistently
// by every analyzer and by the aggregate score.
var SeverityWeights = map[models.Severity]float64{
	models.SeverityCritical: 40,
	models.SeverityHigh:     25,
	models.SeverityMedium:   15,
	models.SeverityLow:      5,
	models.SeverityInfo:     0,
}

// Component weights for the overall score. Absent optional components are
// excluded from both numerator and denominator.
const (
	weightSecurity    = 0.5
	weightCodeQuality = 0.15
	weightAgentSafety = 0.2
	weightSandbox     = 0.15
)

// Thresholds are the configurable approve/reject score cutoffs.
type Thresholds struct {
	Approve int
	Reject  int
}

// DefaultThresholds returns the standard 80/40 cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Approve: 80, Reject: 40}
}

// ScoreFindings computes 100 - sum(weight * confidence), clamped to
// [0,100]. Monotonically non-increasing in finding count and severity.
func ScoreFindings(findings []models.Finding) int {
	deductions := 0.0
	for _, f := range findings {
		confidence := f.Confidence
		if confidence == 0 {
			confidence = 0.8
		}
		deductions += SeverityWeights[f.Severity] * confidence
	}
	score := 100 - int(deductions+0.5)
	if score < 0 {
		return 0
	}
	return score
}

// HasForcedReject reports whether any finding triggers the hard override:
// critical malware/backdoor with confidence >= 0.8 always rejects,
// regardless of the numeric score.
func HasForcedReject(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity != models.SeverityCritical {
			continue
		}
		if f.Category != models.CategoryMalware && f.Category != models.CategoryBackdoor {
			continue
		}
		if f.Confidence >= 0.8 {
			return true
		}
	}
	return false
}

// Recommend maps a score to a recommendation using the thresholds.
func Recommend(score int, t Thresholds) models.Recommendation {
	switch {
	case score >= t.Approve:
		return models.RecommendationApprove
	case score < t.Reject:
		return models.RecommendationReject
	default:
		return models.RecommendationManualReview
	}
}

// Aggregate combines analyzer results into a pre-persistence ReviewResult.
// Nil analyzer results mean the stage did not run; skipped stages never
// penalize the score.
func Aggregate(
	appID, fileHash string,
	static *models.AnalysisResult,
	agentSafety *models.AgentSafetyResult,
	sandbox *models.SandboxResult,
	thresholds Thresholds,
) *models.ReviewResult {
	var findings []models.Finding
	if static != nil {
		findings = append(findings, static.Findings...)
	}
	if agentSafety != nil {
		findings = append(findings, agentSafety.Findings()...)
	}
	if sandbox != nil {
		findings = append(findings, sandbox.Findings...)
	}
	findings = models.DeduplicateFindings(findings)

	securityScore := 100
	if static != nil {
		securityScore = static.Score
	}

	result := &models.ReviewResult{
		AppID:         appID,
		FileHash:      fileHash,
		Status:        models.ReviewStatusCompleted,
		SecurityScore: securityScore,
		Findings:      findings,
	}

	weightedSum := float64(securityScore) * weightSecurity
	totalWeight := weightSecurity

	// Code quality tracks the security score with slack; only present when
	// static analysis ran.
	if static != nil {
		cq := static.Score + 10
		if cq > 100 {
			cq = 100
		}
		result.CodeQualityScore = &cq
		weightedSum += float64(cq) * weightCodeQuality
		totalWeight += weightCodeQuality
	}
	if agentSafety != nil {
		s := agentSafety.Score
		result.AgentSafetyScore = &s
		weightedSum += float64(s) * weightAgentSafety
		totalWeight += weightAgentSafety
	}
	if sandbox != nil {
		s := sandbox.Score
		result.SandboxScore = &s
		weightedSum += float64(s) * weightSandbox
		totalWeight += weightSandbox
	}

	result.OverallScore = int(weightedSum/totalWeight + 0.5)

	counts := models.CountBySeverity(findings)

	result.Recommendation = Recommend(result.OverallScore, thresholds)
	// A critical or high finding always earns a human look, whatever the
	// weighted score says.
	if result.Recommendation == models.RecommendationApprove && (counts.Critical > 0 || counts.High > 0) {
		result.Recommendation = models.RecommendationManualReview
	}
	if HasForcedReject(findings) {
		result.Recommendation = models.RecommendationReject
	}

	result.CriticalCount = counts.Critical
	result.HighCount = counts.High
	result.MediumCount = counts.Medium
	result.LowCount = counts.Low

	if static != nil {
		result.TokensUsed += static.TokensUsed
		result.ProcessingTimeMs += static.ProcessingTimeMs
	}
	if agentSafety != nil {
		result.TokensUsed += agentSafety.TokensUsed
	}

	result.Summary = Summary(findings, result.OverallScore, result.Recommendation)
	return result
}

// Summary produces deterministic prose from severity counts and the top
// critical/high findings. No freeform generation.
func Summary(findings []models.Finding, overallScore int, rec models.Recommendation) string {
	var parts []string

	switch rec {
	case models.RecommendationApprove:
		parts = append(parts, "This app passed security review.")
	case models.RecommendationReject:
		parts = append(parts, "This app failed security review due to serious issues.")
	default:
		parts = append(parts, "This app requires manual review.")
	}

	counts := models.CountBySeverity(findings)
	var issueParts []string
	if counts.Critical > 0 {
		issueParts = append(issueParts, fmt.Sprintf("%d critical", counts.Critical))
	}
	if counts.High > 0 {
		issueParts = append(issueParts, fmt.Sprintf("%d high", counts.High))
	}
	if counts.Medium > 0 {
		issueParts = append(issueParts, fmt.Sprintf("%d medium", counts.Medium))
	}
	if counts.Low > 0 {
		issueParts = append(issueParts, fmt.Sprintf("%d low", counts.Low))
	}
	if len(issueParts) > 0 {
		parts = append(parts, fmt.Sprintf("Found %s severity issue(s).", strings.Join(issueParts, ", ")))
	} else {
		parts = append(parts, "No security issues detected.")
	}

	parts = append(parts, fmt.Sprintf("Overall score: %d/100.", overallScore))

	var top []string
	for _, f := range findings {
		if f.Severity == models.SeverityCritical || f.Severity == models.SeverityHigh {
			top = append(top, "- "+f.Title)
			if len(top) == 3 {
				break
			}
		}
	}
	if len(top) > 0 {
		parts = append(parts, "Key issues:")
		parts = append(parts, top...)
	}

	return strings.Join(parts, " ")
}
