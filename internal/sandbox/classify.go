package sandbox

import (
	"fmt"
	"strings"

	"github.com/moltstore/appreview/internal/models"
)

// classifyLogs turns textual execution signals into findings.
func classifyLogs(logs string, timedOut, exitError bool, timeoutSec int) []models.Finding {
	var findings []models.Finding
	lower := strings.ToLower(logs)

	if strings.Contains(logs, "ECONNREFUSED") || strings.Contains(lower, "network") {
		findings = append(findings, models.Finding{
			Severity:    models.SeverityMedium,
			Category:    models.CategorySuspiciousBehavior,
			Title:       "Network access attempt",
			Description: "App attempted to make network requests while isolated",
			Confidence:  0.8,
		})
	}
	if strings.Contains(logs, "EACCES") || strings.Contains(lower, "permission denied") {
		findings = append(findings, models.Finding{
			Severity:    models.SeverityLow,
			Category:    models.CategoryPermissionViolation,
			Title:       "Permission denied",
			Description: "App attempted to access restricted resources",
			Confidence:  0.7,
		})
	}
	if timedOut {
		findings = append(findings, models.Finding{
			Severity:    models.SeverityMedium,
			Category:    models.CategorySuspiciousBehavior,
			Title:       "Execution timeout",
			Description: fmt.Sprintf("App did not complete within %d seconds", timeoutSec),
			Confidence:  0.9,
		})
	}
	if exitError {
		findings = append(findings, models.Finding{
			Severity:    models.SeverityLow,
			Category:    models.CategoryCodeQuality,
			Title:       "Runtime error",
			Description: "App encountered an error during execution",
			Confidence:  0.8,
		})
	}

	return findings
}

// severityPenalties are flat deductions for sandbox findings; confidence
// is not factored in for behavioral signals.
var severityPenalties = map[models.Severity]int{
	models.SeverityCritical: 40,
	models.SeverityHigh:     25,
	models.SeverityMedium:   15,
	models.SeverityLow:      5,
}

func scoreFindings(findings []models.Finding) int {
	score := 100
	for _, f := range findings {
		score -= severityPenalties[f.Severity]
	}
	if score < 0 {
		return 0
	}
	return score
}

// passed reports whether no finding is critical or high.
func passed(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityCritical || f.Severity == models.SeverityHigh {
			return false
		}
	}
	return true
}
