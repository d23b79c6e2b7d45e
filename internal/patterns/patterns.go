// Package patterns is the zero-dependency heuristic pass that runs before
// any paid analysis. It is pure: same file content always yields the same
// findings.
package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/moltstore/appreview/internal/models"
)

// rule is one compiled pattern with its fixed finding attributes.
type rule struct {
	re         *regexp.Regexp
	severity   models.Severity
	category   models.Category
	title      string
	confidence float64
}

// Three independently matched families: malware/backdoor indicators,
// hardcoded secrets, and unsafe capability usage.
var rules = []rule{
	// Malware / backdoor indicators.
	{
		re:         regexp.MustCompile(`(?i)eval\s*\(\s*atob\s*\(`),
		severity:   models.SeverityCritical,
		category:   models.CategoryMalware,
		title:      "Obfuscated eval detected",
		confidence: 0.7,
	},
	{
		re:         regexp.MustCompile(`(?i)new\s+Function\s*\(\s*['"` + "`" + `]return\s+this`),
		severity:   models.SeverityCritical,
		category:   models.CategoryMalware,
		title:      "Suspicious Function constructor",
		confidence: 0.7,
	},

	// Secrets.
	{
		re:         regexp.MustCompile(`BEGIN\s+(RSA\s+)?PRIVATE\s+KEY`),
		severity:   models.SeverityHigh,
		category:   models.CategorySecrets,
		title:      "Private key detected",
		confidence: 0.7,
	},
	{
		re:         regexp.MustCompile(`sk[-_]live[-_]|pk[-_]live[-_]|ghp_|gho_|sk-ant-`),
		severity:   models.SeverityHigh,
		category:   models.CategorySecrets,
		title:      "Potential API key detected",
		confidence: 0.7,
	},
	{
		re:         regexp.MustCompile(`(?i)password\s*[:=]\s*['"` + "`" + `][^'"` + "`" + ` ]{8,}`),
		severity:   models.SeverityHigh,
		category:   models.CategorySecrets,
		title:      "Hardcoded password detected",
		confidence: 0.7,
	},

	// Unsafe capability usage.
	{
		re:         regexp.MustCompile(`(?i)child_process|exec\s*\(|spawn\s*\(`),
		severity:   models.SeverityMedium,
		category:   models.CategoryVulnerability,
		title:      "Shell command execution",
		confidence: 0.8,
	},
	{
		re:         regexp.MustCompile(`(?i)\.cookie\s*=|document\.cookie`),
		severity:   models.SeverityMedium,
		category:   models.CategorySuspiciousBehavior,
		title:      "Cookie manipulation",
		confidence: 0.6,
	},
	{
		re:         regexp.MustCompile(`(?i)localStorage\s*\.\s*setItem|sessionStorage\s*\.\s*setItem`),
		severity:   models.SeverityMedium,
		category:   models.CategorySuspiciousBehavior,
		title:      "Browser storage write",
		confidence: 0.6,
	},
	{
		re:         regexp.MustCompile(`process\.env\.[A-Z_]+\s*=`),
		severity:   models.SeverityMedium,
		category:   models.CategorySuspiciousBehavior,
		title:      "Environment variable modification",
		confidence: 0.7,
	},
}

// Scan runs every pattern family against every file. No I/O, no external
// calls; intended to complete in milliseconds over a capped file set.
func Scan(files []models.ExtractedFile) []models.Finding {
	var findings []models.Finding
	for _, file := range files {
		for _, r := range rules {
			if !r.re.MatchString(file.Content) {
				continue
			}
			findings = append(findings, models.Finding{
				Severity:    r.severity,
				Category:    r.category,
				Title:       r.title,
				Description: fmt.Sprintf("Pattern matched: %s", r.re.String()),
				FilePath:    file.RelativePath,
				LineStart:   matchLine(file.Content, r.re),
				Confidence:  r.confidence,
				Suggestion:  "Review this code manually for potential security issues",
			})
		}
	}
	return findings
}

// matchLine returns the 1-based number of the first line matching re.
func matchLine(content string, re *regexp.Regexp) int {
	for i, line := range strings.Split(content, "\n") {
		if re.MatchString(line) {
			return i + 1
		}
	}
	return 1
}

// HasCriticalMalware reports whether findings contain a critical
// malware/backdoor hit — the orchestrator's immediate-reject signal.
func HasCriticalMalware(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityCritical &&
			(f.Category == models.CategoryMalware || f.Category == models.CategoryBackdoor) {
			return true
		}
	}
	return false
}

// QuickScore maps a heuristic-only finding set to a coarse score for
// quick scans that never reach the paid analyzers.
func QuickScore(findings []models.Finding) int {
	if len(findings) == 0 {
		return 100
	}
	counts := models.CountBySeverity(findings)
	switch {
	case counts.Critical > 0:
		return 0
	case counts.High > 0:
		return 30
	default:
		return 60
	}
}
