// Package static drives the reasoning backend over batched source files to
// find vulnerabilities, backdoors, secrets, and malware.
package static

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/reasoning"
	"github.com/moltstore/appreview/internal/scoring"
)

const systemPrompt = `You are an expert security analyst reviewing code for an AI agent application marketplace.

Your task is to identify security vulnerabilities, malicious code patterns, and potential risks in the provided code.

## What to Look For

### Critical Issues (severity: "critical")
- Malware patterns: eval(), exec(), shell command execution with user input
- Backdoors: Hidden network connections, covert data exfiltration
- Credential theft: Attempts to access or transmit sensitive data
- Crypto mining code
- Ransomware patterns

### High Severity Issues (severity: "high")
- Hardcoded secrets: API keys, passwords, tokens, private keys
- SQL injection vulnerabilities
- Command injection vulnerabilities
- Path traversal vulnerabilities
- Unsafe deserialization
- Remote code execution risks

### Medium Severity Issues (severity: "medium")
- Cross-site scripting (XSS) vulnerabilities
- Insecure cryptographic practices
- Missing input validation
- Insecure random number generation
- Information disclosure

### Low Severity Issues (severity: "low")
- Code quality issues that may lead to security problems
- Missing error handling
- Deprecated or unsafe function usage
- Potential denial of service vectors

## Categories
Use these categories for findings:
- malware: Definite malicious code
- backdoor: Hidden or covert functionality
- secrets: Exposed credentials or keys
- vulnerability: Security vulnerability
- data_exfiltration: Unauthorized data transmission
- suspicious_behavior: Concerning but not definitively malicious

## Response Format
Return a JSON array of findings. Each finding must have:
{
  "severity": "critical" | "high" | "medium" | "low" | "info",
  "category": "malware" | "backdoor" | "secrets" | "vulnerability" | "data_exfiltration" | "suspicious_behavior",
  "title": "Brief title (max 100 chars)",
  "description": "Detailed explanation of the issue",
  "filePath": "path/to/file.js",
  "lineStart": 10,
  "lineEnd": 15,
  "codeSnippet": "the problematic code",
  "confidence": 0.95,
  "suggestion": "How to fix the issue"
}

If no issues are found, return an empty array: []

Be thorough but avoid false positives. Only report genuine security concerns.`

// maxTokensPerBatch bounds the estimated prompt size of one batch to fit
// the backend context window.
const maxTokensPerBatch = 50000

// Analyzer runs batched static analysis through the reasoning client.
type Analyzer struct {
	client *reasoning.Client

	// Logf, when set, receives batch-level progress and skip notices.
	Logf func(format string, args ...any)
}

// NewAnalyzer creates a static analyzer over the given client.
func NewAnalyzer(client *reasoning.Client) *Analyzer {
	return &Analyzer{client: client}
}

// filePriority ranks a file for analysis ordering: entry points and
// security-sensitive code first, core library code next, the rest last.
func filePriority(relativePath string) int {
	p := strings.ToLower(relativePath)

	high := []string{"index.", "main.", "app.", "server.", "api/", "route", "auth", "login", "security", "middleware"}
	for _, marker := range high {
		if strings.Contains(p, marker) {
			return 0
		}
	}
	if strings.HasSuffix(p, ".env.example") {
		return 0
	}

	medium := []string{"lib/", "src/", "utils/", "helper", "service", "controller", "model"}
	for _, marker := range medium {
		if strings.Contains(p, marker) {
			return 1
		}
	}
	return 2
}

// orderByPriority sorts files so the highest-value files are analyzed first
// under a cost or time ceiling. The sort is stable to keep runs
// deterministic.
func orderByPriority(files []models.ExtractedFile) []models.ExtractedFile {
	out := make([]models.ExtractedFile, len(files))
	copy(out, files)
	sort.SliceStable(out, func(i, j int) bool {
		return filePriority(out[i].RelativePath) < filePriority(out[j].RelativePath)
	})
	return out
}

// batchFiles groups files into batches bounded by an estimated token
// budget rather than a file count.
func batchFiles(files []models.ExtractedFile, maxTokens int) [][]models.ExtractedFile {
	var batches [][]models.ExtractedFile
	var current []models.ExtractedFile
	currentTokens := 0

	for _, f := range files {
		fileTokens := reasoning.EstimateTokens(f.Content) + 100 // formatting overhead
		if currentTokens+fileTokens > maxTokens && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, f)
		currentTokens += fileTokens
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// buildPrompt renders a batch of files as one analysis request.
func buildPrompt(files []models.ExtractedFile) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following code files for security vulnerabilities:\n\n")
	for _, f := range files {
		sb.WriteString("## File: ")
		sb.WriteString(f.RelativePath)
		sb.WriteString("\n```")
		sb.WriteString(strings.TrimPrefix(f.Extension, "."))
		sb.WriteString("\n")
		sb.WriteString(f.Content)
		sb.WriteString("\n```\n\n")
	}
	sb.WriteString("\nReturn your findings as a JSON array.")
	return sb.String()
}

// analyzeBatch sends one batch and validates the decoded findings.
func (a *Analyzer) analyzeBatch(ctx context.Context, batch []models.ExtractedFile) ([]models.Finding, int, error) {
	var findings []models.Finding
	resp, err := a.client.SendJSON(ctx, buildPrompt(batch), reasoning.Options{
		SystemPrompt: systemPrompt,
		MaxTokens:    8192,
	}, &findings)
	if err != nil {
		return nil, 0, err
	}
	if err := reasoning.ValidateFindings(findings); err != nil {
		return nil, 0, err
	}

	// Single-file batches can omit the path; fill it in.
	if len(batch) == 1 {
		for i := range findings {
			if findings[i].FilePath == "" {
				findings[i].FilePath = batch[0].RelativePath
			}
		}
	}
	return findings, resp.Tokens.Total, nil
}

// Analyze runs the full static pass: priority ordering, token-budget
// batching, sequential batch analysis with cost-ceiling early stop, and
// batch-failure skip. A batch failure never aborts the remaining batches;
// hitting the cost ceiling returns partial findings, not an error.
func (a *Analyzer) Analyze(ctx context.Context, files []models.ExtractedFile) (*models.AnalysisResult, error) {
	start := time.Now()

	batches := batchFiles(orderByPriority(files), maxTokensPerBatch)
	a.logf("static analysis: %d files in %d batches", len(files), len(batches))

	var findings []models.Finding
	totalTokens := 0
	failedBatches := 0
	skippedBatches := 0

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.client.Budget().Exceeded() {
			a.logf("cost limit exceeded, stopping static analysis after %d/%d batches", i, len(batches))
			skippedBatches = len(batches) - i
			break
		}

		batchFindings, tokens, err := a.analyzeBatch(ctx, batch)
		if err != nil {
			a.logf("batch %d/%d failed: %v", i+1, len(batches), err)
			failedBatches++
			continue
		}
		findings = append(findings, batchFindings...)
		totalTokens += tokens
	}

	score := scoring.ScoreFindings(findings)
	return &models.AnalysisResult{
		Findings:         findings,
		Score:            score,
		Summary:          summarize(findings, score, failedBatches, len(batches)),
		TokensUsed:       totalTokens,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		TotalBatches:     len(batches),
		FailedBatches:    failedBatches,
		SkippedBatches:   skippedBatches,
	}, nil
}

// summarize renders the analyzer-level summary from the finding counts.
func summarize(findings []models.Finding, score, failedBatches, totalBatches int) string {
	if len(findings) == 0 {
		s := "No security issues detected. The code appears to be safe."
		if failedBatches > 0 {
			s += fmt.Sprintf(" Reduced analysis depth: %d of %d batches failed.", failedBatches, totalBatches)
		}
		return s
	}

	counts := models.CountBySeverity(findings)
	var parts []string
	if counts.Critical > 0 {
		parts = append(parts, fmt.Sprintf("%d critical issue(s) found - immediate attention required", counts.Critical))
	}
	if counts.High > 0 {
		parts = append(parts, fmt.Sprintf("%d high severity issue(s)", counts.High))
	}
	if counts.Medium > 0 {
		parts = append(parts, fmt.Sprintf("%d medium severity issue(s)", counts.Medium))
	}
	if counts.Low > 0 {
		parts = append(parts, fmt.Sprintf("%d low severity issue(s)", counts.Low))
	}

	seen := make(map[models.Category]bool)
	var categories []string
	for _, f := range findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			categories = append(categories, string(f.Category))
		}
	}

	s := fmt.Sprintf("Security score: %d/100. %s. Categories: %s.", score, strings.Join(parts, ", "), strings.Join(categories, ", "))
	if failedBatches > 0 {
		s += fmt.Sprintf(" Reduced analysis depth: %d of %d batches failed.", failedBatches, totalBatches)
	}
	return s
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.Logf != nil {
		a.Logf(format, args...)
	}
}
