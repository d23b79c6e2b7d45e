// Package agentsafety analyzes AI-agent-oriented code for prompt
// injection, permission escalation, and deceptive-behavior risks.
package agentsafety

import (
	"context"
	"strings"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/reasoning"
	"github.com/moltstore/appreview/internal/scoring"
)

const systemPrompt = `You are an expert AI safety analyst specializing in LLM-based applications.

Your task is to analyze code for AI agent safety issues. Focus on:

1. **Prompt Injection Vulnerabilities**
   - User input passed directly to LLM without sanitization
   - Dynamic prompt construction from external sources
   - Lack of input validation before LLM calls
   - Missing system prompt protection

2. **Permission Violations**
   - File system access beyond declared scope
   - Network requests to undeclared endpoints
   - Environment variable access for sensitive data
   - Subprocess execution capabilities
   - Database access without proper authorization

3. **Deceptive Behaviors**
   - Hidden functionality not mentioned in documentation
   - Responses that masquerade as system messages
   - Data collection without user consent
   - Modification of user-facing outputs

4. **Undeclared Capabilities**
   - Tool calls that exceed stated permissions
   - Hidden API integrations
   - Stealth data transmission
   - Background processes

For each issue found, provide:
- severity: "critical" | "high" | "medium" | "low"
- category: "prompt_injection" | "permission_violation" | "data_exfiltration" | "suspicious_behavior"
- title: Brief title
- description: Detailed explanation of the risk
- filePath: File where issue was found
- lineStart: Starting line number (if applicable)
- codeSnippet: Relevant code (max 200 chars)
- confidence: 0.0-1.0
- suggestion: How to fix

Respond ONLY with valid JSON in this format:
{
  "findings": [...],
  "declaredPermissions": ["permission1", "permission2"],
  "actualPermissions": ["permission1", "permission2", "permission3"],
  "summary": "Brief overall assessment",
  "score": 0-100
}`

// maxFilesToAnalyze caps how many agent-related files go to the backend.
const maxFilesToAnalyze = 10

// maxContentChars truncates each file sent for analysis.
const maxContentChars = 3000

// backendResponse is the structured shape the system prompt requires.
type backendResponse struct {
	Findings            []models.Finding `json:"findings"`
	DeclaredPermissions []string         `json:"declaredPermissions"`
	ActualPermissions   []string         `json:"actualPermissions"`
	Summary             string           `json:"summary"`
	Score               int              `json:"score"`
}

// Analyzer runs the agent-safety pass.
type Analyzer struct {
	client *reasoning.Client

	Logf func(format string, args ...any)
}

// NewAnalyzer creates an agent-safety analyzer over the given client.
func NewAnalyzer(client *reasoning.Client) *Analyzer {
	return &Analyzer{client: client}
}

// agentRelated reports whether a file plausibly contains agent/LLM logic,
// by path or content signals.
func agentRelated(f models.ExtractedFile) bool {
	p := strings.ToLower(f.RelativePath)
	for _, marker := range []string{"agent", "llm", "ai", "chat", "prompt", "api", "handler"} {
		if strings.Contains(p, marker) {
			return true
		}
	}
	c := strings.ToLower(f.Content)
	for _, marker := range []string{"openai", "anthropic", "langchain", "llama"} {
		if strings.Contains(c, marker) {
			return true
		}
	}
	return false
}

// Analyze runs the heuristic pass, then (when warranted and affordable)
// the reasoning-backed deep analysis. Reasoning failure degrades to
// heuristic-only results; it never fails the analyzer.
func (a *Analyzer) Analyze(ctx context.Context, files []models.ExtractedFile) (*models.AgentSafetyResult, error) {
	heuristics := heuristicScan(files)
	actual := ActualPermissions(files)

	// A critical heuristic hit is conclusive: skip the paid call.
	for _, f := range heuristics {
		if f.Severity == models.SeverityCritical {
			r := buildResult(heuristics, nil, actual, 20,
				"Critical agent safety issues detected in quick scan.", 0)
			return r, nil
		}
	}

	var agentFiles []models.ExtractedFile
	for _, f := range files {
		if agentRelated(f) {
			agentFiles = append(agentFiles, f)
		}
	}
	if len(agentFiles) == 0 {
		r := buildResult(nil, nil, actual, 100,
			"No AI agent code detected. App does not appear to use LLM capabilities.", 0)
		return r, nil
	}

	if len(agentFiles) > maxFilesToAnalyze {
		agentFiles = agentFiles[:maxFilesToAnalyze]
	}

	var sb strings.Builder
	sb.WriteString("Analyze these AI agent-related files for safety issues:\n\n")
	for _, f := range agentFiles {
		sb.WriteString("### File: ")
		sb.WriteString(f.RelativePath)
		sb.WriteString("\n```\n")
		sb.WriteString(truncate(f.Content, maxContentChars))
		sb.WriteString("\n```\n\n")
	}

	var decoded backendResponse
	resp, err := a.client.SendJSON(ctx, sb.String(), reasoning.Options{
		SystemPrompt: systemPrompt,
		MaxTokens:    4096,
		Temperature:  0.1,
	}, &decoded)
	if err != nil {
		a.logf("agent safety reasoning call failed, using heuristics only: %v", err)
		score := scoring.ScoreFindings(heuristics)
		r := buildResult(heuristics, nil, actual, score,
			"Agent safety analysis completed with pattern matching only (AI analysis failed).", 0)
		r.Degraded = true
		return r, nil
	}
	if err := reasoning.ValidateFindings(decoded.Findings); err != nil {
		a.logf("agent safety response failed validation, using heuristics only: %v", err)
		score := scoring.ScoreFindings(heuristics)
		r := buildResult(heuristics, nil, actual, score,
			"Agent safety analysis completed with pattern matching only (AI analysis failed).", 0)
		r.Degraded = true
		return r, nil
	}

	merged := models.DeduplicateFindings(append(heuristics, decoded.Findings...))
	score := decoded.Score
	if score <= 0 {
		score = scoring.ScoreFindings(merged)
	}
	summary := decoded.Summary
	if summary == "" {
		summary = "Agent safety analysis complete."
	}
	if len(decoded.ActualPermissions) > 0 {
		actual = decoded.ActualPermissions
	}

	r := buildResult(merged, decoded.DeclaredPermissions, actual, score, summary, resp.Tokens.Total)
	return r, nil
}

// buildResult splits findings into the per-risk buckets of the result.
func buildResult(findings []models.Finding, declared, actual []string, score int, summary string, tokens int) *models.AgentSafetyResult {
	r := &models.AgentSafetyResult{
		DeclaredPermissions: declared,
		ActualPermissions:   actual,
		Score:               score,
		Summary:             summary,
		TokensUsed:          tokens,
	}
	for _, f := range findings {
		switch f.Category {
		case models.CategoryPromptInjection:
			r.PromptInjectionRisks = append(r.PromptInjectionRisks, f)
		case models.CategoryPermissionViolation:
			r.PermissionViolations = append(r.PermissionViolations, f)
		case models.CategorySuspiciousBehavior, models.CategoryDataExfiltration:
			r.SuspiciousBehaviors = append(r.SuspiciousBehaviors, f)
		default:
			r.SuspiciousBehaviors = append(r.SuspiciousBehaviors, f)
		}
	}
	return r
}

func (a *Analyzer) logf(format string, args ...any) {
	if a.Logf != nil {
		a.Logf(format, args...)
	}
}
