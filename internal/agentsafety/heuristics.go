package agentsafety

import (
	"regexp"
	"strings"

	"github.com/moltstore/appreview/internal/models"
)

type heuristic struct {
	re    *regexp.Regexp
	title string
}

// Prompt-injection risks: user input flowing into prompt construction.
var promptInjectionPatterns = []heuristic{
	{regexp.MustCompile(`(?i)\$\{.*user.*input.*\}`), "Direct user input in template literal"},
	{regexp.MustCompile(`(?i)\+\s*user\w*Input`), "String concatenation with user input"},
	{regexp.MustCompile(`(?i)f["'].*\{.*user.*\}`), "F-string with user input (Python)"},
	{regexp.MustCompile(`(?i)messages\s*:\s*\[\s*\{[^}]*content\s*:\s*[^"'` + "`" + `\[]`), "Dynamic message content"},
	{regexp.MustCompile(`(?i)prompt\s*[=+]\s*[^"'` + "`" + `\s]`), "Dynamic prompt construction"},
}

// Permission risks: capability usage that needs explicit declaration.
var permissionPatterns = []heuristic{
	{regexp.MustCompile(`(?i)child_process|spawn|exec[^u]`), "Process execution capability"},
	{regexp.MustCompile(`(?i)fs\.(read|write|unlink|rmdir)|readFileSync|writeFileSync`), "File system access"},
	{regexp.MustCompile(`(?i)fetch\s*\(|axios|http\.request|urllib`), "Network request capability"},
	{regexp.MustCompile(`process\.env\[\s*['"` + "`" + `](?:[^N]|N[^O])`), "Environment variable access"},
	{regexp.MustCompile(`(?i)eval\s*\(|new\s+Function`), "Dynamic code evaluation"},
}

// Deceptive-behavior risks: system-role and browser-state manipulation.
var deceptivePatterns = []heuristic{
	{regexp.MustCompile(`(?i)role\s*:\s*['"` + "`" + `]system['"` + "`" + `]`), "System role manipulation"},
	{regexp.MustCompile(`(?i)fake|spoof|impersonat|disguise`), "Potential deceptive behavior"},
	{regexp.MustCompile(`(?i)localStorage|sessionStorage|indexedDB`), "Browser storage access"},
	{regexp.MustCompile(`(?i)document\.cookie|setCookie`), "Cookie access"},
}

// heuristicScan is the fast pattern pass over all files. It runs before
// (and as a fallback for) the reasoning-backed analysis.
func heuristicScan(files []models.ExtractedFile) []models.Finding {
	var findings []models.Finding

	for _, file := range files {
		for _, h := range promptInjectionPatterns {
			if loc := h.re.FindStringIndex(file.Content); loc != nil {
				findings = append(findings, models.Finding{
					Severity:    models.SeverityHigh,
					Category:    models.CategoryPromptInjection,
					Title:       h.title,
					Description: "Potential prompt injection vulnerability detected. User input may be passed to the LLM without proper sanitization.",
					FilePath:    file.RelativePath,
					LineStart:   lineAt(file.Content, loc[0]),
					CodeSnippet: truncate(file.Content[loc[0]:loc[1]], 100),
					Confidence:  0.7,
					Suggestion:  "Sanitize user input before including it in prompts. Use allow-lists and validate input format.",
				})
			}
		}
		for _, h := range permissionPatterns {
			if loc := h.re.FindStringIndex(file.Content); loc != nil {
				findings = append(findings, models.Finding{
					Severity:    models.SeverityMedium,
					Category:    models.CategoryPermissionViolation,
					Title:       h.title,
					Description: "Code uses " + strings.ToLower(h.title) + " which may need explicit permission declaration.",
					FilePath:    file.RelativePath,
					LineStart:   lineAt(file.Content, loc[0]),
					CodeSnippet: truncate(file.Content[loc[0]:loc[1]], 100),
					Confidence:  0.8,
					Suggestion:  "Declare this capability in your app manifest and ensure proper access controls.",
				})
			}
		}
		for _, h := range deceptivePatterns {
			if loc := h.re.FindStringIndex(file.Content); loc != nil {
				findings = append(findings, models.Finding{
					Severity:    models.SeverityHigh,
					Category:    models.CategorySuspiciousBehavior,
					Title:       h.title,
					Description: h.title + " detected which could indicate deceptive or misleading functionality.",
					FilePath:    file.RelativePath,
					LineStart:   lineAt(file.Content, loc[0]),
					CodeSnippet: truncate(file.Content[loc[0]:loc[1]], 100),
					Confidence:  0.6,
					Suggestion:  "Review this code carefully. Ensure all behaviors are transparent and documented.",
				})
			}
		}
	}

	return findings
}

// lineAt returns the 1-based line number of a byte offset.
func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
