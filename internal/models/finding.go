package models

// Severity is the risk level of a finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities from most to least severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MoreSevere reports whether s is strictly more severe than other.
func (s Severity) MoreSevere(other Severity) bool {
	return severityRank[s] < severityRank[other]
}

// Category classifies what kind of issue a finding describes.
type Category string

const (
	CategoryMalware             Category = "malware"
	CategoryBackdoor            Category = "backdoor"
	CategorySecrets             Category = "secrets"
	CategoryVulnerability       Category = "vulnerability"
	CategoryPromptInjection     Category = "prompt_injection"
	CategoryPermissionViolation Category = "permission_violation"
	CategoryDataExfiltration    Category = "data_exfiltration"
	CategoryCodeQuality         Category = "code_quality"
	CategorySuspiciousBehavior  Category = "suspicious_behavior"
)

var validCategories = map[Category]bool{
	CategoryMalware:             true,
	CategoryBackdoor:            true,
	CategorySecrets:             true,
	CategoryVulnerability:       true,
	CategoryPromptInjection:     true,
	CategoryPermissionViolation: true,
	CategoryDataExfiltration:    true,
	CategoryCodeQuality:         true,
	CategorySuspiciousBehavior:  true,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return validCategories[c]
}

// Finding is a single reported issue produced by one analyzer.
// JSON tags match the shape the reasoning backend is instructed to return.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	FilePath    string   `json:"filePath,omitempty"`
	LineStart   int      `json:"lineStart,omitempty"`
	LineEnd     int      `json:"lineEnd,omitempty"`
	CodeSnippet string   `json:"codeSnippet,omitempty"`
	Confidence  float64  `json:"confidence"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// SeverityCounts holds per-severity finding counts.
type SeverityCounts struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Info     int
}

// CountBySeverity tallies findings per severity level.
func CountBySeverity(findings []Finding) SeverityCounts {
	var c SeverityCounts
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		case SeverityInfo:
			c.Info++
		}
	}
	return c
}

// DeduplicateFindings removes findings that share (filePath, title),
// keeping the first occurrence.
func DeduplicateFindings(findings []Finding) []Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		key := f.FilePath + ":" + f.Title
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
