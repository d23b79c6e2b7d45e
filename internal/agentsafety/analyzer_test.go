package agentsafety

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/reasoning"
)

type fakeBackend struct {
	content string
	err     error
	calls   int
}

func (f *fakeBackend) CreateMessage(ctx context.Context, prompt string, opts reasoning.Options) (string, reasoning.TokenUsage, error) {
	f.calls++
	return f.content, reasoning.TokenUsage{Input: 100, Output: 50, Total: 150}, f.err
}

func newAnalyzer(backend reasoning.Backend) *Analyzer {
	budget := reasoning.NewBudget(10.0, 1000)
	client := reasoning.NewClient(backend, budget, "claude-sonnet-4-20250514")
	return NewAnalyzer(client)
}

func file(path, content string) models.ExtractedFile {
	return models.ExtractedFile{Path: path, RelativePath: path, Content: content}
}

func TestHeuristicScan_PromptInjection(t *testing.T) {
	findings := heuristicScan([]models.ExtractedFile{
		file("bot.js", "const prompt = basePrompt + userInput\n"),
	})
	require.NotEmpty(t, findings)
	var hit bool
	for _, f := range findings {
		if f.Category == models.CategoryPromptInjection {
			hit = true
			assert.Equal(t, models.SeverityHigh, f.Severity)
			assert.Equal(t, 0.7, f.Confidence)
			assert.Equal(t, 1, f.LineStart)
		}
	}
	assert.True(t, hit, "expected a prompt injection finding")
}

func TestHeuristicScan_Permissions(t *testing.T) {
	findings := heuristicScan([]models.ExtractedFile{
		file("tool.js", "const out = require('child_process').execSync(cmd)\n"),
	})
	require.NotEmpty(t, findings)
	assert.Equal(t, models.CategoryPermissionViolation, findings[0].Category)
	assert.Equal(t, models.SeverityMedium, findings[0].Severity)
	assert.Equal(t, 0.8, findings[0].Confidence)
}

func TestHeuristicScan_Deceptive(t *testing.T) {
	findings := heuristicScan([]models.ExtractedFile{
		file("msg.js", `messages.push({ role: "system", content: injected })`+"\n"),
	})
	var hit bool
	for _, f := range findings {
		if f.Title == "System role manipulation" {
			hit = true
			assert.Equal(t, models.CategorySuspiciousBehavior, f.Category)
			assert.Equal(t, 0.6, f.Confidence)
		}
	}
	assert.True(t, hit)
}

func TestHeuristicScan_Clean(t *testing.T) {
	findings := heuristicScan([]models.ExtractedFile{
		file("math.js", "export const add = (a, b) => a + b\n"),
	})
	assert.Empty(t, findings)
}

func TestActualPermissions(t *testing.T) {
	perms := ActualPermissions([]models.ExtractedFile{
		file("a.js", "fetch('https://x.test')\nprocess.env.KEY\n"),
		file("b.js", "import OpenAI from 'openai'\n"),
	})
	assert.Equal(t, []string{"environment", "llm_api", "network"}, perms)
}

func TestAgentRelated(t *testing.T) {
	assert.True(t, agentRelated(file("src/agent/run.js", "")))
	assert.True(t, agentRelated(file("chat.py", "")))
	assert.True(t, agentRelated(file("x.js", "import anthropic\n")))
	assert.False(t, agentRelated(file("styles/button.css.ts", "color: red")))
}

func TestAnalyze_NoAgentCode(t *testing.T) {
	backend := &fakeBackend{content: "[]"}
	a := newAnalyzer(backend)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("styles/grid.ts", "const gap = 8"),
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.Empty(t, res.Findings())
	assert.Contains(t, res.Summary, "No AI agent code detected")
	assert.Equal(t, 0, backend.calls, "no paid call for non-agent apps")
}

func TestAnalyze_BackendResponse(t *testing.T) {
	backend := &fakeBackend{content: `{
		"findings": [{"severity":"high","category":"prompt_injection","title":"Unsanitized prompt","confidence":0.9}],
		"declaredPermissions": ["network"],
		"actualPermissions": ["network", "llm_api"],
		"summary": "One injection risk.",
		"score": 65
	}`}
	a := newAnalyzer(backend)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("agent.js", "callModel(prompt)"),
	})
	require.NoError(t, err)
	assert.Equal(t, 65, res.Score)
	assert.Equal(t, "One injection risk.", res.Summary)
	assert.Equal(t, []string{"network"}, res.DeclaredPermissions)
	assert.Equal(t, []string{"network", "llm_api"}, res.ActualPermissions)
	require.Len(t, res.PromptInjectionRisks, 1)
	assert.Equal(t, "Unsanitized prompt", res.PromptInjectionRisks[0].Title)
	assert.Equal(t, 150, res.TokensUsed)
}

func TestAnalyze_BackendFailureFallsBackToHeuristics(t *testing.T) {
	backend := &fakeBackend{err: &reasoning.BackendError{StatusCode: 500, Err: errors.New("boom")}}
	a := newAnalyzer(backend)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("agent.js", "const prompt = base + userInput\n"),
	})
	require.NoError(t, err, "reasoning failure must not fail the analyzer")
	assert.Contains(t, res.Summary, "AI analysis failed")
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.PromptInjectionRisks)
	assert.Less(t, res.Score, 100)
}

func TestAnalyze_MalformedResponseFallsBack(t *testing.T) {
	backend := &fakeBackend{content: "not json"}
	a := newAnalyzer(backend)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("agent.js", "run(prompt)"),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Summary, "AI analysis failed")
	assert.True(t, res.Degraded)
}

func TestAnalyze_MergesAndDeduplicates(t *testing.T) {
	// Backend repeats a heuristic finding with the same file and title.
	backend := &fakeBackend{content: `{
		"findings": [{"severity":"high","category":"prompt_injection","title":"String concatenation with user input","filePath":"agent.js","confidence":0.9}],
		"summary": "dup",
		"score": 70
	}`}
	a := newAnalyzer(backend)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("agent.js", "const prompt = base + userInput\n"),
	})
	require.NoError(t, err)
	titles := map[string]int{}
	for _, f := range res.Findings() {
		titles[f.Title]++
	}
	assert.Equal(t, 1, titles["String concatenation with user input"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	long := truncate("abcdefghijk", 8)
	assert.Len(t, long, 8)
	assert.Equal(t, "abcde...", long)
}
