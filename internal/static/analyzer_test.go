package static

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/reasoning"
)

// fakeBackend returns scripted responses per call.
type fakeBackend struct {
	responses []fakeCall
	calls     int
	prompts   []string
}

type fakeCall struct {
	content string
	usage   reasoning.TokenUsage
	err     error
}

func (f *fakeBackend) CreateMessage(ctx context.Context, prompt string, opts reasoning.Options) (string, reasoning.TokenUsage, error) {
	f.prompts = append(f.prompts, prompt)
	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	c := f.responses[idx]
	return c.content, c.usage, c.err
}

func newAnalyzer(backend reasoning.Backend, costLimit float64) *Analyzer {
	budget := reasoning.NewBudget(costLimit, 1000)
	client := reasoning.NewClient(backend, budget, "claude-sonnet-4-20250514")
	return NewAnalyzer(client)
}

func file(path, content string) models.ExtractedFile {
	return models.ExtractedFile{Path: path, RelativePath: path, Content: content}
}

func TestFilePriority(t *testing.T) {
	assert.Equal(t, 0, filePriority("index.js"))
	assert.Equal(t, 0, filePriority("src/auth/login.ts"))
	assert.Equal(t, 0, filePriority("api/users.go"))
	assert.Equal(t, 0, filePriority(".env.example"))
	assert.Equal(t, 1, filePriority("lib/parse.js"))
	assert.Equal(t, 1, filePriority("helpers/format.js"))
	assert.Equal(t, 2, filePriority("docs/readme.md"))
}

func TestOrderByPriority_StableWithinRank(t *testing.T) {
	files := []models.ExtractedFile{
		file("docs/a.md", ""),
		file("lib/b.js", ""),
		file("index.js", ""),
		file("lib/a.js", ""),
	}
	ordered := orderByPriority(files)
	assert.Equal(t, "index.js", ordered[0].RelativePath)
	assert.Equal(t, "lib/b.js", ordered[1].RelativePath)
	assert.Equal(t, "lib/a.js", ordered[2].RelativePath)
	assert.Equal(t, "docs/a.md", ordered[3].RelativePath)

	// Input is not mutated.
	assert.Equal(t, "docs/a.md", files[0].RelativePath)
}

func TestBatchFiles_TokenBudget(t *testing.T) {
	// Each file estimates to ~100 content tokens + 100 overhead = 200.
	files := make([]models.ExtractedFile, 5)
	for i := range files {
		files[i] = file("f.js", strings.Repeat("x", 400))
	}

	batches := batchFiles(files, 500)
	// 200+200 fits, third would exceed 500.
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestBatchFiles_OversizedFileGetsOwnBatch(t *testing.T) {
	files := []models.ExtractedFile{
		file("big.js", strings.Repeat("x", 4000)),
		file("small.js", "x"),
	}
	batches := batchFiles(files, 500)
	require.Len(t, batches, 2)
	assert.Equal(t, "big.js", batches[0][0].RelativePath)
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt([]models.ExtractedFile{
		{RelativePath: "src/index.js", Content: "let a = 1", Extension: ".js"},
	})
	assert.Contains(t, p, "## File: src/index.js")
	assert.Contains(t, p, "```js\nlet a = 1\n```")
	assert.Contains(t, p, "JSON array")
}

func TestAnalyze_Findings(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{
			content: `[{"severity":"high","category":"secrets","title":"Hardcoded API key","filePath":"index.js","confidence":0.9}]`,
			usage:   reasoning.TokenUsage{Input: 100, Output: 50, Total: 150},
		},
	}}
	a := newAnalyzer(backend, 10.0)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("index.js", "const key = 'sk_live_x'"),
	})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "Hardcoded API key", res.Findings[0].Title)
	assert.Equal(t, 150, res.TokensUsed)
	// high (25) * 0.9 = 22.5 -> deduction 23
	assert.Equal(t, 77, res.Score)
	assert.Contains(t, res.Summary, "1 high severity issue(s)")
}

func TestAnalyze_SingleFileBatchFillsPath(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: `[{"severity":"medium","category":"vulnerability","title":"Missing validation","confidence":0.8}]`},
	}}
	a := newAnalyzer(backend, 10.0)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{
		file("app/server.js", "code"),
	})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, "app/server.js", res.Findings[0].FilePath)
}

func TestAnalyze_BatchFailureSkipped(t *testing.T) {
	// First batch decodes badly, the rest of the run still completes.
	backend := &fakeBackend{responses: []fakeCall{
		{content: "no json at all"},
		{content: `[]`},
	}}
	a := newAnalyzer(backend, 10.0)

	// Two files big enough to force two batches.
	files := []models.ExtractedFile{
		file("index.js", strings.Repeat("a", 300*1024)),
		file("main.js", strings.Repeat("b", 300*1024)),
	}
	res, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
	assert.Empty(t, res.Findings)
	assert.Equal(t, 100, res.Score)
	assert.Contains(t, res.Summary, "Reduced analysis depth: 1 of 2 batches failed.")
	assert.Equal(t, 1, res.FailedBatches)
	assert.Equal(t, 2, res.TotalBatches)
}

func TestAnalyze_StopsAtCostCeiling(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: `[]`, usage: reasoning.TokenUsage{Input: 1_000_000, Output: 0, Total: 1_000_000}},
	}}
	// One sonnet call at 1M input tokens costs $3, over the $1 ceiling.
	a := newAnalyzer(backend, 1.0)

	files := []models.ExtractedFile{
		file("index.js", strings.Repeat("a", 300*1024)),
		file("main.js", strings.Repeat("b", 300*1024)),
		file("app.js", strings.Repeat("c", 300*1024)),
	}
	res, err := a.Analyze(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls, "remaining batches are skipped once the ceiling is hit")
	assert.Equal(t, 100, res.Score)
	assert.Equal(t, 2, res.SkippedBatches)
	assert.Equal(t, 3, res.TotalBatches)
}

func TestAnalyze_ContextCancelled(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{{content: `[]`}}}
	a := newAnalyzer(backend, 10.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Analyze(ctx, []models.ExtractedFile{file("index.js", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_InvalidEnumIsBatchFailure(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{
		{content: `[{"severity":"urgent","category":"secrets","title":"x","confidence":0.5}]`},
	}}
	a := newAnalyzer(backend, 10.0)

	res, err := a.Analyze(context.Background(), []models.ExtractedFile{file("index.js", "x")})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Contains(t, res.Summary, "Reduced analysis depth")
}

func TestAnalyze_TracksTime(t *testing.T) {
	backend := &fakeBackend{responses: []fakeCall{{content: `[]`}}}
	a := newAnalyzer(backend, 10.0)

	start := time.Now()
	res, err := a.Analyze(context.Background(), []models.ExtractedFile{file("index.js", "x")})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.ProcessingTimeMs, time.Since(start).Milliseconds()+1)
}
