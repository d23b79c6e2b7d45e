// Package mcp exposes the review pipeline as MCP tools over stdio, so
// marketplace tooling and agents can run and query reviews.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moltstore/appreview/internal/models"
	"github.com/moltstore/appreview/internal/review"
	"github.com/moltstore/appreview/internal/store"
)

// Server wraps the review pipeline and store as MCP tools.
type Server struct {
	runner *review.Runner
	store  store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(runner *review.Runner, st store.Store) *Server {
	return &Server{runner: runner, store: st}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("appreview", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.runReviewTool())
	srv.AddTool(s.quickScanTool())
	srv.AddTool(s.getReviewTool())
	srv.AddTool(s.listReviewsTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// review_run
func (s *Server) runReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_run",
		mcp.WithDescription("Run a full security review of an app archive: extraction, pattern scan, AI static analysis, agent-safety analysis, optional sandbox execution, and scoring. Returns the persisted review as JSON."),
		mcp.WithString("app_id", mcp.Required(), mcp.Description("Marketplace app identifier")),
		mcp.WithString("file_hash", mcp.Required(), mcp.Description("Content hash of the uploaded archive")),
		mcp.WithString("archive_path", mcp.Required(), mcp.Description("Path to the .zip, .tar, or .tar.gz archive")),
	)
	return tool, s.handleRunReview
}

func (s *Server) handleRunReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := request.RequireString("app_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: app_id"), nil
	}
	fileHash, err := request.RequireString("file_hash")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: file_hash"), nil
	}
	archivePath, err := request.RequireString("archive_path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: archive_path"), nil
	}

	result, err := s.runner.Run(ctx, appID, fileHash, archivePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review failed: %v", err)), nil
	}
	return marshalResult(result)
}

// review_quick_scan
func (s *Server) quickScanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_quick_scan",
		mcp.WithDescription("Run a fast pattern-only scan of an app archive. No AI calls, no sandbox, nothing persisted. Returns findings and a basic score as JSON."),
		mcp.WithString("archive_path", mcp.Required(), mcp.Description("Path to the .zip, .tar, or .tar.gz archive")),
	)
	return tool, s.handleQuickScan
}

func (s *Server) handleQuickScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	archivePath, err := request.RequireString("archive_path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: archive_path"), nil
	}

	result, err := s.runner.QuickScan(ctx, archivePath)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("quick scan failed: %v", err)), nil
	}
	return marshalResult(result)
}

// review_get
func (s *Server) getReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_get",
		mcp.WithDescription("Get a stored review by id, or the most recent review for an app_id/file_hash pair. Returns the review as JSON."),
		mcp.WithString("id", mcp.Description("Review id")),
		mcp.WithString("app_id", mcp.Description("Marketplace app identifier (requires file_hash)")),
		mcp.WithString("file_hash", mcp.Description("Content hash of the uploaded archive")),
	)
	return tool, s.handleGetReview
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	appID := request.GetString("app_id", "")
	fileHash := request.GetString("file_hash", "")

	var (
		result *models.ReviewResult
		err    error
	)
	switch {
	case id != "":
		result, err = s.store.GetReview(ctx, id)
	case appID != "" && fileHash != "":
		result, err = s.store.GetReviewByAppAndHash(ctx, appID, fileHash)
	default:
		return mcp.NewToolResultError("provide either id, or both app_id and file_hash"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review not found: %v", err)), nil
	}
	return marshalResult(result)
}

// review_list
func (s *Server) listReviewsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("review_list",
		mcp.WithDescription("List stored reviews, newest first, optionally filtered by app_id. Returns a JSON array with id, app id, status, scores, recommendation, and timestamps."),
		mcp.WithString("app_id", mcp.Description("Filter by marketplace app identifier")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 20)")),
	)
	return tool, s.handleListReviews
}

func (s *Server) handleListReviews(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID := request.GetString("app_id", "")
	limit := request.GetInt("limit", 20)

	reviews, err := s.store.ListReviews(ctx, appID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reviews: %v", err)), nil
	}

	type reviewOut struct {
		ID             string `json:"id"`
		AppID          string `json:"appId"`
		FileHash       string `json:"fileHash"`
		Status         string `json:"status"`
		OverallScore   int    `json:"overallScore"`
		SecurityScore  int    `json:"securityScore"`
		Recommendation string `json:"recommendation"`
		CriticalCount  int    `json:"criticalCount"`
		HighCount      int    `json:"highCount"`
		CreatedAt      string `json:"createdAt"`
	}

	out := make([]reviewOut, len(reviews))
	for i, r := range reviews {
		out[i] = reviewOut{
			ID:             r.ID,
			AppID:          r.AppID,
			FileHash:       r.FileHash,
			Status:         string(r.Status),
			OverallScore:   r.OverallScore,
			SecurityScore:  r.SecurityScore,
			Recommendation: string(r.Recommendation),
			CriticalCount:  r.CriticalCount,
			HighCount:      r.HighCount,
			CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal reviews: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// marshalResult renders a full review result for tool output.
func marshalResult(r *models.ReviewResult) (*mcp.CallToolResult, error) {
	out := map[string]any{
		"id":             r.ID,
		"appId":          r.AppID,
		"fileHash":       r.FileHash,
		"status":         string(r.Status),
		"overallScore":   r.OverallScore,
		"securityScore":  r.SecurityScore,
		"findings":       r.Findings,
		"criticalCount":  r.CriticalCount,
		"highCount":      r.HighCount,
		"mediumCount":    r.MediumCount,
		"lowCount":       r.LowCount,
		"recommendation": string(r.Recommendation),
		"summary":        r.Summary,
		"stages":         r.Stages,
		"tokensUsed":     r.TokensUsed,
		"costEstimate":   r.CostEstimate,
	}
	if r.CodeQualityScore != nil {
		out["codeQualityScore"] = *r.CodeQualityScore
	}
	if r.AgentSafetyScore != nil {
		out["agentSafetyScore"] = *r.AgentSafetyScore
	}
	if r.SandboxScore != nil {
		out["sandboxScore"] = *r.SandboxScore
	}
	if !r.CreatedAt.IsZero() {
		out["createdAt"] = r.CreatedAt.Format(time.RFC3339)
	}
	if r.ErrorMessage != "" {
		out["errorMessage"] = r.ErrorMessage
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal review: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
