package mcpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

// sessionView is the JSON returned by analysis_status.
type sessionView struct {
	SessionID    string               `json:"session_id"`
	DocumentID   string               `json:"document_id"`
	Status       domain.SessionStatus `json:"status"`
	Progress     float64              `json:"progress"`
	CurrentStep  string               `json:"current_step"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

func handleQueueStatus(queue QueueReporter) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if queue == nil {
			return gomcp.NewToolResultText("Analyses run on remote workers; no local queue on this node."), nil
		}
		return jsonResult(queue.QueueStatus())
	}
}

func handleAnalysisStatus(analysis ports.AnalysisService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sessionID := strings.TrimSpace(req.GetString("session_id", ""))
		if sessionID == "" {
			return gomcp.NewToolResultError("missing required parameter: session_id"), nil
		}
		session, err := analysis.Status(ctx, sessionID)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(sessionView{
			SessionID:    session.ID,
			DocumentID:   session.DocumentID,
			Status:       session.Status,
			Progress:     session.Progress,
			CurrentStep:  session.CurrentStep,
			ErrorMessage: session.ErrorMessage,
		})
	}
}

func handleGetResults(analysis ports.AnalysisService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sessionID := strings.TrimSpace(req.GetString("session_id", ""))
		if sessionID == "" {
			return gomcp.NewToolResultError("missing required parameter: session_id"), nil
		}
		results, err := analysis.Results(ctx, sessionID)
		if err != nil {
			if domain.IsKind(err, domain.ErrResultNotReady) {
				return gomcp.NewToolResultText("Analysis is not yet completed."), nil
			}
			return toolError(err), nil
		}
		return jsonResult(results)
	}
}

func handleCancel(analysis ports.AnalysisService, logger *slog.Logger) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		sessionID := strings.TrimSpace(req.GetString("session_id", ""))
		if sessionID == "" {
			return gomcp.NewToolResultError("missing required parameter: session_id"), nil
		}
		cancelled, err := analysis.Cancel(ctx, sessionID)
		if err != nil {
			return toolError(err), nil
		}
		logger.Info("mcp_cancel_analysis", "session_id", sessionID, "cancelled", cancelled)
		if !cancelled {
			return gomcp.NewToolResultText("Analysis session could not be cancelled."), nil
		}
		return gomcp.NewToolResultText("Analysis session cancelled successfully."), nil
	}
}

func jsonResult(v any) (*gomcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return gomcp.NewToolResultError("failed to marshal response: " + err.Error()), nil
	}
	return gomcp.NewToolResultText(string(data)), nil
}

// toolError maps domain errors onto tool-level error results.
func toolError(err error) *gomcp.CallToolResult {
	switch {
	case domain.IsKind(err, domain.ErrSessionNotFound):
		return gomcp.NewToolResultError("session not found")
	case domain.IsKind(err, domain.ErrResultNotFound):
		return gomcp.NewToolResultError("analysis completed but results not found")
	default:
		return gomcp.NewToolResultError("request failed: " + err.Error())
	}
}
