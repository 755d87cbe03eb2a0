// Package mcpadapter exposes analysis sessions as MCP tools so assistants
// can inspect and steer the queue.
package mcpadapter

import (
	"log/slog"
	"net/http"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/proposal-compliance/internal/core/ports"
	"github.com/kirillkom/proposal-compliance/internal/core/processing"
)

const serverInstructions = "Proposal compliance analysis service. " +
	"Use queue_status to see worker load, analysis_status to follow one session " +
	"and get_results once it has completed. cancel_analysis stops a queued or running session."

// QueueReporter exposes the local worker pool snapshot. It may be nil when
// analyses run on remote workers.
type QueueReporter interface {
	QueueStatus() processing.QueueStatus
}

type Server struct {
	server   *mcpserver.MCPServer
	analysis ports.AnalysisService
	queue    QueueReporter
	logger   *slog.Logger
}

func NewServer(version string, analysis ports.AnalysisService, queue QueueReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := mcpserver.NewMCPServer(
		"proposal-compliance",
		version,
		mcpserver.WithInstructions(serverInstructions),
	)

	srv := &Server{
		server:   s,
		analysis: analysis,
		queue:    queue,
		logger:   logger,
	}
	srv.registerTools()
	return srv
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.server)
}

func (s *Server) registerTools() {
	queueStatus := gomcp.NewTool("queue_status",
		gomcp.WithDescription("Report queue size, active tasks and per-worker statistics."),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.server.AddTool(queueStatus, handleQueueStatus(s.queue))

	analysisStatus := gomcp.NewTool("analysis_status",
		gomcp.WithDescription("Show status, progress and current step of one analysis session."),
		gomcp.WithString("session_id",
			gomcp.Required(),
			gomcp.Description("Analysis session identifier"),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.server.AddTool(analysisStatus, handleAnalysisStatus(s.analysis))

	getResults := gomcp.NewTool("get_results",
		gomcp.WithDescription("Fetch compliance issues and the overall score of a completed session."),
		gomcp.WithString("session_id",
			gomcp.Required(),
			gomcp.Description("Analysis session identifier"),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.server.AddTool(getResults, handleGetResults(s.analysis))

	cancel := gomcp.NewTool("cancel_analysis",
		gomcp.WithDescription("Cancel a queued or running analysis session."),
		gomcp.WithString("session_id",
			gomcp.Required(),
			gomcp.Description("Analysis session identifier"),
		),
		gomcp.WithDestructiveHintAnnotation(true),
	)
	s.server.AddTool(cancel, handleCancel(s.analysis, s.logger))
}
