package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kirillkom/proposal-compliance/internal/config"
	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
	"github.com/kirillkom/proposal-compliance/internal/core/processing"
	"github.com/kirillkom/proposal-compliance/internal/core/provider"
	"github.com/kirillkom/proposal-compliance/internal/observability/metrics"
)

const (
	serviceName    = "api"
	serviceVersion = "1.0.0"
	uploadMemory   = 32 << 20
)

// AnalysisService is the analysis contract plus report export.
type AnalysisService interface {
	ports.AnalysisService
	ExportReport(ctx context.Context, sessionID string) ([]byte, string, error)
}

// QueueReporter exposes the local worker pool snapshot.
type QueueReporter interface {
	QueueStatus() processing.QueueStatus
}

// ProviderHealth probes every registered analysis provider.
type ProviderHealth interface {
	Health(ctx context.Context) []provider.Health
}

// SubscriberHub is where websocket clients attach for progress events.
type SubscriberHub interface {
	Subscribe(sub processing.Subscriber)
	Unsubscribe(sub processing.Subscriber)
	Count() int
}

// HealthCheck reports a dependency failure as a non-nil error.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Uploader  ports.DocumentUploader
	Analysis  AnalysisService
	Queue     QueueReporter
	Providers ProviderHealth
	Hub       SubscriberHub
	Checks    map[string]HealthCheck
	Metrics   *metrics.HTTPServerMetrics
	// MetricsHandler overrides Metrics.Handler, e.g. to merge worker series.
	MetricsHandler http.Handler
	MCP            http.Handler
	Logger         *slog.Logger
}

type Router struct {
	cfg       config.Config
	deps      Dependencies
	validator *requestValidator
	logger    *slog.Logger
}

func NewRouter(cfg config.Config, deps Dependencies) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		deps:      deps,
		validator: validator,
		logger:    logger,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware(rt.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", requestIDHeader},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", rt.healthz)
	r.Get("/ws", rt.streamProgress)
	if rt.deps.Metrics != nil || rt.deps.MetricsHandler != nil {
		r.Handle("/metrics", rt.metricsHandler())
	}
	if rt.deps.MCP != nil {
		r.Handle("/mcp", rt.deps.MCP)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimitMiddleware(rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst))
		api.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
		})

		api.Get("/health", rt.health)
		api.Post("/documents/upload", rt.uploadDocument)
		api.With(rt.validator.operation("/api/analysis/start")).Post("/analysis/start", rt.startAnalysis)
		api.Get("/analysis/{sessionId}", rt.analysisStatus)
		api.Get("/analysis/{sessionId}/results", rt.analysisResults)
		api.Get("/analysis/{sessionId}/results.xlsx", rt.exportReport)
		api.With(rt.validator.operation("/api/analysis/{sessionId}/cancel")).Post("/analysis/{sessionId}/cancel", rt.cancelAnalysis)
		api.Get("/processing/status", rt.processingStatus)
	})

	if rt.deps.Metrics != nil {
		return rt.deps.Metrics.Middleware(serviceName, r)
	}
	return r
}

func (rt *Router) metricsHandler() http.Handler {
	if rt.deps.MetricsHandler != nil {
		return rt.deps.MetricsHandler
	}
	return rt.deps.Metrics.Handler()
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// health reports healthy when every provider and dependency check passes,
// degraded while at least one provider still works, unhealthy otherwise.
func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "healthy"
	checks := map[string]any{}

	if rt.deps.Providers != nil {
		providers := rt.deps.Providers.Health(ctx)
		available := 0
		for _, p := range providers {
			if p.Available {
				available++
			}
		}
		switch {
		case available == 0:
			status = "unhealthy"
		case available < len(providers):
			status = "degraded"
		}
		checks["providers"] = providers
	}

	for name, check := range rt.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = map[string]any{"status": "unhealthy", "error": err.Error()}
			if status == "healthy" {
				status = "degraded"
			}
			continue
		}
		checks[name] = map[string]any{"status": "healthy"}
	}

	if rt.deps.Hub != nil {
		checks["websocket_clients"] = rt.deps.Hub.Count()
	}
	if rt.deps.Queue != nil {
		qs := rt.deps.Queue.QueueStatus()
		checks["queue"] = map[string]any{
			"queue_size":   qs.QueueSize,
			"active_tasks": qs.ActiveTasks,
			"max_workers":  qs.MaxWorkers,
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":      status,
		"version":     serviceVersion,
		"environment": rt.cfg.Environment,
		"timestamp":   time.Now().UTC(),
		"checks":      checks,
	})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeErrorMessage(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				fmt.Sprintf("file exceeds %d bytes", rt.cfg.MaxUploadBytes))
			return
		}
		writeErrorMessage(w, r, http.StatusBadRequest, "INVALID_INPUT", "multipart form is required")
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "INVALID_INPUT", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	doc, err := rt.deps.Uploader.Upload(
		r.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordUpload(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req domain.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, "INVALID_INPUT", "invalid json")
		return
	}

	session, err := rt.deps.Analysis.Start(r.Context(), req)
	if rt.deps.Metrics != nil && !domain.IsKind(err, domain.ErrInvalidInput) {
		rt.deps.Metrics.RecordSubmission(serviceName, req.Priority, err == nil)
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrNotAccepting) {
			w.Header().Set("Retry-After", "5")
		}
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":              true,
		"session_id":           session.ID,
		"proposal_id":          req.ProposalID,
		"status":               session.Status,
		"estimated_completion": session.EstimatedCompletion,
		"message":              "Analysis queued successfully",
	})
}

func (rt *Router) analysisStatus(w http.ResponseWriter, r *http.Request) {
	session, err := rt.deps.Analysis.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"session_id":           session.ID,
		"status":               session.Status,
		"progress":             session.Progress,
		"current_step":         session.CurrentStep,
		"started_at":           session.StartedAt,
		"completed_at":         session.CompletedAt,
		"estimated_completion": session.EstimatedCompletion,
		"error_message":        nullableString(session.ErrorMessage),
	})
}

func (rt *Router) analysisResults(w http.ResponseWriter, r *http.Request) {
	results, err := rt.deps.Analysis.Results(r.Context(), chi.URLParam(r, "sessionId"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"results": results,
			"message": "Analysis results retrieved successfully",
		})
	case domain.IsKind(err, domain.ErrResultNotReady):
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"results": nil,
			"message": "Analysis is not yet completed",
		})
	case domain.IsKind(err, domain.ErrResultNotFound):
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"results": nil,
			"message": "Analysis completed but results not found",
		})
	default:
		writeError(w, r, err)
	}
}

func (rt *Router) exportReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	data, contentType, err := rt.deps.Analysis.ExportReport(r.Context(), sessionID)
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordReportExport(serviceName, err)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "compliance_"+sessionID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (rt *Router) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	cancelled, err := rt.deps.Analysis.Cancel(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	message := "Analysis session could not be cancelled"
	if cancelled {
		message = "Analysis session cancelled successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": cancelled,
		"message": message,
	})
}

func (rt *Router) processingStatus(w http.ResponseWriter, _ *http.Request) {
	var status any = map[string]any{"mode": "remote"}
	if rt.deps.Queue != nil {
		status = rt.deps.Queue.QueueStatus()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"code":       code,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Default().Error("http_internal_error", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	writeErrorMessage(w, r, status, errorCode(err), message)
}
