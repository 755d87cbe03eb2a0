package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/config"
	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/processing"
	"github.com/kirillkom/proposal-compliance/internal/core/provider"
	"github.com/kirillkom/proposal-compliance/internal/observability/metrics"
)

type uploaderFake struct {
	err error
}

func (f uploaderFake) Upload(_ context.Context, filename, mimeType string, body io.Reader) (*domain.UploadedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &domain.UploadedDocument{
		ID:          "doc-1",
		Filename:    filename,
		FileSize:    int64(len(raw)),
		MimeType:    mimeType,
		Status:      "completed",
		Progress:    100,
		StorageKey:  "uploads/doc-1_" + filename,
		StartedAt:   now,
		CompletedAt: now,
	}, nil
}

type analysisFake struct {
	startErr   error
	started    []domain.AnalysisRequest
	session    *domain.Session
	statusErr  error
	results    *domain.ComplianceResults
	resultsErr error
	cancelled  bool
	cancelErr  error
	report     []byte
	reportErr  error
}

func (f *analysisFake) Start(_ context.Context, req domain.AnalysisRequest) (*domain.Session, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	eta := time.Now().UTC().Add(5 * time.Minute)
	return &domain.Session{ID: "sess-1", Status: domain.StatusQueued, EstimatedCompletion: &eta}, nil
}

func (f *analysisFake) Status(_ context.Context, sessionID string) (*domain.Session, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.session == nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	return f.session, nil
}

func (f *analysisFake) Results(context.Context, string) (*domain.ComplianceResults, error) {
	return f.results, f.resultsErr
}

func (f *analysisFake) Cancel(context.Context, string) (bool, error) {
	return f.cancelled, f.cancelErr
}

func (f *analysisFake) ExportReport(context.Context, string) ([]byte, string, error) {
	if f.reportErr != nil {
		return nil, "", f.reportErr
	}
	return f.report, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil
}

type queueFake struct{}

func (queueFake) QueueStatus() processing.QueueStatus {
	return processing.QueueStatus{QueueSize: 2, ActiveTasks: 1, MaxWorkers: 5}
}

type providersFake struct {
	health []provider.Health
}

func (f providersFake) Health(context.Context) []provider.Health { return f.health }

func newTestRouter(t *testing.T, cfg config.Config, deps Dependencies) http.Handler {
	t.Helper()
	if deps.Uploader == nil {
		deps.Uploader = uploaderFake{}
	}
	if deps.Analysis == nil {
		deps.Analysis = &analysisFake{}
	}
	router, err := NewRouter(cfg, deps)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(bytes.NewReader(res.Body.Bytes())).Decode(&body); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, res.Body.String())
	}
	return body
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthReportsDegradedWhenOneProviderDown(t *testing.T) {
	handler := newTestRouter(t, config.Config{Environment: "test"}, Dependencies{
		Providers: providersFake{health: []provider.Health{
			{Kind: provider.KindCloud, Name: "cloud", Available: false, Error: "no key"},
			{Kind: provider.KindSimulated, Name: "simulated", Available: true},
		}},
		Queue: queueFake{},
		Hub:   processing.NewBroadcaster(nil),
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["status"] != "degraded" {
		t.Fatalf("expected degraded, got %v", body["status"])
	}
	if body["version"] != serviceVersion || body["environment"] != "test" {
		t.Fatalf("unexpected version/environment: %v", body)
	}
	checks := body["checks"].(map[string]any)
	if _, ok := checks["queue"]; !ok {
		t.Fatalf("expected queue check, got %v", checks)
	}
}

func TestHealthUnhealthyWithoutProviders(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Providers: providersFake{health: []provider.Health{{Kind: provider.KindLocal, Available: false}}},
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestHealthFailingCheckDegrades(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Checks: map[string]HealthCheck{
			"nats": func(context.Context) error { return errors.New("disconnected") },
		},
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	body := decodeBody(t, res)
	if body["status"] != "degraded" {
		t.Fatalf("expected degraded, got %v", body["status"])
	}
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadDocumentSuccess(t *testing.T) {
	m := metrics.NewHTTPServerMetrics(serviceName)
	handler := newTestRouter(t, config.Config{}, Dependencies{Metrics: m})

	body, contentType := multipartUpload(t, "file", "proposal.pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	payload := decodeBody(t, res)
	if payload["filename"] != "proposal.pdf" || payload["s3Key"] == "" {
		t.Fatalf("unexpected upload payload: %v", payload)
	}
}

func TestUploadDocumentRequiresFileField(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{})

	body, contentType := multipartUpload(t, "other", "proposal.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadDocumentMapsInvalidInput(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Uploader: uploaderFake{err: fmt.Errorf("%w: only PDF files are supported", domain.ErrInvalidInput)},
	})

	body, contentType := multipartUpload(t, "file", "notes.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(requestIDHeader, "req-42")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	payload := decodeBody(t, res)
	if payload["code"] != "INVALID_INPUT" || payload["request_id"] != "req-42" {
		t.Fatalf("unexpected error payload: %v", payload)
	}
}

func TestUploadDocumentTooLarge(t *testing.T) {
	handler := newTestRouter(t, config.Config{MaxUploadBytes: 64}, Dependencies{})

	body, contentType := multipartUpload(t, "file", "big.pdf", bytes.Repeat([]byte("a"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

const validStartBody = `{"document_id":"doc-1","filename":"proposal.pdf","s3_key":"uploads/doc-1_proposal.pdf","priority":"high","proposal_id":"prop-9"}`

func TestStartAnalysisAccepted(t *testing.T) {
	analysis := &analysisFake{}
	handler := newTestRouter(t, config.Config{}, Dependencies{Analysis: analysis})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(validStartBody))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeBody(t, res)
	if body["session_id"] != "sess-1" || body["status"] != "queued" || body["proposal_id"] != "prop-9" {
		t.Fatalf("unexpected start payload: %v", body)
	}
	if len(analysis.started) != 1 || analysis.started[0].StorageKey != "uploads/doc-1_proposal.pdf" {
		t.Fatalf("expected request forwarded intact, got %+v", analysis.started)
	}
}

func TestStartAnalysisRejectsSchemaViolation(t *testing.T) {
	analysis := &analysisFake{}
	handler := newTestRouter(t, config.Config{}, Dependencies{Analysis: analysis})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(`{"document_id":"doc-1"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(analysis.started) != 0 {
		t.Fatalf("invalid request must not reach the service")
	}
	if body := decodeBody(t, res); body["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestStartAnalysisNotAcceptingReturns503(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Analysis: &analysisFake{startErr: fmt.Errorf("submit session s: %w", domain.ErrNotAccepting)},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/start", strings.NewReader(validStartBody))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["code"] != "QUEUE_UNAVAILABLE" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestAnalysisStatus(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Analysis: &analysisFake{session: &domain.Session{
			ID:          "sess-1",
			Status:      domain.StatusAnalyzing,
			Progress:    40,
			CurrentStep: "Running compliance analysis",
			StartedAt:   started,
		}},
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/sess-1", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	if body["status"] != "analyzing" || body["progress"].(float64) != 40 {
		t.Fatalf("unexpected status payload: %v", body)
	}
	if body["error_message"] != nil {
		t.Fatalf("expected null error_message, got %v", body["error_message"])
	}
}

func TestAnalysisStatusNotFound(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{Analysis: &analysisFake{}})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/missing", nil))

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if body := decodeBody(t, res); body["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestAnalysisResultsStates(t *testing.T) {
	tests := []struct {
		name        string
		fake        *analysisFake
		wantCode    int
		wantSuccess bool
		wantMessage string
	}{
		{
			name:        "completed",
			fake:        &analysisFake{results: &domain.ComplianceResults{ID: "r-1", Status: domain.CompliancePass}},
			wantCode:    http.StatusOK,
			wantSuccess: true,
			wantMessage: "Analysis results retrieved successfully",
		},
		{
			name:        "not ready",
			fake:        &analysisFake{resultsErr: fmt.Errorf("session s is analyzing: %w", domain.ErrResultNotReady)},
			wantCode:    http.StatusOK,
			wantMessage: "Analysis is not yet completed",
		},
		{
			name:        "missing result",
			fake:        &analysisFake{resultsErr: fmt.Errorf("get result: %w", domain.ErrResultNotFound)},
			wantCode:    http.StatusOK,
			wantMessage: "Analysis completed but results not found",
		},
		{
			name:     "missing session",
			fake:     &analysisFake{resultsErr: fmt.Errorf("get session: %w", domain.ErrSessionNotFound)},
			wantCode: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(t, config.Config{}, Dependencies{Analysis: tc.fake})
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/sess-1/results", nil))

			if res.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, res.Code)
			}
			if tc.wantMessage == "" {
				return
			}
			body := decodeBody(t, res)
			if body["success"] != tc.wantSuccess || body["message"] != tc.wantMessage {
				t.Fatalf("unexpected results payload: %v", body)
			}
		})
	}
}

func TestExportReport(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Analysis: &analysisFake{report: []byte("PK\x03\x04")},
		Metrics:  metrics.NewHTTPServerMetrics(serviceName),
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/sess-1/results.xlsx", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "compliance_sess-1.xlsx") {
		t.Fatalf("unexpected disposition: %q", res.Header().Get("Content-Disposition"))
	}
	if res.Body.String() != "PK\x03\x04" {
		t.Fatalf("unexpected report body")
	}
}

func TestExportReportNotReadyIsConflict(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Analysis: &analysisFake{reportErr: fmt.Errorf("x: %w", domain.ErrResultNotReady)},
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/sess-1/results.xlsx", nil))

	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", res.Code)
	}
}

func TestCancelAnalysis(t *testing.T) {
	for _, cancelled := range []bool{true, false} {
		handler := newTestRouter(t, config.Config{}, Dependencies{Analysis: &analysisFake{cancelled: cancelled}})
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/api/analysis/sess-1/cancel", nil))

		if res.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
		}
		body := decodeBody(t, res)
		if body["success"] != cancelled {
			t.Fatalf("expected success=%v, got %v", cancelled, body)
		}
	}
}

func TestProcessingStatus(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{Queue: queueFake{}})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/processing/status", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	body := decodeBody(t, res)
	status := body["status"].(map[string]any)
	if status["queue_size"].(float64) != 2 || status["max_workers"].(float64) != 5 {
		t.Fatalf("unexpected queue status: %v", status)
	}
}

func TestProcessingStatusRemoteDispatch(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/processing/status", nil))

	body := decodeBody(t, res)
	status := body["status"].(map[string]any)
	if status["mode"] != "remote" {
		t.Fatalf("expected remote mode, got %v", status)
	}
}

func TestInternalErrorHidesDetails(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{
		Analysis: &analysisFake{statusErr: errors.New("pq: connection refused to 10.0.0.5")},
	})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/analysis/sess-1", nil))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	if strings.Contains(res.Body.String(), "10.0.0.5") {
		t.Fatalf("internal error details leaked: %s", res.Body.String())
	}
}

func TestMetricsEndpointServesHTTPSeries(t *testing.T) {
	handler := newTestRouter(t, config.Config{}, Dependencies{Metrics: metrics.NewHTTPServerMetrics(serviceName)})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "pca_http_requests_total") {
		t.Fatalf("expected http request series in metrics output")
	}
}
