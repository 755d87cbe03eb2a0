package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

const estimatedAnalysisDuration = 5 * time.Minute

type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analysis_sessions (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	proposal_id TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL,
	s3_key TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	priority TEXT NOT NULL,
	frameworks JSONB NOT NULL DEFAULT '[]'::jsonb,
	provider TEXT NOT NULL DEFAULT '',
	callback_url TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	estimated_completion TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_sessions_status ON analysis_sessions(status);
CREATE INDEX IF NOT EXISTS idx_analysis_sessions_document ON analysis_sessions(document_id);

CREATE TABLE IF NOT EXISTS compliance_results (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	status TEXT NOT NULL,
	issues JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary JSONB NOT NULL DEFAULT '{}'::jsonb,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	ai_model TEXT NOT NULL,
	processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compliance_results_session ON compliance_results(session_id, generated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	frameworksJSON, err := json.Marshal(req.Frameworks)
	if err != nil {
		return "", fmt.Errorf("marshal frameworks: %w", err)
	}

	id := uuid.NewString()
	now := r.now().UTC()
	estimated := now.Add(estimatedAnalysisDuration)

	_, err = r.db.ExecContext(ctx, `
INSERT INTO analysis_sessions (
	id, document_id, proposal_id, filename, s3_key, analysis_type, priority, frameworks, provider, callback_url,
	status, progress, current_step, started_at, estimated_completion, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		id, req.DocumentID, req.ProposalID, req.Filename, req.StorageKey, req.AnalysisType, req.Priority,
		frameworksJSON, req.Provider, req.CallbackURL,
		string(domain.StatusQueued), 0.0, "Analysis queued", now, estimated, now,
	)
	if err != nil {
		return "", wrapDBError("insert session", err)
	}
	return id, nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, document_id, proposal_id, filename, s3_key, analysis_type, priority, frameworks, provider, callback_url,
	status, progress, current_step, error_message, started_at, completed_at, estimated_completion, updated_at
FROM analysis_sessions
WHERE id = $1
`, id)

	var (
		session       domain.Session
		frameworksRaw []byte
		status        string
		completedAt   sql.NullTime
		estimated     sql.NullTime
	)
	err := row.Scan(
		&session.ID, &session.DocumentID, &session.Request.ProposalID, &session.Filename, &session.StorageKey,
		&session.AnalysisType, &session.Priority, &frameworksRaw, &session.Request.Provider, &session.CallbackURL,
		&status, &session.Progress, &session.CurrentStep, &session.ErrorMessage,
		&session.StartedAt, &completedAt, &estimated, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
		}
		return nil, wrapDBError("scan session", err)
	}

	var frameworks []string
	if err := json.Unmarshal(frameworksRaw, &frameworks); err != nil {
		return nil, fmt.Errorf("unmarshal frameworks: %w", err)
	}

	session.Status = domain.SessionStatus(status)
	if completedAt.Valid {
		session.CompletedAt = &completedAt.Time
	}
	if estimated.Valid {
		session.EstimatedCompletion = &estimated.Time
	}
	session.Request = domain.AnalysisRequest{
		DocumentID:   session.DocumentID,
		Filename:     session.Filename,
		StorageKey:   session.StorageKey,
		ProposalID:   session.Request.ProposalID,
		Frameworks:   frameworks,
		AnalysisType: session.AnalysisType,
		Priority:     session.Priority,
		CallbackURL:  session.CallbackURL,
		Provider:     session.Request.Provider,
	}
	return &session, nil
}

func (r *SessionRepository) UpdateProgress(ctx context.Context, update domain.ProgressUpdate) error {
	now := r.now().UTC()
	var completedAt *time.Time
	if update.Status.Terminal() {
		completedAt = &now
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE analysis_sessions
SET status = $2, progress = $3, current_step = $4, error_message = $5,
	completed_at = COALESCE($6, completed_at), updated_at = $7
WHERE id = $1
`, update.SessionID, string(update.Status), update.Progress, update.Step, update.ErrorMessage, completedAt, now)
	if err != nil {
		return wrapDBError("update session progress", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapDBError("update session progress rows affected", err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, "update session progress", fmt.Errorf("id=%s", update.SessionID))
	}
	return nil
}

func (r *SessionRepository) StoreResult(ctx context.Context, results *domain.ComplianceResults) error {
	if results == nil {
		return fmt.Errorf("store result: %w: nil results", domain.ErrInvalidInput)
	}
	issues := results.Issues
	if issues == nil {
		issues = []domain.ComplianceIssue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	summaryJSON, err := json.Marshal(results.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	metadata := results.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO compliance_results (
	id, session_id, document_id, status, issues, summary, metadata, ai_model, processing_time, generated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, issues = EXCLUDED.issues, summary = EXCLUDED.summary,
	metadata = EXCLUDED.metadata, ai_model = EXCLUDED.ai_model,
	processing_time = EXCLUDED.processing_time, generated_at = EXCLUDED.generated_at
`,
		results.ID, results.SessionID, results.DocumentID, string(results.Status), issuesJSON, summaryJSON,
		metadataJSON, results.AIModel, results.ProcessingTime, results.GeneratedAt,
	)
	if err != nil {
		return wrapDBError("insert compliance results", err)
	}
	return nil
}

func (r *SessionRepository) GetResult(ctx context.Context, sessionID string) (*domain.ComplianceResults, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, session_id, document_id, status, issues, summary, metadata, ai_model, processing_time, generated_at
FROM compliance_results
WHERE session_id = $1
ORDER BY generated_at DESC
LIMIT 1
`, sessionID)

	var (
		results     domain.ComplianceResults
		status      string
		issuesRaw   []byte
		summaryRaw  []byte
		metadataRaw []byte
	)
	err := row.Scan(
		&results.ID, &results.SessionID, &results.DocumentID, &status, &issuesRaw, &summaryRaw, &metadataRaw,
		&results.AIModel, &results.ProcessingTime, &results.GeneratedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrResultNotFound, "get result", fmt.Errorf("session_id=%s", sessionID))
		}
		return nil, wrapDBError("scan compliance results", err)
	}

	if err := json.Unmarshal(issuesRaw, &results.Issues); err != nil {
		return nil, fmt.Errorf("unmarshal issues: %w", err)
	}
	if err := json.Unmarshal(summaryRaw, &results.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal(metadataRaw, &results.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	results.Status = domain.ComplianceStatus(status)
	return &results, nil
}
