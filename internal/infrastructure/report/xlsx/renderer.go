// Package xlsx renders compliance results as an Excel workbook.
package xlsx

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

const (
	summarySheet = "Summary"
	issuesSheet  = "Issues"
)

var issueHeader = []any{"ID", "Severity", "Title", "Description", "Regulation", "Section", "Reference", "Remediation", "Confidence", "Page"}

type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

func (r *Renderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (r *Renderer) Render(ctx context.Context, results *domain.ComplianceResults) ([]byte, error) {
	if results == nil {
		return nil, fmt.Errorf("%w: no results to render", domain.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSummary(f, results); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return nil, fmt.Errorf("create issues sheet: %w", err)
	}
	if err := writeIssues(f, results.Issues); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, results *domain.ComplianceResults) error {
	rows := [][]any{
		{"Session", results.SessionID},
		{"Document", results.DocumentID},
		{"Status", string(results.Status)},
		{"Overall score", results.Summary.OverallScore},
		{"Pass threshold", results.Summary.PassThreshold},
		{"Total issues", results.Summary.TotalIssues},
		{"Critical", results.Summary.CriticalCount},
		{"Warning", results.Summary.WarningCount},
		{"Info", results.Summary.InfoCount},
		{"Model", results.AIModel},
		{"Generated at", results.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
		{"Processing time (s)", results.ProcessingTime},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}
	return f.SetColWidth(summarySheet, "A", "A", 22)
}

func writeIssues(f *excelize.File, issues []domain.ComplianceIssue) error {
	header := issueHeader
	if err := f.SetSheetRow(issuesSheet, "A1", &header); err != nil {
		return fmt.Errorf("write issues header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(issuesSheet, 1, 1, style)
	}

	for i, issue := range issues {
		page := ""
		if issue.Location != nil && issue.Location.Page > 0 {
			page = fmt.Sprint(issue.Location.Page)
		}
		row := []any{
			issue.ID,
			string(issue.Severity),
			issue.Title,
			issue.Description,
			issue.Regulation.Regulation,
			issue.Regulation.Section,
			issue.Regulation.URL,
			issue.Remediation,
			issue.Confidence,
			page,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(issuesSheet, cell, &row); err != nil {
			return fmt.Errorf("write issue row %d: %w", i+2, err)
		}
	}
	return f.SetColWidth(issuesSheet, "C", "D", 48)
}
