package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/planfox/reports_backend/models"
)

// ResetReport discards all generated content and returns the report to the
// outline approval step. The outline itself is kept so the user can adjust it
// before re-approving. Allowed from generating (abandoning the in-flight run)
// and from failed; an in-flight run is cancelled before rows are touched so
// it cannot race the cleanup.
func ResetReport(ctx context.Context, deps PipelineDeps, reportId int) (*models.Report, error) {
	report, err := deps.Store.GetReport(ctx, reportId)
	if err != nil {
		return nil, err
	}
	if report.Status != models.ReportStatusGenerating && report.Status != models.ReportStatusFailed {
		return nil, fmt.Errorf("report %d cannot be reset (status=%s)", reportId, report.Status)
	}

	deps.Progress.CancelRun(reportId)

	if err := deps.Store.DeleteSections(ctx, reportId); err != nil {
		return nil, err
	}
	if err := deps.Store.UpdateReport(ctx, reportId, map[string]interface{}{
		"status":                models.ReportStatusTocPending,
		"current_section_index": 0,
		"has_edited_content":    false,
	}); err != nil {
		return nil, err
	}

	// Planning data may have changed since the aborted run started.
	deps.Context.InvalidateCache(reportId)

	return deps.Store.GetReport(ctx, reportId)
}
