package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
)

// ApproveInput carries the outline the user confirmed plus the generation
// settings that may be adjusted one last time at approval.
type ApproveInput struct {
	TableOfContents []models.TocSection    `json:"table_of_contents" binding:"required"`
	GenerationMode  *models.GenerationMode `json:"generation_mode"`
	ContentLength   *models.ContentLength  `json:"content_length"`
	DisciplineId    *int                   `json:"discipline_id"`
	TradeId         *int                   `json:"trade_id"`
}

type ApproveResult struct {
	Status      models.ReportStatus `json:"status"`
	NextSection int                 `json:"nextSection"`
}

// ApproveRejection is the caller-fixable outcome: either the outline failed
// validation or another user holds the report. In both cases nothing was
// mutated.
type ApproveRejection struct {
	ValidationErrors []string      `json:"validation_errors,omitempty"`
	LockConflict     *LockConflict `json:"lock_conflict,omitempty"`
}

// ApproveTableOfContents freezes the outline, seeds the section rows and
// launches the generation run as a detached background task. The report must
// be awaiting outline approval; all outline violations are reported at once
// and nothing is written until every check has passed.
func ApproveTableOfContents(ctx context.Context, deps PipelineDeps, reportId int, actorId string, actorName string, input ApproveInput) (*ApproveResult, *ApproveRejection, error) {
	report, err := deps.Store.GetReport(ctx, reportId)
	if err != nil {
		return nil, nil, err
	}
	if report.Status != models.ReportStatusTocPending {
		return nil, nil, fmt.Errorf("report %d is not awaiting outline approval (status=%s)", reportId, report.Status)
	}

	violations := ValidateTableOfContents(input.TableOfContents)
	if input.GenerationMode != nil && !input.GenerationMode.IsValid() {
		violations = append(violations, fmt.Sprintf("generation mode %q is not valid", *input.GenerationMode))
	}
	if input.ContentLength != nil && !input.ContentLength.IsValid() {
		violations = append(violations, fmt.Sprintf("content length %q is not valid", *input.ContentLength))
	}
	if len(violations) > 0 {
		return nil, &ApproveRejection{ValidationErrors: violations}, nil
	}

	admission := ObtainApprovalAdmissionLock(ctx, deps.Logger, reportId)
	defer ReleaseApprovalAdmissionLock(ctx, deps.Logger, reportId, admission)

	// Re-read under the admission lock; the lock fields may have changed
	// since the first read.
	report, err = deps.Store.GetReport(ctx, reportId)
	if err != nil {
		return nil, nil, err
	}
	if report.Status != models.ReportStatusTocPending {
		return nil, nil, fmt.Errorf("report %d is not awaiting outline approval (status=%s)", reportId, report.Status)
	}

	now := time.Now().UTC()
	if conflict := CheckReportLock(report, actorId, now); conflict != nil {
		return nil, &ApproveRejection{LockConflict: conflict}, nil
	}

	toc := models.TableOfContents{
		Version:  report.TableOfContents.Version + 1,
		Sections: input.TableOfContents,
	}

	updates := map[string]interface{}{
		"status":                models.ReportStatusGenerating,
		"table_of_contents":     toc,
		"current_section_index": 0,
		"locked_by":             actorId,
		"locked_by_name":        actorName,
		"locked_at":             &now,
	}
	if input.GenerationMode != nil {
		updates["generation_mode"] = *input.GenerationMode
	}
	if input.ContentLength != nil {
		updates["content_length"] = *input.ContentLength
	}
	if input.DisciplineId != nil {
		updates["discipline_id"] = input.DisciplineId
	}
	if input.TradeId != nil {
		updates["trade_id"] = input.TradeId
	}

	// Stale rows from an earlier run should already be gone after reset;
	// clear regardless so the unique (report, index) constraint cannot trip.
	if err := deps.Store.DeleteSections(ctx, reportId); err != nil {
		return nil, nil, err
	}
	if err := deps.Store.UpdateReport(ctx, reportId, updates); err != nil {
		return nil, nil, err
	}

	sections := make([]*models.ReportSection, 0, len(toc.Sections))
	for i, entry := range toc.Sections {
		sections = append(sections, &models.ReportSection{
			ReportId:     reportId,
			SectionIndex: i,
			Title:        entry.Title,
			Status:       models.SectionStatusPending,
		})
	}
	if err := deps.Store.CreateSections(ctx, sections); err != nil {
		return nil, nil, err
	}

	// The run outlives the request: detach from the request ctx but carry
	// the correlation id through for log continuity.
	runCtx, cancel := context.WithCancel(context.Background())
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok && cid != "" {
		runCtx = utils.SetCorrelationIdInContext(runCtx, cid)
	}
	emitter := deps.Progress.Register(reportId, cancel)
	go RunGeneration(runCtx, deps, reportId, emitter)

	return &ApproveResult{Status: models.ReportStatusGenerating, NextSection: 0}, nil, nil
}
