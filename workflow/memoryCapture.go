package workflow

import (
	"context"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"gorm.io/gorm"
)

// MemoryCapturer records a completed outline for future outline suggestion.
// Strictly best-effort: the orchestrator logs and swallows every error from
// it and never lets it affect report status.
type MemoryCapturer interface {
	CaptureOutline(ctx context.Context, report *models.Report, facts PlanningFacts) error
}

type DBMemoryCapturer struct {
	DB *gorm.DB
}

func NewDBMemoryCapturer(db *gorm.DB) *DBMemoryCapturer {
	return &DBMemoryCapturer{DB: db}
}

func (m *DBMemoryCapturer) CaptureOutline(ctx context.Context, report *models.Report, facts PlanningFacts) error {
	outlineJson, err := utils.MarshalToJSON(report.TableOfContents)
	if err != nil {
		return err
	}
	record := models.TocMemory{
		ProjectId:      report.ProjectId,
		ReportId:       report.ID,
		DisciplineName: facts.DisciplineName(),
		TradeName:      facts.TradeName(),
		GenerationMode: string(report.GenerationMode),
		SectionCount:   len(report.TableOfContents.Sections),
		OutlineJson:    outlineJson,
	}
	return m.DB.WithContext(ctx).Create(&record).Error
}
