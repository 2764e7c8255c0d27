package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/models"
	"gorm.io/gorm"
)

// PlanningFacts are the structured planning inputs the template renderer and
// composer work from. Loaded once per run, before the section loop.
type PlanningFacts struct {
	Project       models.Project        `json:"project"`
	Discipline    *models.Discipline    `json:"discipline"`
	Trade         *models.Trade         `json:"trade"`
	CostEstimates []models.CostEstimate `json:"cost_estimates"`
}

func (f PlanningFacts) DisciplineName() string {
	if f.Discipline != nil {
		return f.Discipline.Name
	}
	return ""
}

func (f PlanningFacts) TradeName() string {
	if f.Trade != nil {
		return f.Trade.Name
	}
	return ""
}

// Transmittal is the document register slice for the report's discipline or
// trade. Resolved via ids, never display names: names may be stale or
// ambiguous.
type Transmittal struct {
	Documents []models.TransmittalDocument `json:"documents"`
}

type GenerationContext struct {
	Facts       PlanningFacts `json:"facts"`
	Transmittal *Transmittal  `json:"transmittal"`
}

// ContextProvider supplies planning facts for a report. Implementations own
// their timeouts; the orchestrator treats any error before the section loop
// as a pipeline-level failure.
type ContextProvider interface {
	LoadGenerationContext(ctx context.Context, report *models.Report) (*GenerationContext, error)
	// InvalidateCache drops any generation-scoped cached state for the
	// report. Called by Reset.
	InvalidateCache(reportId int)
}

type DBContextProvider struct {
	DB *gorm.DB
}

func NewDBContextProvider(db *gorm.DB) *DBContextProvider {
	return &DBContextProvider{DB: db}
}

func generationContextCacheKey(reportId int) string {
	return fmt.Sprintf("reportGenCtx:%d", reportId)
}

func (p *DBContextProvider) LoadGenerationContext(ctx context.Context, report *models.Report) (*GenerationContext, error) {
	// Per-run cache: facts do not change mid-run, and a regeneration of a
	// single section should not re-read the whole planning context.
	key := generationContextCacheKey(report.ID)
	var cached GenerationContext
	if exists, err := config.GetRedisObject(key, &cached); err == nil && exists {
		return &cached, nil
	}

	var gc GenerationContext

	var project models.Project
	if err := p.DB.WithContext(ctx).Where("id = ?", report.ProjectId).First(&project).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %d not found", report.ProjectId)
		}
		return nil, err
	}
	gc.Facts.Project = project

	if report.DisciplineId != nil {
		var discipline models.Discipline
		if err := p.DB.WithContext(ctx).Where("id = ?", *report.DisciplineId).First(&discipline).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		} else {
			gc.Facts.Discipline = &discipline
		}
	}
	if report.TradeId != nil {
		var trade models.Trade
		if err := p.DB.WithContext(ctx).Where("id = ?", *report.TradeId).First(&trade).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		} else {
			gc.Facts.Trade = &trade
		}
	}

	costQuery := p.DB.WithContext(ctx).Where("project_id = ?", report.ProjectId)
	if report.TradeId != nil {
		costQuery = costQuery.Where("trade_id = ? OR trade_id IS NULL", *report.TradeId)
	}
	if report.DisciplineId != nil {
		costQuery = costQuery.Where("discipline_id = ? OR discipline_id IS NULL", *report.DisciplineId)
	}
	if err := costQuery.Order("id ASC").Find(&gc.Facts.CostEstimates).Error; err != nil {
		return nil, err
	}

	transmittal, err := p.loadTransmittal(ctx, report)
	if err != nil {
		return nil, err
	}
	gc.Transmittal = transmittal

	if err := config.SetRedisObject(key, &gc, 0); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "reportContext.go", "LoadGenerationContext", "cache generation context", report.ID, err)
	}
	return &gc, nil
}

// loadTransmittal resolves the document register by trade id first, then
// discipline id. A report without either reference has no transmittal.
func (p *DBContextProvider) loadTransmittal(ctx context.Context, report *models.Report) (*Transmittal, error) {
	var documents []models.TransmittalDocument
	switch {
	case report.TradeId != nil:
		if err := p.DB.WithContext(ctx).
			Where("trade_id = ?", *report.TradeId).
			Order("id ASC").Find(&documents).Error; err != nil {
			return nil, err
		}
	case report.DisciplineId != nil:
		if err := p.DB.WithContext(ctx).
			Where("discipline_id = ?", *report.DisciplineId).
			Order("id ASC").Find(&documents).Error; err != nil {
			return nil, err
		}
	default:
		return nil, nil
	}
	if len(documents) == 0 {
		return nil, nil
	}
	return &Transmittal{Documents: documents}, nil
}

func (p *DBContextProvider) InvalidateCache(reportId int) {
	if err := config.RemoveRedisKey(generationContextCacheKey(reportId)); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "reportContext.go", "InvalidateCache", "remove cached generation context", reportId, err)
	}
}
