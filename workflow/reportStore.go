package workflow

import (
	"context"
	"errors"

	"bitbucket.org/planfox/reports_backend/models"
	"bitbucket.org/planfox/reports_backend/utils"
	"gorm.io/gorm"
)

// ReportStore is the set of read/write primitives the pipeline needs from
// persistence. The orchestrator only talks to this interface; tests run
// against the in-memory fake in workflow tests.
type ReportStore interface {
	GetReport(ctx context.Context, reportId int) (*models.Report, error)
	UpdateReport(ctx context.Context, reportId int, updates map[string]interface{}) error

	CreateSections(ctx context.Context, sections []*models.ReportSection) error
	GetSection(ctx context.Context, reportId int, sectionIndex int) (*models.ReportSection, error)
	ListSections(ctx context.Context, reportId int) ([]*models.ReportSection, error)
	UpdateSection(ctx context.Context, reportId int, sectionIndex int, updates map[string]interface{}) error
	DeleteSections(ctx context.Context, reportId int) error
}

type GormReportStore struct {
	DB *gorm.DB
}

func NewGormReportStore(db *gorm.DB) *GormReportStore {
	return &GormReportStore{DB: db}
}

func (s *GormReportStore) GetReport(ctx context.Context, reportId int) (*models.Report, error) {
	var report models.Report
	if err := s.DB.WithContext(ctx).Where("id = ?", reportId).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &report, nil
}

func (s *GormReportStore) UpdateReport(ctx context.Context, reportId int, updates map[string]interface{}) error {
	return s.DB.WithContext(ctx).
		Model(&models.Report{}).
		Where("id = ?", reportId).
		Updates(updates).Error
}

func (s *GormReportStore) CreateSections(ctx context.Context, sections []*models.ReportSection) error {
	if len(sections) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Create(&sections).Error
}

func (s *GormReportStore) GetSection(ctx context.Context, reportId int, sectionIndex int) (*models.ReportSection, error) {
	var section models.ReportSection
	if err := s.DB.WithContext(ctx).
		Where("report_id = ? AND section_index = ?", reportId, sectionIndex).
		First(&section).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &section, nil
}

func (s *GormReportStore) ListSections(ctx context.Context, reportId int) ([]*models.ReportSection, error) {
	var sections []*models.ReportSection
	if err := s.DB.WithContext(ctx).
		Where("report_id = ?", reportId).
		Order("section_index ASC").
		Find(&sections).Error; err != nil {
		return nil, err
	}
	return sections, nil
}

func (s *GormReportStore) UpdateSection(ctx context.Context, reportId int, sectionIndex int, updates map[string]interface{}) error {
	return s.DB.WithContext(ctx).
		Model(&models.ReportSection{}).
		Where("report_id = ? AND section_index = ?", reportId, sectionIndex).
		Updates(updates).Error
}

func (s *GormReportStore) DeleteSections(ctx context.Context, reportId int) error {
	return s.DB.WithContext(ctx).
		Where("report_id = ?", reportId).
		Delete(&models.ReportSection{}).Error
}
