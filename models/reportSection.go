package models

import (
	"context"
	"time"

	"bitbucket.org/planfox/reports_backend/config"
)

// ReportSection rows are joined to reports by report_id only. SectionIndex
// matches the outline position at approval time, plus one reserved slot for a
// dynamically-appended transmittal appendix.
type ReportSection struct {
	ID           int `gorm:"primary_key" json:"id"`
	ReportId     int `gorm:"not null;uniqueIndex:idx_section_report_index,priority:1" json:"report_id"`
	SectionIndex int `gorm:"not null;uniqueIndex:idx_section_report_index,priority:2" json:"section_index"`

	Title   string  `gorm:"size:255;not null" json:"title"`
	Content *string `gorm:"type:longtext" json:"content"`

	// Populated only for ai_assisted sections.
	SourceChunkIds  StringList   `gorm:"type:longtext" json:"source_chunk_ids"`
	SourceRelevance RelevanceMap `gorm:"type:longtext" json:"source_relevance"`

	Status            SectionStatus `gorm:"size:20;not null;default:pending" json:"status"`
	RegenerationCount int           `gorm:"not null;default:0" json:"regeneration_count"`
	GeneratedAt       *time.Time    `json:"generated_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetSectionsByReportId(ctx context.Context, reportId int) ([]*ReportSection, error) {
	db := config.GetDB()
	var sections []*ReportSection
	if err := db.WithContext(ctx).
		Where("report_id = ?", reportId).
		Order("section_index ASC").
		Find(&sections).Error; err != nil {
		return nil, err
	}
	return sections, nil
}
