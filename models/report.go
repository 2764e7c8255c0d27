package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/planfox/reports_backend/config"
	"bitbucket.org/planfox/reports_backend/utils"
	"gorm.io/gorm"
)

// Report is owned exclusively by the generation pipeline and is mutated only
// through the approve / generation / reset flows.
type Report struct {
	ID           int    `gorm:"primary_key" json:"id"`
	ProjectId    int    `gorm:"not null;index" json:"project_id"`
	Title        string `gorm:"size:255" json:"title"`
	DisciplineId *int   `json:"discipline_id"`
	TradeId      *int   `json:"trade_id"`

	Status              ReportStatus    `gorm:"size:20;not null;default:draft" json:"status"`
	TableOfContents     TableOfContents `gorm:"type:longtext" json:"table_of_contents"`
	CurrentSectionIndex int             `gorm:"not null;default:0" json:"current_section_index"`
	GenerationMode      GenerationMode  `gorm:"size:20;not null;default:data_only" json:"generation_mode"`
	ContentLength       ContentLength   `gorm:"size:20;not null;default:concise" json:"content_length"`
	HasEditedContent    bool            `gorm:"not null;default:false" json:"has_edited_content"`

	LockedBy     string     `gorm:"size:100" json:"locked_by"`
	LockedByName string     `gorm:"size:100" json:"locked_by_name"`
	LockedAt     *time.Time `json:"locked_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetReportById(ctx context.Context, reportId int) (*Report, error) {
	db := config.GetDB()
	var report Report
	if err := db.WithContext(ctx).Where("id = ?", reportId).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &report, nil
}
