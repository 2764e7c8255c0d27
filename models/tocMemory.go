package models

import "time"

// TocMemory records an approved outline after a successful generation run so
// future outline suggestions can learn from it. Capture is best-effort: a
// failed insert never affects report status.
type TocMemory struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ProjectId      int       `gorm:"not null;index" json:"project_id"`
	ReportId       int       `gorm:"not null;index" json:"report_id"`
	DisciplineName string    `gorm:"size:255" json:"discipline_name"`
	TradeName      string    `gorm:"size:255" json:"trade_name"`
	GenerationMode string    `gorm:"size:20" json:"generation_mode"`
	SectionCount   int       `gorm:"not null" json:"section_count"`
	OutlineJson    string    `gorm:"type:longtext" json:"outline_json"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
