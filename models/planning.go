package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Planning/business records below are read-only collaborators of the
// generation pipeline. Their CRUD surfaces live in the planning service;
// this backend only reads them to assemble planning facts.

type Project struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	ClientName  string    `gorm:"size:255" json:"client_name"`
	Address     string    `gorm:"size:500" json:"address"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Discipline struct {
	ID        int    `gorm:"primary_key" json:"id"`
	ProjectId int    `gorm:"not null;index" json:"project_id"`
	Code      string `gorm:"size:20" json:"code"`
	Name      string `gorm:"size:255;not null" json:"name"`
}

type Trade struct {
	ID           int    `gorm:"primary_key" json:"id"`
	DisciplineId int    `gorm:"not null;index" json:"discipline_id"`
	Code         string `gorm:"size:20" json:"code"`
	Name         string `gorm:"size:255;not null" json:"name"`
}

type CostEstimate struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ProjectId    int             `gorm:"not null;index" json:"project_id"`
	DisciplineId *int            `gorm:"index" json:"discipline_id"`
	TradeId      *int            `gorm:"index" json:"trade_id"`
	Label        string          `gorm:"size:255;not null" json:"label"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency     string          `gorm:"size:3;not null;default:EUR" json:"currency"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TransmittalDocument is an entry of the document register attached to a
// discipline or trade. The transmittal appendix lists these per report.
type TransmittalDocument struct {
	ID           int        `gorm:"primary_key" json:"id"`
	DisciplineId *int       `gorm:"index" json:"discipline_id"`
	TradeId      *int       `gorm:"index" json:"trade_id"`
	FileName     string     `gorm:"size:255;not null" json:"file_name"`
	FileUrl      string     `gorm:"size:1000" json:"file_url"`
	UploadedAt   *time.Time `json:"uploaded_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
