package models

import (
	"log"

	"bitbucket.org/planfox/reports_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Project{}, &Discipline{}, &Trade{}, &CostEstimate{}, &TransmittalDocument{},
		&Report{}, &ReportSection{},
		&TocMemory{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
