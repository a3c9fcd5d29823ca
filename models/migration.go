package models

import (
	"log"

	"bitbucket.org/mmdatafocus/orders_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{},
		&User{},
		&Order{},
		&ConflictResolution{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
