package database

import (
	"stallbook/internal/bookings"
	"stallbook/internal/stalls"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&stalls.Stall{},
		&bookings.Booking{},
		&bookings.Payment{},
		&bookings.SequenceCounter{},
	); err != nil {
		return err
	}
	return MigrateConstraints(db)
}
