package database

import (
	"gorm.io/gorm"
)

// MigrateConstraints adds the database constraints backing the booking invariants
func MigrateConstraints(db *gorm.DB) error {
	// At most one booking occupies a stall at any time
	err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_bookings_active_stall
		ON bookings (stall_id)
		WHERE status IN ('RESERVED', 'AWAITING_APPROVAL')
		   OR (status = 'CONFIRMED' AND returned_at IS NULL);
	`).Error
	if err != nil {
		return err
	}

	// Sweeper scan: RESERVED holds ordered by deadline
	err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_bookings_reserved_expires_at
		ON bookings (expires_at)
		WHERE status = 'RESERVED';
	`).Error
	if err != nil {
		return err
	}

	// A stall that is not AVAILABLE always names the booking holding it
	err = db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM pg_constraint WHERE conname = 'chk_stalls_active_booking'
			) THEN
				ALTER TABLE stalls ADD CONSTRAINT chk_stalls_active_booking
				CHECK ((status = 'AVAILABLE') = (active_booking_id IS NULL));
			END IF;
		END $$;
	`).Error
	if err != nil {
		return err
	}

	return nil
}
