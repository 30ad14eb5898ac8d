package database

import (
	"fmt"

	"landvalue/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.Property{}); err != nil {
		return fmt.Errorf("failed to migrate properties: %w", err)
	}

	// Create spatial index on coordinates
	err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_coordinates
		ON properties(latitude, longitude);
	`).Error
	if err != nil {
		return err
	}

	err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_properties_category_geohash
		ON properties(category, geohash);
	`).Error
	if err != nil {
		return err
	}

	return nil
}
