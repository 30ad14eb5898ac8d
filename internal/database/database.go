package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"landvalue/internal/geocoding"
	"landvalue/internal/geometry"
	"landvalue/internal/models"
)

// AddressGeocoder is satisfied by *geocoding.Geocoder.
type AddressGeocoder interface {
	GeocodeAddress(ctx context.Context, address string) (geocoding.Location, error)
}

// Database is the SQLite property store.
type Database struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *logrus.Logger
}

func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.SetOutput(os.Stdout)
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite3", Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db, sqlDB: sqlDB, logger: log}, nil
}

func (d *Database) Close() error {
	return d.sqlDB.Close()
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// Nearest returns up to limit properties within radiusKm of center, nearest
// first. Candidates are prefiltered by the geohash cells covering the circle.
func (d *Database) Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error) {
	query := d.db.WithContext(ctx).
		Where("latitude IS NOT NULL AND longitude IS NOT NULL")

	if category != "" {
		query = query.Where("category = ?", category)
	}

	if geometry.CellPrecision(radiusKm, center.Lat()) > 1 {
		cells := geometry.CoveringCells(center, radiusKm)
		group := d.db.Session(&gorm.Session{NewDB: true})
		for i, cell := range cells {
			if i == 0 {
				group = group.Where("geohash >= ? AND geohash < ?", cell, cell+"~")
			} else {
				group = group.Or("geohash >= ? AND geohash < ?", cell, cell+"~")
			}
		}
		query = query.Where(group)
	}

	var candidates []models.Property
	if err := query.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to query nearby properties: %w", err)
	}

	nearest := geometry.WithinRadius(candidates, center, radiusKm)
	if limit > 0 && len(nearest) > limit {
		nearest = nearest[:limit]
	}
	return nearest, nil
}

// MatchRegion returns properties whose address, city or region contains region,
// ignoring case.
func (d *Database) MatchRegion(ctx context.Context, region string, limit int) ([]models.Property, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(region)) + "%"

	query := d.db.WithContext(ctx).
		Where(`LOWER(address) LIKE ? ESCAPE '\' OR LOWER(city) LIKE ? ESCAPE '\' OR LOWER(region) LIKE ? ESCAPE '\'`,
			pattern, pattern, pattern).
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var properties []models.Property
	if err := query.Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("failed to match region %q: %w", region, err)
	}
	return properties, nil
}

// Sample returns up to limit properties in random order.
func (d *Database) Sample(ctx context.Context, limit int) ([]models.Property, error) {
	query := d.db.WithContext(ctx).Order("RANDOM()")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var properties []models.Property
	if err := query.Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("failed to sample properties: %w", err)
	}
	return properties, nil
}

func (d *Database) ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error) {
	query := d.db.WithContext(ctx)
	if filter.City != "" {
		query = query.Where("LOWER(city) = LOWER(?)", filter.City)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	query = query.Order("scraped_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var properties []models.Property
	if err := query.Find(&properties).Error; err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	return properties, nil
}

// UpsertProperties stores a batch in one transaction, keyed by URL.
func (d *Database) UpsertProperties(ctx context.Context, properties []*models.Property) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return UpsertProperties(tx, properties)
	})
}

// UpsertProperties inserts or updates properties by URL using tx.
func UpsertProperties(tx *gorm.DB, properties []*models.Property) error {
	if len(properties) == 0 {
		return nil
	}

	for _, p := range properties {
		if point, ok := p.Point(); ok && p.Geohash == "" {
			p.Geohash = geometry.Geohash(point)
		}
		if p.ScrapedAt.IsZero() {
			p.ScrapedAt = time.Now().UTC()
		}
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "title", "address", "city", "region", "category",
			"price", "area", "price_per_unit_area",
			"near_water", "road_access", "utilities",
			"description", "latitude", "longitude", "geohash",
			"geocoding_attempted", "scraped_at", "updated_at",
		}),
	}).Create(&properties).Error
	if err != nil {
		return fmt.Errorf("failed to upsert properties: %w", err)
	}
	return nil
}

// UpdateMissingCoordinates geocodes properties that have an address but no
// coordinates. Each property is attempted once; failures are marked so they
// are not retried on the next run.
func (d *Database) UpdateMissingCoordinates(ctx context.Context, geocoder AddressGeocoder) error {
	var totalCount int64
	err := d.missingCoordinates(d.db.WithContext(ctx)).
		Model(&models.Property{}).
		Count(&totalCount).Error
	if err != nil {
		return fmt.Errorf("failed to count properties: %w", err)
	}

	if totalCount == 0 {
		d.logger.Info("No properties need geocoding")
		return nil
	}

	d.logger.Infof("Found %d properties that need geocoding", totalCount)

	var processed, failed int
	batchSize := 10

	for int64(processed+failed) < totalCount {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []models.Property
		if err := d.missingCoordinates(d.db.WithContext(ctx)).Limit(batchSize).Find(&batch).Error; err != nil {
			return fmt.Errorf("failed to query properties: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		updates := make(map[uint]map[string]interface{}, len(batch))
		for _, p := range batch {
			u := map[string]interface{}{"geocoding_attempted": true}

			loc, err := geocoder.GeocodeAddress(ctx, p.Location())
			if err != nil {
				d.logger.WithError(err).WithField("address", p.Location()).Warn("Failed to geocode property")
				failed++
			} else {
				u["latitude"] = loc.Lat
				u["longitude"] = loc.Lng
				u["geohash"] = geometry.Geohash(orb.Point{loc.Lng, loc.Lat})
				if p.City == "" && loc.City != "" {
					u["city"] = loc.City
				}
				if p.Region == "" && loc.Region != "" {
					u["region"] = loc.Region
				}
				processed++
			}
			updates[p.ID] = u
		}

		err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for id, u := range updates {
				if err := tx.Model(&models.Property{}).Where("id = ?", id).Updates(u).Error; err != nil {
					return fmt.Errorf("failed to update coordinates: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		d.logger.WithFields(logrus.Fields{
			"processed": processed,
			"failed":    failed,
			"total":     totalCount,
		}).Infof("Geocoding progress: %.1f%%", float64(processed+failed)/float64(totalCount)*100)
	}

	d.logger.WithFields(logrus.Fields{
		"processed": processed,
		"failed":    failed,
	}).Info("Finished geocoding properties")
	return nil
}

func (d *Database) missingCoordinates(db *gorm.DB) *gorm.DB {
	return db.Where("(latitude IS NULL OR longitude IS NULL) AND geocoding_attempted = ?", false).
		Where("(address IS NOT NULL AND address != '') OR (city IS NOT NULL AND city != '')")
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
