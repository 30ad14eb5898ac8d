package database

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"

	"landvalue/config"
	"landvalue/internal/models"
)

// Store is the property store contract shared by the SQLite and Mongo
// backends.
type Store interface {
	Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error)
	MatchRegion(ctx context.Context, region string, limit int) ([]models.Property, error)
	Sample(ctx context.Context, limit int) ([]models.Property, error)
	ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error)
	UpsertProperties(ctx context.Context, properties []*models.Property) error
}

var (
	_ Store = (*Database)(nil)
	_ Store = (*MongoStore)(nil)
)

// Open connects to the backend selected in cfg and prepares its schema. The
// returned function releases the connection.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, func(context.Context) error, error) {
	switch cfg.Database.Backend {
	case config.BackendMongo:
		store, err := NewMongoStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDatabase, cfg.Database.MongoCollection, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendSQLite, "":
		db, err := NewDatabase(cfg.Database.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return db, func(context.Context) error { return db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Database.Backend)
	}
}
