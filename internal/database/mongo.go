package database

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"landvalue/internal/geometry"
	"landvalue/internal/models"
)

// MongoStore keeps properties in a MongoDB collection with a 2dsphere index
// on a GeoJSON location field. Documents are keyed by listing URL.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *logrus.Logger
}

type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type propertyDocument struct {
	models.Property `bson:",inline"`
	Location        *geoJSONPoint `bson:"location,omitempty"`
}

func NewMongoStore(ctx context.Context, uri, database, collection string, logger *logrus.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"database":   database,
		"collection": collection,
	}).Info("Connected to mongo property store")

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "city", Value: 1}}},
		{Keys: bson.D{{Key: "scraped_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Nearest(ctx context.Context, center orb.Point, radiusKm float64, category models.Category, limit int) ([]models.Property, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, nearestFilter(center, radiusKm, category), opts)
}

func (s *MongoStore) MatchRegion(ctx context.Context, region string, limit int) ([]models.Property, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, nil
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.find(ctx, regionFilter(region), opts)
}

func (s *MongoStore) Sample(ctx context.Context, limit int) ([]models.Property, error) {
	if limit <= 0 {
		limit = 10
	}
	cursor, err := s.collection.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: limit}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sample properties: %w", err)
	}
	return decodeProperties(ctx, cursor)
}

func (s *MongoStore) ListProperties(ctx context.Context, filter models.PropertyFilter) ([]models.Property, error) {
	opts := options.Find().SetSort(bson.D{{Key: "scraped_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.find(ctx, listFilter(filter), opts)
}

// UpsertProperties writes the batch as one unordered bulk write. created_at is
// only set when a document is first inserted.
func (s *MongoStore) UpsertProperties(ctx context.Context, properties []*models.Property) error {
	if len(properties) == 0 {
		return nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(properties))
	for _, p := range properties {
		update, err := upsertUpdate(p, now)
		if err != nil {
			return err
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": p.URL}).
			SetUpdate(update).
			SetUpsert(true))
	}

	result, err := s.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to upsert properties: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"inserted": result.UpsertedCount,
		"modified": result.ModifiedCount,
	}).Debug("Upserted property batch")
	return nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Property, error) {
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	return decodeProperties(ctx, cursor)
}

func decodeProperties(ctx context.Context, cursor *mongo.Cursor) ([]models.Property, error) {
	defer cursor.Close(ctx)

	var docs []propertyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	properties := make([]models.Property, len(docs))
	for i, doc := range docs {
		properties[i] = doc.Property
	}
	return properties, nil
}

func nearestFilter(center orb.Point, radiusKm float64, category models.Category) bson.M {
	filter := bson.M{
		"location": bson.M{
			"$nearSphere": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": []float64{center.Lon(), center.Lat()},
				},
				"$maxDistance": radiusKm * 1000,
			},
		},
	}
	if category != "" {
		filter["category"] = category
	}
	return filter
}

func regionFilter(region string) bson.M {
	pattern := bson.M{"$regex": regexp.QuoteMeta(region), "$options": "i"}
	return bson.M{"$or": bson.A{
		bson.M{"address": pattern},
		bson.M{"city": pattern},
		bson.M{"region": pattern},
	}}
}

func listFilter(filter models.PropertyFilter) bson.M {
	f := bson.M{}
	if filter.City != "" {
		f["city"] = bson.M{"$regex": "^" + regexp.QuoteMeta(filter.City) + "$", "$options": "i"}
	}
	if filter.Category != "" {
		f["category"] = filter.Category
	}
	return f
}

func toDocument(p *models.Property) propertyDocument {
	doc := propertyDocument{Property: *p}
	if point, ok := p.Point(); ok {
		doc.Location = &geoJSONPoint{Type: "Point", Coordinates: []float64{point.Lon(), point.Lat()}}
		if doc.Geohash == "" {
			doc.Geohash = geometry.Geohash(point)
		}
	}
	return doc
}

func upsertUpdate(p *models.Property, now time.Time) (bson.M, error) {
	doc := toDocument(p)
	if doc.ScrapedAt.IsZero() {
		doc.ScrapedAt = now
	}
	doc.UpdatedAt = now

	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode property %s: %w", p.URL, err)
	}
	var set bson.M
	if err := bson.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to encode property %s: %w", p.URL, err)
	}
	delete(set, "_id")
	delete(set, "created_at")

	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}, nil
}
