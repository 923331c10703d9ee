package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Compile-time interface guard.
var _ Gateway = (*MongoStore)(nil)

const (
	collServices = "services"
	collResults  = "check_results"
	collConfig   = "config"
)

// resultDoc wraps a check result with its owning service for the results collection.
type resultDoc struct {
	ID      bson.ObjectID            `bson:"_id,omitempty"`
	Service string                   `bson:"service"`
	Seq     int64                    `bson:"seq"`
	Result  models.HealthCheckResult `bson:"result"`
}

type configDoc struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore is the document-oriented Gateway adapter. Service names are the
// document _id, so uniqueness comes from the primary key.
type MongoStore struct {
	client     *mongo.Client
	db         *mongo.Database
	maxHistory int
}

// NewMongoStore connects to uri, verifies the connection, and ensures indexes.
func NewMongoStore(ctx context.Context, uri, database string, maxHistory int) (*MongoStore, error) {
	if database == "" {
		database = "pulsewatch"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database), maxHistory: maxHistory}
	_, err = s.db.Collection(collResults).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "service", Value: 1}, {Key: "seq", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create results index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ListServices(ctx context.Context) ([]models.ServiceDefinition, error) {
	cur, err := s.db.Collection(collServices).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	var defs []models.ServiceDefinition
	if err := cur.All(ctx, &defs); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	return defs, nil
}

func (s *MongoStore) GetService(ctx context.Context, name string) (*models.ServiceDefinition, error) {
	var d models.ServiceDefinition
	err := s.db.Collection(collServices).FindOne(ctx, bson.D{{Key: "_id", Value: name}}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &d, nil
}

func (s *MongoStore) AddService(ctx context.Context, d *models.ServiceDefinition) error {
	_, err := s.db.Collection(collServices).InsertOne(ctx, d)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrServiceExists, d.Name)
		}
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateService(ctx context.Context, d *models.ServiceDefinition) error {
	res, err := s.db.Collection(collServices).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: d.Name}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "protocol", Value: d.Protocol},
			{Key: "target", Value: d.Target},
			{Key: "headers", Value: d.Headers},
			{Key: "ignore_cert_validation", Value: d.IgnoreCertValidation},
			{Key: "interval_seconds", Value: d.IntervalSeconds},
			{Key: "timeout_seconds", Value: d.TimeoutSeconds},
			{Key: "enabled", Value: d.Enabled},
			{Key: "updated_at", Value: d.UpdatedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, d.Name)
	}
	return nil
}

func (s *MongoStore) DeleteService(ctx context.Context, name string) error {
	res, err := s.db.Collection(collServices).DeleteOne(ctx, bson.D{{Key: "_id", Value: name}})
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if _, err := s.db.Collection(collResults).DeleteMany(ctx, bson.D{{Key: "service", Value: name}}); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// SaveCheckResult inserts the result, then removes everything older than the
// newest maxHistory entries for the service.
func (s *MongoStore) SaveCheckResult(ctx context.Context, name string, r *models.HealthCheckResult) error {
	n, err := s.db.Collection(collServices).CountDocuments(ctx, bson.D{{Key: "_id", Value: name}})
	if err != nil {
		return fmt.Errorf("lookup service: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	results := s.db.Collection(collResults)
	doc := resultDoc{Service: name, Seq: time.Now().UnixNano(), Result: *r}
	if _, err := results.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	var cutoff resultDoc
	err = results.FindOne(ctx, bson.D{{Key: "service", Value: name}},
		options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).SetSkip(int64(s.maxHistory)),
	).Decode(&cutoff)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find retention cutoff: %w", err)
	}
	_, err = results.DeleteMany(ctx, bson.D{
		{Key: "service", Value: name},
		{Key: "seq", Value: bson.D{{Key: "$lte", Value: cutoff.Seq}}},
	})
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

func (s *MongoStore) GetHistory(ctx context.Context, name string, limit int) ([]models.HealthCheckResult, error) {
	if limit <= 0 {
		limit = s.maxHistory
	}
	cur, err := s.db.Collection(collResults).Find(ctx, bson.D{{Key: "service", Value: name}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	var docs []resultDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	out := make([]models.HealthCheckResult, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		out = append(out, docs[i].Result)
	}
	return out, nil
}

func (s *MongoStore) GetConfig(ctx context.Context, key string) ([]byte, error) {
	var doc configDoc
	err := s.db.Collection(collConfig).FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get config %q: %w", key, err)
	}
	return []byte(doc.Value), nil
}

func (s *MongoStore) SaveConfig(ctx context.Context, key string, value []byte) error {
	_, err := s.db.Collection(collConfig).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: key}},
		configDoc{Key: key, Value: string(value), UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save config %q: %w", key, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
