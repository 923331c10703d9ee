package pulse

import (
	"context"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Compile-time interface guard.
var _ Checker = (*MongoChecker)(nil)

// MongoChecker connects with an ephemeral client, pings the primary, and disconnects.
type MongoChecker struct{}

func NewMongoChecker() *MongoChecker {
	return &MongoChecker{}
}

func (c *MongoChecker) Check(ctx context.Context, def *models.ServiceDefinition) models.HealthCheckResult {
	start := time.Now()
	wait := budget(ctx, fallbackTimeout)
	opts := options.Client().
		ApplyURI(def.Target).
		SetServerSelectionTimeout(wait).
		SetConnectTimeout(wait).
		SetMaxPoolSize(1)

	client, err := mongo.Connect(opts)
	if err != nil {
		return failedResult(start, "connect mongodb: %v", err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = client.Disconnect(dctx)
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return failedResult(start, "ping mongodb: %v", err)
	}
	return models.HealthCheckResult{
		StatusCode:     1,
		Success:        true,
		ResponseTimeMs: elapsedMs(time.Since(start)),
		Timestamp:      time.Now().UTC(),
	}
}
