package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// DefaultMongoCollection is the collection earlier deployments wrote balance checks to.
const DefaultMongoCollection = "balancesdatas"

// Mongo appends results to a MongoDB collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongo connects to uri and opens database.collection.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	if uri == "" {
		return nil, core.NewConfigurationError("MONGO_URI is required for the mongo result store.", nil)
	}
	if database == "" {
		return nil, core.NewConfigurationError("MONGO_DATABASE is required for the mongo result store.", nil)
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5*time.Second).
		SetHeartbeatInterval(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stamp", Value: -1}, {Key: "kind", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating mongo index: %w", err)
	}

	return &Mongo{
		client: client,
		coll:   coll,
		logger: slog.With("component", "store", "driver", "mongo"),
	}, nil
}

// Append inserts the batch unordered, so documents after a failed one are
// still written.
func (m *Mongo) Append(ctx context.Context, results []core.ProbeResult) (bool, error) {
	if len(results) == 0 {
		return true, nil
	}

	docs := make([]any, len(results))
	for i, r := range results {
		docs[i] = r
	}
	_, err := m.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	failed := failedInserts(err, results)
	for i, r := range results {
		if _, bad := failed[i]; !bad {
			m.logger.Debug("stored result", "stamp", r.Stamp, "kind", r.Kind, "amount", r.Amount)
		}
	}
	if err != nil {
		m.logger.Warn("results partially stored", "stored", len(results)-len(failed), "failed", len(failed))
		return false, fmt.Errorf("insert %d results: %w", len(results), err)
	}
	return true, nil
}

// failedInserts maps the batch indexes an InsertMany error rejected. An error
// that is not a write exception counts against the whole batch.
func failedInserts(err error, results []core.ProbeResult) map[int]struct{} {
	failed := make(map[int]struct{})
	if err == nil {
		return failed
	}
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		for i := range results {
			failed[i] = struct{}{}
		}
		return failed
	}
	for _, we := range bwe.WriteErrors {
		failed[we.Index] = struct{}{}
	}
	return failed
}

// Recent returns the newest n results, newest first.
func (m *Mongo) Recent(ctx context.Context, n int) ([]core.ProbeResult, error) {
	cur, err := m.coll.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "stamp", Value: -1}}).
		SetLimit(int64(n)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []core.ProbeResult
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
