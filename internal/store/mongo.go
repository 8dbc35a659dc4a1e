package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/civicase/relay/internal/broker"
)

const (
	manifestCollection = "queue_manifests"
	messageCollection  = "messages"
)

// Client wraps a MongoDB connection scoped to the relay database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB and verifies the connection with a ping.
func Open(ctx context.Context, uri, database string) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect %s: %w", database, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Client{client: client, db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes backing batch fetches and the
// discriminant blocking lookup. Safe to call on every startup.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	messages := c.db.Collection(messageCollection)
	_, err := messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "status", Value: 1}, {Key: "created", Value: 1}}},
		{Keys: bson.D{{Key: "discriminant", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("store: create indexes: %w", err)
	}
	return nil
}

// Manifests returns the manifest store backed by this client.
func (c *Client) Manifests() *MongoManifests {
	return &MongoManifests{col: c.db.Collection(manifestCollection)}
}

// Messages returns the message store backed by this client.
func (c *Client) Messages() *MongoMessages {
	return &MongoMessages{col: c.db.Collection(messageCollection)}
}

// MongoManifests implements broker.ManifestStore on a MongoDB collection.
type MongoManifests struct {
	col *mongo.Collection
}

var _ broker.ManifestStore = (*MongoManifests)(nil)

func (s *MongoManifests) Insert(ctx context.Context, m *broker.Manifest) error {
	_, err := s.col.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrConflict)
	}
	return err
}

func (s *MongoManifests) Get(ctx context.Context, queue string) (*broker.Manifest, error) {
	var m broker.Manifest
	err := s.col.FindOne(ctx, bson.M{"_id": queue}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("manifest %q: %w", queue, broker.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MongoManifests) List(ctx context.Context) ([]*broker.Manifest, error) {
	cursor, err := s.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var manifests []*broker.Manifest
	if err := cursor.All(ctx, &manifests); err != nil {
		return nil, err
	}
	return manifests, nil
}

// Swap writes m only if the stored status still matches expect. The filter
// carries the expected status, so a concurrent transition makes the update
// match nothing and the caller gets broker.ErrConflict.
func (s *MongoManifests) Swap(ctx context.Context, expect broker.ManifestStatus, m *broker.Manifest) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": m.Name, "status": expect},
		bson.M{"$set": manifestFields(m)},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		count, err := s.col.CountDocuments(ctx, bson.M{"_id": m.Name})
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrNotFound)
		}
		return fmt.Errorf("manifest %q no longer %s: %w", m.Name, expect, broker.ErrConflict)
	}
	return nil
}

func (s *MongoManifests) Update(ctx context.Context, m *broker.Manifest) error {
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": m.Name}, bson.M{"$set": manifestFields(m)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("manifest %q: %w", m.Name, broker.ErrNotFound)
	}
	return nil
}

func (s *MongoManifests) Delete(ctx context.Context, queue string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": queue})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("manifest %q: %w", queue, broker.ErrNotFound)
	}
	return nil
}

func manifestFields(m *broker.Manifest) bson.M {
	return bson.M{
		"status":           m.Status,
		"connected_worker": m.ConnectedWorker,
		"heartbeat":        m.Heartbeat,
		"comment":          m.Comment,
		"timer":            m.Timer,
	}
}

// MongoMessages implements broker.MessageStore on a MongoDB collection.
type MongoMessages struct {
	col *mongo.Collection
}

var _ broker.MessageStore = (*MongoMessages)(nil)

func (s *MongoMessages) Insert(ctx context.Context, msg *broker.Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("message %s: %w", msg.ID, broker.ErrConflict)
	}
	return err
}

func (s *MongoMessages) Get(ctx context.Context, id string) (*broker.Message, error) {
	var msg broker.Message
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("message %s: %w", id, broker.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MongoMessages) Update(ctx context.Context, msg *broker.Message) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, broker.ErrNotFound)
	}
	return nil
}

func (s *MongoMessages) FetchBatch(ctx context.Context, queue string, limit int) ([]*broker.Message, error) {
	filter := bson.M{
		"queue":  queue,
		"status": bson.M{"$nin": broker.TerminalStatuses()},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var batch []*broker.Message
	if err := cursor.All(ctx, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *MongoMessages) CountByStatus(ctx context.Context, queue string) (map[broker.Status]int64, error) {
	match := bson.M{}
	if queue != "" {
		match["queue"] = queue
	}
	cursor, err := s.col.Aggregate(ctx, mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status broker.Status `bson:"_id"`
		Count  int64         `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	counts := make(map[broker.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *MongoMessages) HasBlocking(ctx context.Context, discriminant, excludeID string) (bool, error) {
	if discriminant == "" {
		return false, nil
	}
	count, err := s.col.CountDocuments(ctx, bson.M{
		"_id":          bson.M{"$ne": excludeID},
		"discriminant": discriminant,
		"status":       bson.M{"$in": []broker.Status{broker.StatusRetry, broker.StatusFailure}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *MongoMessages) PurgeQueue(ctx context.Context, queue string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"queue": queue, "status": bson.M{"$ne": broker.StatusDeleted}},
		bson.M{"$set": bson.M{"status": broker.StatusDeleted, "status_comment": "queue dropped"}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
