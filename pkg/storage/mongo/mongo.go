// Package mongo stores dbpulse records in MongoDB collections.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nicktill/dbpulse/pkg/storage"
)

// Collection names.
const (
	CollInstances = "instances"
	CollSamples   = "metrics_samples"
	CollRollups   = "metrics_rollups"
	CollRules     = "alert_rules"
	CollEvents    = "alert_events"
)

// Config holds MongoDB store configuration.
type Config struct {
	URI      string
	Database string

	// SampleTTL and RollupTTL become TTL indexes (0 = plain index, prune only).
	SampleTTL time.Duration
	RollupTTL time.Duration

	ConnectTimeout time.Duration
}

// Storage implements storage.Storage on a MongoDB database.
type Storage struct {
	client *mongo.Client
	db     *mongo.Database
	cfg    Config
}

// New connects to MongoDB. The connection is lazy; call Ping to verify it
// and EnsureIndexes once at startup.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo: URI is required")
	}
	if cfg.Database == "" {
		cfg.Database = "perfmon"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	return &Storage{client: client, db: client.Database(cfg.Database), cfg: cfg}, nil
}

func (s *Storage) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Ping checks the primary is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Storage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type index struct {
	coll string
	name string
	keys bson.D
	ttl  time.Duration
	uniq bool
}

// EnsureIndexes creates the indexes every query relies on. An existing index
// whose options changed (for example a new TTL) is dropped and recreated.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	indexes := []index{
		{coll: CollInstances, name: "active_1", keys: bson.D{{Key: "active", Value: 1}}},
		{coll: CollSamples, name: "instanceId_1_ts_1", keys: bson.D{{Key: "instanceId", Value: 1}, {Key: "ts", Value: 1}}},
		{coll: CollSamples, name: "ts_1", keys: bson.D{{Key: "ts", Value: 1}}, ttl: s.cfg.SampleTTL},
		{coll: CollRollups, name: "instanceId_1_bucket_1_metric_1", keys: bson.D{{Key: "instanceId", Value: 1}, {Key: "bucket", Value: 1}, {Key: "metric", Value: 1}}, uniq: true},
		{coll: CollRollups, name: "bucket_1", keys: bson.D{{Key: "bucket", Value: 1}}, ttl: s.cfg.RollupTTL},
		{coll: CollRules, name: "enabled_1", keys: bson.D{{Key: "enabled", Value: 1}}},
		{coll: CollRules, name: "instanceScope_1", keys: bson.D{{Key: "instanceScope", Value: 1}}},
		{coll: CollEvents, name: "instanceId_1_ruleId_1_createdAt_-1", keys: bson.D{{Key: "instanceId", Value: 1}, {Key: "ruleId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{coll: CollEvents, name: "createdAt_-1", keys: bson.D{{Key: "createdAt", Value: -1}}},
	}

	for _, idx := range indexes {
		if err := s.ensureIndex(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index %s.%s: %w", idx.coll, idx.name, err)
		}
	}
	return nil
}

func (s *Storage) ensureIndex(ctx context.Context, idx index) error {
	opts := options.Index().SetName(idx.name)
	if idx.uniq {
		opts.SetUnique(true)
	}
	if idx.ttl > 0 {
		opts.SetExpireAfterSeconds(int32(idx.ttl / time.Second))
	}
	model := mongo.IndexModel{Keys: idx.keys, Options: opts}

	view := s.coll(idx.coll).Indexes()
	_, err := view.CreateOne(ctx, model)
	if !isIndexConflict(err) {
		return err
	}
	if _, err := view.DropOne(ctx, idx.name); err != nil {
		return err
	}
	_, err = view.CreateOne(ctx, model)
	return err
}

// IndexOptionsConflict (85) and IndexKeySpecsConflict (86).
func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 85 || cmdErr.Code == 86
	}
	return false
}

// Stats returns document counts per collection and the database storage size.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{Backend: "mongo"}

	counts := []struct {
		coll string
		dst  *uint64
	}{
		{CollInstances, &stats.Instances},
		{CollSamples, &stats.Samples},
		{CollRollups, &stats.Rollups},
		{CollRules, &stats.Rules},
		{CollEvents, &stats.Events},
	}
	for _, c := range counts {
		n, err := s.coll(c.coll).CountDocuments(ctx, bson.D{})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.coll, err)
		}
		*c.dst = uint64(n)
	}

	var dbStats struct {
		StorageSize float64 `bson:"storageSize"`
		IndexSize   float64 `bson:"indexSize"`
	}
	if err := s.db.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&dbStats); err == nil {
		stats.SizeBytes = uint64(dbStats.StorageSize + dbStats.IndexSize)
	}

	if stats.Samples > 0 {
		stats.OldestSample = s.sampleBound(ctx, 1)
		stats.NewestSample = s.sampleBound(ctx, -1)
	}
	return stats, nil
}

func (s *Storage) sampleBound(ctx context.Context, order int) time.Time {
	var doc struct {
		TS time.Time `bson:"ts"`
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "ts", Value: order}}).
		SetProjection(bson.D{{Key: "ts", Value: 1}})
	if err := s.coll(CollSamples).FindOne(ctx, bson.D{}, opts).Decode(&doc); err != nil {
		return time.Time{}
	}
	return doc.TS
}
