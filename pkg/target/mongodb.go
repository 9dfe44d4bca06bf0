package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// serverStatus is the subset of the serverStatus command output we read.
type serverStatus struct {
	Connections struct {
		Current int64 `bson:"current"`
	} `bson:"connections"`
	Opcounters struct {
		Query  int64 `bson:"query"`
		Insert int64 `bson:"insert"`
		Update int64 `bson:"update"`
		Delete int64 `bson:"delete"`
	} `bson:"opcounters"`
	Mem struct {
		Resident float64 `bson:"resident"`
	} `bson:"mem"`
	OpLatencies *struct {
		Reads struct {
			Latency int64 `bson:"latency"`
			Ops     int64 `bson:"ops"`
		} `bson:"reads"`
	} `bson:"opLatencies"`
}

func (s serverStatus) snapshot(at time.Time) Snapshot {
	snap := Snapshot{
		TakenAt:       at,
		Connections:   s.Connections.Current,
		MemResidentMB: s.Mem.Resident,
	}
	snap.OpCounters.Query = s.Opcounters.Query
	snap.OpCounters.Insert = s.Opcounters.Insert
	snap.OpCounters.Update = s.Opcounters.Update
	snap.OpCounters.Delete = s.Opcounters.Delete
	if s.OpLatencies != nil {
		snap.Latency = &Latency{
			TotalMicros: s.OpLatencies.Reads.Latency,
			Ops:         s.OpLatencies.Reads.Ops,
		}
	}
	return snap
}

// MongoClient reads serverStatus from a MongoDB deployment.
type MongoClient struct {
	mu     sync.Mutex
	client *mongo.Client
}

// DialMongo connects lazily; the first Status call surfaces reachability errors.
func DialMongo(ctx context.Context, uri string) (*MongoClient, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(2)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &MongoClient{client: client}, nil
}

func (m *MongoClient) Status(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return Snapshot{}, ErrNotConnected
	}

	var status serverStatus
	err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).Decode(&status)
	if err != nil {
		return Snapshot{}, fmt.Errorf("serverStatus failed: %w", err)
	}
	return status.snapshot(time.Now().UTC()), nil
}

func (m *MongoClient) Close(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}
