// Package target queries live status from monitored database instances.
package target

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
)

var (
	// ErrUnsupportedKind is returned for an instance kind with no client.
	ErrUnsupportedKind = errors.New("target: unsupported database kind")

	// ErrNotConnected is returned by a client used after Close.
	ErrNotConnected = errors.New("target: not connected to database")
)

// Latency holds cumulative operation latency counters.
type Latency struct {
	TotalMicros int64
	Ops         int64
}

// Snapshot is one status reading. Counters are cumulative since the server started.
type Snapshot struct {
	TakenAt       time.Time
	Connections   int64
	OpCounters    models.OpCounters
	MemResidentMB float64

	// Latency is nil when the engine does not expose latency counters.
	Latency *Latency
}

// Client is a live connection to one monitored instance.
type Client interface {
	Status(ctx context.Context) (Snapshot, error)
	Close(ctx context.Context) error
}

// Dialer opens a Client for a descriptor.
type Dialer func(ctx context.Context, desc models.Descriptor) (Client, error)

// Dial opens a client for desc based on its kind.
func Dial(ctx context.Context, desc models.Descriptor) (Client, error) {
	var (
		c   Client
		err error
	)
	switch desc.Kind {
	case models.KindMongoDB:
		c, err = DialMongo(ctx, desc.URI)
	case models.KindPostgres:
		c, err = DialPostgres(ctx, desc.URI)
	case models.KindMySQL:
		c, err = DialMySQL(ctx, desc.URI)
	default:
		return nil, ErrUnsupportedKind
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", desc.Kind, err)
	}
	return c, nil
}
