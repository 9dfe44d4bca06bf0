package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgConnectionsQuery = "SELECT count(*) FROM pg_stat_activity"

	// Committed plus rolled back transactions stand in for queries.
	pgCountersQuery = `SELECT
		COALESCE(sum(xact_commit + xact_rollback), 0)::bigint,
		COALESCE(sum(tup_inserted), 0)::bigint,
		COALESCE(sum(tup_updated), 0)::bigint,
		COALESCE(sum(tup_deleted), 0)::bigint
	FROM pg_stat_database`
)

// PostgresClient reads pg_stat_* views. Resident memory is not exposed and
// is reported as zero.
type PostgresClient struct {
	mu   sync.Mutex
	pool *pgxpool.Pool
}

func DialPostgres(ctx context.Context, connString string) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Status(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()
	if pool == nil {
		return Snapshot{}, ErrNotConnected
	}

	snap := Snapshot{TakenAt: time.Now().UTC()}
	if err := pool.QueryRow(ctx, pgConnectionsQuery).Scan(&snap.Connections); err != nil {
		return Snapshot{}, fmt.Errorf("failed to get connections: %w", err)
	}

	c := &snap.OpCounters
	if err := pool.QueryRow(ctx, pgCountersQuery).Scan(&c.Query, &c.Insert, &c.Update, &c.Delete); err != nil {
		return Snapshot{}, fmt.Errorf("failed to get counters: %w", err)
	}
	return snap, nil
}

func (p *PostgresClient) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}
