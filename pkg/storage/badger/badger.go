package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/dbpulse/pkg/storage"
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db        *badger.DB
	sampleTTL time.Duration
	rollupTTL time.Duration
	slowQuery time.Duration
	log       *slog.Logger
}

// defaultSlowQuery is the sample query duration that gets logged.
const defaultSlowQuery = 5 * time.Second

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults based on environment)
	// Recommended: 64-128 MB for local dev, 256-512 MB for production
	MaxMemoryMB int64

	// SampleTTL and RollupTTL set native entry expiry (0 = keep until pruned).
	SampleTTL time.Duration
	RollupTTL time.Duration

	// SlowQuery logs sample queries that take longer (0 = 5s).
	SlowQuery time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// BadgerDB defaults: 64 MB memtable, 5 x 64 MB = 320 MB total.
	// Default here is 48 MB total (16 MB memtable + caches).
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches are unbounded unless set.
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of default 2GB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	slowQuery := cfg.SlowQuery
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}

	return &Storage{
		db:        db,
		sampleTTL: cfg.SampleTTL,
		rollupTTL: cfg.RollupTTL,
		slowQuery: slowQuery,
		log:       log.With("module", "badger"),
	}, nil
}

// run executes fn on its own goroutine so a stuck transaction can never
// outlive ctx from the caller's point of view.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// checkCtx is called periodically inside long iterations.
func checkCtx(ctx context.Context, n int) error {
	if n%1000 != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Ping runs an empty read transaction.
func (s *Storage) Ping(ctx context.Context) error {
	return s.run(ctx, "ping", func() error {
		if s.db.IsClosed() {
			return errors.New("badger: database closed")
		}
		return s.db.View(func(txn *badger.Txn) error { return nil })
	})
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted/updated values
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{Backend: "badger"}

	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			var n int
			for it.Rewind(); it.Valid(); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}

				key := it.Item().Key()
				switch key[0] {
				case prefixInstance:
					stats.Instances++
				case prefixSample:
					stats.Samples++
					ts := sampleKeyTime(key)
					if stats.OldestSample.IsZero() || ts.Before(stats.OldestSample) {
						stats.OldestSample = ts
					}
					if ts.After(stats.NewestSample) {
						stats.NewestSample = ts
					}
				case prefixRollup:
					stats.Rollups++
				case prefixRule:
					stats.Rules++
				case prefixEvent:
					stats.Events++
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}
