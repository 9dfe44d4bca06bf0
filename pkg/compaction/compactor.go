package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

// minLookback bounds how far back the first run for an instance reaches.
const minLookback = 2 * time.Hour

// Store is what the compactor reads and writes.
type Store interface {
	storage.Instances
	storage.Samples
	storage.Rollups
}

// Config controls rollup behaviour.
type Config struct {
	Enabled bool

	// Bucket is the rollup width, truncated to whole seconds (minimum 1s).
	Bucket time.Duration

	// TTL deletes rollups whose bucket is older than now-TTL (0 = keep).
	TTL time.Duration
}

// Compactor turns raw samples into per-bucket rollup rows.
type Compactor struct {
	store  Store
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
	bucket int64 // seconds
}

// New creates a new compactor
func New(store Store, cfg Config, log *slog.Logger) *Compactor {
	if log == nil {
		log = slog.Default()
	}
	bucket := int64(cfg.Bucket / time.Second)
	if bucket < 1 {
		bucket = 1
	}
	return &Compactor{
		store:  store,
		cfg:    cfg,
		log:    log.With("module", "compaction"),
		now:    time.Now,
		bucket: bucket,
	}
}

// SetClock overrides the time source.
func (c *Compactor) SetClock(now func() time.Time) {
	c.now = now
}

// BucketWidth returns the effective bucket width.
func (c *Compactor) BucketWidth() time.Duration {
	return time.Duration(c.bucket) * time.Second
}

// BucketStart floors ts to the start of its bucket in UTC epoch seconds.
func BucketStart(ts time.Time, bucketSeconds int64) time.Time {
	if bucketSeconds < 1 {
		bucketSeconds = 1
	}
	sec := ts.Unix()
	floored := sec - mod(sec, bucketSeconds)
	return time.Unix(floored, 0).UTC()
}

// mod is a floor modulo so pre-epoch timestamps round down too.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Tick rolls up every active instance and then expires old rollups.
// A failing instance is logged and does not stop the others.
func (c *Compactor) Tick(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	now := c.now().UTC()

	instances, err := c.store.ListActiveInstances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	var errs []error
	for _, inst := range instances {
		n, err := c.CompactInstance(ctx, inst.ID, now)
		if err != nil {
			c.log.Error("rollup failed", "instance_id", inst.ID, "error", err)
			errs = append(errs, fmt.Errorf("instance %s: %w", inst.ID, err))
			continue
		}
		if n > 0 {
			c.log.Debug("rollup written", "instance_id", inst.ID, "buckets", n)
		}
	}

	if c.cfg.TTL > 0 {
		deleted, err := c.store.DeleteRollupsBefore(ctx, now.Add(-c.cfg.TTL))
		if err != nil {
			c.log.Warn("rollup expiry failed", "error", err)
		} else if deleted > 0 {
			c.log.Info("expired rollups", "deleted", deleted)
		}
	}

	return errors.Join(errs...)
}

// Window returns the half-open range [resume, end) still to be rolled up for
// an instance. ok is false when there is nothing to do.
func (c *Compactor) Window(ctx context.Context, instanceID string, now time.Time) (resume, end time.Time, ok bool, err error) {
	width := c.BucketWidth()
	end = BucketStart(now, c.bucket)

	last, found, err := c.store.LatestRollupBucket(ctx, instanceID)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to read last rollup: %w", err)
	}

	if found {
		resume = BucketStart(last, c.bucket).Add(width)
	} else {
		lookback := 2 * width
		if lookback < minLookback {
			lookback = minLookback
		}
		resume = BucketStart(now.Add(-lookback), c.bucket)
	}

	return resume, end, resume.Before(end), nil
}

// CompactInstance rolls up all complete buckets for one instance and
// returns how many non-empty buckets were written.
func (c *Compactor) CompactInstance(ctx context.Context, instanceID string, now time.Time) (int, error) {
	resume, end, ok, err := c.Window(ctx, instanceID, now)
	if err != nil || !ok {
		return 0, err
	}

	samples, err := c.store.QuerySamples(ctx, storage.SampleQuery{
		InstanceID: instanceID,
		Start:      resume,
		End:        end,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query samples: %w", err)
	}

	written := 0
	for _, group := range groupByBucket(samples, c.bucket) {
		// Written oldest first so a failure leaves a contiguous prefix to resume after.
		rows := BuildRows(instanceID, group.bucket, group.samples)
		if err := c.store.UpsertRollups(ctx, rows); err != nil {
			return written, fmt.Errorf("failed to write bucket %s: %w", group.bucket.Format(time.RFC3339), err)
		}
		written++
	}
	return written, nil
}

type bucketGroup struct {
	bucket  time.Time
	samples []models.Sample
}

// groupByBucket splits time-ordered samples into consecutive bucket groups.
func groupByBucket(samples []models.Sample, bucketSeconds int64) []bucketGroup {
	var groups []bucketGroup
	for _, s := range samples {
		b := BucketStart(s.Timestamp, bucketSeconds)
		if n := len(groups); n > 0 && groups[n-1].bucket.Equal(b) {
			groups[n-1].samples = append(groups[n-1].samples, s)
			continue
		}
		groups = append(groups, bucketGroup{bucket: b, samples: []models.Sample{s}})
	}
	return groups
}
