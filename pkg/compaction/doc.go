/*
Package compaction rolls raw samples up into fixed-width time buckets.

# What is a Rollup?

The sampler writes one sample per instance every few seconds. Rollups
aggregate those samples into buckets (5 minutes by default) so long time
ranges can be charted without scanning every raw sample, and so history can
outlive the raw retention window.

For each bucket and instance three rows are written, one per metric:

	connections_current   Sample.Connections
	memory_mb             Sample.MemResidentMB
	operations_per_sec    sum of Sample.OpsPerSec categories

Each row stores sum, count, min, max and the average (sum / count).

# Bucket Alignment

Buckets are aligned to the Unix epoch in UTC:

	BucketStart(ts) = floor(unix(ts) / B) * B

so every process computes identical bucket boundaries regardless of its
local time zone or start time.

# Resume Point

The compactor keeps no state of its own. On every tick, for every active
instance, it reads the newest rollup bucket from the store and resumes at
the bucket after it:

	┌───────────┬───────────┬───────────┬───────────┬ ─ ─ ─ ─ ─ ┐
	│  rolled   │  rolled   │  pending  │  pending  │  current
	└───────────┴───────────┴───────────┴───────────┴ ─ ─ ─ ─ ─ ┘
	                        ↑ resume                ↑ end (exclusive)

The bucket containing "now" is never rolled up because samples may still
arrive for it. An instance with no rollups starts at max(2B, 2h) ago; older
raw data is never backfilled.

# Idempotence

Rows are upserted by (instance, bucket, metric). Re-running a tick, or two
processes racing on the same bucket, produce the same rows because the
values only depend on the samples in the bucket, summed in timestamp order.

Empty buckets produce no rows. Buckets are written oldest first, so if a
write fails the next tick resumes right after the last bucket that made it.

# Expiry

When a TTL is configured, rows with a bucket older than now-TTL are deleted
once per tick. The badger and mongo backends also expire them natively.

# Usage Example

	c := compaction.New(store, compaction.Config{
	    Enabled: true,
	    Bucket:  5 * time.Minute,
	    TTL:     30 * 24 * time.Hour,
	}, logger)

	if err := c.Tick(ctx); err != nil {
	    log.Printf("rollup tick: %v", err)
	}
*/
package compaction
