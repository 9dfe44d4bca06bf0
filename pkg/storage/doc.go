/*
Package storage provides the pluggable persistence layer for dbpulse.

# Storage Interface

Every backend stores five record kinds:

  - instances: the directory of monitored databases
  - samples: raw observations written by the sampler (insert-only)
  - rollups: bucket aggregates written by the compactor (upsert by instance, bucket, metric)
  - rules: alert rule definitions
  - events: the append-only alert event log

The interface is split by record kind (Instances, Samples, Rollups, Rules,
Events) so each loop depends only on what it reads and writes. Storage
composes all of them with Ping, Stats and Close.

# Backends

  - memory: in-process maps, for tests and local development
  - badger: BadgerDB (LSM tree + Snappy compression), the default embedded store
  - mongo: MongoDB collections, for deployments sharing one store between processes

# Ordering

QuerySamples returns samples in timestamp order and QueryRollups returns rows
in bucket order. ListEvents returns newest first. Rollup computation and
alert evaluation rely on this ordering.

# Retention

DeleteSamplesBefore and DeleteRollupsBefore implement retention. The badger
and mongo backends additionally expire records natively (entry TTLs and TTL
indexes) when configured with a retention window, so a missed prune never
lets data grow unbounded.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	samples, err := store.QuerySamples(ctx, storage.SampleQuery{
	    InstanceID: "db-1",
	    Start:      time.Now().Add(-time.Hour),
	    End:        time.Now(),
	    IncludeEnd: true,
	})

# See Also

  - storagetest.Run for the conformance suite every backend passes
  - pkg/compaction for the rollup logic
*/
package storage
