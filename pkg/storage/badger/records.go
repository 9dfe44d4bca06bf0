package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

func (s *Storage) ListActiveInstances(ctx context.Context) ([]models.Instance, error) {
	all, err := s.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, inst := range all {
		if inst.Active {
			active = append(active, inst)
		}
	}
	return active, nil
}

func (s *Storage) ListInstances(ctx context.Context) ([]models.Instance, error) {
	var out []models.Instance
	err := s.run(ctx, "list instances", func() error {
		return scanPrefix(ctx, s.db, []byte{prefixInstance}, func(_ []byte, val []byte) error {
			var inst models.Instance
			if err := json.Unmarshal(val, &inst); err != nil {
				return fmt.Errorf("failed to decode instance: %w", err)
			}
			out = append(out, inst)
			return nil
		})
	})
	return out, err
}

func (s *Storage) GetInstance(ctx context.Context, id string) (models.Instance, error) {
	var inst models.Instance
	err := s.run(ctx, "get instance", func() error {
		return getJSON(s.db, idKey(prefixInstance, id), &inst)
	})
	return inst, err
}

func (s *Storage) UpsertInstance(ctx context.Context, inst models.Instance) error {
	return s.run(ctx, "upsert instance", func() error {
		return s.setJSON(idKey(prefixInstance, inst.ID), inst, 0)
	})
}

// WriteSample stores one sample under its instance/timestamp key.
func (s *Storage) WriteSample(ctx context.Context, sample models.Sample) error {
	return s.run(ctx, "write", func() error {
		return s.setJSON(sampleKey(sample.InstanceID, sample.Timestamp), sample, s.sampleTTL)
	})
}

// QuerySamples scans only the instance's key range; keys sort by timestamp.
func (s *Storage) QuerySamples(ctx context.Context, req storage.SampleQuery) ([]models.Sample, error) {
	var results []models.Sample
	startTime := time.Now()

	err := s.run(ctx, "query", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := samplePrefix(req.InstanceID)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			var n int
			for it.Seek(seekFrom(prefix, req.InstanceID, req.Start)); it.ValidForPrefix(prefix); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}

				item := it.Item()
				ts := sampleKeyTime(item.Key())
				if !req.Contains(ts) {
					if ts.After(req.End) || (!req.IncludeEnd && ts.Equal(req.End)) {
						break
					}
					continue
				}

				var sample models.Sample
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &sample)
				}); err != nil {
					return fmt.Errorf("failed to decode sample: %w", err)
				}
				if sample.InstanceID != req.InstanceID {
					continue
				}

				results = append(results, sample)
				if req.Limit > 0 && len(results) >= req.Limit {
					break
				}
			}
			return nil
		})
	})
	if elapsed := time.Since(startTime); elapsed > s.slowQuery {
		s.log.Warn("slow sample query", "instance_id", req.InstanceID, "took", elapsed, "results", len(results))
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Storage) DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteWhere(ctx, prefixSample, func(key []byte) bool {
		return sampleKeyTime(key).Before(before)
	})
}

func (s *Storage) UpsertRollups(ctx context.Context, rows []models.RollupRow) error {
	return s.run(ctx, "upsert rollups", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, row := range rows {
				value, err := json.Marshal(row)
				if err != nil {
					return fmt.Errorf("failed to encode rollup: %w", err)
				}
				e := badger.NewEntry(rollupKey(row.InstanceID, row.Bucket, row.Metric), value)
				if s.rollupTTL > 0 {
					e = e.WithTTL(s.rollupTTL)
				}
				if err := txn.SetEntry(e); err != nil {
					return fmt.Errorf("failed to write rollup: %w", err)
				}
			}
			return nil
		})
	})
}

func (s *Storage) LatestRollupBucket(ctx context.Context, instanceID string) (time.Time, bool, error) {
	var (
		latest time.Time
		found  bool
	)
	err := s.run(ctx, "latest rollup", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := rollupPrefix(instanceID)
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
				var row models.RollupRow
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &row)
				}); err != nil {
					return fmt.Errorf("failed to decode rollup: %w", err)
				}
				if row.InstanceID == instanceID {
					latest, found = row.Bucket, true
					return nil
				}
			}
			return nil
		})
	})
	return latest, found, err
}

func (s *Storage) QueryRollups(ctx context.Context, req storage.RollupQuery) ([]models.RollupRow, error) {
	var results []models.RollupRow
	err := s.run(ctx, "query rollups", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := rollupPrefix(req.InstanceID)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			seek := prefix
			if req.Start.After(time.Unix(0, 0)) {
				seek = rollupKey(req.InstanceID, req.Start, "")
			}
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				if !rollupKeyBucket(it.Item().Key()).Before(req.End) {
					break
				}
				var row models.RollupRow
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &row)
				}); err != nil {
					return fmt.Errorf("failed to decode rollup: %w", err)
				}
				if req.Matches(row) {
					results = append(results, row)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Storage) DeleteRollupsBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.deleteWhere(ctx, prefixRollup, func(key []byte) bool {
		return rollupKeyBucket(key).Before(before)
	})
}

func (s *Storage) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.listRules(ctx, func(r models.AlertRule) bool { return r.Enabled })
}

func (s *Storage) ListRulesForInstance(ctx context.Context, instanceID string) ([]models.AlertRule, error) {
	return s.listRules(ctx, func(r models.AlertRule) bool {
		return instanceID == "" || r.AppliesTo(instanceID)
	})
}

func (s *Storage) listRules(ctx context.Context, keep func(models.AlertRule) bool) ([]models.AlertRule, error) {
	var out []models.AlertRule
	err := s.run(ctx, "list rules", func() error {
		return scanPrefix(ctx, s.db, []byte{prefixRule}, func(_ []byte, val []byte) error {
			var rule models.AlertRule
			if err := json.Unmarshal(val, &rule); err != nil {
				return fmt.Errorf("failed to decode rule: %w", err)
			}
			if keep(rule) {
				out = append(out, rule)
			}
			return nil
		})
	})
	return out, err
}

func (s *Storage) SaveRule(ctx context.Context, rule models.AlertRule) error {
	return s.run(ctx, "save rule", func() error {
		return s.setJSON(idKey(prefixRule, rule.ID), rule, 0)
	})
}

func (s *Storage) DeleteRule(ctx context.Context, id string) error {
	return s.run(ctx, "delete rule", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key := idKey(prefixRule, id)
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return storage.ErrNotFound
				}
				return err
			}
			return txn.Delete(key)
		})
	})
}

func (s *Storage) AppendEvent(ctx context.Context, ev models.AlertEvent) error {
	return s.run(ctx, "append event", func() error {
		return s.setJSON(eventKey(ev.RuleID, ev.InstanceID, ev.CreatedAt, ev.ID), ev, 0)
	})
}

// LatestEvent walks the pair's key range backwards; keys sort by createdAt.
func (s *Storage) LatestEvent(ctx context.Context, ruleID, instanceID string) (models.AlertEvent, bool, error) {
	var (
		latest models.AlertEvent
		found  bool
	)
	err := s.run(ctx, "latest event", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := eventPrefix(ruleID, instanceID)
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
				var ev models.AlertEvent
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &ev)
				}); err != nil {
					return fmt.Errorf("failed to decode event: %w", err)
				}
				if ev.RuleID == ruleID && ev.InstanceID == instanceID {
					latest, found = ev, true
					return nil
				}
			}
			return nil
		})
	})
	return latest, found, err
}

func (s *Storage) ListEvents(ctx context.Context, filter storage.EventFilter) ([]models.AlertEvent, int64, error) {
	var matched []models.AlertEvent
	err := s.run(ctx, "list events", func() error {
		return scanPrefix(ctx, s.db, []byte{prefixEvent}, func(_ []byte, val []byte) error {
			var ev models.AlertEvent
			if err := json.Unmarshal(val, &ev); err != nil {
				return fmt.Errorf("failed to decode event: %w", err)
			}
			if filter.Matches(ev) {
				matched = append(matched, ev)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return filter.Page(matched), int64(len(matched)), nil
}

func (s *Storage) setJSON(key []byte, v any, ttl time.Duration) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func getJSON(db *badger.DB, key []byte, v any) error {
	return db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func scanPrefix(ctx context.Context, db *badger.DB, prefix []byte, fn func(key, val []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		var n int
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
			if err := checkCtx(ctx, n); err != nil {
				return err
			}
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return fn(item.Key(), val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// deleteWhere removes keys under a keyspace prefix whose key matches.
// Deletes are flushed in batches to stay under badger's transaction size limit.
func (s *Storage) deleteWhere(ctx context.Context, prefix byte, match func(key []byte) bool) (int64, error) {
	var deleted int64
	err := s.run(ctx, "delete", func() error {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte{prefix}

			it := txn.NewIterator(opts)
			defer it.Close()

			var n int
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				n++
				if err := checkCtx(ctx, n); err != nil {
					return err
				}
				if match(it.Item().Key()) {
					keys = append(keys, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, key := range keys {
			if err := wb.Delete(key); err != nil {
				return err
			}
		}
		if err := wb.Flush(); err != nil {
			return err
		}
		deleted = int64(len(keys))
		return nil
	})
	return deleted, err
}
