package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nicktill/dbpulse/pkg/models"
	"github.com/nicktill/dbpulse/pkg/storage"
)

func (s *Storage) ListActiveInstances(ctx context.Context) ([]models.Instance, error) {
	return findAll[models.Instance](ctx, s.coll(CollInstances), bson.D{{Key: "active", Value: true}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Storage) ListInstances(ctx context.Context) ([]models.Instance, error) {
	return findAll[models.Instance](ctx, s.coll(CollInstances), bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Storage) GetInstance(ctx context.Context, id string) (models.Instance, error) {
	var inst models.Instance
	err := s.coll(CollInstances).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&inst)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return inst, storage.ErrNotFound
	}
	return inst, err
}

func (s *Storage) UpsertInstance(ctx context.Context, inst models.Instance) error {
	_, err := s.coll(CollInstances).ReplaceOne(ctx, bson.D{{Key: "_id", Value: inst.ID}}, inst,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Storage) WriteSample(ctx context.Context, sample models.Sample) error {
	_, err := s.coll(CollSamples).InsertOne(ctx, sample)
	return err
}

func (s *Storage) QuerySamples(ctx context.Context, req storage.SampleQuery) ([]models.Sample, error) {
	endOp := "$lt"
	if req.IncludeEnd {
		endOp = "$lte"
	}
	filter := bson.D{
		{Key: "instanceId", Value: req.InstanceID},
		{Key: "ts", Value: bson.D{{Key: "$gte", Value: req.Start}, {Key: endOp, Value: req.End}}},
	}
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}})
	if req.Limit > 0 {
		opts.SetLimit(int64(req.Limit))
	}
	return findAll[models.Sample](ctx, s.coll(CollSamples), filter, opts)
}

func (s *Storage) DeleteSamplesBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.coll(CollSamples).DeleteMany(ctx, bson.D{{Key: "ts", Value: bson.D{{Key: "$lt", Value: before}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func rollupFilter(row models.RollupRow) bson.D {
	return bson.D{
		{Key: "instanceId", Value: row.InstanceID},
		{Key: "bucket", Value: row.Bucket},
		{Key: "metric", Value: row.Metric},
	}
}

// UpsertRollups replaces rows by (instanceId, bucket, metric) in one unordered bulk write.
func (s *Storage) UpsertRollups(ctx context.Context, rows []models.RollupRow) error {
	if len(rows) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, row := range rows {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(rollupFilter(row)).
			SetReplacement(row).
			SetUpsert(true))
	}
	_, err := s.coll(CollRollups).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

func (s *Storage) LatestRollupBucket(ctx context.Context, instanceID string) (time.Time, bool, error) {
	var row models.RollupRow
	err := s.coll(CollRollups).FindOne(ctx,
		bson.D{{Key: "instanceId", Value: instanceID}},
		options.FindOne().SetSort(bson.D{{Key: "bucket", Value: -1}}),
	).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return row.Bucket, true, nil
}

func (s *Storage) QueryRollups(ctx context.Context, req storage.RollupQuery) ([]models.RollupRow, error) {
	filter := bson.D{
		{Key: "instanceId", Value: req.InstanceID},
		{Key: "bucket", Value: bson.D{{Key: "$gte", Value: req.Start}, {Key: "$lt", Value: req.End}}},
	}
	if req.Metric != "" {
		filter = append(filter, bson.E{Key: "metric", Value: req.Metric})
	}
	opts := options.Find().SetSort(bson.D{{Key: "bucket", Value: 1}, {Key: "metric", Value: 1}})
	return findAll[models.RollupRow](ctx, s.coll(CollRollups), filter, opts)
}

func (s *Storage) DeleteRollupsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.coll(CollRollups).DeleteMany(ctx, bson.D{{Key: "bucket", Value: bson.D{{Key: "$lt", Value: before}}}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Storage) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return findAll[models.AlertRule](ctx, s.coll(CollRules), bson.D{{Key: "enabled", Value: true}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Storage) ListRulesForInstance(ctx context.Context, instanceID string) ([]models.AlertRule, error) {
	filter := bson.D{}
	if instanceID != "" {
		// instanceScope is omitted for global rules.
		filter = bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "instanceScope", Value: nil}},
			bson.D{{Key: "instanceScope", Value: ""}},
			bson.D{{Key: "instanceScope", Value: instanceID}},
		}}}
	}
	return findAll[models.AlertRule](ctx, s.coll(CollRules), filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
}

func (s *Storage) SaveRule(ctx context.Context, rule models.AlertRule) error {
	_, err := s.coll(CollRules).ReplaceOne(ctx, bson.D{{Key: "_id", Value: rule.ID}}, rule,
		options.Replace().SetUpsert(true))
	return err
}

func (s *Storage) DeleteRule(ctx context.Context, id string) error {
	res, err := s.coll(CollRules).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Storage) AppendEvent(ctx context.Context, ev models.AlertEvent) error {
	_, err := s.coll(CollEvents).InsertOne(ctx, ev)
	return err
}

func (s *Storage) LatestEvent(ctx context.Context, ruleID, instanceID string) (models.AlertEvent, bool, error) {
	var ev models.AlertEvent
	err := s.coll(CollEvents).FindOne(ctx,
		bson.D{{Key: "instanceId", Value: instanceID}, {Key: "ruleId", Value: ruleID}},
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}}),
	).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

func eventQuery(f storage.EventFilter) bson.D {
	filter := bson.D{}
	if f.InstanceID != "" {
		filter = append(filter, bson.E{Key: "instanceId", Value: f.InstanceID})
	}
	if f.RuleID != "" {
		filter = append(filter, bson.E{Key: "ruleId", Value: f.RuleID})
	}
	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: f.Status})
	}
	if f.EventType != "" {
		filter = append(filter, bson.E{Key: "eventType", Value: f.EventType})
	}
	created := bson.D{}
	if !f.Start.IsZero() {
		created = append(created, bson.E{Key: "$gte", Value: f.Start})
	}
	if !f.End.IsZero() {
		created = append(created, bson.E{Key: "$lte", Value: f.End})
	}
	if len(created) > 0 {
		filter = append(filter, bson.E{Key: "createdAt", Value: created})
	}
	return filter
}

func (s *Storage) ListEvents(ctx context.Context, f storage.EventFilter) ([]models.AlertEvent, int64, error) {
	filter := eventQuery(f)

	total, err := s.coll(CollEvents).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	items, err := findAll[models.AlertEvent](ctx, s.coll(CollEvents), filter, opts)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []models.AlertEvent{}
	}
	return items, total, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.D, opts *options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll.Name(), err)
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", coll.Name(), err)
	}
	return out, nil
}
