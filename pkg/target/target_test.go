package target

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestServerStatus_Decode(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "connections", Value: bson.D{{Key: "current", Value: int32(12)}}},
		{Key: "opcounters", Value: bson.D{
			{Key: "query", Value: int64(100)},
			{Key: "insert", Value: int32(20)},
			{Key: "update", Value: int64(5)},
			{Key: "delete", Value: int64(1)},
		}},
		{Key: "mem", Value: bson.D{{Key: "resident", Value: int32(256)}}},
		{Key: "opLatencies", Value: bson.D{
			{Key: "reads", Value: bson.D{{Key: "latency", Value: int64(5000)}, {Key: "ops", Value: int64(10)}}},
		}},
	})
	require.NoError(t, err)

	var status serverStatus
	require.NoError(t, bson.Unmarshal(raw, &status))

	at := time.Unix(1700000000, 0).UTC()
	snap := status.snapshot(at)
	assert.Equal(t, at, snap.TakenAt)
	assert.Equal(t, int64(12), snap.Connections)
	assert.Equal(t, int64(100), snap.OpCounters.Query)
	assert.Equal(t, int64(20), snap.OpCounters.Insert)
	assert.Equal(t, 256.0, snap.MemResidentMB)
	require.NotNil(t, snap.Latency)
	assert.Equal(t, int64(5000), snap.Latency.TotalMicros)
	assert.Equal(t, int64(10), snap.Latency.Ops)
}

func TestServerStatus_NoLatency(t *testing.T) {
	raw, err := bson.Marshal(bson.D{{Key: "connections", Value: bson.D{{Key: "current", Value: int32(1)}}}})
	require.NoError(t, err)

	var status serverStatus
	require.NoError(t, bson.Unmarshal(raw, &status))
	assert.Nil(t, status.snapshot(time.Now()).Latency)
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"driver dsn passes through", "root:pw@tcp(db:3306)/app", "root:pw@tcp(db:3306)/app"},
		{"url with port", "mysql://root:pw@db:3307/app", "root:pw@tcp(db:3307)/app?timeout=5s"},
		{"url default port", "mysql://root@db/app", "root@tcp(db:3306)/app?timeout=5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mysqlDSN(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMySQLSnapshot(t *testing.T) {
	snap := mysqlSnapshot(map[string]int64{
		"Threads_connected": 7,
		"Com_select":        900,
		"Com_insert":        40,
	}, time.Now())

	assert.Equal(t, int64(7), snap.Connections)
	assert.Equal(t, int64(900), snap.OpCounters.Query)
	assert.Equal(t, int64(40), snap.OpCounters.Insert)
	assert.Zero(t, snap.OpCounters.Delete)
	assert.Nil(t, snap.Latency)
}
