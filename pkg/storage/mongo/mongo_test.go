package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/dbpulse/pkg/storage"
	"github.com/nicktill/dbpulse/pkg/storage/storagetest"
)

// Run with a throwaway server, e.g.
//
//	DBPULSE_TEST_MONGO_URI=mongodb://localhost:27017 go test ./pkg/storage/mongo/
func TestMongoStorage_Conformance(t *testing.T) {
	uri := os.Getenv("DBPULSE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("DBPULSE_TEST_MONGO_URI not set")
	}

	var n int
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		n++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db := fmt.Sprintf("dbpulse_test_%d_%d", time.Now().UnixNano(), n)
		store, err := New(ctx, Config{URI: uri, Database: db})
		require.NoError(t, err)
		require.NoError(t, store.Ping(ctx))
		require.NoError(t, store.EnsureIndexes(ctx))

		t.Cleanup(func() {
			// Close already ran; drop with a fresh client.
			cleanup, err := New(context.Background(), Config{URI: uri, Database: db})
			if err != nil {
				return
			}
			defer cleanup.Close()
			_ = cleanup.db.Drop(context.Background())
		})
		return store
	})
}

func TestIsIndexConflict(t *testing.T) {
	require.False(t, isIndexConflict(nil))
	require.False(t, isIndexConflict(fmt.Errorf("boom")))
}
