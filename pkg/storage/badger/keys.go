package badger

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Keyspace prefixes. Every key starts with exactly one of these bytes.
const (
	prefixInstance byte = 'i'
	prefixSample   byte = 's'
	prefixRollup   byte = 'r'
	prefixRule     byte = 'a'
	prefixEvent    byte = 'e'
)

// Hash prefixes can collide, so readers always compare the decoded ids too.

// sampleKey: [s][instance hash (8)][timestamp nanos (8)]
func sampleKey(instanceID string, ts time.Time) []byte {
	key := make([]byte, 17)
	key[0] = prefixSample
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(instanceID))
	binary.BigEndian.PutUint64(key[9:17], uint64(ts.UnixNano()))
	return key
}

func samplePrefix(instanceID string) []byte {
	return sampleKey(instanceID, time.Unix(0, 0))[:9]
}

// seekFrom positions a sample scan at start, or at the first key when start
// predates the epoch.
func seekFrom(prefix []byte, instanceID string, start time.Time) []byte {
	if start.Before(time.Unix(0, 0)) {
		return prefix
	}
	return sampleKey(instanceID, start)
}

func sampleKeyTime(key []byte) time.Time {
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[9:17]))).UTC()
}

// rollupKey: [r][instance hash (8)][bucket unix seconds (8)][metric]
func rollupKey(instanceID string, bucket time.Time, metric string) []byte {
	key := make([]byte, 17, 17+len(metric))
	key[0] = prefixRollup
	binary.BigEndian.PutUint64(key[1:9], xxhash.Sum64String(instanceID))
	binary.BigEndian.PutUint64(key[9:17], uint64(bucket.Unix()))
	return append(key, metric...)
}

func rollupPrefix(instanceID string) []byte {
	return rollupKey(instanceID, time.Unix(0, 0), "")[:9]
}

func rollupKeyBucket(key []byte) time.Time {
	return time.Unix(int64(binary.BigEndian.Uint64(key[9:17])), 0).UTC()
}

// eventKey: [e][pair hash (8)][createdAt nanos (8)][event id]
func eventKey(ruleID, instanceID string, createdAt time.Time, id string) []byte {
	key := make([]byte, 17, 17+len(id))
	key[0] = prefixEvent
	binary.BigEndian.PutUint64(key[1:9], pairHash(ruleID, instanceID))
	binary.BigEndian.PutUint64(key[9:17], uint64(createdAt.UnixNano()))
	return append(key, id...)
}

func eventPrefix(ruleID, instanceID string) []byte {
	key := make([]byte, 9)
	key[0] = prefixEvent
	binary.BigEndian.PutUint64(key[1:9], pairHash(ruleID, instanceID))
	return key
}

func pairHash(ruleID, instanceID string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(ruleID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(instanceID)
	return d.Sum64()
}

func idKey(prefix byte, id string) []byte {
	return append([]byte{prefix}, id...)
}

// seekLast returns a key greater than every key under prefix, for reverse iteration.
func seekLast(prefix []byte) []byte {
	key := make([]byte, len(prefix), len(prefix)+9)
	copy(key, prefix)
	for i := 0; i < 9; i++ {
		key = append(key, 0xFF)
	}
	return key
}
