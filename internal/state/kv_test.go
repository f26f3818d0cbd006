package state

import (
	"testing"
	"time"

	"mmexec/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVStringsWithTTL(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	kv := NewMemoryKV(clock)

	kv.Set("k", "v", 100*time.Millisecond)
	v, ok := kv.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	assert.True(t, kv.Exists("k"))

	clock.Advance(150 * time.Millisecond)
	_, ok = kv.Get("k")
	assert.False(t, ok)
	assert.False(t, kv.Exists("k"))
}

func TestMemoryKVNoTTLNeverExpires(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	kv := NewMemoryKV(clock)

	kv.Set("k", "v", 0)
	clock.Advance(24 * time.Hour)
	_, ok := kv.Get("k")
	assert.True(t, ok)
}

func TestMemoryKVHashes(t *testing.T) {
	kv := NewMemoryKV(nil)

	kv.HSet("h", "f1", "v1")
	kv.HSet("h", "f2", "v2")

	v, ok := kv.HGet("h", "f1")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	all := kv.HGetAll("h")
	assert.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)

	assert.Equal(t, 1, kv.HDel("h", "f1", "missing"))
	_, ok = kv.HGet("h", "f1")
	assert.False(t, ok)
}

func TestMemoryKVLists(t *testing.T) {
	kv := NewMemoryKV(nil)

	assert.Equal(t, 2, kv.RPush("l", "a", "b"))
	assert.Equal(t, 3, kv.RPush("l", "c"))
	assert.Equal(t, 3, kv.LLen("l"))

	assert.Equal(t, []string{"a", "b", "c"}, kv.LRange("l", 0, -1))
	assert.Equal(t, []string{"b", "c"}, kv.LRange("l", 1, 2))
	assert.Equal(t, []string{"c"}, kv.LRange("l", -1, -1))
	assert.Nil(t, kv.LRange("l", 5, 9))
}

func TestMemoryKVSets(t *testing.T) {
	kv := NewMemoryKV(nil)

	assert.Equal(t, 2, kv.SAdd("s", "a", "b"))
	assert.Equal(t, 0, kv.SAdd("s", "a"))
	assert.True(t, kv.SIsMember("s", "a"))
	assert.False(t, kv.SIsMember("s", "z"))
	assert.Equal(t, 2, kv.SCard("s"))
	assert.Equal(t, []string{"a", "b"}, kv.SMembers("s"))

	assert.Equal(t, 1, kv.SRem("s", "a", "z"))
	assert.Equal(t, 1, kv.SCard("s"))
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"*", "anything", true},
		{"", "anything", true},
		{"order:*", "order:CLI00000001", true},
		{"order:*", "idem:k", false},
		{"*:open", "orders:open", true},
		{"*:open", "orders:closed", false},
		{"*by_symbol*", "orders:by_symbol:BTCUSDT", true},
		{"*by_symbol*", "orders:open", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.key), "%s vs %s", tt.pattern, tt.key)
	}
}

func TestMemoryKVScan(t *testing.T) {
	kv := NewMemoryKV(nil)
	kv.Set("order:1", "a", 0)
	kv.Set("order:2", "b", 0)
	kv.Set("idem:x", "c", 0)

	cursor, keys := kv.Scan(0, "order:*", 10)
	assert.Equal(t, 0, cursor)
	assert.Equal(t, []string{"order:1", "order:2"}, keys)
}

func TestMemoryKVScanPaging(t *testing.T) {
	kv := NewMemoryKV(nil)
	kv.Set("a", "1", 0)
	kv.Set("b", "2", 0)
	kv.Set("c", "3", 0)

	var all []string
	cursor := 0
	for {
		next, keys := kv.Scan(cursor, "*", 1)
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestMemoryKVScanSkipsExpired(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	kv := NewMemoryKV(clock)
	kv.Set("live", "1", 0)
	kv.Set("dead", "2", 50*time.Millisecond)

	clock.Advance(time.Second)
	_, keys := kv.Scan(0, "*", 10)
	require.Equal(t, []string{"live"}, keys)
}
