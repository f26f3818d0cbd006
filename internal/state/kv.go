// Package state provides the durable-state primitives: a KV abstraction
// with in-memory and SQLite implementations, a Redlock-style lease lock,
// and the order journal / snapshot writers.
package state

import (
	"sort"
	"strings"
	"sync"
	"time"

	"mmexec/internal/core"
)

// KV is the storage contract shared by the in-memory fake and the
// SQLite implementation. Strings, hashes, lists, and sets with optional
// TTL; expired keys are reaped lazily on access.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
	Delete(key string) bool
	Exists(key string) bool

	HGet(key, field string) (string, bool)
	HSet(key, field, value string)
	HGetAll(key string) map[string]string
	HDel(key string, fields ...string) int

	RPush(key string, values ...string) int
	LRange(key string, start, stop int) []string
	LLen(key string) int

	SAdd(key string, members ...string) int
	SRem(key string, members ...string) int
	SMembers(key string) []string
	SIsMember(key, member string) bool
	SCard(key string) int

	// Scan walks keys in sorted order. match supports "*", "prefix*",
	// "*suffix", and "*contains*" globs. Returns the next cursor, 0
	// when the iteration is complete.
	Scan(cursor int, match string, count int) (int, []string)

	Close() error
}

// MatchGlob implements the scan glob subset
func MatchGlob(pattern, key string) bool {
	switch {
	case pattern == "" || pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(key, pattern[1:len(pattern)-1])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(key, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(key, pattern[1:])
	default:
		return key == pattern
	}
}

type memoryEntry struct {
	str  string
	hash map[string]string
	list []string
	set  map[string]struct{}

	// zero means no expiry
	expiresAtMs int64
}

// MemoryKV is the in-memory KV used by tests and shadow runs. Hashes,
// lists, and sets are kept as native structures; canonical JSON appears
// only at the snapshot boundary.
type MemoryKV struct {
	mu    sync.RWMutex
	data  map[string]*memoryEntry
	clock core.Clock
}

// NewMemoryKV creates an in-memory KV. A nil clock falls back to the
// system clock.
func NewMemoryKV(clock core.Clock) *MemoryKV {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &MemoryKV{
		data:  make(map[string]*memoryEntry),
		clock: clock,
	}
}

// expired reports and removes a dead entry. Caller holds the write lock.
func (kv *MemoryKV) reap(key string) *memoryEntry {
	e, ok := kv.data[key]
	if !ok {
		return nil
	}
	if e.expiresAtMs > 0 && kv.clock.NowMs() >= e.expiresAtMs {
		delete(kv.data, key)
		return nil
	}
	return e
}

func (kv *MemoryKV) upsert(key string, ttl time.Duration) *memoryEntry {
	e := kv.reap(key)
	if e == nil {
		e = &memoryEntry{}
		kv.data[key] = e
	}
	if ttl > 0 {
		e.expiresAtMs = kv.clock.NowMs() + ttl.Milliseconds()
	}
	return e
}

func (kv *MemoryKV) Get(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil {
		return "", false
	}
	return e.str, true
}

func (kv *MemoryKV) Set(key, value string, ttl time.Duration) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := &memoryEntry{str: value}
	if ttl > 0 {
		e.expiresAtMs = kv.clock.NowMs() + ttl.Milliseconds()
	}
	kv.data[key] = e
}

func (kv *MemoryKV) Delete(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.reap(key) == nil {
		return false
	}
	delete(kv.data, key)
	return true
}

func (kv *MemoryKV) Exists(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.reap(key) != nil
}

func (kv *MemoryKV) HGet(key, field string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil || e.hash == nil {
		return "", false
	}
	v, ok := e.hash[field]
	return v, ok
}

func (kv *MemoryKV) HSet(key, field, value string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.upsert(key, 0)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	e.hash[field] = value
}

func (kv *MemoryKV) HGetAll(key string) map[string]string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	out := make(map[string]string)
	e := kv.reap(key)
	if e == nil {
		return out
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out
}

func (kv *MemoryKV) HDel(key string, fields ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil || e.hash == nil {
		return 0
	}
	removed := 0
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			removed++
		}
	}
	return removed
}

func (kv *MemoryKV) RPush(key string, values ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.upsert(key, 0)
	e.list = append(e.list, values...)
	return len(e.list)
}

func (kv *MemoryKV) LRange(key string, start, stop int) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil {
		return nil
	}
	n := len(e.list)
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out
}

func (kv *MemoryKV) LLen(key string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil {
		return 0
	}
	return len(e.list)
}

func (kv *MemoryKV) SAdd(key string, members ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.upsert(key, 0)
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	added := 0
	for _, m := range members {
		if _, ok := e.set[m]; !ok {
			e.set[m] = struct{}{}
			added++
		}
	}
	return added
}

func (kv *MemoryKV) SRem(key string, members ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil || e.set == nil {
		return 0
	}
	removed := 0
	for _, m := range members {
		if _, ok := e.set[m]; ok {
			delete(e.set, m)
			removed++
		}
	}
	return removed
}

func (kv *MemoryKV) SMembers(key string) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.set))
	for m := range e.set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (kv *MemoryKV) SIsMember(key, member string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil || e.set == nil {
		return false
	}
	_, ok := e.set[member]
	return ok
}

func (kv *MemoryKV) SCard(key string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e := kv.reap(key)
	if e == nil {
		return 0
	}
	return len(e.set)
}

func (kv *MemoryKV) Scan(cursor int, match string, count int) (int, []string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if count <= 0 {
		count = 10
	}

	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		if kv.reap(k) == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if cursor < 0 || cursor >= len(keys) {
		return 0, nil
	}

	var out []string
	i := cursor
	for ; i < len(keys) && len(out) < count; i++ {
		if MatchGlob(match, keys[i]) {
			out = append(out, keys[i])
		}
	}
	if i >= len(keys) {
		return 0, out
	}
	return i, out
}

func (kv *MemoryKV) Close() error {
	return nil
}
