package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"mmexec/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	value      TEXT NOT NULL,
	expires_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteKV implements KV on a single-file SQLite database. Hashes,
// lists, and sets are serialized to JSON per row; WAL mode gives crash
// recovery without an external journal.
type SQLiteKV struct {
	mu    sync.Mutex
	db    *sql.DB
	clock core.Clock
}

// NewSQLiteKV opens (and if needed creates) the database at dbPath
func NewSQLiteKV(dbPath string, clock core.Clock) (*SQLiteKV, error) {
	if clock == nil {
		clock = core.NewSystemClock()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteKV{db: db, clock: clock}, nil
}

// load reads a live row, reaping it when expired. Caller holds the lock.
func (kv *SQLiteKV) load(key, wantKind string) (string, bool) {
	var kind, value string
	var expiresMs int64
	err := kv.db.QueryRow(`SELECT kind, value, expires_ms FROM kv WHERE key = ?`, key).
		Scan(&kind, &value, &expiresMs)
	if err != nil {
		return "", false
	}
	if expiresMs > 0 && kv.clock.NowMs() >= expiresMs {
		_, _ = kv.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
		return "", false
	}
	if wantKind != "" && kind != wantKind {
		return "", false
	}
	return value, true
}

func (kv *SQLiteKV) save(key, kind, value string, expiresMs int64) {
	_, _ = kv.db.Exec(
		`INSERT OR REPLACE INTO kv (key, kind, value, expires_ms) VALUES (?, ?, ?, ?)`,
		key, kind, value, expiresMs)
}

func (kv *SQLiteKV) expiryMs(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return kv.clock.NowMs() + ttl.Milliseconds()
}

func (kv *SQLiteKV) Get(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.load(key, "string")
}

func (kv *SQLiteKV) Set(key, value string, ttl time.Duration) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.save(key, "string", value, kv.expiryMs(ttl))
}

func (kv *SQLiteKV) Delete(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, ok := kv.load(key, ""); !ok {
		return false
	}
	_, err := kv.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err == nil
}

func (kv *SQLiteKV) Exists(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.load(key, "")
	return ok
}

func (kv *SQLiteKV) loadHash(key string) map[string]string {
	raw, ok := kv.load(key, "hash")
	h := make(map[string]string)
	if ok {
		_ = json.Unmarshal([]byte(raw), &h)
	}
	return h
}

func (kv *SQLiteKV) saveJSON(key, kind string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	kv.save(key, kind, string(data), 0)
}

func (kv *SQLiteKV) HGet(key, field string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.loadHash(key)[field]
	return v, ok
}

func (kv *SQLiteKV) HSet(key, field, value string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	h := kv.loadHash(key)
	h[field] = value
	kv.saveJSON(key, "hash", h)
}

func (kv *SQLiteKV) HGetAll(key string) map[string]string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.loadHash(key)
}

func (kv *SQLiteKV) HDel(key string, fields ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	h := kv.loadHash(key)
	removed := 0
	for _, f := range fields {
		if _, ok := h[f]; ok {
			delete(h, f)
			removed++
		}
	}
	if removed > 0 {
		kv.saveJSON(key, "hash", h)
	}
	return removed
}

func (kv *SQLiteKV) loadList(key string) []string {
	raw, ok := kv.load(key, "list")
	var l []string
	if ok {
		_ = json.Unmarshal([]byte(raw), &l)
	}
	return l
}

func (kv *SQLiteKV) RPush(key string, values ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	l := append(kv.loadList(key), values...)
	kv.saveJSON(key, "list", l)
	return len(l)
}

func (kv *SQLiteKV) LRange(key string, start, stop int) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	l := kv.loadList(key)
	n := len(l)
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
	copy(out, l[start:stop+1])
	return out
}

func (kv *SQLiteKV) LLen(key string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return len(kv.loadList(key))
}

func (kv *SQLiteKV) loadSet(key string) map[string]struct{} {
	raw, ok := kv.load(key, "set")
	set := make(map[string]struct{})
	if ok {
		var members []string
		_ = json.Unmarshal([]byte(raw), &members)
		for _, m := range members {
			set[m] = struct{}{}
		}
	}
	return set
}

func (kv *SQLiteKV) saveSet(key string, set map[string]struct{}) {
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	kv.saveJSON(key, "set", members)
}

func (kv *SQLiteKV) SAdd(key string, members ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	set := kv.loadSet(key)
	added := 0
	for _, m := range members {
		if _, ok := set[m]; !ok {
			set[m] = struct{}{}
			added++
		}
	}
	if added > 0 {
		kv.saveSet(key, set)
	}
	return added
}

func (kv *SQLiteKV) SRem(key string, members ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	set := kv.loadSet(key)
	removed := 0
	for _, m := range members {
		if _, ok := set[m]; ok {
			delete(set, m)
			removed++
		}
	}
	if removed > 0 {
		kv.saveSet(key, set)
	}
	return removed
}

func (kv *SQLiteKV) SMembers(key string) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	set := kv.loadSet(key)
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (kv *SQLiteKV) SIsMember(key, member string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.loadSet(key)[member]
	return ok
}

func (kv *SQLiteKV) SCard(key string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return len(kv.loadSet(key))
}

func (kv *SQLiteKV) Scan(cursor int, match string, count int) (int, []string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if count <= 0 {
		count = 10
	}

	nowMs := kv.clock.NowMs()
	rows, err := kv.db.Query(
		`SELECT key FROM kv WHERE expires_ms = 0 OR expires_ms > ? ORDER BY key`, nowMs)
	if err != nil {
		return 0, nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err == nil {
			keys = append(keys, k)
		}
	}

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

func (kv *SQLiteKV) Close() error {
	return kv.db.Close()
}
