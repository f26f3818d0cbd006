package state

import (
	"encoding/hex"
	"encoding/json"
	"sync"

	"mmexec/internal/core"

	"github.com/google/uuid"
)

const lockKeyPrefix = "lock:"

type lockRecord struct {
	Token       string `json:"token"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

// Redlock is a single-node lease lock over the KV layer. Tokens are 16
// random bytes; expiry uses the injected clock so tests stay
// deterministic. Expired locks are treated as absent and their tokens
// never match again.
type Redlock struct {
	mu    sync.Mutex
	kv    KV
	clock core.Clock
}

// NewRedlock creates a lease lock over kv
func NewRedlock(kv KV, clock core.Clock) *Redlock {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &Redlock{kv: kv, clock: clock}
}

func (r *Redlock) read(resource string) (*lockRecord, bool) {
	raw, ok := r.kv.Get(lockKeyPrefix + resource)
	if !ok {
		return nil, false
	}
	var rec lockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false
	}
	if r.clock.NowMs() >= rec.ExpiresAtMs {
		r.kv.Delete(lockKeyPrefix + resource)
		return nil, false
	}
	return &rec, true
}

func (r *Redlock) write(resource string, rec *lockRecord) {
	data, _ := json.Marshal(rec)
	r.kv.Set(lockKeyPrefix+resource, string(data), 0)
}

// Acquire takes the lock for ttlMs, returning the fencing token, or
// ("", false) when the resource is already held.
func (r *Redlock) Acquire(resource string, ttlMs int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.read(resource); held {
		return "", false
	}

	id := uuid.New()
	token := hex.EncodeToString(id[:])
	r.write(resource, &lockRecord{
		Token:       token,
		ExpiresAtMs: r.clock.NowMs() + ttlMs,
	})
	return token, true
}

// Release frees the lock if it is still held with the matching token
func (r *Redlock) Release(resource, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, held := r.read(resource)
	if !held || rec.Token != token {
		return false
	}
	return r.kv.Delete(lockKeyPrefix + resource)
}

// Refresh extends a held lock's lease by ttlMs from now
func (r *Redlock) Refresh(resource, token string, ttlMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, held := r.read(resource)
	if !held || rec.Token != token {
		return false
	}
	rec.ExpiresAtMs = r.clock.NowMs() + ttlMs
	r.write(resource, rec)
	return true
}
