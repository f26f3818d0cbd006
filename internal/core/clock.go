package core

import (
	"os"
	"sync"
	"time"
)

// FreezeClockEnv pins the wall-clock string for deterministic output
const FreezeClockEnv = "MM_FREEZE_UTC_ISO"

// Clock abstracts time so stores, breakers and limiters are testable
type Clock interface {
	Now() time.Time
	NowMs() int64
}

// SystemClock reads the real clock, honoring MM_FREEZE_UTC_ISO when set
type SystemClock struct{}

func NewSystemClock() *SystemClock { return &SystemClock{} }

func (c *SystemClock) Now() time.Time {
	if iso := os.Getenv(FreezeClockEnv); iso != "" {
		if t, err := time.Parse(time.RFC3339, iso); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func (c *SystemClock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// ManualClock is a settable clock for tests
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) NowMs() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock to an absolute instant
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
