package util

import (
	"sync"
	"time"
)

type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// BlockClock reports the timestamp of the block being executed, so every
// transaction in a block observes the same time on every replay
type BlockClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewBlockClock(start time.Time) *BlockClock {
	return &BlockClock{now: start}
}

// Set moves the clock to the next block's time. Time never goes backwards.
func (c *BlockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

func (c *BlockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}
