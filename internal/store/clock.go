package store

import (
	"sync"
	"time"
)

// idClock hands out message ids: the creation time in milliseconds, bumped
// past the last issued id when two appends land in the same millisecond or
// the wall clock moves backwards.
type idClock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newIDClock(last int64) *idClock {
	return &idClock{last: last, now: time.Now}
}

func (c *idClock) next() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	at := c.now().UTC().Truncate(time.Millisecond)
	id := at.UnixMilli()
	if id <= c.last {
		id = c.last + 1
	}
	c.last = id
	return id, at
}
