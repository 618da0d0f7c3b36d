package webcam

import (
	"sync"
	"time"
)

// slotClock stamps frames from independent devices onto one presentation clock. Time since start
// is quantized to frame slots, so color and depth captured in the same slot share a timestamp and
// correlate exactly.
type slotClock struct {
	start    time.Time
	interval time.Duration
}

func newSlotClock(start time.Time, interval time.Duration) *slotClock {
	return &slotClock{start: start, interval: interval}
}

// stream returns a per-stream stamper. Timestamps from one stamper strictly increase.
func (c *slotClock) stream() *streamClock {
	return &streamClock{clock: c, last: -1}
}

type streamClock struct {
	clock *slotClock
	mu    sync.Mutex
	last  int64
}

func (s *streamClock) stamp(at time.Time) (time.Duration, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := at.Sub(s.clock.start)
	slot := int64((elapsed + s.clock.interval/2) / s.clock.interval)
	if slot <= s.last {
		slot = s.last + 1
	}
	s.last = slot
	return time.Duration(slot) * s.clock.interval, uint64(slot)
}
