package session

import "time"

// timerSlot holds at most one pending timer. Arming replaces the previous
// timer and the generation check drops a fire that raced with the replacement.
type timerSlot struct {
	timer      *time.Timer
	generation uint64
}

func (s *timerSlot) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
}

// arm schedules fire on slot after d. Callers hold mu; fire runs with mu held
// and may return a follow-up that runs after mu is released.
func (c *Controller) arm(slot *timerSlot, d time.Duration, fire func() func()) {
	slot.stop()
	generation := slot.generation

	slot.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		if c.closed || slot.generation != generation {
			c.mu.Unlock()
			return
		}
		slot.timer = nil
		after := fire()
		c.publishStateLocked()
		c.mu.Unlock()

		if after != nil {
			after()
		}
	})
}
