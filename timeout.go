package mysqlnio

import "time"

// timeoutScheduler arms a one-shot deadline for the single in-flight query a
// Connection may have, per spec §4.5. There is no teacher equivalent --
// vaquita-mysql's blocking Conn has no notion of a query deadline -- so this
// is new, built to the run-loop shape the rest of connection.go uses: the
// timer fires onto the same channel the run-loop already selects on, rather
// than calling back directly, so timeout delivery is serialized with every
// other event the state machine processes.
type timeoutScheduler struct {
	timer   *time.Timer
	armedAt time.Time
	dur     time.Duration
}

// timeoutEvent is sent on the run-loop's event channel when an armed
// deadline elapses. generation guards against a timer that fired just as
// the query it was guarding already completed by other means.
type timeoutEvent struct {
	generation uint64
}

// arm schedules fire to run after d, tagged with generation so the run-loop
// can discard a stale firing. Callers must call cancel before re-arming.
func (s *timeoutScheduler) arm(d time.Duration, generation uint64, fire func(timeoutEvent)) {
	if d <= 0 {
		return
	}
	s.dur = d
	s.armedAt = time.Now()
	s.timer = time.AfterFunc(d, func() {
		fire(timeoutEvent{generation: generation})
	})
}

// cancel disarms any pending timer. Safe to call when nothing is armed.
func (s *timeoutScheduler) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// elapsed reports how long the current (or most recently armed) deadline
// had been running when it fired, for error reporting (spec's TimedOut.After).
func (s *timeoutScheduler) elapsed() time.Duration {
	if s.armedAt.IsZero() {
		return s.dur
	}
	return time.Since(s.armedAt)
}
