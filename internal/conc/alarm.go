// SPDX-License-Identifier: GPL-3.0-or-later

package conc

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Alarm is a callback bound to an absolute fire time with an optional
// period (spec §3, Alarm / Timer task). Invariant: a scheduled Alarm
// appears in its Scheduler's queue iff Enabled is true.
type Alarm struct {
	Name     string
	FireAt   time.Time
	Period   time.Duration // zero means one-shot
	Callback func(ctx context.Context)

	enabled bool
	seq     int64 // tie-break for stable ordering within the heap
	index   int   // heap.Interface bookkeeping
}

// Scheduler is a dedicated highest-priority timer thread: it pops the
// earliest due entry from an ordered time-keyed set, sleeps with a
// bounded timeout, and on wakeup fires all due callbacks (spec §4.3,
// Alarm/Timer).
type Scheduler struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   alarmHeap
	seq     int64
	logger  SLogger
	timeNow func() time.Time
}

// NewScheduler creates a [*Scheduler] with the given clock and logger.
func NewScheduler(cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = NewConfig()
	}
	s := &Scheduler{logger: cfg.Logger, timeNow: cfg.TimeNow}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Schedule enqueues a, assigning it a stable tie-break sequence number. If
// another enabled alarm already occupies exactly a.FireAt, a's fire time
// is bumped forward by one tick (spec §4.3: "insertion ties are broken by
// bumping the new entry's time by one tick until unique").
func (s *Scheduler) Schedule(a *Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.hasExactLocked(a.FireAt) {
		a.FireAt = a.FireAt.Add(time.Nanosecond)
	}
	a.enabled = true
	s.seq++
	a.seq = s.seq
	heap.Push(&s.queue, a)
	s.cond.Broadcast()
}

func (s *Scheduler) hasExactLocked(t time.Time) bool {
	for _, a := range s.queue {
		if a.enabled && a.FireAt.Equal(t) {
			return true
		}
	}
	return false
}

// Cancel disables a, removing it from the queue if present. Cancelling an
// alarm already popped for firing has no effect on that in-flight firing.
func (s *Scheduler) Cancel(a *Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.enabled = false
	for i, e := range s.queue {
		if e == a {
			heap.Remove(&s.queue, i)
			return
		}
	}
}

// Run drives the scheduler loop until ctx is cancelled. It is meant to run
// on the kernel's dedicated timer thread.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
		}
		next := s.queue[0]
		now := s.timeNow()
		if wait := next.FireAt.Sub(now); wait > 0 {
			s.mu.Unlock()
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return
			}
			continue
		}

		var due []*Alarm
		for len(s.queue) > 0 && !s.queue[0].FireAt.After(now) {
			due = append(due, heap.Pop(&s.queue).(*Alarm))
		}
		s.mu.Unlock()

		for _, a := range due {
			if !a.enabled {
				continue
			}
			if a.Callback != nil {
				a.Callback(ctx)
			}
			if a.Period > 0 {
				// Re-insert with exec_time += period; no drift accumulation.
				a.FireAt = a.FireAt.Add(a.Period)
				s.Schedule(a)
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

type alarmHeap []*Alarm

func (h alarmHeap) Len() int { return len(h) }

func (h alarmHeap) Less(i, j int) bool {
	if h[i].FireAt.Equal(h[j].FireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].FireAt.Before(h[j].FireAt)
}

func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *alarmHeap) Push(x any) {
	a := x.(*Alarm)
	a.index = len(*h)
	*h = append(*h, a)
}

func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}
