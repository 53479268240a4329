// SPDX-License-Identifier: GPL-3.0-or-later

package conc

import (
	"context"
	"sync"
	"time"

	"github.com/esmicro/kernel/internal/errkind"
)

// kernelMu is the single lock protecting every Monitor's owner/recursion/
// wait-set fields and every Thread's owned/waitOn/effPrio fields. A real
// kernel would shard this per scheduler run-queue; here one lock keeps the
// priority-inheritance and deadlock-detection bookkeeping (which must see
// the whole wait-for graph at once) trivially correct. All [*Monitor] and
// [*Thread] methods that touch this state acquire it for the shortest
// possible critical section.
var kernelMu sync.Mutex

// Monitor is a recursive lock paired with a condition variable (spec
// §4.3). Invariant: recursion > 0 iff owner != nil. Invariant: when a
// thread holds this monitor, it appears in the thread's owned list
// exactly once.
type Monitor struct {
	name      string
	owner     *Thread
	recursion int
	blocked   map[*Thread]struct{} // threads blocked in Lock
	waitSet   []*Thread            // threads blocked in Wait
	cond      *sync.Cond
	logger    SLogger
}

// NewMonitor creates a new, unowned [*Monitor].
func NewMonitor(name string, logger SLogger) *Monitor {
	if logger == nil {
		logger = DefaultSLogger()
	}
	m := &Monitor{
		name:    name,
		blocked: make(map[*Thread]struct{}),
		logger:  logger,
	}
	m.cond = sync.NewCond(&kernelMu)
	return m
}

// Name returns the monitor's diagnostic name.
func (m *Monitor) Name() string { return m.name }

// Owner returns the thread currently holding the monitor, or nil.
func (m *Monitor) Owner() *Thread {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	return m.owner
}

// Lock acquires the monitor on behalf of self, blocking if another thread
// holds it. Recursive acquisition by the current owner increments the
// recursion count instead of blocking.
//
// While blocked, the caller's effective priority is donated to the chain
// of owners it is waiting behind (priority inheritance): the owner's
// effective priority becomes the maximum of its own base priority and the
// priorities of every thread transitively blocked on a monitor it holds.
//
// If ctx is cancelled while blocked, Lock returns an [errkind.Error] of
// kind [errkind.TimedOut] without acquiring the monitor. If acquiring
// would close a cycle in the wait-for graph, Lock panics with
// [ErrDeadlock]: per spec, deadlock detection is fatal, not a recoverable
// error.
func (m *Monitor) Lock(ctx context.Context, self *Thread) error {
	kernelMu.Lock()
	defer kernelMu.Unlock()

	if m.owner == self {
		m.recursion++
		return nil
	}

	if m.owner != nil && detectCycleLocked(self, m) {
		panic(ErrDeadlock)
	}

	self.SetState(StateBlocked)
	stop := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				kernelMu.Lock()
				m.cond.Broadcast()
				kernelMu.Unlock()
			case <-stop:
			}
		}()
	}

	for m.owner != nil {
		if ctx != nil && ctx.Err() != nil {
			delete(m.blocked, self)
			self.waitOn = nil
			recomputeOwnerEffectiveLocked(m)
			close(stop)
			self.SetState(StateRunnable)
			return errkind.New(errkind.TimedOut, ctx.Err())
		}
		self.waitOn = m
		m.blocked[self] = struct{}{}
		recomputeOwnerEffectiveLocked(m)
		m.cond.Wait()
		delete(m.blocked, self)
	}
	if ctx != nil {
		close(stop)
	}

	self.waitOn = nil
	m.owner = self
	m.recursion = 1
	self.owned = append(self.owned, m)
	recomputeOwnEffectiveLocked(self)
	self.SetState(StateRunning)
	return nil
}

// TryLock attempts to acquire the monitor without blocking. It returns
// false if another thread currently owns it.
func (m *Monitor) TryLock(self *Thread) bool {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if m.owner == self {
		m.recursion++
		return true
	}
	if m.owner != nil {
		return false
	}
	m.owner = self
	m.recursion = 1
	self.owned = append(self.owned, m)
	recomputeOwnEffectiveLocked(self)
	return true
}

// Unlock releases one level of recursive ownership. When the recursion
// count drops to zero, the monitor becomes free and every blocked waiter
// (if any) is woken to race for ownership; one of them acquires it.
//
// Unlock establishes a happens-before edge to whichever Lock call next
// succeeds on this monitor (spec §4.3, Ordering guarantees).
func (m *Monitor) Unlock(self *Thread) error {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if m.owner != self {
		return errkind.New(errkind.InvalidArg, errNotOwner{monitor: m.name})
	}
	m.recursion--
	if m.recursion > 0 {
		return nil
	}
	m.owner = nil
	self.removeOwned(m)
	recomputeOwnEffectiveLocked(self)
	m.cond.Broadcast()
	return nil
}

// Wait atomically releases the monitor and blocks self until [*Monitor.Notify]
// or [*Monitor.NotifyAll] wakes it, or timeout elapses (timeout <= 0 means
// wait indefinitely, subject to ctx). The monitor is reacquired, with its
// original recursion count restored, before Wait returns.
//
// The returned bool is true iff the wakeup was timer-driven (spec §4.3,
// §8's "wait(timeout=0) returns immediately with the timed-out
// indication").
func (m *Monitor) Wait(ctx context.Context, self *Thread, timeout time.Duration) (bool, error) {
	kernelMu.Lock()
	if m.owner != self {
		kernelMu.Unlock()
		return false, errkind.New(errkind.InvalidArg, errNotOwner{monitor: m.name})
	}
	savedRecursion := m.recursion
	m.owner = nil
	self.removeOwned(m)
	m.waitSet = append(m.waitSet, self)
	recomputeOwnEffectiveLocked(self)
	m.cond.Broadcast() // release: let a Lock waiter race in

	self.SetState(StateTimedWaiting)

	timedOut := false
	if timeout == 0 {
		// wait(timeout=0): returns immediately with the timed-out indication.
		m.waitSet = removeThread(m.waitSet, self)
		timedOut = true
	} else {
		var expired, cancelled bool
		var timer *time.Timer
		if timeout > 0 {
			timer = time.AfterFunc(timeout, func() {
				kernelMu.Lock()
				expired = true
				m.cond.Broadcast()
				kernelMu.Unlock()
			})
		}
		stop := make(chan struct{})
		if ctx != nil {
			go func() {
				select {
				case <-ctx.Done():
					kernelMu.Lock()
					cancelled = true
					m.cond.Broadcast()
					kernelMu.Unlock()
				case <-stop:
				}
			}()
		}
		for inWaitSet(m.waitSet, self) && !expired && !cancelled {
			m.cond.Wait()
		}
		close(stop)
		if timer != nil {
			timer.Stop()
		}
		timedOut = expired && inWaitSet(m.waitSet, self)
		m.waitSet = removeThread(m.waitSet, self)
	}

	// Reacquire, honoring recursive ownership restoration.
	for m.owner != nil && m.owner != self {
		self.waitOn = m
		m.blocked[self] = struct{}{}
		recomputeOwnerEffectiveLocked(m)
		m.cond.Wait()
		delete(m.blocked, self)
	}
	self.waitOn = nil
	m.owner = self
	m.recursion = savedRecursion
	self.owned = append(self.owned, m)
	recomputeOwnEffectiveLocked(self)
	self.SetState(StateRunning)
	kernelMu.Unlock()
	return timedOut, nil
}

// Notify wakes one thread blocked in [*Monitor.Wait] on this monitor, if
// any. It has no effect if the wait set is empty, and no ordering effect
// on threads not currently waiting (spec §4.3, Ordering guarantees).
func (m *Monitor) Notify() {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	if len(m.waitSet) == 0 {
		return
	}
	victim := m.waitSet[0]
	m.waitSet = m.waitSet[1:]
	m.cond.Broadcast()
	_ = victim
}

// NotifyAll wakes every thread blocked in [*Monitor.Wait] on this monitor.
func (m *Monitor) NotifyAll() {
	kernelMu.Lock()
	defer kernelMu.Unlock()
	m.waitSet = nil
	m.cond.Broadcast()
}

type errNotOwner struct{ monitor string }

func (e errNotOwner) Error() string { return "monitor " + e.monitor + ": caller is not the owner" }

// detectCycleLocked walks the wait-for chain starting at m's current owner:
// if that owner (or a thread it is transitively blocked on) is self, then
// granting self's request would close a cycle. Callers must hold kernelMu.
func detectCycleLocked(self *Thread, m *Monitor) bool {
	owner := m.owner
	for owner != nil {
		if owner == self {
			return true
		}
		waitOn := owner.waitOn
		if waitOn == nil {
			return false
		}
		owner = waitOn.owner
	}
	return false
}

// recomputeOwnerEffectiveLocked recomputes the effective priority of m's
// owner, then of the owner of the monitor that owner is blocked on, and
// so on up the wait-for chain, iteratively rather than recursively. Each
// step is the max of that thread's base priority and the priorities of
// every thread blocked on a monitor it holds. Callers must hold kernelMu.
func recomputeOwnerEffectiveLocked(m *Monitor) {
	seen := make(map[*Thread]bool)
	for owner := m.owner; owner != nil && !seen[owner]; {
		seen[owner] = true
		recomputeOwnEffectiveLocked(owner)
		if owner.waitOn == nil {
			return
		}
		owner = owner.waitOn.owner
	}
}

// recomputeOwnEffectiveLocked recomputes t's own effective priority from
// its base priority and the priorities of threads blocked on any monitor
// t owns. Callers must hold kernelMu.
func recomputeOwnEffectiveLocked(t *Thread) {
	best := t.basePrio
	for _, mon := range t.owned {
		for waiter := range mon.blocked {
			if waiter.BasePriority() > best {
				best = waiter.BasePriority()
			}
			if Priority(waiter.effPrio) > best {
				best = Priority(waiter.effPrio)
			}
		}
	}
	t.effPrio = int32(best)
}

func inWaitSet(set []*Thread, t *Thread) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

func removeThread(set []*Thread, t *Thread) []*Thread {
	out := set[:0]
	for _, s := range set {
		if s != t {
			out = append(out, s)
		}
	}
	return out
}
