// SPDX-License-Identifier: GPL-3.0-or-later

package objruntime

import (
	"context"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
)

// slot is one entry in a [*CapabilityTable]. Invariant: refcount > 0 iff
// alive is true; a slot with refcount == 0 is immediately considered dead
// from [*CapabilityTable.Add]'s point of view, even though its backing Ref
// has not necessarily finished tearing down (spec §4.2's tie-break rule) —
// because every table operation holds the same monitor, a slot can only
// be observed by Add after Put has already run the teardown to
// completion, so no separate "draining" state is needed.
type slot struct {
	ref      Ref
	refcount int32
	alive    bool
}

// CapabilityTable is the fixed-capacity handle table that makes an
// object's reference addressable from other threads and, through the
// broker, from other processes (spec §4.2).
type CapabilityTable struct {
	mon      *conc.Monitor
	slots    []slot
	freelist []int32
	capacity int
}

// NewCapabilityTable creates a table with room for exactly capacity live
// handles.
func NewCapabilityTable(capacity int) *CapabilityTable {
	t := &CapabilityTable{
		mon:      conc.NewMonitor("captable", nil),
		slots:    make([]slot, capacity),
		capacity: capacity,
	}
	t.freelist = make([]int32, capacity)
	for i := range t.freelist {
		t.freelist[i] = int32(capacity - 1 - i)
	}
	return t
}

// Add installs ref in a free slot, with its reference count initialized
// to 1, and returns the new handle. If the table has no free slots, Add
// returns -1 and an [errkind.OutOfMemory] error (spec §7: "Capability-table
// exhaustion is reported as OUT_OF_MEMORY").
func (t *CapabilityTable) Add(self *conc.Thread, ref Ref) (int32, error) {
	if err := t.mon.Lock(self.Context(), self); err != nil {
		return -1, err
	}
	defer t.mon.Unlock(self)

	if len(t.freelist) == 0 {
		return -1, errkind.New(errkind.OutOfMemory, errTableFull{})
	}
	n := len(t.freelist)
	idx := t.freelist[n-1]
	t.freelist = t.freelist[:n-1]
	t.slots[idx] = slot{ref: ref, refcount: 1, alive: true}
	return idx, nil
}

// Get looks up handle, incrementing both the slot's reference count and
// the object's own count ([Ref.AddRef]) on success. It returns
// (nil, false) if handle is out of range or its slot's refcount has
// already reached zero (the slot is dying or dead).
func (t *CapabilityTable) Get(self *conc.Thread, handle int32) (Ref, bool, error) {
	if err := t.mon.Lock(self.Context(), self); err != nil {
		return nil, false, err
	}
	defer t.mon.Unlock(self)

	if handle < 0 || int(handle) >= len(t.slots) {
		return nil, false, nil
	}
	s := &t.slots[handle]
	if !s.alive || s.refcount == 0 {
		return nil, false, nil
	}
	s.refcount++
	if s.ref != nil {
		s.ref.AddRef()
	}
	return s.ref, true, nil
}

// Put releases one reference on handle's object ([Ref.Release]) and on its
// slot, returning the slot's new reference count. When the count reaches
// zero, the slot is reclaimed (returned to the freelist) and the
// underlying Ref's teardown runs before Put returns, so no concurrent Add
// can observe the slot until teardown has observably finished.
func (t *CapabilityTable) Put(self *conc.Thread, handle int32) (int32, error) {
	if err := t.mon.Lock(self.Context(), self); err != nil {
		return 0, err
	}
	defer t.mon.Unlock(self)

	if handle < 0 || int(handle) >= len(t.slots) {
		return 0, invalidHandle(handle)
	}
	s := &t.slots[handle]
	if !s.alive {
		return 0, invalidHandle(handle)
	}
	ref := s.ref
	s.refcount--
	newCount := s.refcount
	if newCount == 0 {
		*s = slot{}
		t.freelist = append(t.freelist, handle)
	}
	if ref != nil {
		ref.Release()
	}
	return newCount, nil
}

// Len returns the number of currently live handles, for diagnostics and
// tests (spec §8 invariant 5: free list and occupied slots partition all
// slots).
func (t *CapabilityTable) Len(self *conc.Thread) int {
	_ = t.mon.Lock(context.Background(), self)
	defer t.mon.Unlock(self)
	return t.capacity - len(t.freelist)
}

type errTableFull struct{}

func (errTableFull) Error() string { return "capability table: no free slots" }
