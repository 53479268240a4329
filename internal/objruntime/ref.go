// SPDX-License-Identifier: GPL-3.0-or-later

// Package objruntime implements the object runtime and broker (spec
// §4.2): the capability table that makes objects addressable within a
// process, and the per-process broker that turns a handle plus a method
// selector into either a direct call or a message across the control
// channel to another process.
package objruntime

import (
	"sync/atomic"

	"github.com/esmicro/kernel/internal/errkind"
)

// Ref is the public contract every object in the runtime implements
// (spec §4.2): query for another interface on the same object, and
// reference-counted lifetime management. An object is destroyed exactly
// when its count transitions to zero.
type Ref interface {
	// QueryInterface returns another interface of the same object, with
	// its own +1 reference, or nil if the object does not implement iface.
	QueryInterface(iface string) Ref

	// AddRef increments the reference count and returns the new value.
	AddRef() int32

	// Release decrements the reference count, destroying the object when
	// it reaches zero, and returns the new value.
	Release() int32
}

// RefCounted is an embeddable base implementing [Ref]'s counting
// discipline; concrete object types embed it and supply their own
// QueryInterface and an optional onZero hook for teardown.
type RefCounted struct {
	count   int32
	onZero  func()
	queryFn func(iface string) Ref
}

// NewRefCounted creates a [*RefCounted] with an initial count of 1 (the
// count an object starts with when it is first installed in a
// [*CapabilityTable] via [*CapabilityTable.Add]).
func NewRefCounted(query func(iface string) Ref, onZero func()) *RefCounted {
	return &RefCounted{count: 1, queryFn: query, onZero: onZero}
}

func (r *RefCounted) QueryInterface(iface string) Ref {
	if r.queryFn == nil {
		return nil
	}
	return r.queryFn(iface)
}

func (r *RefCounted) AddRef() int32 {
	return atomic.AddInt32(&r.count, 1)
}

func (r *RefCounted) Release() int32 {
	n := atomic.AddInt32(&r.count, -1)
	if n == 0 && r.onZero != nil {
		r.onZero()
	}
	return n
}

// Count returns the current reference count, for diagnostics and tests.
func (r *RefCounted) Count() int32 {
	return atomic.LoadInt32(&r.count)
}

// errInvalidHandle is returned by table operations given a handle outside
// the table's range or pointing at a dead slot.
type errInvalidHandle struct{ handle int32 }

func (e errInvalidHandle) Error() string { return "objruntime: invalid handle" }

func invalidHandle(h int32) error {
	return errkind.New(errkind.InvalidArg, errInvalidHandle{handle: h})
}
