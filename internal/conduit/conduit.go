// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/func.go, pkg/dial/compose.go (the Func[A,B]
// composition discipline, generalized here from a linear pipeline to a
// graph walk).

// Package conduit implements the conduit framework (spec §4.4): a typed,
// composable graph of Adapter/Protocol/Mux/Factory nodes through which
// messengers are routed by letting visitors walk the graph.
package conduit

import (
	"context"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/internal/objruntime"
)

// Side identifies one of a conduit's two connection points.
type Side int

const (
	SideA Side = iota
	SideB
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// Direction indicates whether a [Messenger] is travelling from the
// network toward the application (Input) or from the application toward
// the network (Output); Protocol nodes use it to decide whether to strip
// or prepend a header.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Messenger carries one message along a walk of the conduit graph.
// Offset advances as Protocol nodes strip headers on input, and retreats
// as they prepend headers on output; Data must have enough leading
// headroom for the deepest prepend a graph performs.
type Messenger struct {
	Data       []byte
	Offset     int
	Dir        Direction
	LocalAddr  string
	RemoteAddr string
	Err        error
}

// Bytes returns the messenger's currently visible payload, i.e. Data from
// Offset onward.
func (m *Messenger) Bytes() []byte { return m.Data[m.Offset:] }

// Consume advances Offset by n, hiding the first n bytes (a Protocol node
// stripping its header on input).
func (m *Messenger) Consume(n int) { m.Offset += n }

// Prepend writes hdr immediately before the current Offset and moves
// Offset back over it (a Protocol node adding its header on output). It
// panics if there is not enough headroom, since that indicates a conduit
// graph built without reserving space for its deepest encapsulation — a
// construction-time bug, not a runtime condition to recover from.
func (m *Messenger) Prepend(hdr []byte) {
	m.Offset -= len(hdr)
	copy(m.Data[m.Offset:], hdr)
}

// Visitor walks the conduit graph. At is invoked once per node visited;
// returning cont=false stops the walk without error (spec §4.4: "A
// visitor that returns stop (false) terminates the walk without error").
type Visitor interface {
	At(ctx context.Context, node Node) (cont bool, err error)
}

// VisitorFunc adapts a function to the [Visitor] interface.
type VisitorFunc func(ctx context.Context, node Node) (bool, error)

func (f VisitorFunc) At(ctx context.Context, node Node) (bool, error) { return f(ctx, node) }

// Node is one element of the conduit graph (spec §4.4). Accept calls the
// visitor's hook for this node and, on a "continue" result, forwards the
// walk to its neighbor on exitSide — the port the whole walk threads
// through, as wired by [ConnectAA]/[ConnectBB]/[ConnectAB].
type Node interface {
	objruntime.Ref

	Name() string
	Neighbor(side Side) Node
	SetNeighbor(side Side, n Node)
	Accept(ctx context.Context, v Visitor, msgr *Messenger, exitSide Side) (bool, error)
}

// base implements the bookkeeping shared by every node variant: naming,
// neighbor wiring, and reference counting (spec §4.4's invariant that "a
// conduit is never destroyed while a visitor is at it" — embedding
// [*objruntime.RefCounted] here is the direct reuse of component B's
// lifetime discipline for component D's own graph nodes).
type base struct {
	*objruntime.RefCounted
	name      string
	mon       *conc.Monitor
	self      *conc.Thread
	neighbors [2]Node
}

func newBase(name string) base {
	b := base{
		name: name,
		mon:  conc.NewMonitor(name, nil),
		self: conc.NewThread(context.Background(), name, conc.PriorityNormal),
	}
	b.RefCounted = objruntime.NewRefCounted(nil, nil)
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) Neighbor(side Side) Node {
	_ = b.mon.Lock(b.self.Context(), b.self)
	defer b.mon.Unlock(b.self)
	return b.neighbors[side]
}

func (b *base) SetNeighbor(side Side, n Node) {
	_ = b.mon.Lock(b.self.Context(), b.self)
	defer b.mon.Unlock(b.self)
	b.neighbors[side] = n
}

// QueryInterface is a node's default: conduit nodes do not expose
// secondary interfaces, only the plain [Node] surface.
func (b *base) QueryInterface(iface string) objruntime.Ref { return nil }

type errNoRoute struct{ key string }

func (e errNoRoute) Error() string { return "conduit: no route for key " + e.key }

func noRoute(key string) error {
	return errkind.New(errkind.NotFound, errNoRoute{key: key})
}
