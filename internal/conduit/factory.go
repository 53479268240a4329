// SPDX-License-Identifier: GPL-3.0-or-later

package conduit

import (
	"context"

	"github.com/esmicro/kernel/internal/errkind"
	"golang.org/x/sync/semaphore"
)

// Template clones a sub-graph rooted at the returned [Node], given the key
// the parent [*Mux] is materializing a branch for.
type Template func(key string) Node

// Factory constructs missing Mux branches on demand (spec §4.4). Creation
// is throttled by the Factory's own [*semaphore.Weighted] so an
// adversarial flood of distinct Mux keys cannot spawn unbounded
// sub-graphs concurrently.
type Factory struct {
	base
	template Template
	parent   *Mux
	sem      *semaphore.Weighted
}

// NewFactory creates a [*Factory] that clones a new sub-graph from
// template on each call to Create, admitting at most maxConcurrent
// in-flight constructions at a time.
func NewFactory(name string, template Template, maxConcurrent int64) *Factory {
	f := &Factory{base: newBase(name), template: template}
	if maxConcurrent > 0 {
		f.sem = semaphore.NewWeighted(maxConcurrent)
	}
	return f
}

// Create materializes the sub-graph for key and wires its terminal
// Adapters to inherit the parent Mux's receiver wiring, per spec §4.4:
// "Newly constructed sub-graphs inherit the parent's receiver wiring for
// their terminal Adapters."
func (f *Factory) Create(ctx context.Context, key string) (Node, error) {
	if f.sem != nil {
		if err := f.sem.Acquire(ctx, 1); err != nil {
			return nil, errkind.New(errkind.TimedOut, err)
		}
		defer f.sem.Release(1)
	}
	if f.template == nil {
		return nil, errkind.New(errkind.UnsupportedOperation, errNoTemplate{})
	}
	node := f.template(key)
	if f.parent != nil {
		inheritReceiver(node, f.parent)
	}
	return node, nil
}

// Accept implements [Node]; a Factory is never itself walked by a
// visitor in the steady state (it is consulted by its parent Mux, not
// linked into the traversal path), so Accept simply delegates to the
// visitor hook and stops.
func (f *Factory) Accept(ctx context.Context, v Visitor, msgr *Messenger, exitSide Side) (bool, error) {
	return v.At(ctx, f)
}

// inheritReceiver looks for a bare terminal Adapter at the root of a
// freshly cloned sub-graph and, if it has no receiver of its own yet,
// wires it to the same receiver the parent Mux's own terminal Adapter
// neighbor uses. This covers the common case (a Factory template whose
// root is the Adapter to be shared); deeper sub-graphs are expected to
// wire their own Adapters explicitly in their Template function.
func inheritReceiver(node Node, parent *Mux) {
	adapter, ok := node.(*Adapter)
	if !ok || adapter.receiver != nil {
		return
	}
	for _, side := range []Side{SideA, SideB} {
		if pa, ok := parent.Neighbor(side).(*Adapter); ok && pa.receiver != nil {
			adapter.receiver = pa.receiver
			return
		}
	}
}

type errNoTemplate struct{}

func (errNoTemplate) Error() string { return "conduit: factory has no template" }
