// SPDX-License-Identifier: GPL-3.0-or-later

package conduit

import "context"

// Accessor extracts a routing key from a messenger (e.g. a UDP port
// number, a TCP 4-tuple, an ARP target address).
type Accessor func(msgr *Messenger) string

// Mux is a node that demultiplexes by key (spec §4.4). A miss during
// output consults the Mux's [*Factory], if any, to materialize the
// missing branch; a miss during input has no branch to create and fails.
type Mux struct {
	base
	accessor Accessor
	table    map[string]Node
	factory  *Factory
}

// NewMux creates an empty [*Mux] keyed by accessor.
func NewMux(name string, accessor Accessor) *Mux {
	return &Mux{base: newBase(name), accessor: accessor, table: make(map[string]Node)}
}

// SetFactory installs the [*Factory] this Mux consults on an output miss.
func (m *Mux) SetFactory(f *Factory) {
	_ = m.mon.Lock(m.self.Context(), m.self)
	defer m.mon.Unlock(m.self)
	m.factory = f
	f.parent = m
}

// Register installs n as the branch for key, as connect_ab/connect_ba do
// when wiring through a Mux (spec §4.4).
func (m *Mux) Register(key string, n Node) {
	_ = m.mon.Lock(m.self.Context(), m.self)
	defer m.mon.Unlock(m.self)
	m.table[key] = n
}

func (m *Mux) lookup(key string) (Node, bool) {
	_ = m.mon.Lock(m.self.Context(), m.self)
	defer m.mon.Unlock(m.self)
	n, ok := m.table[key]
	return n, ok
}

// Accept implements [Node].
func (m *Mux) Accept(ctx context.Context, v Visitor, msgr *Messenger, exitSide Side) (bool, error) {
	cont, err := v.At(ctx, m)
	if err != nil || !cont {
		return cont, err
	}

	key := ""
	if m.accessor != nil {
		key = m.accessor(msgr)
	}

	next, ok := m.lookup(key)
	if !ok {
		if msgr.Dir != DirectionOutput || m.factory == nil {
			err := noRoute(key)
			msgr.Err = err
			return false, err
		}
		created, err := m.factory.Create(ctx, key)
		if err != nil {
			msgr.Err = err
			return false, err
		}
		m.Register(key, created)
		next = created
	}
	return next.Accept(ctx, v, msgr, exitSide)
}
