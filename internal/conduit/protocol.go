// SPDX-License-Identifier: GPL-3.0-or-later

package conduit

import "context"

// Transform adjusts a messenger in place: strip a header on input,
// prepend one on output (spec §4.4, Protocol).
type Transform func(ctx context.Context, msgr *Messenger) error

// Protocol is a node that transforms a messenger in place and forwards it
// (spec §4.4). A fixed per-protocol receiver (e.g. the IPv4 layer)
// adjusts the messenger's chunk offset and addresses, then forwards to
// its neighbor on exitSide — the port a walk exits every node through,
// fixed for the whole walk and matching whichever side connect_aa/
// connect_bb/connect_ab wired the chain's neighbors on (see DESIGN.md,
// Open Questions, for why this implementation reads the spec's "opposite
// side of exit_side" as the side the walk is threaded on rather than a
// per-node flip).
type Protocol struct {
	base
	transform Transform
}

// NewProtocol creates a [*Protocol] applying transform on every visit.
func NewProtocol(name string, transform Transform) *Protocol {
	return &Protocol{base: newBase(name), transform: transform}
}

// Accept implements [Node].
func (p *Protocol) Accept(ctx context.Context, v Visitor, msgr *Messenger, exitSide Side) (bool, error) {
	cont, err := v.At(ctx, p)
	if err != nil || !cont {
		return cont, err
	}
	if p.transform != nil {
		if err := p.transform(ctx, msgr); err != nil {
			msgr.Err = err
			return false, err
		}
	}
	next := p.Neighbor(exitSide)
	if next == nil {
		return true, nil
	}
	return next.Accept(ctx, v, msgr, exitSide)
}
