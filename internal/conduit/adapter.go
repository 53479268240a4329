// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/observeconn.go (safeconn-based connection
// diagnostics).

package conduit

import (
	"context"
	"net"

	"github.com/bassosimone/safeconn"
)

// Receiver is what an [*Adapter] drives: a NIC driver for a network
// adapter, or a socket backend for a socket adapter (spec §4.4).
type Receiver interface {
	Receive(ctx context.Context, msgr *Messenger) error
}

// ConnReceiver is a [Receiver] additionally backed by a [net.Conn], so
// [*Adapter] can attach safeconn-derived local/remote/protocol fields to
// its logging the same way pkg/dial's connection wrappers do.
type ConnReceiver interface {
	Receiver
	Conn() net.Conn
}

// Adapter is a terminal node (spec §4.4): input messengers finish here,
// output messengers originate here.
type Adapter struct {
	base
	receiver Receiver
	logger   SLogger
}

// NewAdapter creates an [*Adapter] driving receiver.
func NewAdapter(name string, receiver Receiver, logger SLogger) *Adapter {
	if logger == nil {
		logger = DefaultSLogger()
	}
	return &Adapter{base: newBase(name), receiver: receiver, logger: logger}
}

// Accept implements [Node]: it calls the visitor's hook, then hands the
// messenger to the underlying receiver. A receiver error is recorded on
// the messenger and the walk stops (spec §4.4: "a terminating Adapter
// whose receiver refuses the message sets an error code on the messenger
// and returns").
func (a *Adapter) Accept(ctx context.Context, v Visitor, msgr *Messenger, exitSide Side) (bool, error) {
	cont, err := v.At(ctx, a)
	if err != nil || !cont {
		return cont, err
	}
	if a.receiver == nil {
		return true, nil
	}
	if err := a.receiver.Receive(ctx, msgr); err != nil {
		msgr.Err = err
		a.logConnFields(msgr)
		a.logger.Info("conduit.adapter.receive_error", "node", a.name, "err", err.Error())
		return false, err
	}
	return true, nil
}

func (a *Adapter) logConnFields(msgr *Messenger) {
	cr, ok := a.receiver.(ConnReceiver)
	if !ok {
		return
	}
	conn := cr.Conn()
	msgr.LocalAddr = safeconn.LocalAddr(conn)
	msgr.RemoteAddr = safeconn.RemoteAddr(conn)
}
