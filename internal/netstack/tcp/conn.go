// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import (
	"context"
	"net/netip"
	"time"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
)

// State is one of RFC 793's eleven connection states.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST-ACK"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultMSS        = 1460
	defaultWindow     = 65535
	timeWaitDuration  = 2 * 60 * time.Second // 2*MSL, MSL=60s
	dupAckThreshold   = 3
	maxRetransmits    = 12
)

// Sender tracks this endpoint's send sequence-space variables (spec
// §4.5.2's invariant sendUna ≤ sendNext ≤ sendMax) plus Reno/NewReno
// congestion state.
type Sender struct {
	UNA, Next, Max uint32
	Window         uint32 // peer's advertised window
	WindowScale    uint8

	CWnd, SSThresh uint32
	DupAcks        int
	InRecovery     bool
	RecoverSeq     uint32 // NewReno: highest seq sent when loss was detected

	buffer *ringBuffer
	rto    *RTOEstimator
	sack   Scoreboard
}

// Receiver tracks the peer's send sequence-space variables this
// endpoint has accepted.
type Receiver struct {
	Next  uint32
	Window uint32
	buffer *ringBuffer
}

// ringBuffer is a simple growable byte queue standing in for the
// kernel's socket send/receive buffers.
type ringBuffer struct {
	data []byte
}

func (r *ringBuffer) Write(p []byte) { r.data = append(r.data, p...) }

func (r *ringBuffer) Peek(n int) []byte {
	if n > len(r.data) {
		n = len(r.data)
	}
	return r.data[:n]
}

func (r *ringBuffer) Discard(n int) {
	if n > len(r.data) {
		n = len(r.data)
	}
	r.data = r.data[n:]
}

func (r *ringBuffer) Len() int { return len(r.data) }

// Sink sends a raw TCP/IP segment to the network; supplied by the
// caller so Conn stays independent of the link layer and IP mux.
type Sink interface {
	Send(seg *Segment) error
}

// Conn is one TCP connection's full state: FSM, sequence variables,
// congestion control, SACK scoreboard, and timers, driven by inbound
// segments and a [conc.Scheduler] (spec §4.5.2, §8).
type Conn struct {
	LocalAddr, RemoteAddr netip.Addr
	LocalPort, RemotePort uint16

	state State
	send  Sender
	recv  Receiver
	sink  Sink
	sched *conc.Scheduler
	mon   *conc.Monitor
	self  *conc.Thread
	now   func() time.Time

	rtoTimer      *conc.Alarm
	timeWaitTimer *conc.Alarm
	retransmits   int

	acceptQueue chan *Conn // only used by a listening Conn
	established chan struct{}
	closed      chan struct{}
}

// NewConn creates a [*Conn] in [StateClosed].
func NewConn(localAddr netip.Addr, localPort uint16, sink Sink, sched *conc.Scheduler, now func() time.Time) *Conn {
	if now == nil {
		now = time.Now
	}
	c := &Conn{
		LocalAddr: localAddr,
		LocalPort: localPort,
		sink:      sink,
		sched:     sched,
		now:       now,
		mon:       conc.NewMonitor("tcp-conn", nil),
		self:      conc.NewThread(context.Background(), "tcp-conn", conc.PriorityNormal),
		established: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	c.send.buffer = &ringBuffer{}
	c.send.CWnd = defaultMSS
	c.send.SSThresh = 65535
	c.send.rto = NewRTOEstimator()
	c.recv.buffer = &ringBuffer{}
	c.recv.Window = defaultWindow
	return c
}

// State returns the connection's current state.
func (c *Conn) State() State {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	return c.state
}

// Listen transitions a closed connection into LISTEN with a bounded
// accept queue (spec §8's accept-queue invariant: backlog connections
// wait here until [Accept] is called).
func (c *Conn) Listen(backlog int) error {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	if c.state != StateClosed {
		return errkind.New(errkind.InvalidArg, errWrongState{state: c.state})
	}
	c.state = StateListen
	c.acceptQueue = make(chan *Conn, backlog)
	return nil
}

// Accept blocks until a queued inbound connection is available or ctx is
// cancelled. A connection is queued when its SYN arrives, still in
// SYN-RECEIVED; its [Conn.Established] channel closes once the handshake
// completes.
func (c *Conn) Accept(ctx context.Context) (*Conn, error) {
	select {
	case conn := <-c.acceptQueue:
		return conn, nil
	case <-ctx.Done():
		return nil, errkind.New(errkind.TimedOut, ctx.Err())
	}
}

// Connect initiates an active open (spec.md §9 decision: non-blocking,
// returns InProgress immediately; the handshake completes
// asynchronously and callers observe it via [Conn.Established]).
func (c *Conn) Connect(remoteAddr netip.Addr, remotePort uint16, isn *ISNGenerator) error {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	if c.state != StateClosed {
		return errkind.New(errkind.InvalidArg, errWrongState{state: c.state})
	}
	c.RemoteAddr = remoteAddr
	c.RemotePort = remotePort
	iss := isn.Generate(c.LocalAddr, c.LocalPort, remoteAddr, remotePort)
	c.send.UNA, c.send.Next, c.send.Max = iss, iss, iss
	c.state = StateSynSent
	c.sendSegmentLocked(FlagSYN, nil)
	c.send.Next++
	c.send.Max = c.send.Next
	c.armRTOLocked()
	return errkind.New(errkind.InProgress, errHandshakeInProgress{})
}

// Established returns a channel closed once the three-way handshake
// completes.
func (c *Conn) Established() <-chan struct{} { return c.established }

// Closed returns a channel closed once the connection reaches CLOSED.
func (c *Conn) Closed() <-chan struct{} { return c.closed }

func (c *Conn) sendSegmentLocked(flags uint8, payload []byte) {
	seg := &Segment{
		SrcPort: c.LocalPort,
		DstPort: c.RemotePort,
		Seq:     c.send.Next,
		Ack:     c.recv.Next,
		Flags:   flags,
		Window:  uint16(min(c.recv.Window, 65535)),
		Payload: payload,
	}
	if flags&FlagSYN != 0 {
		seg.MSS = defaultMSS
		seg.SACKPermitted = true
	}
	_ = c.sink.Send(seg)
}

func (c *Conn) armRTOLocked() {
	if c.rtoTimer != nil {
		c.sched.Cancel(c.rtoTimer)
	}
	rto := c.send.rto.RTO()
	c.rtoTimer = &conc.Alarm{
		Name:     "tcp-rto",
		FireAt:   c.now().Add(rto),
		Callback: func(ctx context.Context) { c.onRetransmitTimeout() },
	}
	c.sched.Schedule(c.rtoTimer)
}

func (c *Conn) onRetransmitTimeout() {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	if c.send.UNA == c.send.Next {
		return // nothing outstanding, timer fired for a stale generation
	}
	c.retransmits++
	if c.retransmits > maxRetransmits {
		c.abortLocked(errkind.New(errkind.TimedOut, errRetransmitLimit{}))
		return
	}
	// RFC 5681 §4.1: RTO loss is treated conservatively, collapsing cwnd
	// and resetting slow start regardless of the SACK scoreboard.
	c.send.SSThresh = max((c.send.Next-c.send.UNA)/2, 2*defaultMSS)
	c.send.CWnd = defaultMSS
	c.send.InRecovery = false
	pending := c.send.buffer.Peek(int(c.send.Next - c.send.UNA))
	c.send.Next = c.send.UNA
	seg := &Segment{SrcPort: c.LocalPort, DstPort: c.RemotePort, Seq: c.send.Next, Ack: c.recv.Next, Flags: FlagACK, Payload: pending}
	_ = c.sink.Send(seg)
	c.send.Next += uint32(len(pending))
	if c.send.Next-c.send.UNA > 0 {
		rto := c.send.rto.Backoff(c.send.rto.RTO())
		c.rtoTimer = &conc.Alarm{Name: "tcp-rto", FireAt: c.now().Add(rto), Callback: func(ctx context.Context) { c.onRetransmitTimeout() }}
		c.sched.Schedule(c.rtoTimer)
	}
}

func (c *Conn) abortLocked(cause error) {
	c.state = StateClosed
	close(c.closed)
}

// Deliver processes one inbound segment addressed to this connection,
// advancing the FSM per RFC 793 §3.9 and updating congestion control
// per RFC 5681/6675.
func (c *Conn) Deliver(seg *Segment) {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)

	switch c.state {
	case StateListen:
		c.deliverListenLocked(seg)
	case StateSynSent:
		c.deliverSynSentLocked(seg)
	default:
		c.deliverGenericLocked(seg)
	}
}

func (c *Conn) deliverListenLocked(seg *Segment) {
	if seg.Flags&FlagSYN == 0 {
		return
	}
	child := NewConn(c.LocalAddr, c.LocalPort, c.sink, c.sched, c.now)
	child.RemoteAddr = c.RemoteAddr
	child.RemotePort = seg.SrcPort
	child.recv.Next = seg.Seq + 1
	isn := NewISNGenerator([16]byte{}, c.now)
	iss := isn.Generate(child.LocalAddr, child.LocalPort, child.RemoteAddr, child.RemotePort)
	child.send.UNA, child.send.Next, child.send.Max = iss, iss, iss
	child.state = StateSynReceived
	child.sendSegmentLocked(FlagSYN|FlagACK, nil)
	child.send.Next++
	child.send.Max = child.send.Next
	child.armRTOLocked()
	if c.acceptQueue != nil {
		select {
		case c.acceptQueue <- child:
		default:
			// backlog full: drop the embryonic connection, matching an
			// overflowed accept queue under SYN flood.
		}
	}
}

func (c *Conn) deliverSynSentLocked(seg *Segment) {
	if seg.Flags&FlagRST != 0 {
		c.abortLocked(errkind.New(errkind.ConnectionRefused, errConnRefused{}))
		return
	}
	if seg.Flags&FlagSYN == 0 {
		return
	}
	c.recv.Next = seg.Seq + 1
	if seg.Flags&FlagACK != 0 {
		c.send.UNA = seg.Ack
		c.state = StateEstablished
		close(c.established)
	} else {
		c.state = StateSynReceived
	}
	c.sendSegmentLocked(FlagACK, nil)
}

func (c *Conn) deliverGenericLocked(seg *Segment) {
	if seg.Flags&FlagRST != 0 {
		c.abortLocked(errkind.New(errkind.ConnectionReset, errConnReset{}))
		return
	}
	if c.state == StateSynReceived && seg.Flags&FlagACK != 0 {
		c.send.UNA = seg.Ack
		c.state = StateEstablished
		close(c.established)
	}

	if seg.Flags&FlagACK != 0 {
		c.handleAckLocked(seg)
	}

	if len(seg.Payload) > 0 && seg.Seq == c.recv.Next {
		c.recv.buffer.Write(seg.Payload)
		c.recv.Next += uint32(len(seg.Payload))
		c.sendSegmentLocked(FlagACK, nil)
	} else if len(seg.Payload) > 0 {
		// Out-of-order: SACK it so the peer can retransmit only the gap.
		c.sendSACKLocked(seg)
	}

	if seg.Flags&FlagFIN != 0 {
		c.recv.Next++
		c.handleFinLocked()
	}
}

func (c *Conn) sendSACKLocked(seg *Segment) {
	block := SACKBlock{Left: seg.Seq, Right: seg.Seq + uint32(len(seg.Payload))}
	out := &Segment{
		SrcPort: c.LocalPort, DstPort: c.RemotePort,
		Seq: c.send.Next, Ack: c.recv.Next, Flags: FlagACK,
		Window:     uint16(min(c.recv.Window, 65535)),
		SACKBlocks: []SACKBlock{block},
	}
	_ = c.sink.Send(out)
}

func (c *Conn) handleAckLocked(seg *Segment) {
	if seqLess(c.send.UNA, seg.Ack) && !seqLess(c.send.Next, seg.Ack) {
		acked := seg.Ack - c.send.UNA
		c.send.buffer.Discard(int(acked))
		c.send.UNA = seg.Ack
		c.send.DupAcks = 0
		c.send.InRecovery = false
		c.send.sack.Prune(c.send.UNA)
		c.retransmits = 0
		c.growCongestionWindowLocked(acked)
		if c.send.UNA == c.send.Next {
			c.sched.Cancel(c.rtoTimer)
		} else {
			c.armRTOLocked()
		}
		c.maybeAdvanceOnFullyAckedLocked()
		return
	}
	if seg.Ack == c.send.UNA {
		c.send.sack.Update(seg.SACKBlocks)
		c.send.DupAcks++
		if c.send.DupAcks == dupAckThreshold && !c.send.InRecovery {
			// RFC 5681 §3.2 fast retransmit / fast recovery.
			c.send.SSThresh = max((c.send.Next-c.send.UNA)/2, 2*defaultMSS)
			c.send.CWnd = c.send.SSThresh + dupAckThreshold*defaultMSS
			c.send.InRecovery = true
			c.send.RecoverSeq = c.send.Next
			pending := c.send.buffer.Peek(defaultMSS)
			retrans := &Segment{SrcPort: c.LocalPort, DstPort: c.RemotePort, Seq: c.send.UNA, Ack: c.recv.Next, Flags: FlagACK, Payload: pending}
			_ = c.sink.Send(retrans)
		} else if c.send.InRecovery {
			c.send.CWnd += defaultMSS
		}
	}
}

func (c *Conn) growCongestionWindowLocked(acked uint32) {
	if c.send.CWnd < c.send.SSThresh {
		c.send.CWnd += defaultMSS // slow start: one MSS per ACK
	} else {
		c.send.CWnd += max(1, defaultMSS*defaultMSS/c.send.CWnd) // congestion avoidance
	}
}

func (c *Conn) maybeAdvanceOnFullyAckedLocked() {
	switch c.state {
	case StateFinWait1:
		if c.send.UNA == c.send.Next {
			c.state = StateFinWait2
		}
	case StateClosing:
		if c.send.UNA == c.send.Next {
			c.enterTimeWaitLocked()
		}
	case StateLastAck:
		if c.send.UNA == c.send.Next {
			c.abortLocked(nil)
		}
	}
}

func (c *Conn) handleFinLocked() {
	switch c.state {
	case StateEstablished:
		c.state = StateCloseWait
		c.sendSegmentLocked(FlagACK, nil)
	case StateFinWait1:
		c.state = StateClosing
		c.sendSegmentLocked(FlagACK, nil)
	case StateFinWait2:
		c.sendSegmentLocked(FlagACK, nil)
		c.enterTimeWaitLocked()
	case StateTimeWait:
		c.sendSegmentLocked(FlagACK, nil) // retransmitted FIN: re-ACK, restart 2MSL
		c.restartTimeWaitLocked()
	}
}

func (c *Conn) enterTimeWaitLocked() {
	c.state = StateTimeWait
	c.restartTimeWaitLocked()
}

func (c *Conn) restartTimeWaitLocked() {
	if c.timeWaitTimer != nil {
		c.sched.Cancel(c.timeWaitTimer)
	}
	c.timeWaitTimer = &conc.Alarm{
		Name:     "tcp-time-wait",
		FireAt:   c.now().Add(timeWaitDuration),
		Callback: func(ctx context.Context) { c.onTimeWaitExpire() },
	}
	c.sched.Schedule(c.timeWaitTimer)
}

func (c *Conn) onTimeWaitExpire() {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	if c.state == StateTimeWait {
		c.abortLocked(nil)
	}
}

// Write appends data to the connection's send buffer and transmits what
// the current congestion/flow-control window allows.
func (c *Conn) Write(data []byte) (int, error) {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	if c.state != StateEstablished && c.state != StateCloseWait {
		return 0, errkind.New(errkind.InvalidArg, errWrongState{state: c.state})
	}
	c.send.buffer.Write(data)
	c.flushSendableLocked()
	return len(data), nil
}

func (c *Conn) flushSendableLocked() {
	inflight := c.send.Next - c.send.UNA
	window := min(c.send.CWnd, c.send.Window)
	for inflight < window {
		avail := c.send.buffer.data[inflight:]
		if len(avail) == 0 {
			break
		}
		n := min(len(avail), defaultMSS, int(window-inflight))
		seg := &Segment{SrcPort: c.LocalPort, DstPort: c.RemotePort, Seq: c.send.Next, Ack: c.recv.Next, Flags: FlagACK, Payload: avail[:n]}
		_ = c.sink.Send(seg)
		c.send.Next += uint32(n)
		if c.send.Next-c.send.UNA > c.send.Max-c.send.UNA {
			c.send.Max = c.send.Next
		}
		inflight += uint32(n)
		if c.rtoTimer == nil {
			c.armRTOLocked()
		}
	}
}

// CloseWrite initiates the active-close sequence, sending a FIN.
func (c *Conn) CloseWrite() error {
	_ = c.mon.Lock(c.self.Context(), c.self)
	defer c.mon.Unlock(c.self)
	switch c.state {
	case StateEstablished:
		c.state = StateFinWait1
	case StateCloseWait:
		c.state = StateLastAck
	default:
		return errkind.New(errkind.InvalidArg, errWrongState{state: c.state})
	}
	c.sendSegmentLocked(FlagFIN|FlagACK, nil)
	c.send.Next++
	return nil
}

type errWrongState struct{ state State }

func (e errWrongState) Error() string { return "tcp: operation invalid in state " + e.state.String() }

type errHandshakeInProgress struct{}

func (errHandshakeInProgress) Error() string { return "tcp: handshake in progress" }

type errConnRefused struct{}

func (errConnRefused) Error() string { return "tcp: connection refused" }

type errConnReset struct{}

func (errConnReset) Error() string { return "tcp: connection reset" }

type errRetransmitLimit struct{}

func (errRetransmitLimit) Error() string { return "tcp: retransmission limit exceeded" }
