// SPDX-License-Identifier: GPL-3.0-or-later

// Package arp implements Address Resolution Protocol wire codec and the
// RFC 3927 (IPv4 Link-Local) address-claim state machine used to pick
// and defend this stack's own address (spec §4.5.1).
package arp

import (
	"context"
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
)

// Opcode values (RFC 826).
const (
	OpRequest uint16 = 1
	OpReply   uint16 = 2
)

const (
	hwTypeEthernet = 1
	protoTypeIPv4  = 0x0800
	hwAddrLen      = 6
	protoAddrLen   = 4
	wireLen        = 28
)

// Packet is a decoded Ethernet/IPv4 ARP packet.
type Packet struct {
	Opcode  uint16
	SenderHW  [6]byte
	SenderIP  netip.Addr
	TargetHW  [6]byte
	TargetIP  netip.Addr
}

// Decode parses an ARP packet from data.
func Decode(data []byte) (*Packet, error) {
	if len(data) < wireLen {
		return nil, errkind.New(errkind.BadMessage, errShort{})
	}
	if binary.BigEndian.Uint16(data[0:2]) != hwTypeEthernet ||
		binary.BigEndian.Uint16(data[2:4]) != protoTypeIPv4 ||
		data[4] != hwAddrLen || data[5] != protoAddrLen {
		return nil, errkind.New(errkind.BadMessage, errUnsupported{})
	}
	p := &Packet{Opcode: binary.BigEndian.Uint16(data[6:8])}
	copy(p.SenderHW[:], data[8:14])
	p.SenderIP = netip.AddrFrom4([4]byte(data[14:18]))
	copy(p.TargetHW[:], data[18:24])
	p.TargetIP = netip.AddrFrom4([4]byte(data[24:28]))
	return p, nil
}

// Encode serializes p into its wire form.
func Encode(p *Packet) []byte {
	buf := make([]byte, wireLen)
	binary.BigEndian.PutUint16(buf[0:2], hwTypeEthernet)
	binary.BigEndian.PutUint16(buf[2:4], protoTypeIPv4)
	buf[4] = hwAddrLen
	buf[5] = protoAddrLen
	binary.BigEndian.PutUint16(buf[6:8], p.Opcode)
	copy(buf[8:14], p.SenderHW[:])
	senderIP := p.SenderIP.As4()
	copy(buf[14:18], senderIP[:])
	copy(buf[18:24], p.TargetHW[:])
	targetIP := p.TargetIP.As4()
	copy(buf[24:28], targetIP[:])
	return buf
}

// State is a claimant's position in the RFC 3927 state machine.
type State int

const (
	StateProbing State = iota
	StateTentative
	StatePreferred
	StateDefending
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateTentative:
		return "tentative"
	case StatePreferred:
		return "preferred"
	case StateDefending:
		return "defending"
	default:
		return "unknown"
	}
}

const (
	probeCount     = 3
	probeWait      = 1 * time.Second
	probeMin       = 1 * time.Second
	probeMax       = 2 * time.Second
	announceWait   = 2 * time.Second
	announceCount  = 2
	announceInterval = 2 * time.Second
	maxConflicts   = 10
	rateLimitInterval = 60 * time.Second
)

// Transport sends raw ARP frames; inbound frames reach the claimant
// through [*Claimant.Observe], not through Transport. It is supplied by
// the caller so Claimant stays independent of any particular link layer.
type Transport interface {
	Send(p *Packet) error
}

// Claimant runs the address-claim state machine for one candidate IPv4
// address, driven entirely by [conc.Scheduler] alarms and inbound ARP
// packets (spec §4.5.1; §8's worked Tentative→Preferred and collision
// scenarios).
type Claimant struct {
	hw        [6]byte
	candidate netip.Addr
	transport Transport
	sched     *conc.Scheduler
	now       func() time.Time
	onState   func(State, netip.Addr)

	state         State
	probesLeft    int
	announcesLeft int
	conflicts     int
	lastDefense   time.Time
	pending       *conc.Alarm
}

// NewClaimant creates a [*Claimant] for candidate, driven by sched. now
// defaults to time.Now if nil.
func NewClaimant(hw [6]byte, candidate netip.Addr, transport Transport, sched *conc.Scheduler, now func() time.Time, onState func(State, netip.Addr)) *Claimant {
	if now == nil {
		now = time.Now
	}
	return &Claimant{
		hw:         hw,
		candidate:  candidate,
		transport:  transport,
		sched:      sched,
		now:        now,
		onState:    onState,
		state:      StateProbing,
		probesLeft: probeCount,
	}
}

// Start begins probing for the candidate address.
func (c *Claimant) Start() {
	c.scheduleProbe(probeWait)
}

func (c *Claimant) scheduleProbe(delay time.Duration) {
	c.pending = &conc.Alarm{
		Name:     "arp-probe:" + c.candidate.String(),
		FireAt:   c.now().Add(delay),
		Callback: func(ctx context.Context) { c.fireProbe() },
	}
	c.sched.Schedule(c.pending)
}

func (c *Claimant) fireProbe() {
	if c.probesLeft > 0 {
		c.probesLeft--
		_ = c.transport.Send(&Packet{
			Opcode:   OpRequest,
			SenderHW: c.hw,
			SenderIP: netip.IPv4Unspecified(),
			TargetIP: c.candidate,
		})
		c.scheduleProbe(probeMin + (probeMax-probeMin)/2)
		return
	}
	c.enterTentative()
}

func (c *Claimant) enterTentative() {
	c.state = StateTentative
	c.announcesLeft = announceCount
	if c.onState != nil {
		c.onState(c.state, c.candidate)
	}
	c.pending = &conc.Alarm{
		Name:     "arp-announce:" + c.candidate.String(),
		FireAt:   c.now().Add(announceWait),
		Callback: func(ctx context.Context) { c.fireAnnounce() },
	}
	c.sched.Schedule(c.pending)
}

func (c *Claimant) fireAnnounce() {
	_ = c.transport.Send(&Packet{
		Opcode:   OpRequest,
		SenderHW: c.hw,
		SenderIP: c.candidate,
		TargetIP: c.candidate,
	})
	c.announcesLeft--
	if c.announcesLeft > 0 {
		c.pending = &conc.Alarm{
			Name:     "arp-announce:" + c.candidate.String(),
			FireAt:   c.now().Add(announceInterval),
			Callback: func(ctx context.Context) { c.fireAnnounce() },
		}
		c.sched.Schedule(c.pending)
		return
	}
	c.state = StatePreferred
	if c.onState != nil {
		c.onState(c.state, c.candidate)
	}
}

// Observe feeds an inbound ARP packet to the state machine, detecting
// address collisions per RFC 3927 §2.4: a probe or reply naming our
// candidate from a different MAC is a conflict.
func (c *Claimant) Observe(p *Packet, now time.Time) {
	if p.SenderHW == c.hw {
		return
	}
	conflict := p.SenderIP == c.candidate ||
		(p.Opcode == OpRequest && p.TargetIP == c.candidate && p.SenderIP == netip.IPv4Unspecified())
	if !conflict {
		return
	}
	c.conflicts++
	switch c.state {
	case StateProbing, StateTentative:
		c.restart()
	case StatePreferred, StateDefending:
		if now.Sub(c.lastDefense) < rateLimitInterval && c.conflicts > maxConflicts {
			c.restart()
			return
		}
		c.lastDefense = now
		c.state = StateDefending
		_ = c.transport.Send(&Packet{
			Opcode:   OpRequest,
			SenderHW: c.hw,
			SenderIP: c.candidate,
			TargetIP: c.candidate,
		})
		if c.onState != nil {
			c.onState(c.state, c.candidate)
		}
	}
}

func (c *Claimant) restart() {
	if c.pending != nil {
		c.sched.Cancel(c.pending)
	}
	c.state = StateProbing
	c.probesLeft = probeCount
	if c.onState != nil {
		c.onState(c.state, c.candidate)
	}
	c.scheduleProbe(probeWait)
}

// State returns the claimant's current state.
func (c *Claimant) State() State { return c.state }

type errShort struct{}

func (errShort) Error() string { return "arp: short packet" }

type errUnsupported struct{}

func (errUnsupported) Error() string { return "arp: unsupported hardware/protocol type" }
