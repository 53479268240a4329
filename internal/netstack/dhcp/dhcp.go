// SPDX-License-Identifier: GPL-3.0-or-later

// Package dhcp implements a DHCPv4 client state machine (RFC 2131) and
// its RFC 2132 option wire codec, producing an [InternetConfig] this
// stack's IP layer applies once a lease is ACKed (spec §4.5.4).
package dhcp

import (
	"context"
	"encoding/binary"
	"net/netip"
	"time"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
)

// Message op codes (RFC 2131 §2).
const (
	OpBootRequest uint8 = 1
	OpBootReply   uint8 = 2
)

// MessageType option values (RFC 2132 §9.6).
const (
	MsgDiscover uint8 = 1
	MsgOffer    uint8 = 2
	MsgRequest  uint8 = 3
	MsgDecline  uint8 = 4
	MsgACK      uint8 = 5
	MsgNAK      uint8 = 6
	MsgRelease  uint8 = 7
	MsgInform   uint8 = 8
)

const (
	optPad          = 0
	optSubnetMask   = 1
	optRouter       = 3
	optDNSServer    = 6
	optRequestedIP  = 50
	optLeaseTime    = 51
	optMessageType  = 53
	optServerID     = 54
	optParamReqList = 55
	optEnd          = 255

	magicCookie = 0x63825363
	fixedLen    = 236 // op..file, before the magic cookie
)

// Message is a decoded DHCPv4 message.
type Message struct {
	Op     uint8
	XID    uint32
	CIAddr netip.Addr
	YIAddr netip.Addr
	SIAddr netip.Addr
	CHAddr [6]byte

	Type         uint8
	RequestedIP  netip.Addr
	ServerID     netip.Addr
	LeaseTime    time.Duration
	SubnetMask   netip.Addr
	Routers      []netip.Addr
	DNSServers   []netip.Addr
	ParamRequest []uint8
}

// Decode parses a DHCPv4 message from its wire form.
func Decode(data []byte) (*Message, error) {
	if len(data) < fixedLen+4 {
		return nil, errkind.New(errkind.BadMessage, errShort{})
	}
	m := &Message{
		Op:     data[0],
		XID:    binary.BigEndian.Uint32(data[4:8]),
		CIAddr: netip.AddrFrom4([4]byte(data[12:16])),
		YIAddr: netip.AddrFrom4([4]byte(data[16:20])),
		SIAddr: netip.AddrFrom4([4]byte(data[20:24])),
	}
	copy(m.CHAddr[:], data[28:34])
	if binary.BigEndian.Uint32(data[fixedLen:fixedLen+4]) != magicCookie {
		return nil, errkind.New(errkind.BadMessage, errBadCookie{})
	}
	parseOptions(m, data[fixedLen+4:])
	return m, nil
}

func parseOptions(m *Message, opts []byte) {
	for i := 0; i < len(opts); {
		kind := opts[i]
		if kind == optEnd {
			return
		}
		if kind == optPad {
			i++
			continue
		}
		if i+1 >= len(opts) {
			return
		}
		length := int(opts[i+1])
		if i+2+length > len(opts) {
			return
		}
		val := opts[i+2 : i+2+length]
		switch kind {
		case optMessageType:
			if length == 1 {
				m.Type = val[0]
			}
		case optRequestedIP:
			if length == 4 {
				m.RequestedIP = netip.AddrFrom4([4]byte(val))
			}
		case optServerID:
			if length == 4 {
				m.ServerID = netip.AddrFrom4([4]byte(val))
			}
		case optSubnetMask:
			if length == 4 {
				m.SubnetMask = netip.AddrFrom4([4]byte(val))
			}
		case optLeaseTime:
			if length == 4 {
				m.LeaseTime = time.Duration(binary.BigEndian.Uint32(val)) * time.Second
			}
		case optRouter:
			for j := 0; j+4 <= length; j += 4 {
				m.Routers = append(m.Routers, netip.AddrFrom4([4]byte(val[j:j+4])))
			}
		case optDNSServer:
			for j := 0; j+4 <= length; j += 4 {
				m.DNSServers = append(m.DNSServers, netip.AddrFrom4([4]byte(val[j:j+4])))
			}
		case optParamReqList:
			m.ParamRequest = append([]uint8(nil), val...)
		}
		i += 2 + length
	}
}

// Encode serializes m into its wire form. It writes Op, XID, CIAddr,
// YIAddr, and CHAddr, and the message type, requested IP, server ID, and
// parameter request list options; SIAddr, SubnetMask, LeaseTime, Routers,
// and DNSServers are not encoded.
func Encode(m *Message) []byte {
	buf := make([]byte, fixedLen+4)
	buf[0] = m.Op
	buf[1] = 1 // htype: Ethernet
	buf[2] = 6 // hlen
	binary.BigEndian.PutUint32(buf[4:8], m.XID)
	if m.CIAddr.IsValid() {
		ci := m.CIAddr.As4()
		copy(buf[12:16], ci[:])
	}
	if m.YIAddr.IsValid() {
		yi := m.YIAddr.As4()
		copy(buf[16:20], yi[:])
	}
	copy(buf[28:34], m.CHAddr[:])
	binary.BigEndian.PutUint32(buf[fixedLen:fixedLen+4], magicCookie)

	var opts []byte
	if m.Type != 0 {
		opts = append(opts, optMessageType, 1, m.Type)
	}
	if m.RequestedIP.IsValid() {
		ip := m.RequestedIP.As4()
		opts = append(opts, optRequestedIP, 4)
		opts = append(opts, ip[:]...)
	}
	if m.ServerID.IsValid() {
		ip := m.ServerID.As4()
		opts = append(opts, optServerID, 4)
		opts = append(opts, ip[:]...)
	}
	if len(m.ParamRequest) > 0 {
		opts = append(opts, optParamReqList, byte(len(m.ParamRequest)))
		opts = append(opts, m.ParamRequest...)
	}
	opts = append(opts, optEnd)
	return append(buf, opts...)
}

// InternetConfig is the network configuration this stack applies to its
// IP layer once a lease is ACKed (spec §4.5.4).
type InternetConfig struct {
	Address    netip.Addr
	SubnetMask netip.Addr
	Routers    []netip.Addr
	DNSServers []netip.Addr
	LeaseTime  time.Duration
	ServerID   netip.Addr
}

// State is the client's position in the RFC 2131 §4.4 state diagram.
type State int

const (
	StateInit State = iota
	StateSelecting
	StateRequesting
	StateBound
	StateRenewing
	StateRebinding
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSelecting:
		return "SELECTING"
	case StateRequesting:
		return "REQUESTING"
	case StateBound:
		return "BOUND"
	case StateRenewing:
		return "RENEWING"
	case StateRebinding:
		return "REBINDING"
	default:
		return "UNKNOWN"
	}
}

// Transport sends a raw DHCP message (broadcast while unconfigured,
// unicast to the lease's server once bound).
type Transport interface {
	Send(m *Message) error
}

// Client runs the DHCPv4 client state machine, driven by a
// [conc.Scheduler] for the T1 (renew), T2 (rebind), and lease-expiry
// timers (spec §4.5.4, RFC 2131 §4.4). Messages that get no reply are not
// retransmitted.
type Client struct {
	chaddr    [6]byte
	transport Transport
	sched     *conc.Scheduler
	now       func() time.Time
	onBound   func(InternetConfig)

	state   State
	xid     uint32
	config  InternetConfig
	leaseAt time.Time

	t1Timer, t2Timer, expireTimer *conc.Alarm
}

// NewClient creates a [*Client] in [StateInit].
func NewClient(chaddr [6]byte, transport Transport, sched *conc.Scheduler, now func() time.Time, onBound func(InternetConfig)) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{chaddr: chaddr, transport: transport, sched: sched, now: now, onBound: onBound, state: StateInit}
}

// Start sends the initial DHCPDISCOVER.
func (c *Client) Start() {
	c.xid = uint32(c.now().UnixNano())
	c.state = StateSelecting
	_ = c.transport.Send(&Message{
		Op: OpBootRequest, XID: c.xid, CHAddr: c.chaddr, Type: MsgDiscover,
		ParamRequest: []uint8{optSubnetMask, optRouter, optDNSServer, optLeaseTime},
	})
}

// State returns the client's current state.
func (c *Client) State() State { return c.state }

// Config returns the bound lease's configuration, valid once State is
// Bound, Renewing, or Rebinding.
func (c *Client) Config() InternetConfig { return c.config }

// Deliver processes one inbound DHCP message matching this client's XID.
func (c *Client) Deliver(m *Message) {
	if m.XID != c.xid || m.Op != OpBootReply {
		return
	}
	switch c.state {
	case StateSelecting:
		if m.Type != MsgOffer {
			return
		}
		c.state = StateRequesting
		_ = c.transport.Send(&Message{
			Op: OpBootRequest, XID: c.xid, CHAddr: c.chaddr, Type: MsgRequest,
			RequestedIP: m.YIAddr, ServerID: m.ServerID,
		})
	case StateRequesting, StateRenewing, StateRebinding:
		switch m.Type {
		case MsgACK:
			c.applyLease(m)
		case MsgNAK:
			c.state = StateInit
			c.Start()
		}
	}
}

func (c *Client) applyLease(m *Message) {
	c.config = InternetConfig{
		Address:    m.YIAddr,
		SubnetMask: m.SubnetMask,
		Routers:    m.Routers,
		DNSServers: m.DNSServers,
		LeaseTime:  m.LeaseTime,
		ServerID:   m.ServerID,
	}
	c.state = StateBound
	c.leaseAt = c.now()
	c.armTimers()
	if c.onBound != nil {
		c.onBound(c.config)
	}
}

func (c *Client) armTimers() {
	lease := c.config.LeaseTime
	if lease <= 0 {
		return
	}
	t1 := lease / 2   // RFC 2131 §4.4.5 default T1
	t2 := lease * 7 / 8 // default T2

	c.t1Timer = &conc.Alarm{Name: "dhcp-t1", FireAt: c.leaseAt.Add(t1), Callback: func(ctx context.Context) { c.onRenew() }}
	c.sched.Schedule(c.t1Timer)
	c.t2Timer = &conc.Alarm{Name: "dhcp-t2", FireAt: c.leaseAt.Add(t2), Callback: func(ctx context.Context) { c.onRebind() }}
	c.sched.Schedule(c.t2Timer)
	c.expireTimer = &conc.Alarm{Name: "dhcp-expire", FireAt: c.leaseAt.Add(lease), Callback: func(ctx context.Context) { c.onExpire() }}
	c.sched.Schedule(c.expireTimer)
}

func (c *Client) onRenew() {
	if c.state != StateBound {
		return
	}
	c.state = StateRenewing
	_ = c.transport.Send(&Message{
		Op: OpBootRequest, XID: c.xid, CHAddr: c.chaddr, Type: MsgRequest,
		CIAddr: c.config.Address, RequestedIP: c.config.Address,
	})
}

func (c *Client) onRebind() {
	if c.state != StateRenewing {
		return
	}
	c.state = StateRebinding
	_ = c.transport.Send(&Message{
		Op: OpBootRequest, XID: c.xid, CHAddr: c.chaddr, Type: MsgRequest,
		CIAddr: c.config.Address, RequestedIP: c.config.Address,
	})
}

func (c *Client) onExpire() {
	c.state = StateInit
	c.config = InternetConfig{}
	c.Start()
}

type errShort struct{}

func (errShort) Error() string { return "dhcp: short message" }

type errBadCookie struct{}

func (errBadCookie) Error() string { return "dhcp: missing magic cookie" }
