// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements the UDP datagram codec and a demultiplexing
// socket table over the IP layer (spec §4.5.3).
package udp

import (
	"encoding/binary"
	"net/netip"
	"sync"

	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/internal/netstack/ip"
)

const headerLen = 8

// Header is a decoded UDP header.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Decode parses a UDP datagram, verifying its checksum against the IPv4
// pseudo-header when checksum is nonzero (RFC 768 permits an all-zero
// checksum to mean "not computed").
func Decode(src, dst netip.Addr, data []byte) (*Header, []byte, error) {
	if len(data) < headerLen {
		return nil, nil, errkind.New(errkind.BadMessage, errShort{})
	}
	h := &Header{
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]),
		Checksum: binary.BigEndian.Uint16(data[6:8]),
	}
	if int(h.Length) > len(data) {
		return nil, nil, errkind.New(errkind.BadMessage, errShort{})
	}
	if h.Checksum != 0 && !verifyChecksum(src, dst, data[:h.Length], h.Checksum) {
		return nil, nil, errkind.New(errkind.BadMessage, errChecksum{})
	}
	return h, data[headerLen:h.Length], nil
}

// Encode serializes a UDP datagram with its checksum computed over the
// IPv4 pseudo-header, src/dst, and payload.
func Encode(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	total := headerLen + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(total))
	copy(buf[headerLen:], payload)
	sum := ip.PseudoHeaderChecksum(src, dst, ip.ProtoUDP, uint16(total))
	sum += checksumWords(buf)
	cs := ip.FoldChecksum(sum)
	if cs == 0 {
		cs = 0xffff
	}
	binary.BigEndian.PutUint16(buf[6:8], cs)
	return buf
}

func verifyChecksum(src, dst netip.Addr, datagram []byte, want uint16) bool {
	sum := ip.PseudoHeaderChecksum(src, dst, ip.ProtoUDP, uint16(len(datagram)))
	buf := append([]byte(nil), datagram...)
	binary.BigEndian.PutUint16(buf[6:8], 0)
	sum += checksumWords(buf)
	got := ip.FoldChecksum(sum)
	if got == 0 {
		got = 0xffff
	}
	return got == want
}

func checksumWords(data []byte) uint32 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	return sum
}

// Datagram is one received UDP payload plus its origin, delivered to a
// bound socket's Inbox.
type Datagram struct {
	Src     netip.AddrPort
	Payload []byte
}

// Socket is a bound UDP endpoint; received datagrams for its port are
// pushed onto Inbox by [*Table.Dispatch].
type Socket struct {
	LocalPort uint16
	Inbox     chan Datagram
}

// Table demultiplexes inbound UDP datagrams to bound sockets by
// destination port, mirroring the broker's capability-table style
// registration (spec §4.5.3).
type Table struct {
	mu      sync.Mutex
	sockets map[uint16]*Socket
	next    uint16
}

// NewTable creates an empty [*Table].
func NewTable() *Table {
	return &Table{sockets: make(map[uint16]*Socket), next: 49152}
}

// Bind reserves port for a new socket, or an ephemeral port above 49151
// if port is zero.
func (t *Table) Bind(port uint16) (*Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if port == 0 {
		for {
			if _, taken := t.sockets[t.next]; !taken {
				port = t.next
				t.next++
				break
			}
			t.next++
			if t.next == 0 {
				t.next = 49152
			}
		}
	} else if _, taken := t.sockets[port]; taken {
		return nil, errkind.New(errkind.AlreadyExists, errPortInUse{port: port})
	}
	s := &Socket{LocalPort: port, Inbox: make(chan Datagram, 64)}
	t.sockets[port] = s
	return s, nil
}

// Unbind releases port.
func (t *Table) Unbind(port uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sockets[port]; ok {
		close(s.Inbox)
		delete(t.sockets, port)
	}
}

// Dispatch delivers payload to the socket bound to dstPort, if any. It
// drops the datagram silently when no socket is bound, matching BSD
// socket semantics (no ICMP port-unreachable generation in this stack).
func (t *Table) Dispatch(src netip.Addr, srcPort uint16, dstPort uint16, payload []byte) {
	t.mu.Lock()
	s, ok := t.sockets[dstPort]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case s.Inbox <- Datagram{Src: netip.AddrPortFrom(src, srcPort), Payload: payload}:
	default:
		// Inbox full: drop, matching an unread UDP socket's kernel buffer overflow.
	}
}

type errShort struct{}

func (errShort) Error() string { return "udp: short datagram" }

type errChecksum struct{}

func (errChecksum) Error() string { return "udp: checksum validation failed" }

type errPortInUse struct{ port uint16 }

func (errPortInUse) Error() string { return "udp: port already bound" }
