// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcp implements the TCP state machine: the 11-state FSM, RFC
// 1948 initial sequence numbers, Jacobson/Karels RTO estimation,
// Reno congestion control (slow start, congestion avoidance, fast
// retransmit and fast recovery) with a SACK scoreboard, and the
// connection's send/receive ring buffers and timers (spec §4.5.2, §8).
// Fast recovery ends on the first ACK of new data; a partial ACK is not
// treated differently from a full one.
package tcp

import (
	"encoding/binary"
	"net/netip"

	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/internal/netstack/ip"
)

// Flag bits (RFC 793 §3.1).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

const minHeaderLen = 20

// Option kinds this stack understands (RFC 793/2018/7323).
const (
	optEnd       = 0
	optNOP       = 1
	optMSS       = 2
	optWindowScale = 3
	optSACKPermitted = 4
	optSACK      = 5
)

// SACKBlock is one contiguous range of received-but-unacked data (RFC
// 2018).
type SACKBlock struct {
	Left, Right uint32
}

// Segment is a decoded TCP segment.
type Segment struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	Flags      uint8
	Window     uint16
	MSS        uint16 // 0 if absent
	WindowScale uint8 // 0 if absent; shift count
	SACKPermitted bool
	SACKBlocks []SACKBlock
	Payload    []byte
}

// Decode parses a TCP segment, verifying its checksum against the IPv4
// pseudo header. data is the whole segment, header included, as carried
// by the IP layer (TCP has no length field of its own).
func Decode(src, dst netip.Addr, data []byte) (*Segment, error) {
	if len(data) < minHeaderLen {
		return nil, errkind.New(errkind.BadMessage, errShort{})
	}
	dataOffset := int(data[12]>>4) * 4
	if dataOffset < minHeaderLen || len(data) < dataOffset {
		return nil, errkind.New(errkind.BadMessage, errShort{})
	}
	checksum := binary.BigEndian.Uint16(data[16:18])
	if !verifyChecksum(src, dst, data, checksum) {
		return nil, errkind.New(errkind.BadMessage, errChecksum{})
	}
	s := &Segment{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		Ack:     binary.BigEndian.Uint32(data[8:12]),
		Flags:   data[13],
		Window:  binary.BigEndian.Uint16(data[14:16]),
	}
	parseOptions(s, data[minHeaderLen:dataOffset])
	s.Payload = append([]byte(nil), data[dataOffset:]...)
	return s, nil
}

func parseOptions(s *Segment, opts []byte) {
	for i := 0; i < len(opts); {
		kind := opts[i]
		switch kind {
		case optEnd:
			return
		case optNOP:
			i++
		case optMSS:
			if i+4 > len(opts) {
				return
			}
			s.MSS = binary.BigEndian.Uint16(opts[i+2 : i+4])
			i += 4
		case optWindowScale:
			if i+3 > len(opts) {
				return
			}
			s.WindowScale = opts[i+2]
			i += 3
		case optSACKPermitted:
			if i+2 > len(opts) {
				return
			}
			s.SACKPermitted = true
			i += 2
		case optSACK:
			if i+1 >= len(opts) {
				return
			}
			length := int(opts[i+1])
			if i+length > len(opts) || length < 2 {
				return
			}
			for j := i + 2; j+8 <= i+length; j += 8 {
				s.SACKBlocks = append(s.SACKBlocks, SACKBlock{
					Left:  binary.BigEndian.Uint32(opts[j : j+4]),
					Right: binary.BigEndian.Uint32(opts[j+4 : j+8]),
				})
			}
			i += length
		default:
			if i+1 >= len(opts) {
				return
			}
			length := int(opts[i+1])
			if length < 2 {
				return
			}
			i += length
		}
	}
}

// Encode serializes seg into a TCP segment, computing its checksum over
// the IPv4 pseudo-header, src/dst addresses, and payload.
func Encode(src, dst netip.Addr, seg *Segment) []byte {
	opts := encodeOptions(seg)
	hlen := minHeaderLen + len(opts)
	for hlen%4 != 0 {
		opts = append(opts, optEnd)
		hlen++
	}
	total := hlen + len(seg.Payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], seg.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], seg.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], seg.Seq)
	binary.BigEndian.PutUint32(buf[8:12], seg.Ack)
	buf[12] = uint8(hlen/4) << 4
	buf[13] = seg.Flags
	binary.BigEndian.PutUint16(buf[14:16], seg.Window)
	copy(buf[minHeaderLen:hlen], opts)
	copy(buf[hlen:], seg.Payload)

	sum := ip.PseudoHeaderChecksum(src, dst, ip.ProtoTCP, uint16(total))
	sum += checksumWords(buf)
	cs := ip.FoldChecksum(sum)
	binary.BigEndian.PutUint16(buf[16:18], cs)
	return buf
}

func encodeOptions(seg *Segment) []byte {
	var opts []byte
	if seg.MSS != 0 {
		opts = append(opts, optMSS, 4, 0, 0)
		binary.BigEndian.PutUint16(opts[len(opts)-2:], seg.MSS)
	}
	if seg.SACKPermitted {
		opts = append(opts, optSACKPermitted, 2)
	}
	if seg.WindowScale != 0 {
		opts = append(opts, optWindowScale, 3, seg.WindowScale)
	}
	if len(seg.SACKBlocks) > 0 {
		n := len(seg.SACKBlocks)
		if n > 4 {
			n = 4
		}
		opts = append(opts, optSACK, byte(2+8*n))
		for _, b := range seg.SACKBlocks[:n] {
			lr := make([]byte, 8)
			binary.BigEndian.PutUint32(lr[0:4], b.Left)
			binary.BigEndian.PutUint32(lr[4:8], b.Right)
			opts = append(opts, lr...)
		}
	}
	return opts
}

func verifyChecksum(src, dst netip.Addr, data []byte, want uint16) bool {
	sum := ip.PseudoHeaderChecksum(src, dst, ip.ProtoTCP, uint16(len(data)))
	buf := append([]byte(nil), data...)
	binary.BigEndian.PutUint16(buf[16:18], 0)
	sum += checksumWords(buf)
	return ip.FoldChecksum(sum) == want
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

type errShort struct{}

func (errShort) Error() string { return "tcp: short segment" }

type errChecksum struct{}

func (errChecksum) Error() string { return "tcp: checksum validation failed" }
