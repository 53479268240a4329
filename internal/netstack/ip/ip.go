// SPDX-License-Identifier: GPL-3.0-or-later

// Package ip implements the IPv4 header codec, checksum, and
// fragmentation reassembly used by the TCP/IP stack's IP layer (spec
// §4.5.2, §6).
package ip

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"strconv"
	"time"

	"github.com/esmicro/kernel/internal/errkind"
)

// Protocol numbers carried in the IPv4 header's Protocol field (IANA
// assigned numbers this stack recognizes).
const (
	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

// Header is a decoded IPv4 header (RFC 791), including options.
type Header struct {
	Version        uint8
	IHL            uint8 // header length in 32-bit words
	TOS            uint8
	TotalLength    uint16
	ID             uint16
	Flags          uint8
	FragmentOffset uint16 // in 8-byte units
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	Src            netip.Addr
	Dst            netip.Addr
	Options        []byte
}

const (
	FlagMoreFragments = 0x1
	FlagDontFragment  = 0x2
)

// MinHeaderLen is the fixed portion of an IPv4 header without options.
const MinHeaderLen = 20

// DecodeHeader parses an IPv4 header from the front of data. It validates
// the header checksum strictly, per spec §6 ("strict checksum
// validation").
func DecodeHeader(data []byte) (*Header, []byte, error) {
	if len(data) < MinHeaderLen {
		return nil, nil, errkind.New(errkind.BadMessage, errShortHeader{})
	}
	verIHL := data[0]
	h := &Header{
		Version: verIHL >> 4,
		IHL:     verIHL & 0x0f,
		TOS:     data[1],
	}
	if h.Version != 4 {
		return nil, nil, errkind.New(errkind.BadMessage, errBadVersion{version: h.Version})
	}
	hlen := int(h.IHL) * 4
	if hlen < MinHeaderLen || len(data) < hlen {
		return nil, nil, errkind.New(errkind.BadMessage, errShortHeader{})
	}
	h.TotalLength = binary.BigEndian.Uint16(data[2:4])
	h.ID = binary.BigEndian.Uint16(data[4:6])
	flagsFrag := binary.BigEndian.Uint16(data[6:8])
	h.Flags = uint8(flagsFrag >> 13)
	h.FragmentOffset = flagsFrag & 0x1fff
	h.TTL = data[8]
	h.Protocol = data[9]
	h.Checksum = binary.BigEndian.Uint16(data[10:12])
	h.Src = netip.AddrFrom4([4]byte{data[12], data[13], data[14], data[15]})
	h.Dst = netip.AddrFrom4([4]byte{data[16], data[17], data[18], data[19]})
	if hlen > MinHeaderLen {
		h.Options = append([]byte(nil), data[MinHeaderLen:hlen]...)
	}

	if Checksum(data[:hlen]) != 0 {
		return nil, nil, errkind.New(errkind.BadMessage, errChecksum{})
	}
	if int(h.TotalLength) > len(data) {
		return nil, nil, errkind.New(errkind.BadMessage, errShortHeader{})
	}
	return h, data[hlen:int(h.TotalLength)], nil
}

// Encode serializes h followed by payload into a single IPv4 datagram,
// computing both TotalLength and Checksum.
func Encode(h *Header, payload []byte) ([]byte, error) {
	hlen := MinHeaderLen + len(h.Options)
	if hlen%4 != 0 {
		return nil, errkind.New(errkind.InvalidArg, errBadOptions{})
	}
	total := hlen + len(payload)
	buf := make([]byte, total)
	buf[0] = (4 << 4) | uint8(hlen/4)
	buf[1] = h.TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(total))
	binary.BigEndian.PutUint16(buf[4:6], h.ID)
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Flags)<<13|h.FragmentOffset)
	buf[8] = h.TTL
	buf[9] = h.Protocol
	// checksum field left zero until computed below
	src4 := h.Src.As4()
	dst4 := h.Dst.As4()
	copy(buf[12:16], src4[:])
	copy(buf[16:20], dst4[:])
	copy(buf[20:hlen], h.Options)
	copy(buf[hlen:], payload)
	binary.BigEndian.PutUint16(buf[10:12], Checksum(buf[:hlen]))
	return buf, nil
}

// Checksum computes the RFC 791 Internet checksum (one's-complement sum
// of 16-bit words) over data. Called with the checksum field zeroed, it
// returns the value to store there; called with the checksum field
// populated, a zero result indicates a valid header.
func Checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// PseudoHeaderChecksum returns the partial checksum of the IPv4 pseudo
// header used by UDP and TCP to cover src/dst/protocol/length.
func PseudoHeaderChecksum(src, dst netip.Addr, protocol uint8, length uint16) uint32 {
	var sum uint32
	s := src.As4()
	d := dst.As4()
	sum += uint32(s[0])<<8 | uint32(s[1])
	sum += uint32(s[2])<<8 | uint32(s[3])
	sum += uint32(d[0])<<8 | uint32(d[1])
	sum += uint32(d[2])<<8 | uint32(d[3])
	sum += uint32(protocol)
	sum += uint32(length)
	return sum
}

// FoldChecksum finishes a checksum accumulator (such as one seeded with
// [PseudoHeaderChecksum] plus a running sum over the payload) into its
// final one's-complement form.
func FoldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// fragment is one piece of a datagram awaiting reassembly.
type fragment struct {
	offset int
	data   []byte
	last   bool
}

// reassembly tracks the fragments seen so far for one (src, id) pair.
type reassembly struct {
	fragments []fragment
	deadline  time.Time
}

// Reassembler reassembles fragmented IPv4 datagrams keyed by (source
// address, identification).
type Reassembler struct {
	pending map[string]*reassembly
	ttl     time.Duration
}

// NewReassembler creates a [*Reassembler] that discards incomplete
// datagrams older than ttl.
func NewReassembler(ttl time.Duration) *Reassembler {
	return &Reassembler{pending: make(map[string]*reassembly), ttl: ttl}
}

// Insert adds one fragment. It returns the reassembled payload and true
// once every fragment for that (src, id) has arrived; otherwise it
// returns (nil, false).
func (r *Reassembler) Insert(src netip.Addr, id uint16, h *Header, payload []byte, now time.Time) ([]byte, bool) {
	key := src.String() + ":" + strconv.Itoa(int(id))
	re, ok := r.pending[key]
	if !ok {
		re = &reassembly{deadline: now.Add(r.ttl)}
		r.pending[key] = re
	}
	re.fragments = append(re.fragments, fragment{
		offset: int(h.FragmentOffset) * 8,
		data:   append([]byte(nil), payload...),
		last:   h.Flags&FlagMoreFragments == 0,
	})

	sort.Slice(re.fragments, func(i, j int) bool { return re.fragments[i].offset < re.fragments[j].offset })

	if !re.fragments[len(re.fragments)-1].last {
		return nil, false
	}
	var out []byte
	expect := 0
	for _, f := range re.fragments {
		if f.offset != expect {
			return nil, false // gap: still incomplete
		}
		out = append(out, f.data...)
		expect += len(f.data)
	}
	delete(r.pending, key)
	return out, true
}

// Expire drops reassembly state older than now, matching a fragmented
// datagram that never completed.
func (r *Reassembler) Expire(now time.Time) {
	for key, re := range r.pending {
		if now.After(re.deadline) {
			delete(r.pending, key)
		}
	}
}

type errShortHeader struct{}

func (errShortHeader) Error() string { return "ip: short header" }

type errBadVersion struct{ version uint8 }

func (e errBadVersion) Error() string { return "ip: unsupported version" }

type errChecksum struct{}

func (errChecksum) Error() string { return "ip: checksum validation failed" }

type errBadOptions struct{}

func (errBadOptions) Error() string { return "ip: options not a multiple of 4 bytes" }
