// SPDX-License-Identifier: GPL-3.0-or-later

// Package icmp implements the subset of ICMPv4 this stack speaks: echo
// request/reply codec and reply construction (spec §4.5.3).
package icmp

import (
	"encoding/binary"

	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/internal/netstack/ip"
)

const (
	TypeEchoReply   uint8 = 0
	TypeEchoRequest uint8 = 8
)

const headerLen = 8

// Echo is a decoded ICMP echo request or reply.
type Echo struct {
	Type       uint8
	Code       uint8
	ID         uint16
	Sequence   uint16
	Data       []byte
}

// Decode parses an ICMP message, validating its checksum.
func Decode(data []byte) (*Echo, error) {
	if len(data) < headerLen {
		return nil, errkind.New(errkind.BadMessage, errShort{})
	}
	if ip.Checksum(data) != 0 {
		return nil, errkind.New(errkind.BadMessage, errChecksum{})
	}
	e := &Echo{
		Type:     data[0],
		Code:     data[1],
		ID:       binary.BigEndian.Uint16(data[4:6]),
		Sequence: binary.BigEndian.Uint16(data[6:8]),
	}
	if e.Type != TypeEchoRequest && e.Type != TypeEchoReply {
		return nil, errkind.New(errkind.UnsupportedOperation, errUnsupportedType{typ: e.Type})
	}
	e.Data = append([]byte(nil), data[headerLen:]...)
	return e, nil
}

// Encode serializes e, computing its checksum.
func Encode(e *Echo) []byte {
	buf := make([]byte, headerLen+len(e.Data))
	buf[0] = e.Type
	buf[1] = e.Code
	binary.BigEndian.PutUint16(buf[4:6], e.ID)
	binary.BigEndian.PutUint16(buf[6:8], e.Sequence)
	copy(buf[headerLen:], e.Data)
	binary.BigEndian.PutUint16(buf[2:4], ip.Checksum(buf))
	return buf
}

// Reply builds the echo reply for request req, per RFC 792: same ID,
// sequence, and data, type flipped to EchoReply.
func Reply(req *Echo) *Echo {
	return &Echo{Type: TypeEchoReply, Code: 0, ID: req.ID, Sequence: req.Sequence, Data: req.Data}
}

type errShort struct{}

func (errShort) Error() string { return "icmp: short message" }

type errChecksum struct{}

func (errChecksum) Error() string { return "icmp: checksum validation failed" }

type errUnsupportedType struct{ typ uint8 }

func (errUnsupportedType) Error() string { return "icmp: unsupported message type" }
