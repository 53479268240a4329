// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	wire := Encode(src, dst, 53, 12345, []byte("hello"))
	h, payload, err := Decode(src, dst, wire)
	require.NoError(t, err)
	assert.Equal(t, uint16(53), h.SrcPort)
	assert.Equal(t, uint16(12345), h.DstPort)
	assert.Equal(t, []byte("hello"), payload)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	wire := Encode(src, dst, 53, 12345, []byte("hello"))
	wire[len(wire)-1] ^= 0xff
	_, _, err := Decode(src, dst, wire)
	require.Error(t, err)
}

func TestTableBindEphemeralAndDispatch(t *testing.T) {
	tbl := NewTable()
	sock, err := tbl.Bind(0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sock.LocalPort, uint16(49152))

	tbl.Dispatch(netip.MustParseAddr("10.0.0.5"), 9999, sock.LocalPort, []byte("data"))
	dgram := <-sock.Inbox
	assert.Equal(t, "data", string(dgram.Payload))
	assert.Equal(t, uint16(9999), dgram.Src.Port())
}

func TestTableBindRejectsDuplicatePort(t *testing.T) {
	tbl := NewTable()
	_, err := tbl.Bind(8080)
	require.NoError(t, err)
	_, err = tbl.Bind(8080)
	require.Error(t, err)
}
