// SPDX-License-Identifier: GPL-3.0-or-later

package icmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := &Echo{Type: TypeEchoRequest, ID: 42, Sequence: 1, Data: []byte("ping")}
	got, err := Decode(Encode(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestReplyMirrorsRequest(t *testing.T) {
	req := &Echo{Type: TypeEchoRequest, ID: 7, Sequence: 3, Data: []byte("x")}
	reply := Reply(req)
	assert.Equal(t, TypeEchoReply, reply.Type)
	assert.Equal(t, req.ID, reply.ID)
	assert.Equal(t, req.Sequence, reply.Sequence)
	assert.Equal(t, req.Data, reply.Data)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	wire := Encode(&Echo{Type: TypeEchoRequest, ID: 1, Sequence: 1})
	wire[len(wire)-1] ^= 0xff
	_, err := Decode(wire)
	require.Error(t, err)
}
