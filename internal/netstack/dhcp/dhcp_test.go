// SPDX-License-Identifier: GPL-3.0-or-later

package dhcp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esmicro/kernel/internal/conc"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Message{
		Op: OpBootRequest, XID: 0xdeadbeef, CHAddr: [6]byte{1, 2, 3, 4, 5, 6},
		Type: MsgDiscover, ParamRequest: []uint8{optSubnetMask, optRouter},
	}
	got, err := Decode(Encode(m))
	require.NoError(t, err)
	assert.Equal(t, m.XID, got.XID)
	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.CHAddr, got.CHAddr)
	assert.Equal(t, m.ParamRequest, got.ParamRequest)
}

type recordingTransport struct {
	sent []*Message
}

func (r *recordingTransport) Send(m *Message) error {
	r.sent = append(r.sent, m)
	return nil
}

func TestClientDiscoverOfferRequestAckFlow(t *testing.T) {
	now := time.Now()
	sched := conc.NewScheduler(&conc.Config{TimeNow: func() time.Time { return now }})
	tr := &recordingTransport{}
	var bound InternetConfig
	c := NewClient([6]byte{1, 1, 1, 1, 1, 1}, tr, sched, func() time.Time { return now }, func(cfg InternetConfig) { bound = cfg })
	c.Start()
	assert.Equal(t, StateSelecting, c.State())
	require.Len(t, tr.sent, 1)
	assert.Equal(t, MsgDiscover, tr.sent[0].Type)

	offer := &Message{
		Op: OpBootReply, XID: c.xid, Type: MsgOffer,
		YIAddr: netip.MustParseAddr("192.168.1.50"), ServerID: netip.MustParseAddr("192.168.1.1"),
	}
	c.Deliver(offer)
	assert.Equal(t, StateRequesting, c.State())
	require.Len(t, tr.sent, 2)
	assert.Equal(t, MsgRequest, tr.sent[1].Type)

	ack := &Message{
		Op: OpBootReply, XID: c.xid, Type: MsgACK,
		YIAddr: netip.MustParseAddr("192.168.1.50"), SubnetMask: netip.MustParseAddr("255.255.255.0"),
		LeaseTime: time.Hour,
	}
	c.Deliver(ack)
	assert.Equal(t, StateBound, c.State())
	assert.Equal(t, netip.MustParseAddr("192.168.1.50"), bound.Address)
}

func TestClientRestartsOnNAK(t *testing.T) {
	now := time.Now()
	sched := conc.NewScheduler(&conc.Config{TimeNow: func() time.Time { return now }})
	tr := &recordingTransport{}
	c := NewClient([6]byte{1}, tr, sched, func() time.Time { return now }, nil)
	c.Start()
	c.state = StateRequesting
	c.Deliver(&Message{Op: OpBootReply, XID: c.xid, Type: MsgNAK})
	assert.Equal(t, StateSelecting, c.State())
}
