// SPDX-License-Identifier: GPL-3.0-or-later

package conduit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	received []byte
	fail     error
}

func (r *recordingReceiver) Receive(ctx context.Context, msgr *Messenger) error {
	if r.fail != nil {
		return r.fail
	}
	r.received = append([]byte(nil), msgr.Bytes()...)
	return nil
}

type countingVisitor struct {
	visited []string
}

func (v *countingVisitor) At(ctx context.Context, node Node) (bool, error) {
	v.visited = append(v.visited, node.Name())
	return true, nil
}

func TestProtocolStripsHeaderOnInput(t *testing.T) {
	recv := &recordingReceiver{}
	adapter := NewAdapter("adapter", recv, nil)
	proto := NewProtocol("strip4", func(ctx context.Context, m *Messenger) error {
		if m.Dir == DirectionInput {
			m.Consume(4)
		}
		return nil
	})
	ConnectAA(proto, adapter)

	msgr := &Messenger{Data: []byte{0, 0, 0, 0, 'h', 'i'}, Dir: DirectionInput}
	v := &countingVisitor{}
	cont, err := proto.Accept(context.Background(), v, msgr, SideA)
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Equal(t, []byte("hi"), recv.received)
	assert.Equal(t, []string{"strip4", "adapter"}, v.visited)
}

func TestAdapterReceiverErrorStopsWalk(t *testing.T) {
	recv := &recordingReceiver{fail: assertErr{}}
	adapter := NewAdapter("adapter", recv, nil)
	msgr := &Messenger{Data: []byte("x"), Dir: DirectionOutput}
	cont, err := adapter.Accept(context.Background(), &countingVisitor{}, msgr, SideB)
	require.Error(t, err)
	assert.False(t, cont)
	assert.Error(t, msgr.Err)
}

type assertErr struct{}

func (assertErr) Error() string { return "receiver refused message" }

func TestMuxRoutesByKeyAndFactoryFillsMiss(t *testing.T) {
	recv := &recordingReceiver{}
	parentAdapter := NewAdapter("shared-adapter", recv, nil)

	mux := NewMux("mux", func(m *Messenger) string { return m.RemoteAddr })
	ConnectAA(mux, parentAdapter) // so Factory can inherit parentAdapter's receiver

	factory := NewFactory("factory", func(key string) Node {
		return NewAdapter("branch-"+key, nil, nil)
	}, 4)
	mux.SetFactory(factory)

	msgr := &Messenger{Data: []byte("payload"), Dir: DirectionOutput, RemoteAddr: "10.0.0.5"}
	v := &countingVisitor{}
	cont, err := mux.Accept(context.Background(), v, msgr, SideA)
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Equal(t, []byte("payload"), recv.received)

	branch, ok := mux.lookup("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "branch-10.0.0.5", branch.Name())
}

func TestMuxInputMissFailsWithoutFactory(t *testing.T) {
	mux := NewMux("mux", func(m *Messenger) string { return "missing" })
	msgr := &Messenger{Data: []byte("x"), Dir: DirectionInput}
	cont, err := mux.Accept(context.Background(), &countingVisitor{}, msgr, SideA)
	assert.False(t, cont)
	require.Error(t, err)
}

func TestVisitorStopHaltsWalkWithoutError(t *testing.T) {
	recv := &recordingReceiver{}
	adapter := NewAdapter("adapter", recv, nil)
	proto := NewProtocol("p", nil)
	ConnectAA(proto, adapter)

	stopAt := VisitorFunc(func(ctx context.Context, n Node) (bool, error) {
		return n.Name() != "p", nil
	})
	msgr := &Messenger{Data: []byte("x"), Dir: DirectionOutput}
	cont, err := proto.Accept(context.Background(), stopAt, msgr, SideA)
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Nil(t, recv.received) // walk never reached the adapter
}
