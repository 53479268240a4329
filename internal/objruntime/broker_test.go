// SPDX-License-Identifier: GPL-3.0-or-later

package objruntime

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/esmicro/kernel/internal/any"
	"github.com/esmicro/kernel/internal/ifstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoObject struct {
	*RefCounted
}

func newEchoObject() *echoObject {
	o := &echoObject{}
	o.RefCounted = NewRefCounted(nil, nil)
	return o
}

func (o *echoObject) Dispatch(ctx context.Context, methodIndex int, args []any.Value) (any.Value, error) {
	if methodIndex == 0 && len(args) == 1 {
		return args[0], nil
	}
	return any.Value{}, errNotDispatcher{}
}

func TestBrokerInvokeLocal(t *testing.T) {
	ifs := ifstore.New(nil)
	tbl := NewCapabilityTable(4)
	b := New(1, ifs, tbl, nil)

	obj := newEchoObject()
	h, err := tbl.Add(b.self, obj)
	require.NoError(t, err)

	result, err := b.Invoke(context.Background(), h, 0, []any.Value{any.LongValue(42)})
	require.NoError(t, err)
	v, err := result.Long()
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
}

func TestBrokerInvokeUnknownHandle(t *testing.T) {
	ifs := ifstore.New(nil)
	tbl := NewCapabilityTable(4)
	b := New(1, ifs, tbl, nil)

	_, err := b.Invoke(context.Background(), 7, 0, nil)
	assert.Error(t, err)
}

func TestBrokerServeAndCallOverControlChannel(t *testing.T) {
	ifs := ifstore.New(nil)
	tbl := NewCapabilityTable(4)
	b := New(2, ifs, tbl, nil)

	obj := newEchoObject()
	h, err := tbl.Add(b.self, obj)
	require.NoError(t, err)

	name := "es-socket-test-" + NewCallID()
	lis, err := ListenControlChannel(name)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, lis)

	conn, err := net.DialTimeout(lis.Addr().Network(), lis.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	result, err := Call(conn, 2, h, "echo", 0, []any.Value{any.StringValue("hello")})
	require.NoError(t, err)
	s, err := result.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}
