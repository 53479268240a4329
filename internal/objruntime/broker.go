// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/config.go (Config-with-defaults constructor),
// pkg/dial/slogger.go (SLogger abstraction), pkg/dial/spanid.go (span-id
// correlation, generalized here to objruntime.NewCallID).

package objruntime

import (
	"context"
	"encoding/gob"
	"fmt"
	"net"

	"github.com/esmicro/kernel/internal/any"
	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/internal/ifstore"
)

// brokerLogger abstracts the [*slog.Logger] behavior used by this
// package. It is named distinctly from pkg/dial's SLogger (rather than
// imported) because this package's own "any" import shadows the
// predeclared identifier any used in a variadic ...any parameter list.
type brokerLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Debug(msg string, args ...interface{}) {}
func (discardLogger) Info(msg string, args ...interface{})  {}

// DefaultLogger returns a no-op logger.
func DefaultLogger() brokerLogger { return discardLogger{} }

// Dispatcher is the "local virtual-call equivalent" (spec §4.2) a
// capability-table object implements so the broker can invoke one of its
// methods by index without reflection.
type Dispatcher interface {
	Dispatch(ctx context.Context, methodIndex int, args []any.Value) (any.Value, error)
}

// Config holds common configuration for the broker.
type Config struct {
	// Logger receives a debug record for each control-channel message of
	// a type the broker does not handle.
	//
	// Set by [NewConfig] to a no-op logger.
	Logger brokerLogger
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{Logger: DefaultLogger()}
}

// Broker is the per-process RPC dispatcher (spec §4.2). It resolves
// handles to objects through a [*CapabilityTable]. It holds an
// [*ifstore.Store], but Invoke does not consult it: argument counts and
// kinds are not checked against the interface before dispatch.
type Broker struct {
	pid      uint32
	ifs      *ifstore.Store
	captable *CapabilityTable
	logger   brokerLogger
	self     *conc.Thread
}

// New creates a [*Broker] for the process identified by pid.
func New(pid uint32, ifs *ifstore.Store, captable *CapabilityTable, cfg *Config) *Broker {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &Broker{
		pid:      pid,
		ifs:      ifs,
		captable: captable,
		logger:   cfg.Logger,
		self:     conc.NewThread(context.Background(), "broker", conc.PriorityHigh),
	}
}

// SocketName returns this broker's control-channel endpoint name (spec
// §6: "a UNIX-domain-socket–style abstract-namespace endpoint named
// es-socket-<pid>").
func (b *Broker) SocketName() string {
	return fmt.Sprintf("es-socket-%d", b.pid)
}

// Invoke performs a method call on handle as a direct in-process call.
// The handle is resolved only in this broker's own capability table;
// Invoke never forwards a call to another process.
func (b *Broker) Invoke(ctx context.Context, handle int32, methodIndex int, args []any.Value) (any.Value, error) {
	ref, ok, err := b.captable.Get(b.self, handle)
	if err != nil {
		return any.Value{}, err
	}
	if !ok {
		return any.Value{}, errkind.New(errkind.NotFound, errHandleNotFound{handle: handle})
	}
	defer b.captable.Put(b.self, handle)

	disp, ok := ref.(Dispatcher)
	if !ok {
		return any.Value{}, errkind.New(errkind.UnsupportedOperation, errNotDispatcher{})
	}

	result, callErr := disp.Dispatch(ctx, methodIndex, args)
	if callErr != nil {
		// Local exceptions are caught at the broker boundary and converted
		// to error codes (spec §4.2, Failure semantics).
		return any.Value{}, errkind.New(errkind.KindOf(callErr), callErr)
	}
	return result, nil
}

// Listener is the platform-specific control-channel acceptor. On Linux,
// ListenControlChannel binds a Linux abstract-namespace SOCK_SEQPACKET
// socket (broker_linux.go); elsewhere it falls back to a filesystem UNIX
// socket (broker_portable.go), since net.Listen cannot address the
// abstract namespace itself.
type Listener interface {
	net.Listener
}

// Serve accepts connections from lis until ctx is cancelled, decoding one
// [Envelope] per message and dispatching RPC_REQ messages through Invoke.
func (b *Broker) Serve(ctx context.Context, lis Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errkind.New(errkind.ConnectionReset, err)
		}
		go b.serveConn(ctx, conn)
	}
}

func (b *Broker) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return
		}
		switch env.Type {
		case RPCReq:
			b.handleRPCReq(ctx, enc, env.RPCReq)
		case ChanReq:
			_ = enc.Encode(Envelope{Type: ChanRes, ChanRes: &ChanResMsg{PID: env.ChanReq.PID, Accepted: true}})
		case ForkReq:
			_ = enc.Encode(Envelope{Type: ForkRes, ForkRes: &ForkResMsg{PID: env.ForkReq.PID, Err: "fork not supported by this process"}})
		default:
			b.logger.Debug("broker.unhandled_message", "type", env.Type.String())
		}
	}
}

func (b *Broker) handleRPCReq(ctx context.Context, enc *gob.Encoder, req *RPCReqMsg) {
	args := make([]any.Value, 0, len(req.Args))
	for _, raw := range req.Args {
		v, err := any.Unmarshal(raw)
		if err != nil {
			b.reply(enc, req.CallID, errkind.BadMessage, nil)
			return
		}
		args = append(args, v)
	}

	result, err := b.Invoke(ctx, req.Handle, req.MethodIndex, args)
	if err != nil {
		b.reply(enc, req.CallID, errkind.KindOf(err), nil)
		return
	}
	encoded, err := any.Marshal(result)
	if err != nil {
		b.reply(enc, req.CallID, errkind.BadMessage, nil)
		return
	}
	b.reply(enc, req.CallID, errkind.OK, encoded)
}

func (b *Broker) reply(enc *gob.Encoder, callID string, status errkind.Kind, ret []byte) {
	_ = enc.Encode(Envelope{
		Type: RPCRes,
		RPCRes: &RPCResMsg{
			CallID: callID,
			Status: int32(status),
			Return: ret,
		},
	})
}

// Call sends an RPC_REQ over conn and waits for the matching RPC_RES. It
// is the client half used to reach a sibling process's broker over an
// already-connected control channel.
func Call(conn net.Conn, pid uint32, handle int32, methodSelector string, methodIndex int, args []any.Value) (any.Value, error) {
	enc := gob.NewEncoder(conn)
	dec := gob.NewDecoder(conn)

	encodedArgs := make([][]byte, 0, len(args))
	for _, v := range args {
		raw, err := any.Marshal(v)
		if err != nil {
			return any.Value{}, err
		}
		encodedArgs = append(encodedArgs, raw)
	}

	callID := NewCallID()
	req := Envelope{Type: RPCReq, RPCReq: &RPCReqMsg{
		CallID:         callID,
		PID:            pid,
		Handle:         handle,
		MethodSelector: methodSelector,
		MethodIndex:    methodIndex,
		Args:           encodedArgs,
	}}
	if err := enc.Encode(req); err != nil {
		return any.Value{}, errkind.New(errkind.ConnectionReset, err)
	}

	var resEnv Envelope
	if err := dec.Decode(&resEnv); err != nil {
		return any.Value{}, errkind.New(errkind.ConnectionReset, err)
	}
	if resEnv.Type != RPCRes || resEnv.RPCRes == nil {
		return any.Value{}, errkind.New(errkind.BadMessage, errUnexpectedMessage{got: resEnv.Type})
	}
	res := resEnv.RPCRes
	if errkind.Kind(res.Status) != errkind.OK {
		return any.Value{}, errkind.New(errkind.Kind(res.Status), errRemoteFailure{selector: methodSelector})
	}
	return any.Unmarshal(res.Return)
}

type errHandleNotFound struct{ handle int32 }

func (e errHandleNotFound) Error() string { return "objruntime: handle not found" }

type errNotDispatcher struct{}

func (errNotDispatcher) Error() string { return "objruntime: object does not support dispatch" }

type errUnexpectedMessage struct{ got MessageType }

func (e errUnexpectedMessage) Error() string { return "objruntime: unexpected message type " + e.got.String() }

type errRemoteFailure struct{ selector string }

func (e errRemoteFailure) Error() string { return "objruntime: remote call failed: " + e.selector }
