// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: errclass/unix.go, errclass/windows.go (bassosimone/nop) — the
// same build-tag split is used here to classify OS errors into the kernel's
// own error-kind taxonomy instead of into free-form strings.

// Package errkind classifies errors into the fixed vocabulary of error kinds
// used at every core component boundary (§7 of the design).
//
// Every method in the object runtime, concurrency kernel, conduit framework,
// and network stack returns one of these kinds instead of an ad-hoc error
// value, so that the broker can carry failures across a process boundary as
// a small integer code (see objruntime.Broker).
package errkind

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Kind is one of the error kinds from §7.
type Kind int

const (
	OK Kind = iota
	NotFound
	AlreadyExists
	InvalidArg
	PermissionDenied
	OutOfMemory
	WouldBlock
	TimedOut
	InProgress
	NotConnected
	ConnectionReset
	ConnectionRefused
	HostUnreachable
	NetUnreachable
	NetDown
	AddrInUse
	BadMessage
	UnsupportedOperation
	Deadlock
	Unknown
)

var names = map[Kind]string{
	OK:                   "OK",
	NotFound:             "NOT_FOUND",
	AlreadyExists:        "ALREADY_EXISTS",
	InvalidArg:           "INVALID_ARG",
	PermissionDenied:     "PERMISSION_DENIED",
	OutOfMemory:          "OUT_OF_MEMORY",
	WouldBlock:           "WOULD_BLOCK",
	TimedOut:             "TIMED_OUT",
	InProgress:           "IN_PROGRESS",
	NotConnected:         "NOT_CONNECTED",
	ConnectionReset:      "CONNECTION_RESET",
	ConnectionRefused:    "CONNECTION_REFUSED",
	HostUnreachable:      "HOST_UNREACHABLE",
	NetUnreachable:       "NET_UNREACHABLE",
	NetDown:              "NET_DOWN",
	AddrInUse:            "ADDR_IN_USE",
	BadMessage:           "BAD_MESSAGE",
	UnsupportedOperation: "UNSUPPORTED_OPERATION",
	Deadlock:             "DEADLOCK",
	Unknown:              "UNKNOWN",
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// Error is a [Kind] wrapped as an error, the type every component boundary
// method returns instead of an ad-hoc error value.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause under the given kind. Returns nil if cause is nil.
func New(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// KindOf returns the [Kind] of err, classifying it if it is not already
// an [*Error]. Returns [OK] for a nil error.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Classify maps a raw Go error (stdlib net/os/context errors, or a raw
// syscall.Errno) to its [Kind]. This is the same responsibility the
// teacher's ErrClassifier interface has, generalized from a free-form
// label to our closed taxonomy so it can cross a process boundary as a
// single integer.
func Classify(err error) Kind {
	if err == nil {
		return OK
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut
	case errors.Is(err, context.Canceled):
		return TimedOut
	case errors.Is(err, os.ErrDeadlineExceeded):
		return TimedOut
	case errors.Is(err, net.ErrClosed):
		return NotConnected
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ConnectionReset
	case errors.Is(err, os.ErrNotExist):
		return NotFound
	case errors.Is(err, os.ErrExist):
		return AlreadyExists
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if k, ok := errnoKind(errno); ok {
			return k
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut
	}

	return Unknown
}

func errnoKind(errno syscall.Errno) (Kind, bool) {
	switch errno {
	case errEADDRNOTAVAIL:
		return HostUnreachable, true
	case errEADDRINUSE:
		return AddrInUse, true
	case errECONNABORTED:
		return ConnectionReset, true
	case errECONNREFUSED:
		return ConnectionRefused, true
	case errECONNRESET:
		return ConnectionReset, true
	case errEHOSTUNREACH:
		return HostUnreachable, true
	case errEINVAL:
		return InvalidArg, true
	case errEINTR:
		return InProgress, true
	case errENETDOWN:
		return NetDown, true
	case errENETUNREACH:
		return NetUnreachable, true
	case errENOBUFS:
		return OutOfMemory, true
	case errENOTCONN:
		return NotConnected, true
	case errEPROTONOSUPPORT:
		return UnsupportedOperation, true
	case errETIMEDOUT:
		return TimedOut, true
	}
	return Unknown, false
}
