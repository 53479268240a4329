// SPDX-License-Identifier: GPL-3.0-or-later

//go:build linux

package objruntime

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ListenControlChannel binds a Linux abstract-namespace SOCK_SEQPACKET
// listener named name (spec §6: "a UNIX-domain-socket–style
// abstract-namespace endpoint named es-socket-<pid>"). Abstract-namespace
// addresses have no filesystem presence and are reclaimed automatically
// when the last reference closes, unlike a path-based UNIX socket.
//
// net.Listen cannot address the abstract namespace (its "unix" network
// always treats the address as a filesystem path unless it starts with a
// NUL byte, which Go's net package does not let callers supply through
// the high-level API for SOCK_SEQPACKET) so this binds directly via
// golang.org/x/sys/unix.
func ListenControlChannel(name string) (Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, err
	}
	addr := &unix.SockaddrUnix{Name: "\x00" + name}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, err
	}
	f := os.NewFile(uintptr(fd), name)
	lis, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	return lis, nil
}
