// SPDX-License-Identifier: GPL-3.0-or-later

//go:build !linux

package objruntime

import (
	"net"
	"os"
	"path/filepath"
)

// ListenControlChannel binds a filesystem UNIX socket under the OS
// temporary directory as a portable stand-in for the Linux
// abstract-namespace endpoint used by broker_linux.go. The socket file is
// removed before binding to recover from a previous unclean shutdown.
func ListenControlChannel(name string) (Listener, error) {
	path := filepath.Join(os.TempDir(), name+".sock")
	_ = os.Remove(path)
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return lis, nil
}
