// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/spanid.go.

package objruntime

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewCallID returns a UUIDv7 correlating one RPC_REQ/RPC_RES pair across a
// broker channel, so both ends' logs can be joined on a single field.
//
// This function panics if the system random number generator fails, which
// should only happen under extraordinary circumstances.
func NewCallID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
