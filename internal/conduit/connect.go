// SPDX-License-Identifier: GPL-3.0-or-later

package conduit

// ConnectAA wires x's A side to y's A side (spec §4.4, connect_aa).
func ConnectAA(x, y Node) {
	x.SetNeighbor(SideA, y)
	y.SetNeighbor(SideA, x)
}

// ConnectBB wires x's B side to y's B side (spec §4.4, connect_bb).
func ConnectBB(x, y Node) {
	x.SetNeighbor(SideB, y)
	y.SetNeighbor(SideB, x)
}

// ConnectAB wires x's A side to y's B side. When y is a [*Mux],
// connect_ab additionally installs x into y's routing table under key
// (spec §4.4: "connect_ab/connect_ba through a Mux require a key, which
// is installed into the Mux's routing table").
func ConnectAB(x, y Node, key string) {
	x.SetNeighbor(SideA, y)
	y.SetNeighbor(SideB, x)
	if mux, ok := y.(*Mux); ok {
		mux.Register(key, x)
	}
}
