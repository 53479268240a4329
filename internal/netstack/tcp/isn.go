// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import (
	"crypto/md5"
	"encoding/binary"
	"net/netip"
	"time"
)

// ISNGenerator produces initial sequence numbers per RFC 1948: a
// per-connection MD5 hash of a secret plus the connection's four-tuple,
// added to a counter that advances roughly every 4 microseconds,
// defeating both the old "increment by a constant" predictability and
// ISN-based connection hijacking.
type ISNGenerator struct {
	secret [16]byte
	now    func() time.Time
}

// NewISNGenerator creates an [*ISNGenerator] keyed by secret. now
// defaults to time.Now if nil.
func NewISNGenerator(secret [16]byte, now func() time.Time) *ISNGenerator {
	if now == nil {
		now = time.Now
	}
	return &ISNGenerator{secret: secret, now: now}
}

// Generate returns the ISN for a connection identified by the given
// four-tuple.
func (g *ISNGenerator) Generate(localAddr netip.Addr, localPort uint16, remoteAddr netip.Addr, remotePort uint16) uint32 {
	h := md5.New()
	la := localAddr.As4()
	ra := remoteAddr.As4()
	h.Write(la[:])
	h.Write(ra[:])
	var ports [4]byte
	binary.BigEndian.PutUint16(ports[0:2], localPort)
	binary.BigEndian.PutUint16(ports[2:4], remotePort)
	h.Write(ports[:])
	h.Write(g.secret[:])
	sum := h.Sum(nil)
	hashPart := binary.BigEndian.Uint32(sum[0:4])

	// RFC 793's ~4-microsecond timer tick, derived from wall-clock
	// nanoseconds; the 32-bit counter wraps every 2^32 ticks, about 4.77h.
	clock := uint32(g.now().UnixNano() / 4000)
	return hashPart + clock
}
