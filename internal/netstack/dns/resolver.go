// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: pkg/dial/dnsoverudp.go, dnsovertcp.go, dnsovertls.go,
// dnsoverhttps.go and their Example_* tests (the Compose pipeline that
// dials, observes, and wraps a connection before calling Exchange).

// Package dns resolves IPv4 addresses for the TCP/IP stack's own
// outbound connections, reusing the dial package's DNS transports
// instead of reimplementing DNS-over-UDP/TCP/TLS/HTTPS (spec §4.5.4).
package dns

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/bassosimone/dnscodec"
	"github.com/miekg/dns"

	"github.com/esmicro/kernel/internal/errkind"
	"github.com/esmicro/kernel/pkg/dial"
)

// Exchanger is the common surface of [*dial.DNSOverUDPConn],
// [*dial.DNSOverTCPConn], [*dial.DNSOverTLSConn], and
// [*dial.DNSOverHTTPSConn]: one DNS query/response round trip over
// whichever transport the caller already dialed and wrapped.
type Exchanger interface {
	Exchange(ctx context.Context, query *dnscodec.Query) (*dnscodec.Response, error)
}

// Resolver resolves IPv4 addresses against a fixed upstream transport,
// one already-dialed [Exchanger] per resolution strategy (UDP primary,
// TCP/TLS/HTTPS fallback are the caller's composition choice, matching
// how pkg/dial leaves transport selection to the pipeline that builds
// the Exchanger rather than baking it into the resolver).
type Resolver struct {
	Exchanger Exchanger
	TimeNow   func() time.Time
}

// NewResolver creates a [*Resolver] bound to an already-constructed
// Exchanger (typically built via the same Compose pipeline shown in
// pkg/dial's Example_dnsOverUDP).
func NewResolver(exchanger Exchanger) *Resolver {
	return &Resolver{Exchanger: exchanger, TimeNow: time.Now}
}

// ResolveA resolves name's IPv4 addresses.
func (r *Resolver) ResolveA(ctx context.Context, name string) ([]netip.Addr, error) {
	query := dnscodec.NewQuery(name, dns.TypeA)
	resp, err := r.Exchanger.Exchange(ctx, query)
	if err != nil {
		return nil, errkind.New(errkind.HostUnreachable, err)
	}
	strs, err := resp.RecordsA()
	if err != nil {
		return nil, errkind.New(errkind.NotFound, err)
	}
	addrs := make([]netip.Addr, 0, len(strs))
	for _, s := range strs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, errkind.New(errkind.NotFound, errNoRecords{name: name})
	}
	return addrs, nil
}

// NewUpstreamUDP builds an [Exchanger] dialing server over UDP, reusing
// pkg/dial's own pipeline verbatim (Endpoint -> Connect -> ObserveConn
// -> CancelWatch -> wrap), rather than duplicating its dial/observe
// logic here.
func NewUpstreamUDP(ctx context.Context, cfg *dial.Config, logger *slog.Logger, server netip.AddrPort) (*dial.DNSOverUDPConn, error) {
	pipe := dial.Compose5(
		dial.NewEndpointFunc(server),
		dial.NewConnectFunc(cfg, "udp", logger),
		dial.NewObserveConnFunc(cfg, logger),
		dial.NewCancelWatchFunc(),
		dial.NewDNSOverUDPConnFunc(cfg, logger),
	)
	return pipe.Call(ctx, dial.Unit{})
}

type errNoRecords struct{ name string }

func (e errNoRecords) Error() string { return "dns: no A records for " + e.name }
