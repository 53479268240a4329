// SPDX-License-Identifier: GPL-3.0-or-later

// Command esd is the kernel process: it brings up the object broker's
// control channel, the interface store, and either the ARP address claim
// (with -address) or DHCP lease acquisition (without it), driving their
// timers through the concurrency kernel's scheduler (spec SPEC_FULL.md
// §1-§8). The IP/TCP/UDP/ICMP packages are not started by this command.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/ifstore"
	"github.com/esmicro/kernel/internal/netstack/arp"
	"github.com/esmicro/kernel/internal/netstack/dhcp"
	"github.com/esmicro/kernel/internal/objruntime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "esd:", err)
		os.Exit(1)
	}
}

// config holds the flags/environment this process reads at startup,
// following the teacher's minimal-dependency posture: the stdlib flag
// package, no cobra/viper (SPEC_FULL.md §2, Configuration).
type config struct {
	socketName string
	nic        string
	staticAddr string
	useDHCP    bool
	dnsServers string
}

func parseConfig() *config {
	cfg := &config{}
	flag.StringVar(&cfg.socketName, "broker-socket", envOr("ESD_BROKER_SOCKET", ""), "control-channel endpoint name (default es-socket-<pid>)")
	flag.StringVar(&cfg.nic, "nic", envOr("ESD_NIC", "eth0"), "network interface to bind")
	flag.StringVar(&cfg.staticAddr, "address", envOr("ESD_ADDRESS", ""), "static IPv4 address/prefix (e.g. 192.168.1.10/24); empty enables DHCP")
	flag.StringVar(&cfg.dnsServers, "dns-servers", envOr("ESD_DNS_SERVERS", "8.8.8.8,8.8.4.4"), "comma-separated upstream DNS server addresses")
	flag.Parse()
	cfg.useDHCP = cfg.staticAddr == ""
	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func run() error {
	cfg := parseConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "esd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := conc.NewScheduler(conc.NewConfig())
	go sched.Run(ctx)

	ifs := ifstore.New(ifstore.NewConfig())
	captable := objruntime.NewCapabilityTable(1024)
	broker := objruntime.New(uint32(os.Getpid()), ifs, captable, objruntime.NewConfig())

	socketName := cfg.socketName
	if socketName == "" {
		socketName = broker.SocketName()
	}
	lis, err := objruntime.ListenControlChannel(socketName)
	if err != nil {
		return fmt.Errorf("listen control channel: %w", err)
	}
	defer lis.Close()
	go func() {
		if err := broker.Serve(ctx, lis); err != nil {
			logger.Error("broker.serve_failed", "error", err.Error())
		}
	}()
	logger.Info("broker.listening", "socket", socketName)

	if cfg.useDHCP {
		logger.Info("netstack.dhcp_enabled", "nic", cfg.nic)
		client := dhcp.NewClient(macFor(cfg.nic), &dropDHCPTransport{}, sched, nil, func(leased dhcp.InternetConfig) {
			logger.Info("dhcp.bound", "address", leased.Address.String())
		})
		client.Start()
	} else {
		addr, err := parseStaticAddress(cfg.staticAddr)
		if err != nil {
			return fmt.Errorf("parse -address: %w", err)
		}
		logger.Info("netstack.static_address", "nic", cfg.nic, "address", addr.String())
		claimant := arp.NewClaimant(macFor(cfg.nic), addr, &dropARPTransport{}, sched, nil, func(state arp.State, candidate netip.Addr) {
			logger.Info("arp.state_change", "state", state.String(), "address", candidate.String())
		})
		claimant.Start()
	}

	servers := strings.Split(cfg.dnsServers, ",")
	logger.Info("netstack.upstream_dns", "servers", servers)

	<-ctx.Done()
	logger.Info("esd.shutting_down")
	return nil
}

func parseStaticAddress(spec string) (netip.Addr, error) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil {
		addr, err2 := netip.ParseAddr(spec)
		if err2 != nil {
			return netip.Addr{}, err
		}
		return addr, nil
	}
	return prefix.Addr(), nil
}

// macFor derives a deterministic locally-administered MAC from an
// interface name. A production deployment would read the NIC's real
// hardware address; this process has no NIC driver of its own, only the
// protocol stack above one, so it fabricates a stable identity instead.
func macFor(nic string) [6]byte {
	var mac [6]byte
	mac[0] = 0x02 // locally administered, unicast
	sum := 0
	for i, r := range nic {
		sum += int(r) << (8 * (i % 4))
	}
	mac[1] = byte(sum)
	mac[2] = byte(sum >> 8)
	mac[3] = byte(sum >> 16)
	mac[4] = byte(sum >> 24)
	mac[5] = byte(len(nic))
	return mac
}

// dropARPTransport and dropDHCPTransport are placeholder link-layer
// transports used until this process is wired to a real NIC driver (raw
// socket / TAP device); they drop every frame, which is sufficient to
// exercise the ARP/DHCP state machines' timer-driven behavior without a
// kernel network namespace available in this environment.
type dropARPTransport struct{}

func (dropARPTransport) Send(*arp.Packet) error { return nil }

type dropDHCPTransport struct{}

func (dropDHCPTransport) Send(*dhcp.Message) error { return nil }
