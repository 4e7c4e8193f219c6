// Package routeprobe implements the Route test group: for each
// {IPv4,IPv6}×{TCP,UDP} combination, can the device create a socket
// and route a connect/datagram out to a configured destination. It is
// the scheduler's first group — every other group treats its results
// as the reachability baseline.
package routeprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/validation"
)

const tag = "Route"

var families = []string{"IPv4", "IPv6"}
var protocols = []string{"TCP", "UDP"}

// sendTimeout is the socket-level send/connect timeout: short enough
// that a timeout (vs. an immediate refusal) is the signal a route
// exists but nothing answered it.
const sendTimeout = 1 * time.Millisecond

// Config is the Route group's configuration object.
type Config struct {
	Addrs   map[string]string `json:"addrs"`
	Port    int               `json:"port"`
	Timeout float64           `json:"timeout"`
}

// Tree is the Route group's result tree: family -> protocol -> reachable.
type Tree map[string]map[string]bool

func defaultTree() Tree {
	return Tree{
		"IPv4": {"TCP": false, "UDP": false},
		"IPv6": {"TCP": false, "UDP": false},
	}
}

// Spec is this group's registry entry.
type Spec struct{}

func (Spec) Tag() string       { return tag }
func (Spec) Prereqs() []string { return nil }

func (Spec) New(raw json.RawMessage, results probe.Results) (probe.Instance, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, true, fmt.Errorf("%s config: %w", tag, err)
	}
	for _, family := range families {
		if addr, ok := cfg.Addrs[family]; ok {
			if _, warnings := validation.ValidateIPs(family, []string{addr}); len(warnings) > 0 {
				for _, w := range warnings {
					fmt.Printf("%s config: %s\n", tag, w)
				}
				delete(cfg.Addrs, family)
			}
		}
	}

	g := &Group{
		cfg:  cfg,
		base: probe.NewBase(tag),
		tree: defaultTree(),
	}
	results[tag] = g.tree
	return g, true, nil
}

// Group is the Route test group instance.
type Group struct {
	cfg  Config
	base *probe.Base
	tree Tree

	mu sync.Mutex // guards writes into each family's shared protocol->bool map
}

// SkipReason: Route has no prerequisites and never skips.
func (g *Group) SkipReason() string { return "" }

func (g *Group) Run() (float64, string) {
	g.startTest()
	elapsed := g.base.Join()
	return probe.Elapsed(elapsed), g.logResults()
}

func (g *Group) startTest() {
	for _, family := range families {
		for _, protocol := range protocols {
			family, protocol := family, protocol
			addr := g.cfg.Addrs[family]
			logTag := fmt.Sprintf("%s, %s", family, protocol)
			g.base.StartProbe(func(ctx context.Context, log probe.Logger) {
				g.routeProbe(ctx, log, family, protocol, addr)
			}, logTag, probe.ScaleTimeout(g.cfg.Timeout))
		}
	}
}

func network(family, protocol string) string {
	suffix := "4"
	if family == "IPv6" {
		suffix = "6"
	}
	return strings.ToLower(protocol) + suffix
}

// udpProbePayload is a literal DNS A-query for google.com, built with
// miekg/dns rather than a hand-copied byte blob — it only needs to be
// a well-formed, opaque probe payload; any destination behavior,
// ICMP-unreachable or silent drop, is handled identically.
func udpProbePayload() []byte {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("google.com"), dns.TypeA)
	m.Id = 0x1234
	b, err := m.Pack()
	if err != nil {
		// Packing a static, well-formed question never fails; a
		// failure here means the dns library itself is broken.
		panic(fmt.Sprintf("failed to pack route probe payload: %v", err))
	}
	return b
}

func (g *Group) routeProbe(ctx context.Context, log probe.Logger, family, protocol, addr string) {
	dst := net.JoinHostPort(addr, fmt.Sprintf("%d", g.cfg.Port))
	log(fmt.Sprintf("Creating socket for %s", dst))

	dialer := &net.Dialer{Timeout: sendTimeout}
	netw := network(family, protocol)

	var netErr net.Error
	switch protocol {
	case "TCP":
		log(fmt.Sprintf("Connecting socket to %s", dst))
		conn, err := dialer.DialContext(ctx, netw, dst)
		if err != nil {
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return
				}
				log("Connect timed out; treating as routable")
				g.markReachable(family, protocol)
				return
			}
			if ctx.Err() == nil {
				log(fmt.Sprintf("Failed with error: %v", err))
			}
			return
		}
		conn.Close()
	case "UDP":
		log(fmt.Sprintf("Sending datagram to %s", dst))
		conn, err := dialer.DialContext(ctx, netw, dst)
		if err != nil {
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return
				}
				log("Dial timed out; treating as routable")
				g.markReachable(family, protocol)
				return
			}
			if ctx.Err() == nil {
				log(fmt.Sprintf("Failed with error: %v", err))
			}
			return
		}
		defer conn.Close()
		conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		_, err = conn.Write(udpProbePayload())
		if err != nil {
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return
				}
				log("Send timed out; treating as routable")
				g.markReachable(family, protocol)
				return
			}
			if ctx.Err() == nil {
				log(fmt.Sprintf("Failed with error: %v", err))
			}
			return
		}
	}

	if ctx.Err() != nil {
		return
	}
	log("Routing successful!")
	g.markReachable(family, protocol)
}

// markReachable is called from both the TCP and UDP probe goroutines
// for the same family, which share one protocol->bool map; a bare
// concurrent map write panics the whole process, so the write is
// serialized.
func (g *Group) markReachable(family, protocol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tree[family][protocol] = true
}

func (g *Group) logResults() string {
	var b strings.Builder
	for _, family := range families {
		fmt.Fprintf(&b, "%s: ", family)
		for _, protocol := range protocols {
			var icon string
			if g.tree[family][protocol] {
				icon = format.Icon(probe.Colors, format.Success, "")
			} else {
				icon = format.Icon(probe.Colors, format.Fail, "")
			}
			fmt.Fprintf(&b, "%s %s ", protocol, icon)
		}
		b.WriteString("\n")
	}
	return b.String()
}
