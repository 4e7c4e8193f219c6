// Package tcpprobe implements the TCP test group: attempt TCP
// handshakes on each configured port against known-allowed and
// known-blocked IPs, distinguishing a silent timeout (commonly a
// middlebox dropping the SYN/ACK) from an explicit connection error
// (commonly an RST). Depends on Route.
package tcpprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/routeprobe"
	"github.com/wallpunch/wizard/validation"
)

const tag = "TCP"

var families = []string{"IPv4", "IPv6"}

// Slot states. The empty string means "connected"; "timeout" and
// "error" are the two failure sentinels.
const (
	StateConnected = ""
	StateTimeout   = "timeout"
	StateError     = "error"
)

// AddrSet is one family's configured allow/block IP literals.
type AddrSet struct {
	Allow []string `json:"allow"`
	Block []string `json:"block"`
}

// Config is the TCP group's configuration object.
type Config struct {
	Ports   []int              `json:"ports"`
	Addrs   map[string]AddrSet `json:"addrs"`
	Timeout float64            `json:"timeout"`
}

// PortResults maps destination IP to its slot state for one port.
type PortResults map[string]string

// FamilyResults maps port to its PortResults.
type FamilyResults map[int]PortResults

// Tree is the TCP group's result tree: family -> false (not routable)
// or FamilyResults.
type Tree map[string]any

func defaultTree() Tree {
	return Tree{"IPv4": false, "IPv6": false}
}

// Spec is this group's registry entry.
type Spec struct{}

func (Spec) Tag() string       { return tag }
func (Spec) Prereqs() []string { return []string{"Route"} }

func (Spec) New(raw json.RawMessage, results probe.Results) (probe.Instance, bool, error) {
	if raw == nil {
		return nil, false, nil
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, true, fmt.Errorf("%s config: %w", tag, err)
	}
	if cfg.Addrs == nil {
		cfg.Addrs = map[string]AddrSet{}
	}
	for _, family := range families {
		set := cfg.Addrs[family]
		var warnings []string
		set.Allow, warnings = validation.ValidateIPs(family, set.Allow)
		for _, w := range warnings {
			fmt.Printf("%s config: %s\n", tag, w)
		}
		set.Block, warnings = validation.ValidateIPs(family, set.Block)
		for _, w := range warnings {
			fmt.Printf("%s config: %s\n", tag, w)
		}
		cfg.Addrs[family] = set
	}

	g := &Group{
		cfg:  cfg,
		base: probe.NewBase(tag),
		tree: defaultTree(),
	}
	results[tag] = g.tree
	g.skipReason = g.checkSkip(results)
	return g, true, nil
}

// Group is the TCP test group instance.
type Group struct {
	cfg        Config
	base       *probe.Base
	tree       Tree
	skipReason string

	mu sync.Mutex // guards writes into each port's shared PortResults map
}

func (g *Group) SkipReason() string { return g.skipReason }

func (g *Group) checkSkip(results probe.Results) string {
	routeAny, ok := results.Get("Route")
	if !ok {
		return "no routable TCP networks"
	}
	routeTree, ok := routeAny.(routeprobe.Tree)
	if !ok {
		return "no routable TCP networks"
	}

	skip := true
	for _, family := range families {
		if routeTree[family]["TCP"] {
			g.tree[family] = FamilyResults{}
			skip = false
		}
	}
	if skip {
		return "no routable TCP networks"
	}
	return ""
}

func (g *Group) Run() (float64, string) {
	g.startTest()
	elapsed := g.base.Join()
	return probe.Elapsed(elapsed), g.logResults()
}

func (g *Group) startTest() {
	timeout := probe.ScaleTimeout(g.cfg.Timeout)
	for _, family := range families {
		famResults, ok := g.tree[family].(FamilyResults)
		if !ok {
			continue // not routable
		}
		addrs := g.cfg.Addrs[family]
		for _, port := range g.cfg.Ports {
			portResults := PortResults{}
			famResults[port] = portResults

			for _, addr := range addrs.Allow {
				g.spawn(family, port, addr, "allow", portResults, timeout)
			}
			for _, addr := range addrs.Block {
				g.spawn(family, port, addr, "block", portResults, timeout)
			}
		}
	}
}

func (g *Group) spawn(family string, port int, addr, role string, slot PortResults, timeout time.Duration) {
	g.setState(slot, addr, StateTimeout) // default-failed at spawn time
	logTag := fmt.Sprintf("%s, %s:%d", role, addr, port)
	g.base.StartProbe(func(ctx context.Context, log probe.Logger) {
		g.tcpProbe(ctx, log, family, port, addr, slot)
	}, logTag, timeout)
}

// setState writes one (addr, state) pair into slot. slot is one port's
// PortResults, shared by every allow/block probe goroutine on that
// port; a bare concurrent map write panics the whole process, so every
// write (including the spawn-time default) goes through this lock.
func (g *Group) setState(slot PortResults, addr, state string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot[addr] = state
}

func network(family string) string {
	if family == "IPv6" {
		return "tcp6"
	}
	return "tcp4"
}

func (g *Group) tcpProbe(ctx context.Context, log probe.Logger, family string, port int, addr string, slot PortResults) {
	dst := net.JoinHostPort(addr, fmt.Sprintf("%d", port))
	log(fmt.Sprintf("Connecting socket to %s", dst))

	var d net.Dialer
	conn, err := d.DialContext(ctx, network(family), dst)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log(fmt.Sprintf("Failed with error: %v", err))
		g.setState(slot, addr, StateError)
		return
	}
	conn.Close()

	if ctx.Err() != nil {
		return
	}
	log("Connected!")
	g.setState(slot, addr, StateConnected)
}

func (g *Group) logResults() string {
	var b strings.Builder
	for _, family := range families {
		famResults, ok := g.tree[family].(FamilyResults)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: ", family)

		addrs := g.cfg.Addrs[family]
		var censors []string
		for _, port := range g.cfg.Ports {
			portResults := famResults[port]
			dstTag := fmt.Sprintf("TCP:%d", port)

			allowOK := 0
			for _, addr := range addrs.Allow {
				if portResults[addr] == StateConnected {
					allowOK++
				}
			}
			allowTotal := len(addrs.Allow)

			var icon string
			switch {
			case allowOK == allowTotal:
				icon = format.Icon(probe.Colors, format.Success, "")
			case allowOK == 0:
				icon = format.Icon(probe.Colors, format.Fail, "")
			default:
				icon = format.Icon(probe.Colors, format.Inconclusive, fmt.Sprintf("connected %d/%d", allowOK, allowTotal))
			}
			fmt.Fprintf(&b, "%s %s ", dstTag, icon)

			blockTotal := len(addrs.Block)
			timeoutCnt, errorCnt := 0, 0
			for _, addr := range addrs.Block {
				switch portResults[addr] {
				case StateTimeout:
					timeoutCnt++
				case StateError:
					errorCnt++
				}
			}
			if timeoutCnt > 0 {
				censors = append(censors, fmt.Sprintf("Blocked %s handshake timeouts: %d/%d timeouts", dstTag, timeoutCnt, blockTotal))
			}
			if errorCnt > 0 {
				censors = append(censors, fmt.Sprintf("Blocked %s handshake errors: %d/%d errors", dstTag, errorCnt, blockTotal))
			}
		}
		b.WriteString("\n")
		b.WriteString(format.Censors(probe.Colors, censors))
	}
	return b.String()
}
