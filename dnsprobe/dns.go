// Package dnsprobe implements the DNS test group: resolve configured
// allow/block hostnames through the host resolver, plus a poison
// probe against a random subdomain of each blocked host. Depends on
// Route (no routable network means no resolver traffic either).
package dnsprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/idna"

	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/routeprobe"
	"github.com/wallpunch/wizard/validation"
)

const tag = "DNS"

var families = []string{"IPv4", "IPv6"}

const poisonPrefixCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// Config is the DNS group's configuration object.
type Config struct {
	Allow   []string `json:"allow"`
	Block   []string `json:"block"`
	Timeout float64  `json:"timeout"`
}

// Tree is the DNS group's result tree: family -> false (not routable)
// or map[hostname]resolved(0/1). logResults then replaces each map with
// true, or with false when no allow-host resolved.
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

	var warnings []string
	cfg.Allow, warnings = validation.ValidateDomains(cfg.Allow)
	for _, w := range warnings {
		fmt.Printf("%s config: %s\n", tag, w)
	}
	cfg.Block, warnings = validation.ValidateDomains(cfg.Block)
	for _, w := range warnings {
		fmt.Printf("%s config: %s\n", tag, w)
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

// Group is the DNS test group instance.
type Group struct {
	cfg        Config
	base       *probe.Base
	tree       Tree
	skipReason string
	poisonPfx  string

	mu sync.Mutex // guards writes into the per-family result maps in tree
}

func (g *Group) SkipReason() string { return g.skipReason }

// checkSkip leaves a family false if Route found no usable protocol
// for it, replaces it with an empty result map otherwise, and skips
// the whole group only when neither family survived.
func (g *Group) checkSkip(results probe.Results) string {
	routeAny, ok := results.Get("Route")
	if !ok {
		return "no routable networks"
	}
	routeTree, ok := routeAny.(routeprobe.Tree)
	if !ok {
		return "no routable networks"
	}

	skip := true
	for _, family := range families {
		if routeTree[family]["TCP"] || routeTree[family]["UDP"] {
			g.tree[family] = map[string]int{}
			skip = false
		}
	}
	if skip {
		return "no routable networks"
	}
	return ""
}

func (g *Group) Run() (float64, string) {
	g.startTest()
	elapsed := g.base.Join()
	return probe.Elapsed(elapsed), g.logResults()
}

func randomPoisonPrefix() string {
	n := 40 + rand.Intn(21) // uniform in [40,60]
	b := make([]byte, n)
	for i := range b {
		b[i] = poisonPrefixCharset[rand.Intn(len(poisonPrefixCharset))]
	}
	return string(b) + "."
}

func normalizeHost(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return ascii
}

func (g *Group) startTest() {
	g.poisonPfx = randomPoisonPrefix()
	fmt.Printf("Using POISON test prefix: %s\n", g.poisonPfx)

	timeout := probe.ScaleTimeout(g.cfg.Timeout)
	for _, family := range families {
		if _, ok := g.tree[family].(map[string]int); !ok {
			continue // not routable
		}
		for _, host := range g.cfg.Allow {
			g.startResolve(family, host, timeout)
		}
		for _, host := range g.cfg.Block {
			g.startResolve(family, host, timeout)
			g.startResolve(family, g.poisonPfx+host, timeout)
		}
	}
}

func (g *Group) startResolve(family, host string, timeout time.Duration) {
	logTag := fmt.Sprintf("%s, %s", family, host)
	g.base.StartProbe(func(ctx context.Context, log probe.Logger) {
		g.resolveProbe(ctx, log, family, host)
	}, logTag, timeout)
}

func (g *Group) resolveProbe(ctx context.Context, log probe.Logger, family, host string) {
	slot := g.tree[family].(map[string]int)
	g.setResolved(slot, host, 0) // default to failed

	network := "ip4"
	if family == "IPv6" {
		network = "ip6"
	}

	addrs, err := net.DefaultResolver.LookupIP(ctx, network, normalizeHost(host))
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log(fmt.Sprintf("Failed to resolve: %v", err))
		return
	}
	log(fmt.Sprintf("Got %d records", len(addrs)))
	g.setResolved(slot, host, 1)
}

// setResolved writes one (host, outcome) pair into slot. Every family's
// map is shared by every host's probe goroutine, so the write itself
// must be serialized — a bare concurrent map write panics the whole
// process, unlike a data race on a scalar.
func (g *Group) setResolved(slot map[string]int, host string, outcome int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot[host] = outcome
}

func (g *Group) logResults() string {
	var b strings.Builder
	for _, family := range families {
		slot, ok := g.tree[family].(map[string]int)
		if !ok {
			continue
		}
		g.tree[family] = true

		allowOK := 0
		for _, host := range g.cfg.Allow {
			allowOK += slot[host]
		}
		allowTotal := len(g.cfg.Allow)

		var icon string
		switch {
		case allowOK == allowTotal:
			icon = format.Icon(probe.Colors, format.Success, "")
		case allowOK == 0:
			icon = format.Icon(probe.Colors, format.Fail, "")
			g.tree[family] = false
		default:
			icon = format.Icon(probe.Colors, format.Inconclusive, fmt.Sprintf("resolved %d/%d", allowOK, allowTotal))
		}
		fmt.Fprintf(&b, "%s: DNS %s\n", family, icon)

		var censors []string
		blockOK := 0
		for _, host := range g.cfg.Block {
			blockOK += slot[host]
		}
		blockTotal := len(g.cfg.Block)
		if blockOK < blockTotal {
			censors = append(censors, fmt.Sprintf("DNS blocking: %d/%d blocked", blockTotal-blockOK, blockTotal))
		}

		poisonOK := 0
		for _, host := range g.cfg.Block {
			poisonOK += slot[g.poisonPfx+host]
		}
		if poisonOK > 0 {
			censors = append(censors, fmt.Sprintf("DNS poisoning: %d/%d poisoned", poisonOK, blockTotal))
		}
		b.WriteString(format.Censors(probe.Colors, censors))
	}
	return b.String()
}
