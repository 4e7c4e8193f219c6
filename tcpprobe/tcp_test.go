package tcpprobe

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/routeprobe"
)

func TestNewDropsInvalidConfiguredAddresses(t *testing.T) {
	var s Spec
	raw := json.RawMessage(`{"ports": [443], "addrs": {"IPv4": {"allow": ["1.1.1.1", "not-an-ip"], "block": ["9.9.9.9"]}}, "timeout": 0.05}`)
	results := probe.Results{
		"Route": routeprobe.Tree{
			"IPv4": {"TCP": true, "UDP": false},
			"IPv6": {"TCP": false, "UDP": false},
		},
	}

	inst, ok, err := s.New(raw, results)
	if err != nil || !ok {
		t.Fatalf("New() = ok=%v err=%v, want ok=true err=nil", ok, err)
	}
	g := inst.(*Group)
	allow := g.cfg.Addrs["IPv4"].Allow
	if len(allow) != 1 || allow[0] != "1.1.1.1" {
		t.Errorf("Allow = %v, want [1.1.1.1] after dropping the invalid literal", allow)
	}
}

func TestSpecTagAndPrereqs(t *testing.T) {
	var s Spec
	if s.Tag() != "TCP" {
		t.Errorf("Tag() = %q, want TCP", s.Tag())
	}
	if got := s.Prereqs(); len(got) != 1 || got[0] != "Route" {
		t.Errorf("Prereqs() = %v, want [Route]", got)
	}
}

func TestCheckSkipNoRoutableTCP(t *testing.T) {
	g := &Group{tree: defaultTree()}
	results := probe.Results{
		"Route": routeprobe.Tree{
			"IPv4": {"TCP": false, "UDP": true},
			"IPv6": {"TCP": false, "UDP": false},
		},
	}
	if got := g.checkSkip(results); got != "no routable TCP networks" {
		t.Errorf("checkSkip = %q, want skip", got)
	}
}

func TestCheckSkipSurvivesOneFamily(t *testing.T) {
	g := &Group{tree: defaultTree()}
	results := probe.Results{
		"Route": routeprobe.Tree{
			"IPv4": {"TCP": true, "UDP": false},
			"IPv6": {"TCP": false, "UDP": false},
		},
	}
	if got := g.checkSkip(results); got != "" {
		t.Errorf("checkSkip = %q, want no skip", got)
	}
	if _, ok := g.tree["IPv4"].(FamilyResults); !ok {
		t.Error("expected IPv4 to become a FamilyResults map")
	}
}

func TestLogResultsDistinguishesTimeoutFromError(t *testing.T) {
	g := &Group{
		cfg: Config{
			Ports: []int{443},
			Addrs: map[string]AddrSet{
				"IPv4": {Allow: []string{"1.1.1.1"}, Block: []string{"1.2.3.4"}},
			},
		},
		tree: Tree{
			"IPv4": FamilyResults{
				443: PortResults{
					"1.1.1.1": StateConnected,
					"1.2.3.4": StateError,
				},
			},
			"IPv6": false,
		},
	}

	out := g.logResults()
	if !containsSub(out, "Blocked TCP:443 handshake errors: 1/1 errors") {
		t.Errorf("expected an error finding, got: %s", out)
	}
	if containsSub(out, "timeouts") {
		t.Errorf("did not expect a timeout finding, got: %s", out)
	}
}

// TestSetStateSerializesConcurrentWrites exercises the path every
// allow/block probe goroutine on one port takes: many goroutines
// writing distinct keys of the one PortResults map this port shares.
// Run with -race to confirm the lock actually serializes them.
func TestSetStateSerializesConcurrentWrites(t *testing.T) {
	g := &Group{}
	slot := PortResults{}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("10.0.0.%d", i)
		go func(addr string) {
			defer wg.Done()
			g.setState(slot, addr, StateTimeout)
			g.setState(slot, addr, StateConnected)
		}(addr)
	}
	wg.Wait()

	if len(slot) != n {
		t.Fatalf("slot has %d entries, want %d", len(slot), n)
	}
	for addr, state := range slot {
		if state != StateConnected {
			t.Errorf("slot[%s] = %q, want StateConnected", addr, state)
		}
	}
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
