package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/wallpunch/wizard/probe"
)

type fakeSpec struct {
	tag     string
	prereqs []string
}

func (f fakeSpec) Tag() string       { return f.tag }
func (f fakeSpec) Prereqs() []string { return f.prereqs }
func (f fakeSpec) New(raw json.RawMessage, results probe.Results) (probe.Instance, bool, error) {
	return nil, false, nil
}

func TestSelectNextPicksReadyGroupInRegistrationOrder(t *testing.T) {
	pending := []probe.Spec{
		fakeSpec{tag: "B", prereqs: []string{"A"}},
		fakeSpec{tag: "A"},
		fakeSpec{tag: "C"},
	}
	done := map[string]bool{}

	idx := selectNext(pending, done)
	if pending[idx].Tag() != "A" {
		t.Fatalf("expected A to be selectable first (B needs A), got %s", pending[idx].Tag())
	}
}

func TestSelectNextStallsOnCycle(t *testing.T) {
	pending := []probe.Spec{
		fakeSpec{tag: "X", prereqs: []string{"Y"}},
		fakeSpec{tag: "Y", prereqs: []string{"X"}},
	}
	if idx := selectNext(pending, map[string]bool{}); idx != -1 {
		t.Errorf("expected no selectable group in a prerequisite cycle, got index %d", idx)
	}
}

func TestSelectNextStallsOnMissingPrereq(t *testing.T) {
	pending := []probe.Spec{
		fakeSpec{tag: "Z", prereqs: []string{"NeverRegistered"}},
	}
	if idx := selectNext(pending, map[string]bool{}); idx != -1 {
		t.Errorf("expected no selectable group when a prereq is never registered, got index %d", idx)
	}
}

func TestJoinTags(t *testing.T) {
	if got := joinTags(nil); got != "(none)" {
		t.Errorf("joinTags(nil) = %q, want (none)", got)
	}
	if got := joinTags([]string{"Route", "DNS"}); got != "Route DNS" {
		t.Errorf("joinTags = %q, want %q", got, "Route DNS")
	}
}
