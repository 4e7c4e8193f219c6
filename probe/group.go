package probe

import "encoding/json"

// Results is the global, cross-group result registry: keyed by test
// tag, each value is that group's own result tree, populated by the
// group's own probes and read only by later groups' skip checks. No
// locking: the scheduler runs groups strictly serially, so a group's
// tree is frozen by the time any later group reads it.
type Results map[string]any

// Get is a convenience accessor for a prior group's result tree.
func (r Results) Get(tag string) (any, bool) {
	v, ok := r[tag]
	return v, ok
}

// Instance is one constructed, ready-to-run test group: its config has
// been parsed, its default (all-failed) results are already in the
// global registry, and its skip decision has already been made.
type Instance interface {
	// SkipReason is empty if the group should run; otherwise it names
	// why, and the group's default results stand as its final results.
	SkipReason() string
	// Run executes the group (spawn probes, join, summarize) and
	// returns elapsed seconds (3 decimals) and the rendered summary.
	Run() (float64, string)
}

// Spec is a group's static, declarative metadata plus its constructor,
// the compile-time registry entry looked up by the scheduler instead of
// a dynamic directory scan. Each of routeprobe, dnsprobe, tcpprobe,
// tlsprobe implements exactly one Spec.
type Spec interface {
	// Tag identifies this group; its presence as a key in GlobalConfig
	// is what enables the group.
	Tag() string
	// Prereqs lists tags that must have completed (run or skipped)
	// before this group is eligible to run.
	Prereqs() []string
	// New parses raw (this group's slice of GlobalConfig, nil if the
	// tag was absent), seeds results[Tag()] with the group's default
	// tree, runs the skip check against results, and returns a ready
	// Instance. ok is false when raw is nil (group disabled).
	New(raw json.RawMessage, results Results) (inst Instance, ok bool, err error)
}
