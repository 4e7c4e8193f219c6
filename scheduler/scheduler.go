// Package scheduler runs the registered test groups in an order
// consistent with their declared prerequisites, printing per-group
// headers and summaries as it goes. Groups are looked up from a
// static, compile-time registry rather than discovered dynamically.
package scheduler

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/wallpunch/wizard/config"
	"github.com/wallpunch/wizard/dnsprobe"
	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/routeprobe"
	"github.com/wallpunch/wizard/tcpprobe"
	"github.com/wallpunch/wizard/tlsprobe"
)

// registry lists every known group in registration order. Order also
// serves as the tie-break among equally-eligible groups.
var registry = []probe.Spec{
	routeprobe.Spec{},
	dnsprobe.Spec{},
	tcpprobe.Spec{},
	tlsprobe.Spec{},
}

// ConfigError reports a scheduling failure that prevents any further
// progress: a prerequisite cycle or a prerequisite naming a group that
// doesn't exist. Distinct from a per-probe or per-group runtime error,
// this one aborts the whole run before any group executes.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("scheduler: %s", e.Reason) }

// Run executes every group named in cfg, in prerequisite order,
// writing headers, skip reasons, and summaries to w. It returns the
// wall-clock duration of the whole run, or a *ConfigError if the
// pending set stalls before the registry is exhausted.
func Run(w io.Writer, cfg config.GlobalConfig, colors *format.Colors) (time.Duration, error) {
	runID := uuid.NewString()
	probe.SetRunID(runID)

	start := time.Now()
	results := probe.Results{}

	pending := append([]probe.Spec(nil), registry...)
	done := map[string]bool{}

	var loaded []string
	for _, spec := range pending {
		if _, ok := cfg[spec.Tag()]; ok {
			loaded = append(loaded, spec.Tag())
		}
	}
	fmt.Fprintf(w, "Loaded %d tests: %s\n", len(loaded), joinTags(loaded))

	// Fix the whole run order first, so a stall aborts before any group runs.
	var order []probe.Spec
	for len(pending) > 0 {
		idx := selectNext(pending, done)
		if idx < 0 {
			return time.Since(start), &ConfigError{Reason: "no selectable group remains (prerequisite cycle or missing prerequisite)"}
		}
		order = append(order, pending[idx])
		done[pending[idx].Tag()] = true
		pending = append(pending[:idx], pending[idx+1:]...)
	}

	for _, spec := range order {
		tag := spec.Tag()
		raw := cfg[tag]
		inst, ok, err := spec.New(raw, results)
		if err != nil {
			return time.Since(start), fmt.Errorf("%s: %w", tag, err)
		}
		if !ok {
			continue
		}

		format.Header(w, colors, tag, false)
		if reason := inst.SkipReason(); reason != "" {
			fmt.Fprintf(w, "Skipped: %s\n", reason)
			continue
		}

		elapsed, summary := inst.Run()
		format.Header(w, colors, fmt.Sprintf("%s (%.3fs)", tag, elapsed), true)
		fmt.Fprint(w, summary)
	}

	total := time.Since(start)
	fmt.Fprintf(w, "All tests complete! (started %s)\n", humanize.Time(start))
	return total, nil
}

// selectNext picks the first pending group (in slice order, so
// registration order wins ties) whose prerequisites are all already
// done. Returns -1 if none qualifies.
func selectNext(pending []probe.Spec, done map[string]bool) int {
	for i, spec := range pending {
		ready := true
		for _, prereq := range spec.Prereqs() {
			if !done[prereq] {
				ready = false
				break
			}
		}
		if ready {
			return i
		}
	}
	return -1
}

func joinTags(tags []string) string {
	if len(tags) == 0 {
		return "(none)"
	}
	out := tags[0]
	for _, t := range tags[1:] {
		out += " " + t
	}
	return out
}
