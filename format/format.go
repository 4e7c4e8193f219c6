// Package format renders probe results as colored terminal text: section
// headers, ✔/✖/? status icons, and censorship-finding lines.
package format

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// DisplayWidth is the column width section headers are centered in.
const DisplayWidth = 50

// Colors groups the palette used across the probe groups. A single
// instance is shared so -no-color and TTY auto-detection apply
// uniformly to every group's output.
type Colors struct {
	enabled bool
}

// NewColors builds a palette. Color is enabled unless noColor is set
// or stdout is not a terminal — a piped/redirected run should never
// emit raw escape codes into a file or log aggregator.
func NewColors(out *os.File, noColor bool) *Colors {
	enabled := !noColor && isatty.IsTerminal(out.Fd())
	return &Colors{enabled: enabled}
}

func (c *Colors) paint(attr color.Attribute, s string) string {
	if !c.enabled {
		return s
	}
	return color.New(attr).Sprint(s)
}

func (c *Colors) Red(s string) string     { return c.paint(color.FgRed, s) }
func (c *Colors) Green(s string) string   { return c.paint(color.FgGreen, s) }
func (c *Colors) Yellow(s string) string  { return c.paint(color.FgYellow, s) }
func (c *Colors) Cyan(s string) string    { return c.paint(color.FgCyan, s) }
func (c *Colors) Magenta(s string) string { return c.paint(color.FgMagenta, s) }

// Header prints a centered, colored section divider. isResult selects
// magenta (a test's results) over cyan (a test's start) — the same
// two-header convention the probe runner narrates progress with.
func Header(w io.Writer, c *Colors, title string, isResult bool) {
	sep := strings.Repeat("=", DisplayWidth)
	paint := c.Cyan
	if isResult {
		paint = c.Magenta
	}
	fmt.Fprintln(w, paint(sep))
	fmt.Fprintln(w, paint(center(title, DisplayWidth)))
	fmt.Fprintln(w, paint(sep))
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// Tri is a tri-state probe outcome: definite success, definite
// failure, or inconclusive (partial success across a set of probes).
type Tri int

const (
	Fail Tri = iota
	Success
	Inconclusive
)

// Icon renders a Tri outcome as a colored status icon, optionally
// suffixed with a detail string (e.g. "resolved 3/5").
func Icon(c *Colors, t Tri, info string) string {
	var icon, painted string
	switch t {
	case Success:
		icon = "✔"
		painted = c.Green(icon)
	case Fail:
		icon = "✖"
		painted = c.Red(icon)
	default:
		icon = "?"
		painted = c.Yellow(icon)
	}
	if info != "" {
		painted = painted + " " + info
	}
	return "(" + painted + ")"
}

// Censors renders a list of censorship-finding strings, or a
// no-findings line when the list is empty.
func Censors(c *Colors, findings []string) string {
	var b strings.Builder
	if len(findings) == 0 {
		b.WriteString("    No censorship detected\n")
		return b.String()
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "    Censorship detected: %s\n", c.Red(f))
	}
	return b.String()
}
