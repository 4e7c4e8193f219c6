package probe

import (
	"os"

	"github.com/wallpunch/wizard/format"
)

// Colors is the palette every group's LogResults renders through.
// main.go sets it once, after parsing -no-color, before the scheduler
// runs; groups never construct their own.
var Colors = format.NewColors(os.Stdout, false)

// SetColors overrides the shared palette (used by main.go).
func SetColors(c *format.Colors) { Colors = c }
