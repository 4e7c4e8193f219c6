// Command wizard runs the circumvention probe suite: Route, DNS, TCP,
// and TLS groups, in prerequisite order, against a user-supplied
// config file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wallpunch/wizard/config"
	"github.com/wallpunch/wizard/format"
	"github.com/wallpunch/wizard/probe"
	"github.com/wallpunch/wizard/scheduler"
)

func main() {
	var (
		configPath   string
		noColor      bool
		timeoutScale float64
	)

	flag.StringVar(&configPath, "config", "", "Path to config.json/.yaml (default: discover in current directory)")
	flag.BoolVar(&noColor, "no-color", false, "Disable ANSI color output")
	flag.Float64Var(&timeoutScale, "timeout-scale", 1.0, "Multiply every group's configured probe timeout by this factor")
	flag.Parse()

	probe.SetTimeoutScale(timeoutScale)

	path := configPath
	if path == "" {
		var err error
		path, err = config.Discover(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	colors := format.NewColors(os.Stdout, noColor)
	probe.SetColors(colors)
	if _, err := scheduler.Run(os.Stdout, cfg, colors); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
